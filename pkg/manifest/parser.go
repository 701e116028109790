package manifest

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

// document is the raw shape of a manifest file before verify items are
// normalised.
type document struct {
	Version  int              `json:"version"`
	Name     string           `json:"name"`
	Apps     []App            `json:"apps"`
	Restore  []RestoreItem    `json:"restore"`
	Verify   []map[string]any `json:"verify"`
	Includes []string         `json:"includes"`
}

// Parser decodes manifest documents. Documents are JSON with optional
// // and /* */ comments. Block comments are blanked before CUE compiles the
// rest, which reports positions for every error. A Parser is not safe for
// concurrent use.
type Parser struct {
	ctx      *cue.Context
	validate *validator.Validate
}

// NewParser creates a new manifest parser.
func NewParser() *Parser {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Parser{
		ctx:      cuecontext.New(),
		validate: v,
	}
}

// Parse decodes a single document without resolving includes. Root documents
// must carry version and name; included fragments may omit them.
func (p *Parser) Parse(data []byte, filename string, root bool) (*Manifest, error) {
	src, line, col := blankBlockComments(data)
	if src == nil {
		return nil, &ManifestError{
			File:    filename,
			Line:    line,
			Column:  col,
			Message: "unterminated block comment",
		}
	}

	val := p.ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, convertCUEError(filename, err)
	}

	if val.IncompleteKind() != cue.StructKind {
		return nil, &ManifestError{
			File:    filename,
			Line:    val.Pos().Line(),
			Message: "document must be a JSON object",
		}
	}

	var doc document
	if err := val.Decode(&doc); err != nil {
		return nil, convertCUEError(filename, err)
	}

	m := &Manifest{
		Version:  doc.Version,
		Name:     doc.Name,
		Apps:     doc.Apps,
		Restore:  doc.Restore,
		Includes: doc.Includes,
	}

	for i, raw := range doc.Verify {
		item, err := verifyItemFromMap(raw)
		if err != nil {
			return nil, &ManifestError{
				File:    filename,
				Line:    linePos(val, fmt.Sprintf("verify[%d]", i)),
				Message: fmt.Sprintf("verify[%d]: %v", i, err),
			}
		}
		m.Verify = append(m.Verify, item)
	}

	if err := p.validateDocument(m, root); err != nil {
		return nil, p.convertValidationError(filename, val, err)
	}

	return m, nil
}

// validateDocument runs struct-tag validation. Included fragments may omit
// the root-only scalars.
func (p *Parser) validateDocument(m *Manifest, root bool) error {
	if root {
		return p.validate.Struct(m)
	}

	frag := *m
	if frag.Version == 0 {
		frag.Version = 1
	}
	if frag.Name == "" {
		frag.Name = "fragment"
	}
	return p.validate.Struct(&frag)
}

// convertValidationError maps the first validator failure onto a ManifestError
// with the position of the enclosing CUE value.
func (p *Parser) convertValidationError(filename string, val cue.Value, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ManifestError{File: filename, Message: err.Error(), Err: err}
	}

	fe := verrs[0]
	// Namespace looks like "Manifest.apps[2].id".
	path := fe.Namespace()
	if i := strings.Index(path, "."); i >= 0 {
		path = path[i+1:]
	}

	parent := ""
	if i := strings.LastIndex(path, "."); i >= 0 {
		parent = path[:i]
	}

	msg := fmt.Sprintf("field %q is required", path)
	if fe.Tag() != "required" {
		msg = fmt.Sprintf("field %q failed %q validation (value %v)", path, fe.Tag(), fe.Value())
	}

	return &ManifestError{
		File:    filename,
		Line:    linePos(val, parent),
		Message: msg,
		Err:     err,
	}
}

// convertCUEError converts a CUE error into a ManifestError carrying the first
// reported position.
func convertCUEError(filename string, err error) *ManifestError {
	me := &ManifestError{
		File:    filename,
		Message: strings.TrimSpace(cueerrors.Details(err, nil)),
		Err:     err,
	}

	for _, e := range cueerrors.Errors(err) {
		pos := cueerrors.Positions(e)
		if len(pos) == 0 {
			continue
		}
		me.Line = pos[0].Line()
		me.Column = pos[0].Column()
		me.Message = e.Error()
		break
	}

	return me
}

// linePos returns the line of the value at path, or 0 when unknown.
func linePos(val cue.Value, path string) int {
	if path == "" {
		return val.Pos().Line()
	}
	v := val.LookupPath(cue.ParsePath(path))
	if !v.Exists() {
		return 0
	}
	return v.Pos().Line()
}

// verifyItemFromMap splits a raw verify entry into modelled and extra fields.
func verifyItemFromMap(raw map[string]any) (VerifyItem, error) {
	var item VerifyItem
	for key, value := range raw {
		var target *string
		switch key {
		case "id":
			target = &item.ID
		case "type":
			target = &item.Type
		case "path":
			target = &item.Path
		case "command":
			target = &item.Command
		case "key":
			target = &item.Key
		case "value":
			target = &item.Value
		}

		if target == nil {
			if item.Fields == nil {
				item.Fields = make(map[string]any)
			}
			item.Fields[key] = value
			continue
		}

		s, ok := value.(string)
		if !ok {
			return VerifyItem{}, fmt.Errorf("field %q must be a string", key)
		}
		*target = s
	}
	return item, nil
}
