package restorers

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/ini.v1"
)

// Strategy computes the new target content from the source and the current
// target content. current is nil when the target does not exist.
type Strategy func(source, current []byte) ([]byte, error)

// copyStrategy replaces the target with the source.
func copyStrategy(source, _ []byte) ([]byte, error) {
	return source, nil
}

// appendStrategy appends the source to the target once. A target that
// already contains the source is left as is.
func appendStrategy(source, current []byte) ([]byte, error) {
	if len(current) == 0 {
		return source, nil
	}
	if bytes.Contains(current, bytes.TrimRight(source, "\r\n")) {
		return current, nil
	}

	out := make([]byte, 0, len(current)+len(source)+1)
	out = append(out, current...)
	if current[len(current)-1] != '\n' {
		out = append(out, '\n')
	}
	return append(out, source...), nil
}

// mergeJSONStrategy deep-merges the source object into the target object.
// Source values win; nested objects are merged key by key.
func mergeJSONStrategy(source, current []byte) ([]byte, error) {
	var src map[string]any
	if err := json.Unmarshal(source, &src); err != nil {
		return nil, fmt.Errorf("source is not a JSON object: %w", err)
	}

	dst := map[string]any{}
	if len(bytes.TrimSpace(current)) > 0 {
		if err := json.Unmarshal(current, &dst); err != nil {
			return nil, fmt.Errorf("target is not a JSON object: %w", err)
		}
	}

	mergeMaps(dst, src)

	out, err := json.MarshalIndent(dst, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged JSON: %w", err)
	}
	return append(out, '\n'), nil
}

func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		srcObj, srcIsObj := v.(map[string]any)
		dstObj, dstIsObj := dst[k].(map[string]any)
		if srcIsObj && dstIsObj {
			mergeMaps(dstObj, srcObj)
			continue
		}
		dst[k] = v
	}
}

// mergeINIStrategy sets every key of every source section on the target.
// Sections and keys absent from the source are kept.
func mergeINIStrategy(source, current []byte) ([]byte, error) {
	opts := ini.LoadOptions{IgnoreInlineComment: true}

	src, err := ini.LoadSources(opts, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source ini: %w", err)
	}

	dst := ini.Empty(opts)
	if len(bytes.TrimSpace(current)) > 0 {
		dst, err = ini.LoadSources(opts, current)
		if err != nil {
			return nil, fmt.Errorf("failed to parse target ini: %w", err)
		}
	}

	for _, section := range src.Sections() {
		target := dst.Section(section.Name())
		for _, key := range section.Keys() {
			target.Key(key.Name()).SetValue(key.Value())
		}
	}

	var buf bytes.Buffer
	if _, err := dst.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode merged ini: %w", err)
	}
	return buf.Bytes(), nil
}
