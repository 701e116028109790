// Package verifiers implements the built-in verify checks.
package verifiers

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/endstate/pkg/drivers"
	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/fsutil"
	"github.com/openfroyo/endstate/pkg/manifest"
)

// Built-in verify types.
const (
	TypeFileExists        = "file-exists"
	TypeCommandSucceeds   = "command-succeeds"
	TypeRegistryKeyExists = "registry-key-exists"
)

// DefaultCommandTimeout bounds command-succeeds checks.
const DefaultCommandTimeout = 30 * time.Second

// CheckFunc runs one verify item.
type CheckFunc func(ctx context.Context, item manifest.VerifyItem) engine.VerifyResult

// Registry dispatches verify items to checks by type.
type Registry struct {
	checks         map[string]CheckFunc
	runner         drivers.Runner
	commandTimeout time.Duration
	baseDir        string
	logger         zerolog.Logger
}

var _ engine.Verifier = (*Registry)(nil)

// Option configures a Registry.
type Option func(*Registry)

// WithRunner sets the runner used by command-succeeds.
func WithRunner(r drivers.Runner) Option {
	return func(reg *Registry) {
		reg.runner = r
	}
}

// WithCommandTimeout overrides DefaultCommandTimeout.
func WithCommandTimeout(d time.Duration) Option {
	return func(reg *Registry) {
		reg.commandTimeout = d
	}
}

// WithBaseDir resolves relative file-exists paths against dir.
func WithBaseDir(dir string) Option {
	return func(reg *Registry) {
		reg.baseDir = dir
	}
}

// NewRegistry creates a registry with the built-in checks registered.
func NewRegistry(logger zerolog.Logger, opts ...Option) *Registry {
	reg := &Registry{
		checks:         make(map[string]CheckFunc),
		runner:         &drivers.ExecRunner{},
		commandTimeout: DefaultCommandTimeout,
		logger:         logger.With().Str("component", "verifier").Logger(),
	}
	for _, opt := range opts {
		opt(reg)
	}

	reg.Register(TypeFileExists, reg.fileExists)
	reg.Register(TypeCommandSucceeds, reg.commandSucceeds)
	reg.Register(TypeRegistryKeyExists, registryKeyExists)

	return reg
}

// Register adds or replaces the check for verifyType.
func (r *Registry) Register(verifyType string, check CheckFunc) {
	r.checks[verifyType] = check
}

// Types returns the registered verify types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.checks))
	for t := range r.checks {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Supports reports whether verifyType has a registered check.
func (r *Registry) Supports(verifyType string) bool {
	_, ok := r.checks[verifyType]
	return ok
}

// Verify runs the check registered for item.Type.
func (r *Registry) Verify(ctx context.Context, item manifest.VerifyItem) engine.VerifyResult {
	check, ok := r.checks[item.Type]
	if !ok {
		return engine.VerifyResult{Message: fmt.Sprintf("unknown verify type %q", item.Type)}
	}

	result := check(ctx, item)
	r.logger.Debug().
		Str("type", item.Type).
		Str("id", item.ID).
		Bool("pass", result.Pass).
		Str("message", result.Message).
		Msg("Verify check finished")
	return result
}

func (r *Registry) fileExists(_ context.Context, item manifest.VerifyItem) engine.VerifyResult {
	if item.Path == "" {
		return engine.VerifyResult{Message: "file-exists requires a path"}
	}

	path := fsutil.ResolvePath(r.baseDir, item.Path)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return engine.VerifyResult{Message: fmt.Sprintf("%s does not exist", path)}
		}
		return engine.VerifyResult{Message: fmt.Sprintf("cannot stat %s: %v", path, err)}
	}
	return engine.VerifyResult{Pass: true, Message: fmt.Sprintf("%s exists", path)}
}

func (r *Registry) commandSucceeds(ctx context.Context, item manifest.VerifyItem) engine.VerifyResult {
	if strings.TrimSpace(item.Command) == "" {
		return engine.VerifyResult{Message: "command-succeeds requires a command"}
	}

	if r.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.commandTimeout)
		defer cancel()
	}

	shell, flag := "/bin/sh", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "cmd", "/C"
	}

	res, err := r.runner.Run(ctx, shell, flag, item.Command)
	if err != nil {
		return engine.VerifyResult{Message: err.Error()}
	}
	if res.ExitCode != 0 {
		msg := fmt.Sprintf("exited with code %d", res.ExitCode)
		if lines := res.Lines(); len(lines) > 0 {
			msg += ": " + lines[len(lines)-1]
		}
		return engine.VerifyResult{Message: msg}
	}
	return engine.VerifyResult{Pass: true}
}
