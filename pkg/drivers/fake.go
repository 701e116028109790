package drivers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/fsutil"
)

// Fake is an in-memory driver. Installs succeed and mark the ref installed
// unless a result has been scripted with SetInstallResult.
type Fake struct {
	mu        sync.Mutex
	name      string
	installed map[string]string
	scripted  map[string]fakeResult
	calls     []string
	delay     time.Duration
	listErr   error
}

type fakeResult struct {
	out *engine.InstallOutput
	err error
}

var _ engine.Driver = (*Fake)(nil)

// NewFake creates a fake driver with the given installed packages.
func NewFake(installed map[string]string) *Fake {
	f := &Fake{
		name:      "fake",
		installed: make(map[string]string, len(installed)),
		scripted:  make(map[string]fakeResult),
	}
	for ref, v := range installed {
		f.installed[ref] = v
	}
	return f
}

// Name returns "fake".
func (f *Fake) Name() string {
	return f.name
}

// SetInstallResult scripts the outcome of installing ref.
func (f *Fake) SetInstallResult(ref string, out *engine.InstallOutput, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripted[ref] = fakeResult{out: out, err: err}
}

// SetListError makes List fail with err.
func (f *Fake) SetListError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// SetDelay makes every install take d.
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Installs returns the refs passed to Install, in call order.
func (f *Fake) Installs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// List returns a copy of the installed set.
func (f *Fake) List(_ context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make(map[string]string, len(f.installed))
	for ref, v := range f.installed {
		out[ref] = v
	}
	return out, nil
}

// Install records the call and returns the scripted or default outcome.
func (f *Fake) Install(ctx context.Context, ref string, _ bool) (*engine.InstallOutput, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ref)
	delay := f.delay
	result, scripted := f.scripted[ref]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if scripted {
		if result.err == nil && result.out != nil && result.out.ExitCode == 0 {
			f.markInstalled(ref)
		}
		return result.out, result.err
	}

	f.markInstalled(ref)
	return &engine.InstallOutput{
		Output:   []string{fmt.Sprintf("Successfully installed %s", ref)},
		ExitCode: 0,
	}, nil
}

func (f *Fake) markInstalled(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.installed[ref]; !ok {
		f.installed[ref] = ""
	}
}

// Export writes the installed set as a sorted listing.
func (f *Fake) Export(ctx context.Context, path string) (bool, error) {
	installed, err := f.List(ctx)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, []byte(formatListing(installed)), 0o644); err != nil {
		return false, fmt.Errorf("failed to write export: %w", err)
	}
	return true, nil
}
