package engine

import (
	"context"
	"time"

	"github.com/openfroyo/endstate/pkg/manifest"
)

// Driver performs install, query and export operations against a package
// manager. Implementations live outside the engine; the engine treats every
// call as a black box and never retries.
type Driver interface {
	// Name returns the driver name recorded on app actions.
	Name() string

	// List returns the installed package references mapped to their
	// versions. The version is empty when the driver cannot report it.
	List(ctx context.Context) (map[string]string, error)

	// Install installs ref and returns the raw installer output.
	Install(ctx context.Context, ref string, silent bool) (*InstallOutput, error)

	// Export writes the driver's native export of installed packages to path.
	Export(ctx context.Context, path string) (bool, error)
}

// EventSink receives progress events. Implementations must be safe for
// concurrent use; order is preserved per emitting worker only.
type EventSink interface {
	Emit(event ProgressEvent)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(event ProgressEvent)

// Emit calls f(event).
func (f EventSinkFunc) Emit(event ProgressEvent) {
	f(event)
}

// Verifier runs manifest verify checks.
type Verifier interface {
	// Supports reports whether the verify type is known.
	Supports(verifyType string) bool

	// Verify runs a single check.
	Verify(ctx context.Context, item manifest.VerifyItem) VerifyResult
}

// MetricsRecorder receives execution measurements. A nil recorder is allowed.
type MetricsRecorder interface {
	InstallStarted(driver string)
	InstallFinished(driver string, success bool, duration time.Duration)
	WorkersActive(n int)
}
