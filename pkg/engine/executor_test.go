package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver records install calls and tracks how many ran at once.
type fakeDriver struct {
	mu        sync.Mutex
	installed map[string]string
	listErr   error
	outputs   map[string]*InstallOutput
	panics    map[string]bool
	delay     time.Duration
	calls     map[string]int
	active    int
	peak      int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		installed: map[string]string{},
		outputs:   map[string]*InstallOutput{},
		panics:    map[string]bool{},
		calls:     map[string]int{},
	}
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) List(context.Context) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	out := make(map[string]string, len(d.installed))
	for k, v := range d.installed {
		out[k] = v
	}
	return out, nil
}

func (d *fakeDriver) Install(_ context.Context, ref string, _ bool) (*InstallOutput, error) {
	d.mu.Lock()
	d.calls[ref]++
	d.active++
	if d.active > d.peak {
		d.peak = d.active
	}
	out, ok := d.outputs[ref]
	shouldPanic := d.panics[ref]
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}()

	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if shouldPanic {
		panic("installer exploded")
	}
	if !ok {
		out = &InstallOutput{Output: []string{"Successfully installed"}}
	}
	return out, nil
}

func (d *fakeDriver) Export(context.Context, string) (bool, error) { return true, nil }

// recordingSink collects events.
type recordingSink struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (s *recordingSink) Emit(e ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) count(appID string, eventType EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.AppID == appID && e.Type == eventType {
			n++
		}
	}
	return n
}

func appActions(refs ...string) []Action {
	out := make([]Action, 0, len(refs))
	for _, ref := range refs {
		a, err := NewAppAction(ref, ref, "fake", StatusFail, ReasonMissing)
		if err != nil {
			panic(err)
		}
		out = append(out, a)
	}
	return out
}

func resultIDs(results []InstallResult) map[string]int {
	out := map[string]int{}
	for _, r := range results {
		out[r.AppID]++
	}
	return out
}

func TestEffectiveThrottle(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 5, 17} {
		for _, throttle := range []int{-10, -1, 0, 1, 3, 5, 100} {
			got := EffectiveThrottle(throttle, n)
			assert.GreaterOrEqual(t, got, 1, "throttle=%d n=%d", throttle, n)
			assert.LessOrEqual(t, got, n, "throttle=%d n=%d", throttle, n)
		}
	}
	assert.Equal(t, 0, EffectiveThrottle(4, 0))
	assert.Equal(t, 3, EffectiveThrottle(3, 5))
}

func TestExecutor_EmptyInput(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	results := NewExecutor(zerolog.Nop()).Execute(context.Background(), nil, nil,
		ExecuteOptions{Throttle: 4, Events: sink})

	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Empty(t, sink.events)
}

func TestExecutor_DryRunThrottle(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	sink := &recordingSink{}
	exec := NewExecutor(zerolog.Nop())
	actions := appActions("a", "b", "c", "d", "e")

	results := exec.Execute(context.Background(), actions, nil, ExecuteOptions{
		Throttle: 3,
		DryRun:   true,
		Driver:   driver,
		Events:   sink,
	})

	require.Len(t, results, 5)
	for _, r := range results {
		assert.True(t, r.Success)
		assert.Contains(t, r.Message, "dry-run")
		assert.GreaterOrEqual(t, r.SlotID, 1)
		assert.LessOrEqual(t, r.SlotID, 3)
	}
	assert.LessOrEqual(t, exec.MaxObservedConcurrency(), 3)
	assert.Empty(t, driver.calls, "dry-run must not call the driver")

	for _, a := range actions {
		assert.Equal(t, 1, sink.count(a.ID, EventAppStarted))
		assert.Equal(t, 1, sink.count(a.ID, EventAppCompleted))
	}
}

func TestExecutor_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	driver.delay = 20 * time.Millisecond
	exec := NewExecutor(zerolog.Nop())

	refs := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		refs = append(refs, fmt.Sprintf("pkg%02d", i))
	}

	results := exec.Execute(context.Background(), appActions(refs...), nil,
		ExecuteOptions{Throttle: 3, Driver: driver})

	require.Len(t, results, 12)
	assert.LessOrEqual(t, exec.MaxObservedConcurrency(), 3)
	assert.LessOrEqual(t, driver.peak, 3)
	assert.GreaterOrEqual(t, exec.MaxObservedConcurrency(), 1)

	ids := resultIDs(results)
	for _, ref := range refs {
		assert.Equal(t, 1, ids[ref], "result for %s", ref)
		assert.Equal(t, 1, driver.calls[ref], "install calls for %s", ref)
	}
}

// activeRecorder records WorkersActive updates.
type activeRecorder struct {
	mu     sync.Mutex
	active []int
}

func (r *activeRecorder) InstallStarted(string) {}

func (r *activeRecorder) InstallFinished(string, bool, time.Duration) {}

func (r *activeRecorder) WorkersActive(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = append(r.active, n)
}

func TestConcurrencyGauge(t *testing.T) {
	t.Parallel()

	rec := &activeRecorder{}
	g := &concurrencyGauge{metrics: rec}

	g.enter()
	g.enter()
	g.leave()
	g.enter()
	g.leave()
	g.leave()

	assert.Equal(t, 2, g.Peak())
	assert.Equal(t, []int{1, 2, 1, 2, 1, 0}, rec.active)

	var bare concurrencyGauge
	bare.enter()
	bare.leave()
	assert.Equal(t, 1, bare.Peak())
}

func TestExecutor_PeakIsPerCall(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	driver.delay = 10 * time.Millisecond
	rec := &activeRecorder{}
	exec := NewExecutor(zerolog.Nop(), WithMetrics(rec))

	results := exec.Execute(context.Background(), appActions("a", "b", "c", "d"), nil,
		ExecuteOptions{Throttle: 2, Driver: driver})
	require.Len(t, results, 4)
	assert.GreaterOrEqual(t, exec.MaxObservedConcurrency(), 1)
	assert.LessOrEqual(t, exec.MaxObservedConcurrency(), 2)

	rec.mu.Lock()
	require.NotEmpty(t, rec.active)
	assert.Equal(t, 0, rec.active[len(rec.active)-1])
	rec.mu.Unlock()

	// The sequential lane is not counted.
	results = exec.Execute(context.Background(), nil, appActions("vm1", "vm2"),
		ExecuteOptions{Throttle: 2, Driver: driver})
	require.Len(t, results, 2)
	assert.Equal(t, 0, exec.MaxObservedConcurrency())
}

func TestExecutor_SequentialNeverOverlap(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	driver.delay = 5 * time.Millisecond

	seq := &overlapDriver{fakeDriver: driver, sequential: map[string]bool{"vm1": true, "vm2": true, "vm3": true}}
	exec := NewExecutor(zerolog.Nop())

	results := exec.Execute(context.Background(),
		appActions("p1", "p2", "p3", "p4"),
		appActions("vm1", "vm2", "vm3"),
		ExecuteOptions{Throttle: 4, Driver: seq})

	require.Len(t, results, 7)
	assert.Equal(t, 1, seq.peakSequential)
	for _, r := range results {
		if seq.sequential[r.AppID] {
			assert.Equal(t, 0, r.SlotID)
		} else {
			assert.NotEqual(t, 0, r.SlotID)
		}
	}
}

// overlapDriver measures concurrency among the sequential refs only.
type overlapDriver struct {
	*fakeDriver
	sequential     map[string]bool
	seqMu          sync.Mutex
	activeSeq      int
	peakSequential int
}

func (d *overlapDriver) Install(ctx context.Context, ref string, silent bool) (*InstallOutput, error) {
	if d.sequential[ref] {
		d.seqMu.Lock()
		d.activeSeq++
		if d.activeSeq > d.peakSequential {
			d.peakSequential = d.activeSeq
		}
		d.seqMu.Unlock()
		defer func() {
			d.seqMu.Lock()
			d.activeSeq--
			d.seqMu.Unlock()
		}()
	}
	return d.fakeDriver.Install(ctx, ref, silent)
}

func TestExecutor_Classification(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	driver.outputs["ok"] = &InstallOutput{Output: []string{"Successfully installed"}, ExitCode: 0}
	driver.outputs["already"] = &InstallOutput{
		Output:   []string{"Found an existing package already installed."},
		ExitCode: -1978335189,
	}
	driver.outputs["newest"] = &InstallOutput{
		Output:   []string{"curl is already the newest version (8.5.0-2ubuntu10)."},
		ExitCode: 1,
	}
	driver.outputs["missing"] = &InstallOutput{
		Output:   []string{"No package found matching input criteria."},
		ExitCode: -1978335212,
	}
	driver.outputs["broken"] = &InstallOutput{Output: []string{"E: disk full"}, ExitCode: 100}

	results := NewExecutor(zerolog.Nop()).Execute(context.Background(),
		appActions("ok", "already", "newest", "missing", "broken"), nil,
		ExecuteOptions{Throttle: 2, Driver: driver})
	require.Len(t, results, 5)

	byID := map[string]InstallResult{}
	for _, r := range results {
		byID[r.AppID] = r
	}

	assert.True(t, byID["ok"].Success)
	assert.True(t, byID["already"].Success)
	assert.True(t, byID["newest"].Success)

	assert.False(t, byID["missing"].Success)
	assert.Equal(t, ReasonNotFound, byID["missing"].Reason)
	assert.Contains(t, byID["missing"].Message, "package not found")

	assert.False(t, byID["broken"].Success)
	assert.Equal(t, ReasonInstallFailed, byID["broken"].Reason)
	assert.Equal(t, 100, byID["broken"].ExitCode)
	assert.Equal(t, []string{"E: disk full"}, byID["broken"].Output)
}

func TestExecutor_PanicIsolated(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	driver.panics["bad"] = true
	sink := &recordingSink{}

	results := NewExecutor(zerolog.Nop()).Execute(context.Background(),
		appActions("good1", "bad", "good2"), nil,
		ExecuteOptions{Throttle: 3, Driver: driver, Events: sink})
	require.Len(t, results, 3)

	for _, r := range results {
		if r.AppID == "bad" {
			assert.False(t, r.Success)
			assert.Contains(t, r.Message, "installer exploded")
			continue
		}
		assert.True(t, r.Success, r.AppID)
	}
	assert.Equal(t, 1, sink.count("bad", EventAppCompleted))
}

func TestExecutor_DriverError(t *testing.T) {
	t.Parallel()

	driver := &erroringDriver{fakeDriver: newFakeDriver()}
	results := NewExecutor(zerolog.Nop()).Execute(context.Background(),
		appActions("x"), nil, ExecuteOptions{Throttle: 1, Driver: driver})

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, ReasonInstallFailed, results[0].Reason)
	assert.Contains(t, results[0].Message, "driver call failed")
}

type erroringDriver struct {
	*fakeDriver
}

func (d *erroringDriver) Install(context.Context, string, bool) (*InstallOutput, error) {
	return nil, fmt.Errorf("exec: winget not found in PATH")
}

func TestExecutor_DenylistedAmongParallel(t *testing.T) {
	t.Parallel()

	refs := []string{"Oracle.VirtualBox"}
	for i := 0; i < 10; i++ {
		refs = append(refs, fmt.Sprintf("Vendor.Tool%d", i))
	}

	groups := Partition(appActions(refs...), DefaultDenylist())
	require.Len(t, groups.Sequential, 1)
	assert.Equal(t, "Oracle.VirtualBox", groups.Sequential[0].Ref)
	assert.Len(t, groups.Parallel, 10)

	results := NewExecutor(zerolog.Nop()).Execute(context.Background(), groups.Parallel, groups.Sequential,
		ExecuteOptions{Throttle: 4, DryRun: true})
	require.Len(t, results, 11)

	ordered := OrderResults(results, appActions(refs...))
	for i, r := range ordered {
		assert.Equal(t, refs[i], r.AppID)
	}
}

func TestApplyResults(t *testing.T) {
	t.Parallel()

	actions := appActions("a", "b", "c")
	actions = append(actions, NewVerifyAction("v", StatusPass, ""))
	plan := &Plan{Actions: actions}

	ApplyResults(plan, []InstallResult{
		{AppID: "b", PackageID: "b", Success: false, Reason: ReasonNotFound, Message: "package not found: b"},
		{AppID: "a", PackageID: "a", Success: true, Message: "installed a"},
	}, false)

	assert.Equal(t, StatusPass, plan.Actions[0].Status)
	assert.Equal(t, StatusFail, plan.Actions[1].Status)
	assert.Equal(t, ReasonNotFound, plan.Actions[1].Reason)
	assert.Equal(t, StatusFail, plan.Actions[2].Status, "untouched action keeps its status")
	assert.Equal(t, 2, plan.FailedCount())

	dry := &Plan{Actions: appActions("a")}
	ApplyResults(dry, []InstallResult{{AppID: "a", PackageID: "a", Success: true, Message: "dry-run: would install a"}}, true)
	assert.Equal(t, StatusFail, dry.Actions[0].Status)
	assert.Equal(t, ReasonDryRun, dry.Actions[0].Reason)
}
