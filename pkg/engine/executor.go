package engine

import (
	"context"
	"fmt"
	"regexp"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// sequentialSlot is the slot ID of the worker that runs denylisted actions.
const sequentialSlot = 0

var (
	// alreadyInstalledPattern matches installer output meaning the package is
	// already present, which counts as success regardless of exit code.
	alreadyInstalledPattern = regexp.MustCompile(`(?i)(already installed|no available upgrade found|` +
		`no newer package versions are available|is already the newest version)`)

	// notFoundPattern matches installer output meaning the ref does not exist.
	notFoundPattern = regexp.MustCompile(`(?i)(no package found matching input criteria|` +
		`unable to locate package|no available formula|not found)`)
)

// ExecuteOptions configures one Execute call.
type ExecuteOptions struct {
	// Throttle bounds the number of concurrent parallel workers. It is clamped
	// to [1, len(parallel)].
	Throttle int

	// DryRun synthesises successful results without calling the driver.
	DryRun bool

	// Driver performs installs. Required unless DryRun is set.
	Driver Driver

	// Events receives AppStarted and AppCompleted events. Optional.
	Events EventSink
}

// Executor dispatches app install actions across a bounded worker pool.
// Parallel-safe actions share the pool; sequential actions run one at a time
// on a dedicated worker that starts alongside the pool.
type Executor struct {
	logger         zerolog.Logger
	metrics        MetricsRecorder
	installTimeout time.Duration

	// lastPeak is the gauge peak of the last Execute call.
	lastPeak atomic.Int64
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMetrics records install metrics on m.
func WithMetrics(m MetricsRecorder) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithInstallTimeout bounds each driver install call. Zero disables the limit.
func WithInstallTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.installTimeout = d
		}
	}
}

// NewExecutor creates an executor.
func NewExecutor(logger zerolog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		logger: logger.With().Str("component", "executor").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EffectiveThrottle clamps throttle to [1, n]. It returns 0 only when n is 0.
func EffectiveThrottle(throttle, n int) int {
	if n <= 0 {
		return 0
	}
	if throttle < 1 {
		return 1
	}
	if throttle > n {
		return n
	}
	return throttle
}

// MaxObservedConcurrency returns the peak number of parallel installs that
// ran at the same time during the last Execute call.
func (e *Executor) MaxObservedConcurrency() int {
	return int(e.lastPeak.Load())
}

// concurrencyGauge counts parallel installs in flight for one Execute call
// and remembers the highest count.
type concurrencyGauge struct {
	active  atomic.Int64
	peak    atomic.Int64
	metrics MetricsRecorder
}

func (g *concurrencyGauge) enter() {
	n := g.active.Add(1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if g.metrics != nil {
		g.metrics.WorkersActive(int(n))
	}
}

func (g *concurrencyGauge) leave() {
	n := g.active.Add(-1)
	if g.metrics != nil {
		g.metrics.WorkersActive(int(n))
	}
}

func (g *concurrencyGauge) Peak() int {
	return int(g.peak.Load())
}

// task is a unit of work handed to a worker.
type task struct {
	action Action
}

// worker executes tasks from its queue and reports results on a channel.
// Parallel workers share only the gauge; the sequential worker has none.
type worker struct {
	slot           int
	gauge          *concurrencyGauge
	logger         zerolog.Logger
	metrics        MetricsRecorder
	installTimeout time.Duration
	driver         Driver
	events         EventSink
	dryRun         bool
	tasks          <-chan task
	results        chan<- InstallResult
}

// Execute runs every action exactly once and returns one result per action.
// Completion order is unspecified; correlate results by AppID and PackageID
// or sort them with OrderResults.
func (e *Executor) Execute(ctx context.Context, parallel, sequential []Action, opts ExecuteOptions) []InstallResult {
	total := len(parallel) + len(sequential)
	gauge := &concurrencyGauge{metrics: e.metrics}
	defer func() { e.lastPeak.Store(int64(gauge.Peak())) }()
	if total == 0 {
		return []InstallResult{}
	}

	throttle := EffectiveThrottle(opts.Throttle, len(parallel))

	ctx, span := tracer.Start(ctx, "executor.execute", trace.WithAttributes(
		attribute.Int("actions.parallel", len(parallel)),
		attribute.Int("actions.sequential", len(sequential)),
		attribute.Int("throttle", throttle),
		attribute.Bool("dry_run", opts.DryRun),
	))
	defer span.End()

	e.logger.Info().
		Int("parallel", len(parallel)).
		Int("sequential", len(sequential)).
		Int("throttle", throttle).
		Bool("dry_run", opts.DryRun).
		Msg("Starting execution")

	results := make(chan InstallResult, total)
	var wg sync.WaitGroup

	// Parallel pool, slots 1..throttle.
	if len(parallel) > 0 {
		queue := make(chan task, len(parallel))
		for _, a := range parallel {
			queue <- task{action: a}
		}
		close(queue)

		for slot := 1; slot <= throttle; slot++ {
			w := e.newWorker(slot, gauge, queue, results, opts)
			wg.Add(1)
			go w.run(ctx, &wg)
		}
	}

	// Sequential worker, started after the pool so it never delays dispatch.
	if len(sequential) > 0 {
		queue := make(chan task, len(sequential))
		for _, a := range sequential {
			queue <- task{action: a}
		}
		close(queue)

		w := e.newWorker(sequentialSlot, nil, queue, results, opts)
		wg.Add(1)
		go w.run(ctx, &wg)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]InstallResult, 0, total)
	failed := 0
	for r := range results {
		if !r.Success {
			failed++
		}
		out = append(out, r)
	}

	span.SetAttributes(attribute.Int("results.failed", failed))
	e.logger.Info().
		Int("results", len(out)).
		Int("failed", failed).
		Int("peak_concurrency", gauge.Peak()).
		Msg("Execution finished")

	return out
}

func (e *Executor) newWorker(slot int, gauge *concurrencyGauge, tasks <-chan task, results chan<- InstallResult, opts ExecuteOptions) *worker {
	return &worker{
		slot:           slot,
		gauge:          gauge,
		logger:         e.logger,
		metrics:        e.metrics,
		installTimeout: e.installTimeout,
		driver:         opts.Driver,
		events:         opts.Events,
		dryRun:         opts.DryRun,
		tasks:          tasks,
		results:        results,
	}
}

// run drains the task queue.
func (w *worker) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for t := range w.tasks {
		w.results <- w.process(ctx, t)
	}
}

// process emits lifecycle events around a single install.
func (w *worker) process(ctx context.Context, t task) InstallResult {
	w.emit(EventAppStarted, t.action.ID, nil)

	if w.gauge != nil {
		w.gauge.enter()
		defer w.gauge.leave()
	}

	result := w.install(ctx, t.action)

	success := result.Success
	w.emit(EventAppCompleted, t.action.ID, &success)
	return result
}

// install performs the action and converts panics into failed results.
func (w *worker) install(ctx context.Context, action Action) (result InstallResult) {
	result = InstallResult{
		PackageID: action.Ref,
		AppID:     action.ID,
		SlotID:    w.slot,
		Output:    []string{},
		StartTime: time.Now(),
	}

	ctx, span := tracer.Start(ctx, "executor.install", trace.WithAttributes(
		attribute.String("app.id", action.ID),
		attribute.String("package.id", action.Ref),
		attribute.Int("slot.id", w.slot),
	))
	defer span.End()

	driverName := action.Driver
	if w.driver != nil {
		driverName = w.driver.Name()
	}
	if w.metrics != nil && !w.dryRun {
		w.metrics.InstallStarted(driverName)
	}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Reason = ReasonInstallFailed
			result.Message = fmt.Sprintf("worker fault: %v", r)
			w.logger.Error().
				Str("app_id", action.ID).
				Int("slot_id", w.slot).
				Str("stack", string(debug.Stack())).
				Msg("Recovered worker panic")
		}
		result.EndTime = time.Now()

		if result.Success {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, result.Message)
		}
		if w.metrics != nil && !w.dryRun {
			w.metrics.InstallFinished(driverName, result.Success, result.Duration())
		}
	}()

	if w.dryRun {
		result.Success = true
		result.Reason = ReasonDryRun
		result.Message = fmt.Sprintf("dry-run: would install %s", action.Ref)
		return result
	}

	if w.driver == nil {
		result.Reason = ReasonInstallFailed
		result.Message = "no driver configured"
		return result
	}

	installCtx := ctx
	if w.installTimeout > 0 {
		var cancel context.CancelFunc
		installCtx, cancel = context.WithTimeout(ctx, w.installTimeout)
		defer cancel()
	}

	out, err := w.driver.Install(installCtx, action.Ref, true)
	if err != nil {
		derr := NewDriverError("install", action.Ref, err)
		span.RecordError(derr)
		result.Reason = ReasonInstallFailed
		result.Message = derr.Error()
		if out != nil {
			result.Output = append(result.Output, out.Output...)
			result.ExitCode = out.ExitCode
		}
		return result
	}
	if out == nil {
		out = &InstallOutput{}
	}

	result.Output = append(result.Output, out.Output...)
	result.ExitCode = out.ExitCode
	result.Success, result.Reason, result.Message = ClassifyInstall(action.Ref, out)

	w.logger.Debug().
		Str("app_id", action.ID).
		Str("ref", action.Ref).
		Int("slot_id", w.slot).
		Bool("success", result.Success).
		Int("exit_code", out.ExitCode).
		Msg("Install finished")

	return result
}

// emit sends an event to the sink, isolating the worker from sink panics.
func (w *worker) emit(eventType EventType, appID string, success *bool) {
	if w.events == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn().
				Str("app_id", appID).
				Str("event", string(eventType)).
				Msgf("Event sink panicked: %v", r)
		}
	}()
	w.events.Emit(ProgressEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		AppID:     appID,
		Success:   success,
	})
}

// ClassifyInstall interprets a driver install response. Exit code zero or an
// "already installed" signal is success; a "not found" signal is a failure
// with reason not-found; anything else is a generic failure.
func ClassifyInstall(ref string, out *InstallOutput) (bool, ActionReason, string) {
	text := ""
	for _, line := range out.Output {
		text += line + "\n"
	}

	switch {
	case out.ExitCode == 0:
		return true, ReasonInstalled, fmt.Sprintf("installed %s", ref)
	case alreadyInstalledPattern.MatchString(text):
		return true, ReasonInstalled, fmt.Sprintf("%s already installed", ref)
	case notFoundPattern.MatchString(text):
		return false, ReasonNotFound, fmt.Sprintf("package not found: %s", ref)
	default:
		return false, ReasonInstallFailed, fmt.Sprintf("install of %s failed with exit code %d", ref, out.ExitCode)
	}
}

// OrderResults sorts results into the order of actions. Results that match
// no action keep their relative order at the end.
func OrderResults(results []InstallResult, actions []Action) []InstallResult {
	pos := make(map[string]int, len(actions))
	for i, a := range actions {
		key := a.ID + "\x00" + a.Ref
		if _, seen := pos[key]; !seen {
			pos[key] = i
		}
	}

	out := slices.Clone(results)
	slices.SortStableFunc(out, func(a, b InstallResult) int {
		pa, ok := pos[a.AppID+"\x00"+a.PackageID]
		if !ok {
			pa = len(actions)
		}
		pb, ok := pos[b.AppID+"\x00"+b.PackageID]
		if !ok {
			pb = len(actions)
		}
		return pa - pb
	})
	return out
}

// ApplyResults folds install results into the plan's app actions. Each
// result updates the first not-yet-updated app action with the same ID and
// ref. Dry-run results only annotate the action.
func ApplyResults(plan *Plan, results []InstallResult, dryRun bool) {
	used := make(map[int]bool, len(results))

	for _, r := range results {
		for i := range plan.Actions {
			a := &plan.Actions[i]
			if used[i] || a.Type != ActionApp || a.ID != r.AppID || a.Ref != r.PackageID {
				continue
			}
			used[i] = true

			a.Message = r.Message
			switch {
			case dryRun:
				a.Reason = ReasonDryRun
			case r.Success:
				a.Status = StatusPass
				a.Reason = ReasonInstalled
			default:
				a.Status = StatusFail
				a.Reason = r.Reason
			}
			break
		}
	}

	plan.Summary = Summarize(plan.Actions)
}
