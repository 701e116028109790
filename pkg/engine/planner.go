package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/endstate/pkg/manifest"
)

var tracer = otel.Tracer("github.com/openfroyo/endstate/pkg/engine")

// Planner compares a resolved manifest against observed machine state and
// produces an ordered Plan. Planning is pure: identical inputs always yield
// identical action lists.
type Planner struct {
	// logger receives debug output about skipped apps.
	logger zerolog.Logger

	// verifier decides which verify types are known. A nil verifier accepts
	// every type.
	verifier Verifier
}

// NewPlanner creates a planner.
func NewPlanner(logger zerolog.Logger, verifier Verifier) *Planner {
	return &Planner{
		logger:   logger.With().Str("component", "planner").Logger(),
		verifier: verifier,
	}
}

// PlanOptions carries the observed state and metadata for one plan.
type PlanOptions struct {
	// ManifestPath is recorded in the plan as given.
	ManifestPath string

	// Platform selects the app ref. Defaults to the current platform.
	Platform string

	// Driver names the package-manager driver recorded on app actions.
	Driver string

	// Installed maps installed refs to their observed versions.
	Installed map[string]string

	// VerifyResults holds observed results keyed by verify item index.
	VerifyResults map[int]VerifyResult

	// IncludeRestore appends restore actions when set.
	IncludeRestore bool

	// RunID is the identifier stamped on the plan.
	RunID string

	// Now is the plan timestamp. Defaults to the current time.
	Now time.Time
}

// Observation is the machine state consulted by the planner.
type Observation struct {
	Installed     map[string]string
	VerifyResults map[int]VerifyResult
}

// Observe queries the driver for installed packages and runs every known
// verify check in the manifest. A driver failure is returned as a
// DriverError; verify failures are recorded as results.
func (p *Planner) Observe(ctx context.Context, m *manifest.Manifest, driver Driver) (*Observation, error) {
	ctx, span := tracer.Start(ctx, "planner.observe")
	defer span.End()

	obs := &Observation{
		Installed:     map[string]string{},
		VerifyResults: map[int]VerifyResult{},
	}

	if driver != nil {
		installed, err := driver.List(ctx)
		if err != nil {
			span.RecordError(err)
			return nil, NewDriverError("list", driver.Name(), err)
		}
		for ref, v := range installed {
			obs.Installed[ref] = v
		}
		span.SetAttributes(attribute.Int("installed.count", len(installed)))
	}

	if p.verifier == nil {
		return obs, nil
	}
	for i, item := range m.Verify {
		if !p.verifier.Supports(item.Type) {
			continue
		}
		obs.VerifyResults[i] = p.verifier.Verify(ctx, item)
	}

	return obs, nil
}

// Plan builds the ordered action list for m: app actions in manifest order,
// then verify actions, then restore actions when enabled.
func (p *Planner) Plan(ctx context.Context, m *manifest.Manifest, opts PlanOptions) (*Plan, error) {
	if m == nil {
		return nil, NewPermanentError("manifest is nil", nil).WithCode(ErrCodeValidation)
	}

	_, span := tracer.Start(ctx, "planner.plan", trace.WithAttributes(
		attribute.String("manifest.name", m.Name),
		attribute.String("run.id", opts.RunID),
	))
	defer span.End()

	platform := opts.Platform
	if platform == "" {
		platform = manifest.CurrentPlatform()
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	hash, err := manifest.Hash(m)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to hash manifest: %w", err)
	}

	actions := make([]Action, 0, len(m.Apps)+len(m.Verify)+len(m.Restore))

	for _, app := range m.Apps {
		action, err := p.planApp(app, platform, opts)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}

	for i, item := range m.Verify {
		actions = append(actions, p.planVerify(i, item, opts.VerifyResults))
	}

	if opts.IncludeRestore {
		for _, item := range m.Restore {
			actions = append(actions, NewRestoreAction(item.Key()))
		}
	}

	plan := &Plan{
		RunID:     opts.RunID,
		Timestamp: now.UTC(),
		Manifest: PlanManifest{
			Path: opts.ManifestPath,
			Name: m.Name,
			Hash: hash,
		},
		Summary: Summarize(actions),
		Actions: actions,
	}

	span.SetAttributes(
		attribute.Int("plan.actions", len(actions)),
		attribute.Int("plan.failed", plan.FailedCount()),
	)

	return plan, nil
}

// planApp evaluates one app against the installed set.
func (p *Planner) planApp(app manifest.App, platform string, opts PlanOptions) (Action, error) {
	ref, ok := app.Ref(platform)
	if !ok {
		p.logger.Debug().
			Str("app_id", app.ID).
			Str("platform", platform).
			Msg("No ref for platform, skipping app")
		action, err := NewAppAction(app.ID, "", opts.Driver, StatusSkip, ReasonNoPlatformRef)
		if err != nil {
			return Action{}, err
		}
		action.Message = fmt.Sprintf("no ref for platform %s", platform)
		return action, nil
	}

	installedVersion, installed := opts.Installed[ref]
	if !installed {
		action, err := NewAppAction(app.ID, ref, opts.Driver, StatusFail, ReasonMissing)
		if err != nil {
			return Action{}, err
		}
		action.Constraint = app.Version
		action.Message = "not installed"
		return action, nil
	}

	action, err := NewAppAction(app.ID, ref, opts.Driver, StatusPass, ReasonInstalled)
	if err != nil {
		return Action{}, err
	}
	action.Constraint = app.Version
	action.InstalledVersion = installedVersion

	satisfied, err := SatisfiesConstraint(app.Version, installedVersion)
	switch {
	case err != nil:
		action.Status = StatusFail
		action.Reason = ReasonVersionMismatch
		action.Message = err.Error()
	case !satisfied:
		action.Status = StatusFail
		action.Reason = ReasonVersionMismatch
		action.Message = fmt.Sprintf("installed version %q does not satisfy %q", installedVersion, app.Version)
	}

	return action, nil
}

// planVerify maps a verify item to an action using the observed result.
func (p *Planner) planVerify(index int, item manifest.VerifyItem, results map[int]VerifyResult) Action {
	id := item.ID
	if id == "" {
		id = fmt.Sprintf("%s#%d", item.Type, index)
	}

	if p.verifier != nil && !p.verifier.Supports(item.Type) {
		action := NewVerifyAction(id, StatusFail, fmt.Sprintf("unknown verify type %q", item.Type))
		action.Reason = ReasonUnknownType
		return action
	}

	result, ok := results[index]
	switch {
	case !ok:
		return NewVerifyAction(id, StatusPending, "not evaluated")
	case result.Pass:
		return NewVerifyAction(id, StatusPass, result.Message)
	default:
		return NewVerifyAction(id, StatusFail, result.Message)
	}
}

// Reverify reruns the manifest's verify checks and replaces the plan's verify
// actions with the fresh outcomes. Verify actions are matched to manifest
// items by position.
func (p *Planner) Reverify(ctx context.Context, plan *Plan, m *manifest.Manifest) error {
	obs, err := p.Observe(ctx, m, nil)
	if err != nil {
		return err
	}

	next := 0
	for i := range plan.Actions {
		if plan.Actions[i].Type != ActionVerify {
			continue
		}
		if next >= len(m.Verify) {
			return NewPermanentError("plan has more verify actions than the manifest", nil).
				WithCode(ErrCodeValidation)
		}
		plan.Actions[i] = p.planVerify(next, m.Verify[next], obs.VerifyResults)
		next++
	}

	plan.Summary = Summarize(plan.Actions)
	return nil
}
