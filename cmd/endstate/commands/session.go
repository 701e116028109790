package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openfroyo/endstate/pkg/config"
	"github.com/openfroyo/endstate/pkg/drivers"
	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/manifest"
	"github.com/openfroyo/endstate/pkg/state"
	"github.com/openfroyo/endstate/pkg/stores"
	"github.com/openfroyo/endstate/pkg/telemetry"
	"github.com/openfroyo/endstate/pkg/verifiers"
)

// newDriver creates the package-manager driver. Tests replace it.
var newDriver = drivers.New

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"manifest":       "manifest",
	"state-dir":      "state_dir",
	"driver":         "driver",
	"throttle":       "execution.throttle",
	"enable-restore": "restore.enabled",
}

// session holds what every command needs: configuration, telemetry, the
// state recorder and the optional run index.
type session struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	recorder *state.Recorder
	index    stores.Store
	started  time.Time
}

func openSession(cmd *cobra.Command) (*session, error) {
	v := config.NewViper(configPath)
	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise telemetry: %w", err)
	}

	s := &session{
		cfg:     cfg,
		tel:     tel,
		logger:  tel.Logger.ForCommand(cmd.Name()),
		started: time.Now(),
	}
	s.recorder = state.NewRecorder(cfg.StateDir, s.logger)

	if cfg.Index.Enabled {
		index, err := openIndex(cmd.Context(), cfg.Index.Path)
		if err != nil {
			// The JSON state files stay authoritative without the index.
			s.logger.Warn().Err(err).Str("path", cfg.Index.Path).Msg("Run index unavailable")
		} else {
			s.index = index
		}
	}

	return s, nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return nil
}

func openIndex(ctx context.Context, path string) (stores.Store, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the index and flushes telemetry.
func (s *session) Close(ctx context.Context) error {
	var errs []error
	if s.index != nil {
		errs = append(errs, s.index.Close())
	}
	errs = append(errs, s.tel.Shutdown(ctx))
	return errors.Join(errs...)
}

// run is one planning pass over the resolved manifest.
type run struct {
	id           string
	manifest     *manifest.Manifest
	manifestPath string
	driver       engine.Driver
	planner      *engine.Planner
	plan         *engine.Plan
}

// manifestDir is the base for relative restore sources and verify paths.
func (r *run) manifestDir() string {
	return filepath.Dir(r.manifestPath)
}

// planRequest selects what a planning pass covers.
type planRequest struct {
	// restore appends restore actions.
	restore bool

	// restoreOnly skips the driver and the verify checks. App and verify
	// actions are still produced but carry no observed state.
	restoreOnly bool
}

// plan resolves the manifest, observes the machine and builds the plan.
func (s *session) plan(ctx context.Context, req planRequest) (*run, error) {
	if s.cfg.Manifest == "" {
		return nil, fmt.Errorf("no manifest given (use --manifest or set manifest in the config file)")
	}

	path, err := filepath.Abs(s.cfg.Manifest)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest path: %w", err)
	}

	m, err := manifest.Resolve(path)
	if err != nil {
		return nil, err
	}

	r := &run{
		id:           state.NewRunID(time.Now()),
		manifest:     m,
		manifestPath: path,
	}

	driverLabel := "none"
	if !req.restoreOnly {
		r.driver, err = newDriver(s.cfg.Driver, s.logger)
		if err != nil {
			return nil, err
		}
		driverLabel = r.driver.Name()
	}

	var verifier engine.Verifier
	if !req.restoreOnly {
		opts := []verifiers.Option{verifiers.WithBaseDir(r.manifestDir())}
		if s.cfg.Verify.CommandTimeout > 0 {
			opts = append(opts, verifiers.WithCommandTimeout(s.cfg.Verify.CommandTimeout))
		}
		verifier = verifiers.NewRegistry(s.logger, opts...)
	}
	r.planner = engine.NewPlanner(s.logger, verifier)

	obs, err := r.planner.Observe(ctx, m, r.driver)
	if err != nil {
		return nil, err
	}

	r.plan, err = r.planner.Plan(ctx, m, engine.PlanOptions{
		ManifestPath:   path,
		Driver:         driverLabel,
		Installed:      obs.Installed,
		VerifyResults:  obs.VerifyResults,
		IncludeRestore: req.restore,
		RunID:          r.id,
	})
	if err != nil {
		return nil, err
	}

	s.tel.Metrics.RecordPlan(r.plan)
	s.logger.Debug().
		Str("run_id", r.id).
		Str("manifest", path).
		Int("actions", len(r.plan.Actions)).
		Int("failed", r.plan.FailedCount()).
		Msg("Plan computed")

	return r, nil
}

// record persists the run state, indexes it and updates run metrics. A
// failure to index is logged; a failure to save is returned.
func (s *session) record(ctx context.Context, plan *engine.Plan, command string, dryRun bool) (*state.RunState, error) {
	rs := state.FromPlan(plan, command, dryRun)

	path, err := s.recorder.Save(rs)
	if err != nil {
		s.tel.Metrics.RecordError("state_save")
		return nil, err
	}

	if s.index != nil {
		if err := s.index.RecordRun(ctx, rs, path); err != nil {
			s.logger.Warn().Err(err).Str("run_id", rs.RunID).Msg("Failed to index run")
		}
	}

	s.tel.Metrics.RecordRun(command, rs.FailedCount(), time.Since(s.started))
	s.logger.Info().
		Str("run_id", rs.RunID).
		Str("path", path).
		Int("failed", rs.FailedCount()).
		Msg("Run recorded")

	return rs, nil
}

// audit writes an audit entry when the index is available.
func (s *session) audit(ctx context.Context, action, actor, runID, target, details string) {
	if s.index == nil {
		return
	}
	entry := &stores.AuditEntry{
		Action:  action,
		Actor:   actor,
		RunID:   stores.OptionalString(runID),
		Target:  stores.OptionalString(target),
		Details: stores.OptionalString(details),
	}
	if err := s.index.CreateAuditEntry(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("Failed to write audit entry")
	}
}

// withSession opens a session around fn and closes it afterwards.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}

	ctx, span := s.tel.Tracer.StartCommand(cmd.Context(), cmd.Name(), s.cfg.Manifest)
	if id := telemetry.TraceID(ctx); id != "" {
		s.logger = s.logger.With().Str("trace_id", id).Logger()
	}
	ctx = s.logger.WithContext(ctx)

	runErr := fn(ctx, s)

	var failed *FailedActionsError
	switch {
	case errors.As(runErr, &failed):
		telemetry.EndCommand(span, nil, failed.Count)
	default:
		telemetry.EndCommand(span, runErr, 0)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
	defer cancel()
	if err := s.Close(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("Shutdown incomplete")
	}

	return runErr
}
