// Package telemetry provides observability for endstate runs.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and a progress event bus.
//
// # Usage
//
// Initialize telemetry at startup and shut it down when the command ends:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Structured Logging
//
//	logger := tel.Logger.ForCommand("apply")
//	logger.Info().Str("run_id", runID).Msg("Starting installs")
//
// Engine and state packages take a zerolog.Logger; pass Logger.Zerolog().
//
// # Metrics
//
// Metrics implements engine.MetricsRecorder. A CLI process exits before any
// scraper could reach it, so metrics are written to a node_exporter textfile
// (metrics.textfile_path) on Shutdown.
//
// # Events
//
// EventBus implements engine.EventSink. Workers call Emit concurrently; a
// single dispatcher delivers events to subscribers in enqueue order.
//
//	bus := tel.NewEventBus(runID)
//	defer bus.Close(ctx)
//	executor.Execute(ctx, parallel, sequential, engine.ExecuteOptions{Events: bus})
package telemetry
