// Package engine provides the convergence core of endstate: planning,
// safety partitioning and parallel execution of install actions.
//
// # Overview
//
// A run moves a machine from an unknown state to the state declared in a
// manifest. The engine takes over once the manifest is resolved:
//
//  1. Observe - Query the driver for installed packages and run verify checks (Planner.Observe)
//  2. Plan - Compare desired and observed state into an ordered action list (Planner.Plan)
//  3. Partition - Split app actions into parallel-safe and sequential groups (Partition)
//  4. Execute - Dispatch installs across a bounded worker pool (Executor.Execute)
//  5. Fold - Write install outcomes back into the plan (ApplyResults)
//
// Persisting the resulting plan is the job of the state package.
//
// # Core Domain Types
//
//   - Action: A single planned unit of work (app, restore, verify) with a status
//   - Plan: The ordered, hashed and summarised actions of one run
//   - InstallResult: The outcome of one dispatched install, produced by exactly one worker
//   - ProgressEvent: AppStarted / AppCompleted notifications sent to an EventSink
//
// # Driver Interface
//
// Package managers are reached only through the Driver interface:
//
//	type Driver interface {
//	    Name() string
//	    List(ctx context.Context) (map[string]string, error)
//	    Install(ctx context.Context, ref string, silent bool) (*InstallOutput, error)
//	    Export(ctx context.Context, path string) (bool, error)
//	}
//
// The engine never retries a driver call. Driver failures become failed
// results for the affected action and the run continues.
//
// # Safety Partitioning
//
// Some installers (GPU drivers, hypervisors, game launchers, database servers,
// VPN clients) break when run next to other installers. A Denylist of glob
// patterns routes them to a single sequential worker. The denylist is an
// immutable value; extend it with Denylist.With.
//
// # Example Usage
//
//	planner := engine.NewPlanner(logger, verifier)
//	obs, err := planner.Observe(ctx, m, driver)
//	plan, err := planner.Plan(ctx, m, engine.PlanOptions{
//	    Driver:        driver.Name(),
//	    Installed:     obs.Installed,
//	    VerifyResults: obs.VerifyResults,
//	})
//
//	groups := engine.Partition(engine.Pending(plan), engine.DefaultDenylist())
//	results := engine.NewExecutor(logger).Execute(ctx, groups.Parallel, groups.Sequential,
//	    engine.ExecuteOptions{Throttle: 4, Driver: driver})
//	engine.ApplyResults(plan, results, false)
//
// # Thread Safety
//
// Planner and Denylist are safe for concurrent use. An Executor runs one
// Execute call at a time; EventSink implementations must accept concurrent
// Emit calls.
package engine
