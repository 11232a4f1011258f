// Package operations runs the insight pipeline.
//
// A Controller sequences one dataset through the pipeline stages:
//
//	load → clean → validate → analyze → fine_tune → report
//
// and tracks a small lifecycle state machine:
//
//	Idle → Running → Training → Running → Idle
//
// Any stage failure moves the controller to Error; Reset returns it to Idle.
// Runs execute on their own goroutine and are observed through the Run
// future, Progress snapshots, the StatusBroadcaster or the RunStore.
//
// Individual operations (cleaning, fine-tuning, report generation) can also
// be delegated directly with Delegate using one of the typed tasks.
//
// Example usage:
//
//	ctrl, err := operations.NewController(deps, operations.SettingsFromConfig(cfg),
//		operations.WithLogger(logger),
//		operations.WithBroadcaster(operations.NewStatusBroadcaster(hub, logger)))
//	if err != nil {
//		return err
//	}
//	run, err := ctrl.Start(ctx, operations.RunRequest{Source: "data/sales.csv"})
//	if err != nil {
//		return err
//	}
//	result, err := run.Wait(ctx)
package operations
