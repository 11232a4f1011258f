// Package app wires the insight pipeline into a runnable process.
//
// New builds every component from a config.Config: structured logging,
// OpenTelemetry providers, resolved paths, the quality pipeline, the model
// backend, the checkpoint registry, the memory store, run history, the
// WebSocket hub, the pipeline controller, the optional cron scheduler and
// the chi router. Nothing runs until Start.
//
// # Lifecycle
//
//	a, err := app.NewApplication()
//	if err != nil {
//	    return err
//	}
//	return a.Run() // blocks until SIGINT or SIGTERM
//
// Stop shuts the HTTP server down, waits for an active run within the
// configured shutdown timeout, then stops the hub, closes the history and
// memory stores and flushes telemetry. Commands that only drive the
// controller call Close instead.
package app
