// Package http exposes the pipeline controller and the model registry over
// a JSON API routed with chi.
//
// Routes:
//
//	GET  /api/health              liveness, pipeline state, websocket clients
//	GET  /api/pipeline/state      state, progress snapshot, last error
//	POST /api/pipeline/runs       start a run: {"source": "..."}
//	GET  /api/pipeline/runs       run history, newest first (?limit=N)
//	GET  /api/pipeline/runs/{id}  one recorded run
//	POST /api/pipeline/reset      clear session memory and return to idle
//	POST /api/pipeline/tasks      {"kind": "clean_data", "params": {...}}
//	GET  /api/models              versions and the current one
//	GET  /api/models/compare      metric deltas (?old=A&new=B)
//	POST /api/models/rollback     activate the previous version
//	POST /api/models/prune        {"keep_last": N}
//	GET  /ws                      live status stream
//	GET  /metrics                 Prometheus exposition
//
// Handlers stay thin: they decode and validate the request, call the
// controller or registry, and render the result. Every error goes through
// errors.ErrorHandler and comes back as RFC 7807 problem details, with the
// status taken from the error type (a busy pipeline is 409, an unknown run
// 404, a bad body 400).
package http
