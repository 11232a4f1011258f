// Package registry stores fine-tuned model checkpoints on disk and tracks
// them in a JSON index.
//
// Layout under the checkpoint root:
//
//	registry.json               {"versions": [...], "current": "..."}
//	<version>/checkpoint.json   manifest with BLAKE2b digests and metrics
//	<version>/<artifact files>
//
// Versions are listed oldest first. Saving a version makes it current;
// Rollback moves current back to the second-newest version without
// removing anything. DeleteOld prunes by directory modification time.
//
// All mutations are serialized in-process by a mutex and across processes
// by an exclusive lock on registry.json.lock.
package registry
