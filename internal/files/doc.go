// Package files provides the file system helpers shared by the registry,
// memory and export layers: atomic writes and directory discovery.
//
// Example usage:
//
//	// Replace a JSON document without exposing a half-written file
//	err := files.WriteFileAtomic("data/models/checkpoints/registry.json", data, 0644)
//
//	// Pick the newest dataset in a drop directory
//	latest, ok, err := files.LatestDataset("data/incoming")
package files
