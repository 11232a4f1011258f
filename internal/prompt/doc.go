// Package prompt assembles model prompts from a dataset and its quality
// statistics.
//
// A prompt is deterministic for identical inputs. Metadata keys are
// sorted, columns keep dataset order, and numbers are printed with fixed
// precision. Every prompt ends with an integrity tag line
//
//	#HASH:<sha256 of the body>
//
// which Verify checks and Strip removes before the text reaches the model.
package prompt
