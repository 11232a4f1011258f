// Package dataset holds the in-memory tabular model shared by the quality,
// prompt and pipeline packages, plus the CSV and Excel readers that build it.
//
// A Dataset never changes after construction; filters and column edits
// return new values.
package dataset
