package files

import (
	"cmp"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// FileInfo describes one directory entry found by a scan.
type FileInfo struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

var datasetExtensions = []string{".csv", ".xlsx", ".xls"}

// IsDatasetFile reports whether name has a tabular dataset extension.
func IsDatasetFile(name string) bool {
	return slices.Contains(datasetExtensions, strings.ToLower(filepath.Ext(name)))
}

// scan lists the entries of dir accepted by keep, oldest first with name
// order breaking ties. Entries that vanish mid-scan are skipped.
func scan(dir string, keep func(fs.DirEntry) bool) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if !keep(e) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		fi := FileInfo{
			Path:    filepath.Join(dir, e.Name()),
			Name:    e.Name(),
			ModTime: info.ModTime(),
			IsDir:   e.IsDir(),
		}
		if !fi.IsDir {
			fi.Size = info.Size()
		}
		out = append(out, fi)
	}
	slices.SortStableFunc(out, func(a, b FileInfo) int {
		if c := a.ModTime.Compare(b.ModTime); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

// FindDatasets lists the CSV and Excel files directly inside dir, oldest
// first.
func FindDatasets(dir string) ([]FileInfo, error) {
	return scan(dir, func(e fs.DirEntry) bool { return !e.IsDir() && IsDatasetFile(e.Name()) })
}

// ListDirectories lists the subdirectories of dir, oldest first.
func ListDirectories(dir string) ([]FileInfo, error) {
	return scan(dir, fs.DirEntry.IsDir)
}

// GetLatestFile returns the newest entry of list. On equal times the later
// entry wins.
func GetLatestFile(list []FileInfo) (FileInfo, bool) {
	if len(list) == 0 {
		return FileInfo{}, false
	}
	latest := list[0]
	for _, f := range list[1:] {
		if !f.ModTime.Before(latest.ModTime) {
			latest = f
		}
	}
	return latest, true
}

// LatestDataset resolves source to a dataset file. A file path is returned
// unchanged; a directory yields its newest dataset, with ok false when it
// holds none.
func LatestDataset(source string) (path string, ok bool, err error) {
	info, err := os.Stat(source)
	if err != nil {
		return "", false, err
	}
	if !info.IsDir() {
		return source, true, nil
	}
	found, err := FindDatasets(source)
	if err != nil {
		return "", false, err
	}
	latest, ok := GetLatestFile(found)
	return latest.Path, ok, nil
}
