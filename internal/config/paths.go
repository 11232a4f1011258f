package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains all resolved application paths
// This is the single source of truth for file locations at runtime
type Paths struct {
	BaseDir        string
	DataDir        string
	ProcessedDir   string
	CheckpointsDir string
	RegistryFile   string
	ReportsDir     string
	EvaluationDir  string
	MemoryDir      string
	LogsDir        string
	SchemaFile     string
	HistoryDB      string
}

// ResolvePaths turns the configured locations into absolute paths. Relative
// entries are joined onto BaseDir, which defaults to the working directory.
func ResolvePaths(cfg PathsConfig) (*Paths, error) {
	base := cfg.BaseDir
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		base = wd
	}
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	checkpoints := resolve(cfg.CheckpointsDir)
	return &Paths{
		BaseDir:        base,
		DataDir:        resolve(cfg.DataDir),
		ProcessedDir:   resolve(cfg.ProcessedDir),
		CheckpointsDir: checkpoints,
		RegistryFile:   filepath.Join(checkpoints, "registry.json"),
		ReportsDir:     resolve(cfg.ReportsDir),
		EvaluationDir:  resolve(cfg.EvaluationDir),
		MemoryDir:      resolve(cfg.MemoryDir),
		LogsDir:        resolve(cfg.LogsDir),
		SchemaFile:     resolve(cfg.SchemaFile),
		HistoryDB:      resolve(cfg.HistoryDB),
	}, nil
}

// EnsureDirectories creates all required directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	dirs := []string{
		p.DataDir,
		p.ProcessedDir,
		p.CheckpointsDir,
		p.ReportsDir,
		p.EvaluationDir,
		p.MemoryDir,
		p.LogsDir,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// LogPathResolution logs every resolved path at startup
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("paths_resolved",
		slog.String("base_dir", p.BaseDir),
		slog.String("data_dir", p.DataDir),
		slog.String("processed_dir", p.ProcessedDir),
		slog.String("checkpoints_dir", p.CheckpointsDir),
		slog.String("reports_dir", p.ReportsDir),
		slog.String("memory_dir", p.MemoryDir),
		slog.String("schema_file", p.SchemaFile),
		slog.Bool("schema_exists", FileExists(p.SchemaFile)))
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
