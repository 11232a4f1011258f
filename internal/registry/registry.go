package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"insightpipe/internal/backend"
	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/files"
	"insightpipe/internal/infrastructure"
)

const (
	// RegistryFileName is the version index kept in the checkpoint root.
	RegistryFileName = "registry.json"
	// AutoNamePrefix starts names derived when Save gets none.
	AutoNamePrefix = "fine_tuned_"
	// DefaultKeepLast is the retention used when none is configured.
	DefaultKeepLast = 3
)

// registryFile is the on-disk index, oldest version first.
type registryFile struct {
	Versions []string `json:"versions"`
	Current  string   `json:"current,omitempty"`
}

// Checkpoint is a loaded model: its version record plus the artifact files.
type Checkpoint struct {
	Version  ModelVersion
	Artifact *backend.Artifact
}

// Registry tracks model versions under one checkpoint root. Mutations are
// serialized by a mutex within the process and an exclusive file lock
// across processes; the index is replaced by atomic rename.
type Registry struct {
	root    string
	file    string
	evalDir string

	mu      sync.Mutex
	logger  *slog.Logger
	metrics *infrastructure.PipelineMetrics
	now     func() time.Time
	remove  func(path string) error
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func WithMetrics(m *infrastructure.PipelineMetrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithEvaluationDir sets where RecordEvaluation writes <version>.json.
func WithEvaluationDir(dir string) Option {
	return func(r *Registry) { r.evalDir = dir }
}

// WithClock overrides time.Now for naming and timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Open ensures the registry exists under root and verifies that the index
// and the checkpoint directories agree.
func Open(root string, opts ...Option) (*Registry, error) {
	r := &Registry{
		root:    root,
		file:    filepath.Join(root, RegistryFileName),
		evalDir: filepath.Join(root, "evaluation"),
		now:     time.Now,
		remove:  os.RemoveAll,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With(slog.String("component", "model_registry"))

	if err := r.Ensure(); err != nil {
		return nil, err
	}
	if err := r.Verify(); err != nil {
		return nil, err
	}
	return r, nil
}

// Ensure creates the checkpoint root and an empty index when absent. It is idempotent.
func (r *Registry) Ensure() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.root, 0755); err != nil {
		return apperrors.NewStorageError("failed to create checkpoint root", err).WithContext("path", r.root)
	}
	if files.FileExists(r.file) {
		return nil
	}

	lock, err := acquireFileLock(r.file)
	if err != nil {
		return apperrors.NewStorageError("failed to lock registry", err)
	}
	defer lock.release()

	if files.FileExists(r.file) {
		return nil
	}
	if err := r.write(registryFile{Versions: []string{}}); err != nil {
		return err
	}
	r.logger.Info("registry_created", slog.String("path", r.file))
	return nil
}

// Verify fails with a CorruptionError when a listed version has no
// directory or a checkpoint directory is not listed.
func (r *Registry) Verify() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, err := r.read()
	if err != nil {
		return err
	}
	dirs, err := r.checkpointDirs()
	if err != nil {
		return err
	}

	onDisk := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		onDisk[d.Name] = true
	}
	listed := make(map[string]bool, len(reg.Versions))
	var missing, unlisted []string
	for _, v := range reg.Versions {
		listed[v] = true
		if !onDisk[v] {
			missing = append(missing, v)
		}
	}
	for _, d := range dirs {
		if !listed[d.Name] {
			unlisted = append(unlisted, d.Name)
		}
	}
	if reg.Current != "" && !listed[reg.Current] {
		missing = append(missing, reg.Current)
	}

	if len(missing) > 0 || len(unlisted) > 0 {
		return apperrors.NewCorruptionError(fmt.Sprintf(
			"registry and checkpoints disagree: listed without directory [%s], directory not listed [%s]",
			strings.Join(missing, ", "), strings.Join(unlisted, ", ")), nil).
			WithContext("missing", missing).
			WithContext("unlisted", unlisted)
	}
	return nil
}

// List returns version names oldest first.
func (r *Registry) List() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, err := r.read()
	if err != nil {
		return nil, err
	}
	return reg.Versions, nil
}

// Current returns the active version, or "" when none is active.
func (r *Registry) Current() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, err := r.read()
	if err != nil {
		return "", err
	}
	return reg.Current, nil
}

// Versions returns the manifest of every listed version, oldest first.
func (r *Registry) Versions() ([]ModelVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, err := r.read()
	if err != nil {
		return nil, err
	}
	out := make([]ModelVersion, 0, len(reg.Versions))
	for _, name := range reg.Versions {
		v, err := readManifest(filepath.Join(r.root, name))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Save persists artifact as a new version and makes it current. An empty
// name derives fine_tuned_<timestamp>.
func (r *Registry) Save(ctx context.Context, artifact *backend.Artifact, name string) (ModelVersion, error) {
	if artifact == nil || len(artifact.Files) == 0 {
		return ModelVersion{}, apperrors.NewValidationError("model artifact has no files")
	}
	for fileName := range artifact.Files {
		if err := validName("artifact file", fileName); err != nil {
			return ModelVersion{}, err
		}
		if fileName == ManifestFile {
			return ModelVersion{}, apperrors.NewValidationError(ManifestFile + " is reserved")
		}
	}

	var saved ModelVersion
	err := r.withWriteLock(func(reg *registryFile) error {
		created := r.now().UTC()
		if name == "" {
			name = r.autoName(reg, created)
		}
		if err := validName("version", name); err != nil {
			return err
		}
		if contains(reg.Versions, name) {
			return apperrors.NewPreconditionError(fmt.Sprintf("version %q already exists", name))
		}

		v := ModelVersion{
			Name:      name,
			CreatedAt: created,
			Parent:    reg.Current,
			Digests:   make(map[string]string, len(artifact.Files)),
			Metadata:  artifact.Metadata,
		}
		dir, err := r.writeCheckpoint(&v, artifact)
		if err != nil {
			return err
		}

		reg.Versions = append(reg.Versions, name)
		reg.Current = name
		if err := r.write(*reg); err != nil {
			os.RemoveAll(dir)
			return err
		}
		saved = v
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "checkpoint_save_failed", slog.String("version", name), slog.String("error", err.Error()))
		return ModelVersion{}, err
	}

	if r.metrics != nil {
		r.metrics.CheckpointsSaved.Add(ctx, 1, metric.WithAttributes(attribute.String("version", saved.Name)))
	}
	r.logger.InfoContext(ctx, "checkpoint_saved",
		slog.String("version", saved.Name),
		slog.String("parent", saved.Parent),
		slog.Int("files", len(saved.Digests)))
	return saved, nil
}

// writeCheckpoint stages files and manifest in a hidden directory, then
// renames it into place.
func (r *Registry) writeCheckpoint(v *ModelVersion, artifact *backend.Artifact) (string, error) {
	staging, err := os.MkdirTemp(r.root, ".staging-"+v.Name+"-")
	if err != nil {
		return "", apperrors.NewStorageError("checkpoint root is not writable", err).WithContext("path", r.root)
	}
	defer os.RemoveAll(staging)

	names := make([]string, 0, len(artifact.Files))
	for fileName := range artifact.Files {
		names = append(names, fileName)
	}
	sort.Strings(names)

	for _, fileName := range names {
		data := artifact.Files[fileName]
		if err := os.WriteFile(filepath.Join(staging, fileName), data, 0644); err != nil {
			return "", apperrors.NewStorageError("failed to write checkpoint file", err).WithContext("file", fileName)
		}
		v.Digests[fileName] = digest(data)
	}
	if err := writeManifest(staging, *v); err != nil {
		return "", apperrors.NewStorageError("failed to write checkpoint manifest", err)
	}

	dir := filepath.Join(r.root, v.Name)
	if err := os.Rename(staging, dir); err != nil {
		return "", apperrors.NewStorageError("failed to publish checkpoint", err).WithContext("path", dir)
	}
	v.Path = dir
	return dir, nil
}

// Load reads and verifies a version's files.
func (r *Registry) Load(name string) (*Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, err := r.read()
	if err != nil {
		return nil, err
	}
	return r.loadLocked(reg, name)
}

func (r *Registry) loadLocked(reg *registryFile, name string) (*Checkpoint, error) {
	if !contains(reg.Versions, name) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("model version %q", name))
	}
	dir := filepath.Join(r.root, name)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("checkpoint directory for %q", name))
	}

	v, err := readManifest(dir)
	if err != nil {
		return nil, err
	}

	artifact := &backend.Artifact{Files: make(map[string][]byte, len(v.Digests)), Metadata: v.Metadata}
	for fileName, want := range v.Digests {
		data, err := os.ReadFile(filepath.Join(dir, fileName))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, apperrors.NewCorruptionError(fmt.Sprintf("checkpoint %q is missing %s", name, fileName), err)
			}
			return nil, apperrors.NewStorageError("failed to read checkpoint file", err)
		}
		if got := digest(data); got != want {
			return nil, apperrors.NewCorruptionError(fmt.Sprintf("checkpoint %q file %s digest mismatch", name, fileName), nil).
				WithContext("expected", want).
				WithContext("actual", got)
		}
		artifact.Files[fileName] = data
	}

	r.logger.Info("checkpoint_loaded", slog.String("version", name))
	return &Checkpoint{Version: v, Artifact: artifact}, nil
}

// LoadLatest loads the newest version.
func (r *Registry) LoadLatest() (*Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, err := r.read()
	if err != nil {
		return nil, err
	}
	if len(reg.Versions) == 0 {
		return nil, apperrors.NewNotFoundError("model version (registry is empty)")
	}
	return r.loadLocked(reg, reg.Versions[len(reg.Versions)-1])
}

// Rollback activates the second-most-recent version. The version list is
// left unchanged.
func (r *Registry) Rollback(ctx context.Context) (*Checkpoint, error) {
	var cp *Checkpoint
	err := r.withWriteLock(func(reg *registryFile) error {
		if len(reg.Versions) < 2 {
			return apperrors.NewPreconditionError(
				fmt.Sprintf("rollback needs at least 2 versions, registry has %d", len(reg.Versions)))
		}
		target := reg.Versions[len(reg.Versions)-2]
		loaded, err := r.loadLocked(reg, target)
		if err != nil {
			return err
		}
		reg.Current = target
		if err := r.write(*reg); err != nil {
			return err
		}
		cp = loaded
		return nil
	})
	if err != nil {
		r.logger.WarnContext(ctx, "rollback_failed", slog.String("error", err.Error()))
		return nil, err
	}
	r.logger.InfoContext(ctx, "rollback_completed", slog.String("current", cp.Version.Name))
	return cp, nil
}

// Activate makes an existing version current.
func (r *Registry) Activate(ctx context.Context, name string) error {
	err := r.withWriteLock(func(reg *registryFile) error {
		if !contains(reg.Versions, name) {
			return apperrors.NewNotFoundError(fmt.Sprintf("model version %q", name))
		}
		reg.Current = name
		return r.write(*reg)
	})
	if err == nil {
		r.logger.InfoContext(ctx, "version_activated", slog.String("version", name))
	}
	return err
}

// DeleteOld keeps the keepLast most recently modified checkpoint
// directories and permanently removes the rest, dropping them from the
// index too. If the current version is removed, the newest survivor
// becomes current. It returns the removed names. When a removal fails the
// index still drops the directories already gone, so it keeps matching
// the disk, and the error is returned with the partial list.
func (r *Registry) DeleteOld(ctx context.Context, keepLast int) ([]string, error) {
	if keepLast < 0 {
		return nil, apperrors.NewValidationError("keep_last must not be negative")
	}

	var removed []string
	err := r.withWriteLock(func(reg *registryFile) error {
		dirs, err := r.checkpointDirs()
		if err != nil {
			return err
		}
		if len(dirs) <= keepLast {
			return nil
		}

		prune := dirs[:len(dirs)-keepLast]
		gone := make(map[string]bool, len(prune))
		var removeErr error
		for _, d := range prune {
			if err := r.remove(d.Path); err != nil {
				removeErr = apperrors.NewStorageError("failed to remove checkpoint", err).WithContext("version", d.Name)
				break
			}
			gone[d.Name] = true
			removed = append(removed, d.Name)
		}
		if len(gone) == 0 {
			return removeErr
		}

		kept := reg.Versions[:0:0]
		for _, v := range reg.Versions {
			if !gone[v] {
				kept = append(kept, v)
			}
		}
		reg.Versions = kept
		if gone[reg.Current] {
			reg.Current = ""
			if len(kept) > 0 {
				reg.Current = kept[len(kept)-1]
			}
		}
		if err := r.write(*reg); err != nil {
			return err
		}
		return removeErr
	})
	if err != nil {
		r.logger.WarnContext(ctx, "checkpoint_prune_failed",
			slog.Any("removed", removed),
			slog.String("error", err.Error()))
		return removed, err
	}

	r.logger.InfoContext(ctx, "checkpoints_pruned",
		slog.Int("keep_last", keepLast),
		slog.Any("removed", removed))
	return removed, nil
}

// EvaluationRecord is written to the evaluation directory per version.
type EvaluationRecord struct {
	Version    string             `json:"version"`
	Metrics    map[string]float64 `json:"metrics"`
	RecordedAt time.Time          `json:"recorded_at"`
}

// RecordEvaluation stores metrics in the version manifest and writes
// <evaluation dir>/<version>.json.
func (r *Registry) RecordEvaluation(ctx context.Context, name string, metrics map[string]float64) error {
	err := r.withWriteLock(func(reg *registryFile) error {
		if !contains(reg.Versions, name) {
			return apperrors.NewNotFoundError(fmt.Sprintf("model version %q", name))
		}
		dir := filepath.Join(r.root, name)
		v, err := readManifest(dir)
		if err != nil {
			return err
		}
		v.Metrics = metrics
		if err := writeManifest(dir, v); err != nil {
			return apperrors.NewStorageError("failed to update manifest", err)
		}

		record := EvaluationRecord{Version: name, Metrics: metrics, RecordedAt: r.now().UTC()}
		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return apperrors.NewStorageError("failed to encode evaluation", err)
		}
		if err := files.WriteFileAtomic(filepath.Join(r.evalDir, name+".json"), data, 0644); err != nil {
			return apperrors.NewStorageError("failed to write evaluation", err)
		}
		return nil
	})
	if err == nil {
		r.logger.InfoContext(ctx, "evaluation_recorded", slog.String("version", name), slog.Int("metrics", len(metrics)))
	}
	return err
}

// Compare returns newer minus older for every metric recorded on newer.
// Metrics absent from older count as 0.
func (r *Registry) Compare(older, newer string) (map[string]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, err := r.read()
	if err != nil {
		return nil, err
	}
	var manifests [2]ModelVersion
	for i, name := range []string{older, newer} {
		if !contains(reg.Versions, name) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("model version %q", name))
		}
		if manifests[i], err = readManifest(filepath.Join(r.root, name)); err != nil {
			return nil, err
		}
	}

	deltas := make(map[string]float64, len(manifests[1].Metrics))
	for k, v := range manifests[1].Metrics {
		deltas[k] = v - manifests[0].Metrics[k]
	}
	return deltas, nil
}

func (r *Registry) withWriteLock(fn func(reg *registryFile) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, err := acquireFileLock(r.file)
	if err != nil {
		return apperrors.NewStorageError("failed to lock registry", err)
	}
	defer lock.release()

	reg, err := r.read()
	if err != nil {
		return err
	}
	return fn(reg)
}

func (r *Registry) read() (*registryFile, error) {
	data, err := os.ReadFile(r.file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError("registry file " + r.file)
		}
		return nil, apperrors.NewStorageError("failed to read registry", err)
	}
	var reg registryFile
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, apperrors.NewCorruptionError("registry file is not valid JSON", err)
	}
	if reg.Versions == nil {
		reg.Versions = []string{}
	}
	return &reg, nil
}

func (r *Registry) write(reg registryFile) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return apperrors.NewStorageError("failed to encode registry", err)
	}
	if err := files.WriteFileAtomic(r.file, data, 0644); err != nil {
		return apperrors.NewStorageError("failed to write registry", err).WithContext("path", r.file)
	}
	return nil
}

// checkpointDirs lists version directories oldest-modified first, skipping
// hidden staging directories.
func (r *Registry) checkpointDirs() ([]files.FileInfo, error) {
	all, err := files.ListDirectories(r.root)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list checkpoints", err)
	}
	dirs := all[:0]
	for _, d := range all {
		if !strings.HasPrefix(d.Name, ".") && d.Path != r.evalDir {
			dirs = append(dirs, d)
		}
	}
	return dirs, nil
}

func (r *Registry) autoName(reg *registryFile, t time.Time) string {
	base := AutoNamePrefix + t.Format("20060102_150405")
	name := base
	for i := 2; contains(reg.Versions, name); i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	return name
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
