package report

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"insightpipe/internal/config"
	"insightpipe/internal/infrastructure"
)

const (
	// MetricsSection holds the metrics sentence or the placeholder.
	MetricsSection     = "Metrics summary"
	NoMetricsGenerated = "No metrics were generated."

	MetaAuthor    = "author"
	MetaVersion   = "version"
	MetaCreatedAt = "created_at"
)

// Exporter writes a document to path in one format.
type Exporter interface {
	Extension() string
	Export(ctx context.Context, doc Document, path string) error
}

// Builder accumulates a report and exports it. It is safe for concurrent use.
type Builder struct {
	mu  sync.Mutex
	doc Document

	author    string
	version   string
	outDir    string
	exporters map[string]Exporter
	logger    *slog.Logger
	metrics   *infrastructure.PipelineMetrics
	now       func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) { b.logger = logger }
}

func WithMetrics(m *infrastructure.PipelineMetrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// WithOutputDir sets the directory relative filenames are written to.
func WithOutputDir(dir string) Option {
	return func(b *Builder) { b.outDir = dir }
}

func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithDefaults sets the author and version used by BuildStructure.
func WithDefaults(author, version string) Option {
	return func(b *Builder) {
		b.author = author
		b.version = version
	}
}

// WithExporter registers e under format, replacing any existing one.
func WithExporter(format string, e Exporter) Option {
	return func(b *Builder) { b.exporters[strings.ToLower(format)] = e }
}

// NewBuilder starts an empty document titled title. No exporters are
// registered unless given as options.
func NewBuilder(title string, opts ...Option) *Builder {
	b := &Builder{
		author:    "Insight Pipeline",
		version:   "1.0",
		exporters: make(map[string]Exporter),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With(slog.String("component", "report_builder"))
	b.doc = Document{
		Title:     title,
		Metadata:  map[string]string{},
		Metrics:   map[string]float64{},
		CreatedAt: b.now(),
	}
	return b
}

// NewBuilderFromConfig wires the excel exporter and the chrome PDF exporter.
func NewBuilderFromConfig(cfg config.ReportConfig, outDir string, logger *slog.Logger, metrics *infrastructure.PipelineMetrics) *Builder {
	return NewBuilder(cfg.Title,
		WithLogger(logger),
		WithMetrics(metrics),
		WithOutputDir(outDir),
		WithDefaults(cfg.Author, cfg.Version),
		WithExporter(FormatExcel, NewExcelExporter()),
		WithExporter(FormatPDF, NewPDFExporter(cfg.ChromePath)))
}

// BuildStructure replaces the metadata with metadata, or with author,
// version and creation time when metadata is empty.
func (b *Builder) BuildStructure(metadata map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(metadata) == 0 {
		b.doc.Metadata = map[string]string{
			MetaAuthor:    b.author,
			MetaVersion:   b.version,
			MetaCreatedAt: b.now().Format(time.DateTime),
		}
	} else {
		b.doc.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			b.doc.Metadata[k] = v
		}
	}
	b.logger.Debug("report_structure_built", slog.Int("metadata_keys", len(b.doc.Metadata)))
}

// AppendMetadata merges metadata into the existing metadata.
func (b *Builder) AppendMetadata(metadata map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range metadata {
		b.doc.Metadata[k] = v
	}
}

// AddTextSections merges sections in order. A repeated title overwrites
// the earlier body.
func (b *Builder) AddTextSections(sections ...Section) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range sections {
		b.doc.upsert(s)
	}
	b.logger.Debug("sections_added", slog.Int("count", len(sections)))
}

// AddModelSummary adds a model-generated section. Empty text is skipped.
func (b *Builder) AddModelSummary(title, text string) {
	if strings.TrimSpace(text) == "" {
		b.logger.Warn("model_summary_empty", slog.String("title", title))
		return
	}
	b.AddTextSections(Section{Title: title, Body: text})
}

// EmbedCharts appends chart image paths.
func (b *Builder) EmbedCharts(paths ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doc.Charts = append(b.doc.Charts, paths...)
}

// InsertMetrics evaluates results into the document metrics and writes the
// metrics section. Empty results clear the metrics and record a
// placeholder section instead of failing.
func (b *Builder) InsertMetrics(results ModelResults) error {
	if results.Empty() {
		b.mu.Lock()
		b.doc.Metrics = map[string]float64{}
		b.doc.upsert(Section{Title: MetricsSection, Body: NoMetricsGenerated})
		b.mu.Unlock()
		b.logger.Warn("metrics_empty")
		return nil
	}

	m, err := Evaluate(results)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.doc.Metrics = m
	b.doc.upsert(Section{Title: MetricsSection, Body: Summarize(m)})
	b.mu.Unlock()
	b.logger.Info("metrics_inserted", slog.Float64("accuracy", m[MetricAccuracy]))
	return nil
}

// Document returns a copy of the current document.
func (b *Builder) Document() Document {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doc.clone()
}

// Formats lists registered export formats, sorted.
func (b *Builder) Formats() []string {
	out := make([]string, 0, len(b.exporters))
	for f := range b.exporters {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

type exportJob struct {
	format string
	path   string
	exp    Exporter
}

// Exported lists what one Finalize call produced.
type Exported struct {
	// Paths are the written files in request order.
	Paths []string `json:"paths"`
	// Failed names the formats whose exporter returned an error.
	Failed []string `json:"failed,omitempty"`
}

// Finalize exports the document once per requested format to
// <filename>_<YYYYMMDD_HHMMSS>.<ext>. Unknown formats are skipped and a
// failing exporter is logged and listed in Failed, so a report with no
// written file is still not an error. Only cancellation of ctx is returned.
func (b *Builder) Finalize(ctx context.Context, formats []string, filename string) (Exported, error) {
	doc := b.Document()
	stamp := b.now().Format("20060102_150405")
	base := filename
	if !filepath.IsAbs(base) && b.outDir != "" {
		base = filepath.Join(b.outDir, base)
	}

	var jobs []exportJob
	seen := make(map[string]bool)
	for _, f := range formats {
		format := strings.ToLower(strings.TrimSpace(f))
		exp, ok := b.exporters[format]
		if !ok {
			b.logger.WarnContext(ctx, "export_format_skipped", slog.String("format", f))
			continue
		}
		if seen[format] {
			continue
		}
		seen[format] = true
		jobs = append(jobs, exportJob{
			format: format,
			path:   fmt.Sprintf("%s_%s%s", base, stamp, exp.Extension()),
			exp:    exp,
		})
	}

	done := make([]bool, len(jobs))
	var g errgroup.Group
	for i, job := range jobs {
		g.Go(func() error {
			start := time.Now()
			if err := job.exp.Export(ctx, doc, job.path); err != nil {
				b.logger.WarnContext(ctx, "export_failed",
					slog.String("format", job.format),
					slog.String("path", job.path),
					slog.String("error", err.Error()))
				return nil
			}
			done[i] = true
			if b.metrics != nil {
				b.metrics.ReportsExported.Add(ctx, 1, metric.WithAttributes(attribute.String("format", job.format)))
			}
			b.logger.InfoContext(ctx, "report_exported",
				slog.String("format", job.format),
				slog.String("path", job.path),
				slog.Duration("duration", time.Since(start)))
			return nil
		})
	}
	_ = g.Wait()

	out := Exported{Paths: make([]string, 0, len(jobs))}
	for i, job := range jobs {
		if done[i] {
			out.Paths = append(out.Paths, job.path)
		} else {
			out.Failed = append(out.Failed, job.format)
		}
	}
	return out, ctx.Err()
}
