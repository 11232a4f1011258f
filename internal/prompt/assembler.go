package prompt

import (
	"context"
	"log/slog"

	"insightpipe/internal/backend"
	"insightpipe/internal/config"
	"insightpipe/internal/dataset"
	apperrors "insightpipe/internal/errors"
)

// Assembler builds prompts with configured settings. When a Generator is
// set and model roles are enabled, column roles come from the model with
// heuristic fallback.
type Assembler struct {
	cfg    config.PromptConfig
	gen    Generator
	opts   backend.GenerateOptions
	logger *slog.Logger
}

// NewAssembler returns an assembler. gen may be nil.
func NewAssembler(cfg config.PromptConfig, gen Generator, opts backend.GenerateOptions, logger *slog.Logger) *Assembler {
	if cfg.CorrelationThreshold <= 0 {
		cfg.CorrelationThreshold = DefaultCorrelationThreshold
	}
	if cfg.ColumnSampleSize <= 0 {
		cfg.ColumnSampleSize = DefaultSampleSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		cfg:    cfg,
		gen:    gen,
		opts:   opts,
		logger: logger.With(slog.String("component", "prompt_assembler")),
	}
}

func (a *Assembler) roles(ctx context.Context, ds *dataset.Dataset) []ColumnRole {
	if a.cfg.ModelRoles && a.gen != nil {
		return InferRolesWithModel(ctx, ds, a.gen, a.opts, a.cfg.ColumnSampleSize, a.logger)
	}
	return InferRoles(ds)
}

// Analysis builds the analysis prompt. An empty instruction uses the
// configured one.
func (a *Assembler) Analysis(ctx context.Context, ds *dataset.Dataset, metadata map[string]string, instruction string) (Document, error) {
	if ds == nil {
		return Document{}, apperrors.NewValidationError("dataset is required")
	}
	if instruction == "" {
		instruction = a.cfg.Instruction
	}
	s, err := collect(ctx, ds, metadata, a.roles(ctx, ds), a.cfg.CorrelationThreshold)
	if err != nil {
		return Document{}, err
	}
	doc := NewDocument(analysisBody(instruction, s))
	a.logger.DebugContext(ctx, "prompt_built",
		slog.String("kind", "analysis"),
		slog.Int("bytes", len(doc.Body)),
		slog.String("hash", doc.Hash))
	return doc, nil
}

// Summary builds the executive-summary prompt.
func (a *Assembler) Summary(ctx context.Context, ds *dataset.Dataset, metadata map[string]string) (Document, error) {
	if ds == nil {
		return Document{}, apperrors.NewValidationError("dataset is required")
	}
	s, err := collect(ctx, ds, metadata, a.roles(ctx, ds), a.cfg.CorrelationThreshold)
	if err != nil {
		return Document{}, err
	}
	doc := NewDocument(summaryBody(s))
	a.logger.DebugContext(ctx, "prompt_built",
		slog.String("kind", "summary"),
		slog.Int("bytes", len(doc.Body)),
		slog.String("hash", doc.Hash))
	return doc, nil
}
