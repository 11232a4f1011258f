// Package backend defines the model capability the pipeline consumes:
// text generation and fine-tuning. Implementations are opaque; callers only
// see prompts, options, datasets and the resulting artifact.
package backend

import (
	"context"
	"log/slog"
	"time"

	"insightpipe/internal/config"
	"insightpipe/internal/dataset"
	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/infrastructure"
)

// GenerateOptions tune a single generation call.
type GenerateOptions struct {
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// TrainParams tune a fine-tuning call.
type TrainParams struct {
	Epochs    int `json:"epochs"`
	BatchSize int `json:"batch_size"`
}

// Artifact is a trained model handle: the files that make up the model
// plus free-form metadata reported by the backend.
type Artifact struct {
	Files    map[string][]byte `json:"files"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Backend generates text and fine-tunes models. Calls may block for a long
// time; callers needing a deadline set one on ctx.
type Backend interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	Train(ctx context.Context, train, val *dataset.Dataset, params TrainParams) (*Artifact, error)
}

// OptionsFromConfig maps the model section of the application config.
func OptionsFromConfig(cfg config.ModelConfig) (GenerateOptions, TrainParams) {
	return GenerateOptions{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature},
		TrainParams{Epochs: cfg.Epochs, BatchSize: cfg.BatchSize}
}

// Instrumented decorates a Backend with logging, call metrics and the
// ModelBackendError wrapping every failure must carry.
type Instrumented struct {
	next    Backend
	logger  *slog.Logger
	metrics *infrastructure.PipelineMetrics
}

// Instrument wraps next. A nil logger uses slog.Default; nil metrics are skipped.
func Instrument(next Backend, logger *slog.Logger, metrics *infrastructure.PipelineMetrics) *Instrumented {
	if logger == nil {
		logger = slog.Default()
	}
	return &Instrumented{
		next:    next,
		logger:  logger.With(slog.String("component", "model_backend")),
		metrics: metrics,
	}
}

func (b *Instrumented) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	start := time.Now()
	text, err := b.next.Generate(ctx, prompt, opts)
	b.metrics.RecordBackendCall(ctx, "generate", err)
	if err != nil {
		b.logger.ErrorContext(ctx, "generate_failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return "", wrap("generation failed", err)
	}
	b.logger.InfoContext(ctx, "generate_completed",
		slog.Int("prompt_chars", len(prompt)),
		slog.Int("output_chars", len(text)),
		slog.Duration("duration", time.Since(start)))
	return text, nil
}

func (b *Instrumented) Train(ctx context.Context, train, val *dataset.Dataset, params TrainParams) (*Artifact, error) {
	start := time.Now()
	b.logger.InfoContext(ctx, "training_started",
		slog.Int("train_rows", train.NumRows()),
		slog.Int("val_rows", val.NumRows()),
		slog.Int("epochs", params.Epochs),
		slog.Int("batch_size", params.BatchSize))

	artifact, err := b.next.Train(ctx, train, val, params)
	if err == nil && (artifact == nil || len(artifact.Files) == 0) {
		err = apperrors.NewModelBackendError("training returned no model files", nil)
	}
	b.metrics.RecordBackendCall(ctx, "train", err)
	if err != nil {
		b.logger.ErrorContext(ctx, "training_failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return nil, wrap("training failed", err)
	}

	b.logger.InfoContext(ctx, "training_completed",
		slog.Int("files", len(artifact.Files)),
		slog.Duration("duration", time.Since(start)))
	return artifact, nil
}

// wrap leaves existing ModelBackendErrors alone and wraps anything else.
func wrap(msg string, err error) error {
	if apperrors.IsType(err, apperrors.ErrTypeModelBackend) {
		return err
	}
	return apperrors.NewModelBackendError(msg, err)
}

// Unavailable fails every call with a ModelBackendError. It stands in for a
// backend that is not configured.
type Unavailable struct {
	Reason string
}

func (u Unavailable) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return "", apperrors.NewModelBackendError(u.Reason, nil)
}

func (u Unavailable) Train(ctx context.Context, train, val *dataset.Dataset, params TrainParams) (*Artifact, error) {
	return nil, apperrors.NewModelBackendError(u.Reason, nil)
}
