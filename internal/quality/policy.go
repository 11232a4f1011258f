package quality

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"insightpipe/internal/config"
	apperrors "insightpipe/internal/errors"
)

const (
	FillMean   = "mean"
	FillMedian = "median"

	MethodZScore = "zscore"
	MethodIQR    = "iqr"
)

// CleaningPolicy configures Clean. It is a value type; copies never alias.
type CleaningPolicy struct {
	NullFillStrategy string  `json:"null_fill_strategy" validate:"required"`
	Dedupe           bool    `json:"dedupe"`
	OutlierMethod    string  `json:"outlier_method" validate:"required"`
	OutlierThreshold float64 `json:"outlier_threshold" validate:"gte=0"`
	RemoveOutliers   bool    `json:"remove_outliers"`
}

var validate = validator.New()

// DefaultPolicy fills with the mean, drops duplicates and keeps outliers.
func DefaultPolicy() CleaningPolicy {
	return CleaningPolicy{
		NullFillStrategy: FillMean,
		Dedupe:           true,
		OutlierMethod:    MethodZScore,
		OutlierThreshold: 3.0,
	}
}

// PolicyFromConfig maps the quality section of the application config.
func PolicyFromConfig(cfg config.QualityConfig) CleaningPolicy {
	return CleaningPolicy{
		NullFillStrategy: cfg.NullFillStrategy,
		Dedupe:           cfg.Dedupe,
		OutlierMethod:    cfg.OutlierMethod,
		OutlierThreshold: cfg.OutlierThreshold,
		RemoveOutliers:   cfg.RemoveOutliers,
	}
}

// Validate reports unknown strategies or methods as a ConfigError.
func (p CleaningPolicy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return apperrors.NewConfigError("invalid cleaning policy", err)
	}
	if p.NullFillStrategy != FillMean && p.NullFillStrategy != FillMedian {
		return apperrors.NewConfigError(
			fmt.Sprintf("unknown null fill strategy %q, use mean or median", p.NullFillStrategy), nil)
	}
	return checkMethod(p.OutlierMethod)
}

func checkMethod(method string) error {
	if method != MethodZScore && method != MethodIQR {
		return apperrors.NewConfigError(
			fmt.Sprintf("unknown outlier method %q, use zscore or iqr", method), nil)
	}
	return nil
}
