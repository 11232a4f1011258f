package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"insightpipe/internal/dataset"
	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/quality"
)

const (
	// DefaultCorrelationThreshold selects pairs for the correlation summary.
	DefaultCorrelationThreshold = 0.8
	// DefaultSampleSize is the number of example values per column in the
	// column prompt.
	DefaultSampleSize = 5

	NoMetadata          = "No additional metadata"
	NoNumericStatistics = "No numeric columns to compute statistics."
	NoNumericCorrelates = "No numeric columns to compute correlations."
	NoCorrelations      = "No high correlations."

	analysisClosing = "Describe distribution, patterns, possible anomalies, recommendations and suggested visualizations.\n" +
		"Finally, present a consolidated summary with business conclusions and recommendations."
)

// BuildColumnSummary lists one "- column: role" line per column using the
// name heuristics.
func BuildColumnSummary(ds *dataset.Dataset) string {
	return formatRoles(InferRoles(ds))
}

func formatRoles(roles []ColumnRole) string {
	lines := make([]string, len(roles))
	for i, r := range roles {
		lines[i] = fmt.Sprintf("- %s: %s", r.Column, r.Role)
	}
	return strings.Join(lines, "\n")
}

// BuildStatisticsSummary writes mean, median, mode, sample standard
// deviation and the z-score outlier count for each numeric column.
func BuildStatisticsSummary(ctx context.Context, ds *dataset.Dataset) (string, error) {
	profiles, err := quality.Profile(ctx, ds)
	if err != nil {
		return "", err
	}
	if len(profiles) == 0 {
		return NoNumericStatistics, nil
	}
	lines := make([]string, len(profiles))
	for i, p := range profiles {
		lines[i] = fmt.Sprintf("**%s:** Mean=%s, Median=%s, Mode=%s, Std dev=%s, Outliers=%d",
			p.Column, formatNumber(p.Mean), formatNumber(p.Median), formatNumber(p.Mode),
			formatNumber(p.StdDev), p.Outliers)
	}
	return strings.Join(lines, "\n"), nil
}

// BuildCorrelationSummary lists "a ↔ b: value" for every Pearson pair whose
// magnitude exceeds threshold.
func BuildCorrelationSummary(ds *dataset.Dataset, threshold float64) (string, error) {
	if len(ds.NumericColumnNames()) == 0 {
		return NoNumericCorrelates, nil
	}
	matrix, err := quality.ComputeCorrelations(ds, quality.CorrelationPearson)
	if err != nil {
		return "", err
	}
	pairs := quality.DetectMulticollinearity(matrix, threshold)
	if len(pairs) == 0 {
		return NoCorrelations, nil
	}
	lines := make([]string, len(pairs))
	for i, p := range pairs {
		lines[i] = fmt.Sprintf("%s ↔ %s: %.2f", p.A, p.B, p.Value)
	}
	return strings.Join(lines, "\n"), nil
}

// formatMetadata renders "key: value" lines sorted by key.
func formatMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return NoMetadata
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + ": " + metadata[k]
	}
	return strings.Join(lines, "\n")
}

// formatNumber prints up to four decimals without trailing zeros.
func formatNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		s = "0"
	}
	return s
}

// sections holds the dataset-derived parts shared by every prompt.
type sections struct {
	metadata     string
	columns      string
	statistics   string
	correlations string
}

func collect(ctx context.Context, ds *dataset.Dataset, metadata map[string]string, roles []ColumnRole, threshold float64) (sections, error) {
	if ds == nil || ds.NumCols() == 0 {
		return sections{}, apperrors.NewValidationError("cannot build a prompt for a dataset with no columns")
	}
	stats, err := BuildStatisticsSummary(ctx, ds)
	if err != nil {
		return sections{}, err
	}
	corr, err := BuildCorrelationSummary(ds, threshold)
	if err != nil {
		return sections{}, err
	}
	return sections{
		metadata:     formatMetadata(metadata),
		columns:      formatRoles(roles),
		statistics:   stats,
		correlations: corr,
	}, nil
}

func analysisBody(instruction string, s sections) string {
	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\n### Metadata:\n")
	b.WriteString(s.metadata)
	b.WriteString("\n\n### Columns and roles:\n")
	b.WriteString(s.columns)
	b.WriteString("\n\n### Statistics and outliers:\n")
	b.WriteString(s.statistics)
	b.WriteString("\n\n### Relevant correlations:\n")
	b.WriteString(s.correlations)
	b.WriteString("\n\n")
	b.WriteString(analysisClosing)
	return b.String()
}

func summaryBody(s sections) string {
	var b strings.Builder
	b.WriteString("You are a data analysis expert.\n\n")
	b.WriteString("Your goal is a final **executive summary** based on:\n")
	b.WriteString("- The previous analysis (included as metadata).\n")
	b.WriteString("- The statistics and structure of the dataset.\n\n")
	b.WriteString("IMPORTANT:\n")
	b.WriteString("- Do NOT repeat the previous analysis.\n")
	b.WriteString("- Do NOT recompute statistics.\n")
	b.WriteString("- Do NOT describe distribution, patterns or anomalies again.\n")
	b.WriteString("- ONLY synthesize and draw final conclusions.\n\n")
	b.WriteString("### Previous analysis (metadata):\n")
	b.WriteString(s.metadata)
	b.WriteString("\n\n### Dataset technical details (context only, do not analyze):\n")
	b.WriteString("- Columns and roles:\n")
	b.WriteString(s.columns)
	b.WriteString("\n\n- Key statistics:\n")
	b.WriteString(s.statistics)
	b.WriteString("\n\n- Relevant correlations:\n")
	b.WriteString(s.correlations)
	b.WriteString("\n\nWrite a **concise executive summary** that contains only:\n")
	b.WriteString("- Final findings.\n")
	b.WriteString("- Business conclusions.\n")
	b.WriteString("- Recommendations.\n")
	b.WriteString("- Important risks or anomalies.\n")
	b.WriteString("- Useful visualizations.")
	return b.String()
}

// BuildPrompt assembles the analysis prompt with heuristic column roles
// and the default correlation threshold. Identical inputs give
// byte-identical documents.
func BuildPrompt(ctx context.Context, ds *dataset.Dataset, metadata map[string]string, instruction string) (Document, error) {
	if ds == nil {
		return Document{}, apperrors.NewValidationError("dataset is required")
	}
	s, err := collect(ctx, ds, metadata, InferRoles(ds), DefaultCorrelationThreshold)
	if err != nil {
		return Document{}, err
	}
	return NewDocument(analysisBody(instruction, s)), nil
}

// BuildReportPrompt assembles the executive-summary prompt. Earlier
// analysis output is passed in metadata.
func BuildReportPrompt(ctx context.Context, ds *dataset.Dataset, metadata map[string]string) (Document, error) {
	if ds == nil {
		return Document{}, apperrors.NewValidationError("dataset is required")
	}
	s, err := collect(ctx, ds, metadata, InferRoles(ds), DefaultCorrelationThreshold)
	if err != nil {
		return Document{}, err
	}
	return NewDocument(summaryBody(s)), nil
}

type columnInfo struct {
	Name    string   `json:"column_name"`
	Kind    string   `json:"dtype"`
	Samples []string `json:"sample_values"`
}

// BuildColumnPrompt asks the model to classify each column from its kind
// and up to sampleSize non-null example values, replying with a JSON
// object of column to role.
func BuildColumnPrompt(ds *dataset.Dataset, sampleSize int) (string, error) {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	infos := make([]columnInfo, 0, ds.NumCols())
	for _, col := range ds.Columns() {
		info := columnInfo{Name: col.Name, Kind: col.Kind().String(), Samples: []string{}}
		for _, c := range col.Cells {
			if len(info.Samples) == sampleSize {
				break
			}
			if !c.IsNull() {
				info.Samples = append(info.Samples, c.String())
			}
		}
		infos = append(infos, info)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(infos); err != nil {
		return "", apperrors.NewValidationError("failed to encode column samples: " + err.Error())
	}

	roleNames := make([]string, 0, len(knownRoles))
	for r := range knownRoles {
		roleNames = append(roleNames, string(r))
	}
	sort.Strings(roleNames)

	var b strings.Builder
	b.WriteString("You are a data analysis expert.\n")
	b.WriteString("Below are the columns of a dataset, each with its data type and example values.\n")
	b.WriteString("Infer the main role of each column using one of: ")
	b.WriteString(strings.Join(roleNames, ", "))
	b.WriteString(".\nUse the example values to guide the inference.\n\n")
	b.WriteString("Columns and examples:\n")
	b.WriteString(strings.TrimRight(buf.String(), "\n"))
	b.WriteString("\n\nReply only with JSON such as:\n")
	b.WriteString("{\n  \"column_name_1\": \"inferred_role\",\n  \"column_name_2\": \"inferred_role\"\n}")
	return b.String(), nil
}
