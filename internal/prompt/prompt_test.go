package prompt

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightpipe/internal/backend"
	"insightpipe/internal/backend/backendtest"
	"insightpipe/internal/config"
	"insightpipe/internal/dataset"
	apperrors "insightpipe/internal/errors"
)

func salesDataset() *dataset.Dataset {
	return dataset.MustNew(
		dataset.NumberColumn("price", 10, 20, 30, 40),
		dataset.TextColumn("region", "north", "south", "", "north"),
		dataset.Column{Name: "order_date", Cells: []dataset.Cell{
			dataset.TimeCell(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
			dataset.TimeCell(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)),
			dataset.NullCell(),
			dataset.TimeCell(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)),
		}},
	)
}

func TestRoleFor(t *testing.T) {
	tests := []struct {
		col  dataset.Column
		want Role
	}{
		{dataset.NumberColumn("Precio_Unitario", 1), RoleMonetary},
		{dataset.NumberColumn("total", 1), RoleMonetary},
		{dataset.NumberColumn("stock", 1), RoleQuantity},
		{dataset.TextColumn("nombre_cliente", "ana"), RoleEntity},
		{dataset.TextColumn("producto", "pan"), RoleProduct},
		{dataset.TextColumn("ciudad", "lima"), RoleLocation},
		{dataset.TextColumn("fecha_venta", "x"), RoleTemporal},
		{dataset.NumberColumn("score", 1), RoleNumericUnclassified},
		{dataset.TextColumn("notes", "a"), RoleCategoryUnclassified},
		{dataset.Column{Name: "created", Cells: []dataset.Cell{dataset.TimeCell(time.Now())}}, RoleTemporal},
	}
	for _, tt := range tests {
		t.Run(tt.col.Name, func(t *testing.T) {
			assert.Equal(t, tt.want, RoleFor(tt.col))
		})
	}
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole(" Numeric_Monetary ")
	assert.True(t, ok)
	assert.Equal(t, RoleMonetary, r)

	_, ok = ParseRole("identifier")
	assert.False(t, ok)
}

func TestBuildColumnSummary(t *testing.T) {
	got := BuildColumnSummary(salesDataset())
	assert.Equal(t, "- price: numeric-monetary\n- region: categorical-location\n- order_date: temporal", got)
}

func TestBuildStatisticsSummary(t *testing.T) {
	got, err := BuildStatisticsSummary(context.Background(), salesDataset())
	require.NoError(t, err)
	assert.Equal(t, "**price:** Mean=25, Median=25, Mode=10, Std dev=12.9099, Outliers=0", got)

	got, err = BuildStatisticsSummary(context.Background(), dataset.MustNew(dataset.TextColumn("a", "x")))
	require.NoError(t, err)
	assert.Equal(t, NoNumericStatistics, got)
}

func TestBuildStatisticsSummary_CountsSpikes(t *testing.T) {
	amounts := make([]float64, 20)
	for i := range amounts {
		amounts[i] = 10
	}
	amounts[7] = 210

	got, err := BuildStatisticsSummary(context.Background(), dataset.MustNew(dataset.NumberColumn("amount", amounts...)))
	require.NoError(t, err)
	assert.Equal(t, "**amount:** Mean=20, Median=10, Mode=10, Std dev=44.7214, Outliers=1", got)
}

func TestBuildCorrelationSummary(t *testing.T) {
	ds := dataset.MustNew(
		dataset.NumberColumn("x", 1, 2, 3, 4),
		dataset.NumberColumn("y", 1, 2, 3, 5),
		dataset.NumberColumn("z", 4, 1, 3, 2),
	)
	got, err := BuildCorrelationSummary(ds, DefaultCorrelationThreshold)
	require.NoError(t, err)
	assert.Equal(t, "x ↔ y: 0.98", got)

	got, err = BuildCorrelationSummary(salesDataset(), DefaultCorrelationThreshold)
	require.NoError(t, err)
	assert.Equal(t, NoCorrelations, got)

	got, err = BuildCorrelationSummary(dataset.MustNew(dataset.TextColumn("a", "x")), DefaultCorrelationThreshold)
	require.NoError(t, err)
	assert.Equal(t, NoNumericCorrelates, got)
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	ctx := context.Background()
	meta := map[string]string{"source": "sales.csv", "owner": "finance"}

	first, err := BuildPrompt(ctx, salesDataset(), meta, "Analyze sales.")
	require.NoError(t, err)
	second, err := BuildPrompt(ctx, salesDataset(), map[string]string{"owner": "finance", "source": "sales.csv"}, "Analyze sales.")
	require.NoError(t, err)

	assert.Equal(t, first.Text(), second.Text())
	assert.True(t, strings.HasPrefix(first.Body, "Analyze sales.\n\n### Metadata:\nowner: finance\nsource: sales.csv\n\n### Columns and roles:\n"))
	assert.Contains(t, first.Body, "### Statistics and outliers:\n**price:**")
	assert.Contains(t, first.Body, "### Relevant correlations:\n"+NoCorrelations)
	assert.True(t, strings.HasSuffix(first.Body, analysisClosing))

	doc, err := Verify(first.Text())
	require.NoError(t, err)
	assert.Equal(t, first, doc)
	assert.Len(t, doc.Hash, 64)
}

func TestBuildPrompt_NoMetadata(t *testing.T) {
	doc, err := BuildPrompt(context.Background(), salesDataset(), nil, "")
	require.NoError(t, err)
	assert.Contains(t, doc.Body, "### Metadata:\n"+NoMetadata+"\n")

	_, err = BuildPrompt(context.Background(), dataset.MustNew(), nil, "x")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestVerifyAndStrip(t *testing.T) {
	doc := NewDocument("line one\nline two")
	text := doc.Text()
	assert.Equal(t, "line one\nline two\n#HASH:"+doc.Hash, text)

	body, err := Strip(text)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", body)

	tests := map[string]string{
		"missing tag": "line one\nline two",
		"truncated":   text[:len(text)-4],
		"tampered":    strings.Replace(text, "one", "1", 1),
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Verify(input)
			assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
		})
	}
}

func TestBuildReportPrompt(t *testing.T) {
	doc, err := BuildReportPrompt(context.Background(), salesDataset(), map[string]string{"analysis": "sales grow"})
	require.NoError(t, err)
	assert.Contains(t, doc.Body, "executive summary")
	assert.Contains(t, doc.Body, "### Previous analysis (metadata):\nanalysis: sales grow")
	_, err = Verify(doc.Text())
	assert.NoError(t, err)
}

func TestBuildColumnPrompt(t *testing.T) {
	got, err := BuildColumnPrompt(salesDataset(), 2)
	require.NoError(t, err)
	assert.Contains(t, got, `"column_name": "price"`)
	assert.Contains(t, got, `"dtype": "numeric"`)
	assert.Contains(t, got, "\"sample_values\": [\n      \"10\",\n      \"20\"\n    ]")
	assert.Contains(t, got, `"2024-01-01"`)
	assert.NotContains(t, got, `"40"`)
	assert.Contains(t, got, "Reply only with JSON")
}

func TestInferRolesWithModel(t *testing.T) {
	ctx := context.Background()
	ds := dataset.MustNew(
		dataset.NumberColumn("amt", 1, 2),
		dataset.TextColumn("region", "a", "b"),
	)

	t.Run("model reply with partial fallback", func(t *testing.T) {
		fake := backendtest.New()
		fake.Responses = []string{"Sure:\n{\"amt\": \"numeric_quantity\", \"region\": \"place\"}"}
		roles := InferRolesWithModel(ctx, ds, fake, backend.GenerateOptions{}, 3, nil)
		assert.Equal(t, []ColumnRole{{"amt", RoleQuantity}, {"region", RoleLocation}}, roles)
		assert.Contains(t, fake.LastPrompt(), `"column_name": "amt"`)
	})

	t.Run("backend failure", func(t *testing.T) {
		fake := backendtest.New()
		fake.FailOn = func(string) bool { return true }
		roles := InferRolesWithModel(ctx, ds, fake, backend.GenerateOptions{}, 3, nil)
		assert.Equal(t, InferRoles(ds), roles)
	})

	t.Run("invalid json", func(t *testing.T) {
		fake := backendtest.New()
		fake.DefaultText = "I think amt is money"
		roles := InferRolesWithModel(ctx, ds, fake, backend.GenerateOptions{}, 3, nil)
		assert.Equal(t, InferRoles(ds), roles)
	})
}

func TestAssembler(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Prompt
	cfg.ModelRoles = true
	fake := backendtest.New()
	fake.DefaultText = `{"price": "numeric-quantity"}`

	a := NewAssembler(cfg, fake, backend.GenerateOptions{MaxTokens: 64}, nil)
	doc, err := a.Analysis(ctx, salesDataset(), nil, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(doc.Body, cfg.Instruction))
	assert.Contains(t, doc.Body, "- price: numeric-quantity")
	assert.Equal(t, 1, fake.PromptCount())

	summary, err := a.Summary(ctx, salesDataset(), map[string]string{"analysis": "ok"})
	require.NoError(t, err)
	_, err = Verify(summary.Text())
	assert.NoError(t, err)

	plain := NewAssembler(cfg, nil, backend.GenerateOptions{}, nil)
	doc, err = plain.Analysis(ctx, salesDataset(), nil, "custom")
	require.NoError(t, err)
	assert.Contains(t, doc.Body, "- price: numeric-monetary")
	assert.True(t, strings.HasPrefix(doc.Body, "custom\n\n"))
}
