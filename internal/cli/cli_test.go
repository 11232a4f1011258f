package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightpipe/internal/app"
	"insightpipe/internal/backend/backendtest"
	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/operations"
)

type cliHarness struct {
	dir    string
	config string
	fake   *backendtest.Fake
}

func newCLI(t *testing.T) *cliHarness {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`paths:
  base_dir: %q
report:
  formats: [excel]
history:
  backend: memory
telemetry:
  enable_metrics: false
`, dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0755))
	return &cliHarness{dir: dir, config: path, fake: backendtest.New()}
}

func (h *cliHarness) exec(args ...string) (string, error) {
	root := NewRootCmd("test",
		app.WithBackend(h.fake),
		app.WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", h.config}, args...))
	err := root.Execute()
	return out.String(), err
}

func (h *cliHarness) writeCSV(t *testing.T, name string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Price,Qty,Region\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "%d,%d,r%d\n", 100+i, i+1, i%3)
	}
	b.WriteString("105,6,r2\n")
	path := filepath.Join(h.dir, "data", name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

func TestRootCmd_Commands(t *testing.T) {
	root := NewRootCmd("1.2.3")
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "run", "clean", "models"})
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.Equal(t, "1.2.3", root.Version)
}

func TestCleanCmd(t *testing.T) {
	h := newCLI(t)
	src := h.writeCSV(t, "sales.csv")

	out, err := h.exec("clean", src, "--output", "sales_clean.csv")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleaned dataset written to")
	assert.Contains(t, out, "sales_clean.csv")
	assert.FileExists(t, filepath.Join(h.dir, "data", "datasets", "processed", "sales_clean.csv"))
	assert.Zero(t, h.fake.PromptCount(), "cleaning never calls the model")

	out, err = h.exec("clean", src, "--json")
	require.NoError(t, err)
	var res operations.TaskResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, operations.TaskClean, res.Kind)
	require.NotNil(t, res.Summary)
	assert.Equal(t, 10, res.Summary.Rows, "duplicate row dropped")
}

func TestRunCmd(t *testing.T) {
	h := newCLI(t)
	src := h.writeCSV(t, "sales.csv")

	out, err := h.exec("run", src)
	require.NoError(t, err)
	assert.Contains(t, out, ": completed")
	assert.Contains(t, out, "Checkpoint:")
	assert.Contains(t, out, ".xlsx")

	out, err = h.exec("run", filepath.Join(h.dir, "data"), "--json")
	require.NoError(t, err)
	var res operations.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, operations.RunStatusCompleted, res.Status)
	assert.Equal(t, src, res.Dataset)

	out, err = h.exec("run", src, "--chart", "plots/trend.png", "--chart", "plots/mix.png")
	require.NoError(t, err)
	assert.Contains(t, out, ": completed")
	assert.NotContains(t, out, "Export failed:")

	_, err = h.exec("run", filepath.Join(h.dir, "missing.csv"))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))

	_, err = h.exec("run")
	assert.Error(t, err)
}

func TestModelsCmd(t *testing.T) {
	h := newCLI(t)
	src := h.writeCSV(t, "sales.csv")

	out, err := h.exec("models", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No checkpoints saved yet.")

	_, err = h.exec("models", "rollback")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypePrecondition))

	var names []string
	for _, acc := range []string{"0.70", "0.85", "0.90"} {
		h.fake.TrainArtifact.Metadata = map[string]string{"accuracy": acc}
		out, err := h.exec("run", src, "--json")
		require.NoError(t, err)
		var res operations.RunResult
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		names = append(names, res.Version)
	}

	out, err = h.exec("models", "list")
	require.NoError(t, err)
	for _, n := range names {
		assert.Contains(t, out, n)
	}
	assert.Contains(t, out, "accuracy=0.9000")

	out, err = h.exec("models", "compare", names[0], names[1])
	require.NoError(t, err)
	assert.Contains(t, out, "accuracy")
	assert.Contains(t, out, "+0.1500")

	_, err = h.exec("models", "compare", names[0], "nope")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))

	out, err = h.exec("models", "rollback")
	require.NoError(t, err)
	assert.Contains(t, out, "Rolled back to "+names[1])

	out, err = h.exec("models", "list", "--json")
	require.NoError(t, err)
	var listed struct {
		Current  string `json:"current"`
		Versions []struct {
			Name string `json:"name"`
		} `json:"versions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	assert.Equal(t, names[1], listed.Current)
	assert.Len(t, listed.Versions, 3)

	out, err = h.exec("models", "prune", "--keep", "1")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "Removed "))

	_, err = h.exec("models", "prune", "--keep", "-1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}
