package backend_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
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

func modelConfig(url string) config.ModelConfig {
	cfg := config.Default().Model
	cfg.BackendURL = url
	cfg.RequestsPerSecond = 100
	cfg.Burst = 10
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

func TestHTTPBackend_Generate(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "insight"})
	}))
	defer srv.Close()

	b, err := backend.NewHTTPBackend(modelConfig(srv.URL + "/"))
	require.NoError(t, err)

	text, err := b.Generate(context.Background(), "describe", backend.GenerateOptions{MaxTokens: 64, Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "insight", text)
	assert.Equal(t, "describe", got["prompt"])
	assert.Equal(t, 64.0, got["max_tokens"])
}

func TestHTTPBackend_Train(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Train struct {
				Columns []string   `json:"columns"`
				Rows    [][]string `json:"rows"`
			} `json:"train"`
			Epochs int `json:"epochs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"x"}, req.Train.Columns)
		assert.Len(t, req.Train.Rows, 2)
		assert.Equal(t, 3, req.Epochs)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"files":    map[string][]byte{"adapter.bin": []byte("w")},
			"metadata": map[string]string{"loss": "0.1"},
		})
	}))
	defer srv.Close()

	b, err := backend.NewHTTPBackend(modelConfig(srv.URL))
	require.NoError(t, err)

	train := dataset.MustNew(dataset.NumberColumn("x", 1, 2))
	val := dataset.MustNew(dataset.NumberColumn("x", 3))
	artifact, err := b.Train(context.Background(), train, val, backend.TrainParams{Epochs: 3, BatchSize: 8})
	require.NoError(t, err)
	assert.Equal(t, []byte("w"), artifact.Files["adapter.bin"])
	assert.Equal(t, "0.1", artifact.Metadata["loss"])
}

func TestHTTPBackend_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b, err := backend.NewHTTPBackend(modelConfig(srv.URL))
	require.NoError(t, err)

	_, err = b.Generate(context.Background(), "p", backend.GenerateOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeModelBackend))
	assert.Contains(t, err.Error(), "503")

	_, err = backend.NewHTTPBackend(config.Default().Model)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
}

func TestInstrumented(t *testing.T) {
	var buf bytes.Buffer
	fake := backendtest.New()
	b := backend.Instrument(fake, slog.New(slog.NewJSONHandler(&buf, nil)), nil)
	ctx := context.Background()

	text, err := b.Generate(ctx, "hello", backend.GenerateOptions{MaxTokens: 1})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Contains(t, buf.String(), "generate_completed")

	fake.GenerateErr = errors.New("cuda out of memory")
	_, err = b.Generate(ctx, "hello", backend.GenerateOptions{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeModelBackend))
	assert.Contains(t, buf.String(), "generate_failed")

	ds := dataset.MustNew(dataset.NumberColumn("x", 1))
	fake.TrainArtifact = &backend.Artifact{}
	_, err = b.Train(ctx, ds, ds, backend.TrainParams{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeModelBackend), "empty artifact is a backend failure")
}

func TestOptionsFromConfig(t *testing.T) {
	opts, params := backend.OptionsFromConfig(config.Default().Model)
	assert.Equal(t, 512, opts.MaxTokens)
	assert.Equal(t, 0.7, opts.Temperature)
	assert.Equal(t, backend.TrainParams{Epochs: 3, BatchSize: 32}, params)
}

func TestUnavailable(t *testing.T) {
	b := backend.Unavailable{Reason: "model backend url is not configured"}
	_, err := b.Generate(context.Background(), "hi", backend.GenerateOptions{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeModelBackend))
	assert.Contains(t, err.Error(), "not configured")

	_, err = b.Train(context.Background(), nil, nil, backend.TrainParams{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeModelBackend))
}
