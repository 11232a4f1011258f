package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"insightpipe/internal/config"
	"insightpipe/internal/dataset"
	apperrors "insightpipe/internal/errors"
)

// HTTPBackend talks JSON to a model server exposing POST /generate and
// POST /train. Requests are throttled by a token bucket.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPBackend creates a client for the server at cfg.BackendURL.
func NewHTTPBackend(cfg config.ModelConfig) (*HTTPBackend, error) {
	if cfg.BackendURL == "" {
		return nil, apperrors.NewConfigError("model backend url is not configured", nil)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(cfg.BackendURL, "/"),
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

type generateRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// tableJSON is the wire form of a dataset.
type tableJSON struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

type trainRequest struct {
	Train     tableJSON `json:"train"`
	Val       tableJSON `json:"val"`
	Epochs    int       `json:"epochs"`
	BatchSize int       `json:"batch_size"`
}

type trainResponse struct {
	Files    map[string][]byte `json:"files"`
	Metadata map[string]string `json:"metadata"`
	Error    string            `json:"error,omitempty"`
}

// Generate sends prompt to /generate and returns the generated text.
func (b *HTTPBackend) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	var resp generateResponse
	err := b.post(ctx, "/generate", generateRequest{
		Prompt:      prompt,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", apperrors.NewModelBackendError("backend reported: "+resp.Error, nil)
	}
	return resp.Text, nil
}

// Train uploads both splits to /train and returns the model files.
func (b *HTTPBackend) Train(ctx context.Context, train, val *dataset.Dataset, params TrainParams) (*Artifact, error) {
	var resp trainResponse
	err := b.post(ctx, "/train", trainRequest{
		Train:     toTable(train),
		Val:       toTable(val),
		Epochs:    params.Epochs,
		BatchSize: params.BatchSize,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, apperrors.NewModelBackendError("backend reported: "+resp.Error, nil)
	}
	return &Artifact{Files: resp.Files, Metadata: resp.Metadata}, nil
}

func (b *HTTPBackend) post(ctx context.Context, path string, body, out interface{}) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return apperrors.NewModelBackendError("rate limiter wait aborted", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.NewModelBackendError("failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperrors.NewModelBackendError("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "insightpipe/1.0")

	resp, err := b.client.Do(req)
	if err != nil {
		return apperrors.NewModelBackendError(fmt.Sprintf("request to %s failed", path), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewModelBackendError("failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(data)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return apperrors.NewModelBackendError(
			fmt.Sprintf("%s returned status %d: %s", path, resp.StatusCode, snippet), nil).
			WithContext("status", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.NewModelBackendError("failed to parse response", err)
	}
	return nil
}

func toTable(ds *dataset.Dataset) tableJSON {
	t := tableJSON{Columns: ds.ColumnNames(), Rows: make([][]string, ds.NumRows())}
	for r := range t.Rows {
		row := ds.Row(r)
		values := make([]string, len(row))
		for i, c := range row {
			values[i] = c.String()
		}
		t.Rows[r] = values
	}
	return t
}
