// Package backendtest provides a scripted in-memory model backend for tests.
package backendtest

import (
	"context"
	"errors"
	"sync"

	"insightpipe/internal/backend"
	"insightpipe/internal/dataset"
)

// ErrScripted is returned by failures configured without an explicit error.
var ErrScripted = errors.New("scripted backend failure")

// Fake records every call and replies from a script. Responses are consumed
// in order; once exhausted DefaultText is returned.
type Fake struct {
	mu sync.Mutex

	Responses   []string
	DefaultText string
	GenerateErr error
	// FailOn makes Generate fail for prompts the predicate matches.
	FailOn func(prompt string) bool

	TrainArtifact *backend.Artifact
	TrainErr      error

	// Block, when set, holds every call until it is closed.
	Block chan struct{}

	Prompts    []string
	Options    []backend.GenerateOptions
	TrainCalls []TrainCall
}

// TrainCall captures the arguments of one Train call.
type TrainCall struct {
	TrainRows int
	ValRows   int
	Params    backend.TrainParams
}

// New returns a fake that answers "ok" and trains a one-file model.
func New() *Fake {
	return &Fake{
		DefaultText: "ok",
		TrainArtifact: &backend.Artifact{
			Files:    map[string][]byte{"model.bin": []byte("weights")},
			Metadata: map[string]string{"base": "fake"},
		},
	}
}

func (f *Fake) wait(ctx context.Context) error {
	f.mu.Lock()
	block := f.Block
	f.mu.Unlock()
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fake) Generate(ctx context.Context, prompt string, opts backend.GenerateOptions) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.Prompts = append(f.Prompts, prompt)
	f.Options = append(f.Options, opts)

	if f.GenerateErr != nil {
		return "", f.GenerateErr
	}
	if f.FailOn != nil && f.FailOn(prompt) {
		return "", ErrScripted
	}
	if len(f.Responses) > 0 {
		text := f.Responses[0]
		f.Responses = f.Responses[1:]
		return text, nil
	}
	return f.DefaultText, nil
}

func (f *Fake) Train(ctx context.Context, train, val *dataset.Dataset, params backend.TrainParams) (*backend.Artifact, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.TrainCalls = append(f.TrainCalls, TrainCall{
		TrainRows: train.NumRows(),
		ValRows:   val.NumRows(),
		Params:    params,
	})
	if f.TrainErr != nil {
		return nil, f.TrainErr
	}
	if f.TrainArtifact == nil {
		return nil, nil
	}

	files := make(map[string][]byte, len(f.TrainArtifact.Files))
	for k, v := range f.TrainArtifact.Files {
		files[k] = append([]byte(nil), v...)
	}
	meta := make(map[string]string, len(f.TrainArtifact.Metadata))
	for k, v := range f.TrainArtifact.Metadata {
		meta[k] = v
	}
	return &backend.Artifact{Files: files, Metadata: meta}, nil
}

// PromptCount returns the number of Generate calls so far.
func (f *Fake) PromptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Prompts)
}

// LastPrompt returns the most recent prompt, or "".
func (f *Fake) LastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Prompts) == 0 {
		return ""
	}
	return f.Prompts[len(f.Prompts)-1]
}
