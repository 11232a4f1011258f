package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/files"
)

// FileStore keeps one <session>.json per session under a directory.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.NewStorageError("failed to create memory directory", err).WithContext("path", dir)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{dir: dir, logger: logger.With(slog.String("component", "memory_store"))}, nil
}

func (s *FileStore) path(session string) string {
	return filepath.Join(s.dir, session+".json")
}

func (s *FileStore) StoreContext(ctx context.Context, session string, values map[string]any) error {
	if err := ValidateSession(session); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read(session)
	if err != nil {
		return err
	}
	for k, v := range values {
		data[k] = v
	}

	encoded, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return apperrors.NewValidationError("session context is not JSON encodable: " + err.Error())
	}
	if err := files.WriteFileAtomic(s.path(session), encoded, 0644); err != nil {
		return apperrors.NewStorageError("failed to write session context", err).WithContext("session", session)
	}
	s.logger.InfoContext(ctx, "context_stored", slog.String("session", session), slog.Int("keys", len(values)))
	return nil
}

func (s *FileStore) RecallContext(ctx context.Context, session string) (map[string]any, error) {
	if err := ValidateSession(session); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(session)
}

func (s *FileStore) read(session string) (map[string]any, error) {
	raw, err := os.ReadFile(s.path(session))
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, apperrors.NewStorageError("failed to read session context", err).WithContext("session", session)
	}
	data := map[string]any{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, apperrors.NewCorruptionError("session context is not valid JSON", err).WithContext("session", session)
	}
	return data, nil
}

func (s *FileStore) Clear(ctx context.Context, session string) error {
	if err := ValidateSession(session); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(session))
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "context_cleared", slog.String("session", session))
	case os.IsNotExist(err):
		s.logger.DebugContext(ctx, "context_clear_noop", slog.String("session", session))
	default:
		return apperrors.NewStorageError("failed to clear session context", err).WithContext("session", session)
	}
	return nil
}
