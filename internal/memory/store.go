// Package memory keeps per-session context between pipeline runs.
//
// A session's context is a flat JSON object. Storing merges the given keys
// over the existing ones (a shallow merge); recalling returns the whole
// object, or an empty one for an unknown session.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"insightpipe/internal/config"
	apperrors "insightpipe/internal/errors"
)

// Store persists session context.
type Store interface {
	StoreContext(ctx context.Context, session string, values map[string]any) error
	RecallContext(ctx context.Context, session string) (map[string]any, error)
	Clear(ctx context.Context, session string) error
}

// ValidateSession rejects ids that are empty or could escape the memory
// directory.
func ValidateSession(session string) error {
	switch {
	case strings.TrimSpace(session) == "":
		return apperrors.NewValidationError("session id is required")
	case strings.ContainsAny(session, `/\`) || session == "." || session == "..":
		return apperrors.NewValidationError(fmt.Sprintf("session id %q must not contain path separators", session))
	}
	return nil
}

// New builds the store selected by cfg.Backend.
func New(cfg config.MemoryConfig, dir string, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(dir, logger)
	case "redis":
		return NewRedisStoreFromURL(cfg.RedisURL, logger)
	default:
		return nil, apperrors.NewConfigError(fmt.Sprintf("unknown memory backend %q", cfg.Backend), nil)
	}
}
