package convert

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"toolbox/internal/artifacts"
	"toolbox/internal/logging"
	"toolbox/internal/services"
)

// Storage persists artifacts behind revocable tokens. artifacts.Store
// implements it.
type Storage interface {
	Put(ctx context.Context, name, mimeType string, data []byte) (artifacts.Entry, error)
	Revoke(ctx context.Context, token string) error
}

// ResultHolder owns the most recent job output. Attaching a new artifact
// revokes the previous one first so repeated conversions do not accumulate
// stored outputs.
type ResultHolder struct {
	storage Storage
	logger  *slog.Logger

	mu      sync.Mutex
	current *artifacts.Entry
}

// NewResultHolder constructs a holder backed by storage.
func NewResultHolder(storage Storage, logger *slog.Logger) *ResultHolder {
	return &ResultHolder{
		storage: storage,
		logger:  logging.NewComponentLogger(logger, "results"),
	}
}

// Attach stores a and makes it the held result.
func (h *ResultHolder) Attach(ctx context.Context, a *Artifact) (artifacts.Entry, error) {
	if a == nil {
		return artifacts.Entry{}, errors.New("attach: nil artifact")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.releaseLocked(ctx)
	entry, err := h.storage.Put(ctx, a.Name, a.MIMEType, a.Data)
	if err != nil {
		return artifacts.Entry{}, err
	}
	h.current = &entry
	return entry, nil
}

// Release revokes the held result. Calling it with nothing held is a no-op.
func (h *ResultHolder) Release(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releaseLocked(ctx)
}

// Revoke deletes the artifact for token, releasing it if it is the held one.
func (h *ResultHolder) Revoke(ctx context.Context, token string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil && h.current.Token == token {
		h.current = nil
	}
	return h.storage.Revoke(ctx, token)
}

// Current returns the held result, if any.
func (h *ResultHolder) Current() (artifacts.Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return artifacts.Entry{}, false
	}
	return *h.current, true
}

func (h *ResultHolder) releaseLocked(ctx context.Context) {
	if h.current == nil {
		return
	}
	token := h.current.Token
	h.current = nil
	if err := h.storage.Revoke(ctx, token); err != nil && !errors.Is(err, services.ErrNotFound) {
		logging.WarnWithContext(h.logger, "failed to revoke previous result", "result_revoke_failed",
			logging.String("token", token),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale download kept until the TTL sweep"),
		)
	}
}
