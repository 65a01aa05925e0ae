package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/vetkd-custody-backend/interfaces"
	"github.com/ruteri/vetkd-custody-backend/metrics"
)

// SecretStore keeps one opaque encrypted secret per identity on a durable map.
// The anonymous identity never appears as a key.
type SecretStore struct {
	backend interfaces.DurableMap
	log     *slog.Logger
}

func NewSecretStore(backend interfaces.DurableMap, log *slog.Logger) *SecretStore {
	if log == nil {
		log = slog.Default()
	}
	return &SecretStore{backend: backend, log: log}
}

// Save overwrites the secret of identity. The backend is not touched for the
// anonymous identity.
func (s *SecretStore) Save(ctx context.Context, identity interfaces.Identity, blob []byte) error {
	if identity.IsAnonymous() {
		return interfaces.ErrForbidden
	}

	_, replaced, err := s.backend.Insert(ctx, identity.Bytes(), blob)
	metrics.ObserveStoreOp(s.backend.Name(), "insert", err)
	if err != nil {
		return storeError("save", err)
	}

	s.log.Debug("Saved encrypted secret",
		slog.String("identity", identity.String()),
		slog.Bool("replaced", replaced))
	return nil
}

// Load returns the secret of identity. Absence is (nil, false, nil); backend
// failures are ErrStoreUnavailable.
func (s *SecretStore) Load(ctx context.Context, identity interfaces.Identity) ([]byte, bool, error) {
	value, found, err := s.backend.Get(ctx, identity.Bytes())
	metrics.ObserveStoreOp(s.backend.Name(), "get", err)
	if err != nil {
		return nil, false, storeError("load", err)
	}
	return value, found, nil
}

// Available reports whether the backing map answers.
func (s *SecretStore) Available(ctx context.Context) bool {
	return s.backend.Available(ctx)
}

func storeError(op string, err error) error {
	if errors.Is(err, interfaces.ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", interfaces.ErrStoreUnavailable, op, err)
}
