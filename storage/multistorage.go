package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/vetkd-custody-backend/interfaces"
)

// ReplicatedMap implements interfaces.DurableMap over several backends.
// An insert succeeds only when every backend accepted the value, so any
// backend holding a key holds the last successfully inserted value. Reads
// return the first value found; a key is reported absent only when every
// consulted backend answered without error.
type ReplicatedMap struct {
	backends []interfaces.DurableMap
	log      *slog.Logger
}

// NewReplicatedMap creates a replicated map over backends, in read priority order.
func NewReplicatedMap(backends []interfaces.DurableMap, logger *slog.Logger) *ReplicatedMap {
	// If no logger is provided, use the default one
	if logger == nil {
		logger = slog.Default()
	}

	return &ReplicatedMap{
		backends: backends,
		log:      logger,
	}
}

func (m *ReplicatedMap) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	start := time.Now()
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			errs = append(errs, fmt.Errorf("%s: unavailable", backend.Name()))
			continue
		}

		value, found, err := backend.Get(ctx, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Debug("Failed to read from backend",
				slog.String("backend_name", backend.Name()),
				"err", err)
			continue
		}
		if found {
			m.log.Debug("Read value",
				slog.String("backend_name", backend.Name()),
				slog.Duration("duration", time.Since(start)))
			return value, true, nil
		}
	}

	if len(errs) > 0 {
		m.log.Error("Backends failed to answer read",
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return nil, false, fmt.Errorf("%w: %w", interfaces.ErrStoreUnavailable, errors.Join(errs...))
	}

	return nil, false, nil
}

// Insert saves value to every backend. All backends must be available
// before anything is written; a backend failing mid-way fails the insert
// with ErrStoreUnavailable and the caller has to retry. The previous value
// is taken from the first backend.
func (m *ReplicatedMap) Insert(ctx context.Context, key []byte, value []byte) ([]byte, bool, error) {
	start := time.Now()

	var unavailable []error
	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			unavailable = append(unavailable, fmt.Errorf("%s: unavailable", backend.Name()))
		}
	}
	if len(unavailable) > 0 {
		m.log.Error("Refusing write with unavailable backends",
			slog.Int("unavailable_backends", len(unavailable)))
		return nil, false, fmt.Errorf("%w: %w", interfaces.ErrStoreUnavailable, errors.Join(unavailable...))
	}

	var (
		previous []byte
		found    bool
		errs     []error
	)
	for i, backend := range m.backends {
		prev, prevFound, err := backend.Insert(ctx, key, value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Failed to write to backend",
				slog.String("backend_name", backend.Name()),
				"err", err)
			continue
		}
		if i == 0 {
			previous, found = prev, prevFound
		}
	}

	if len(errs) > 0 {
		m.log.Error("Backends failed to store value",
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return nil, false, fmt.Errorf("%w: %w", interfaces.ErrStoreUnavailable, errors.Join(errs...))
	}

	return previous, found, nil
}

// Available checks if any backend is available
func (m *ReplicatedMap) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

func (m *ReplicatedMap) Name() string {
	return "replicated"
}

// LocationURI returns a combined location of all backends.
func (m *ReplicatedMap) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "replicated:[" + strings.Join(locations, ",") + "]"
}

func (m *ReplicatedMap) Close() error {
	var errs []error
	for _, backend := range m.backends {
		if err := backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		}
	}
	return errors.Join(errs...)
}
