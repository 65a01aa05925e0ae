// Package seedhandler serves the administrator API through which the oracle
// daemon recovers its master seed from signed Shamir shares.
package seedhandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/vetkd-custody-backend/kms"
)

// BootstrapState is the state of seed recovery.
type BootstrapState int

const (
	StateRecovering BootstrapState = iota
	StateComplete
)

func (s BootstrapState) String() string {
	switch s {
	case StateRecovering:
		return "recovering"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// SubmitShareRequest carries one share and the administrator's signature over
// keccak256(share). Both are base64 in JSON.
type SubmitShareRequest struct {
	Share     []byte `json:"share"`
	Signature []byte `json:"signature"`
}

type StatusResponse struct {
	State     string `json:"state"`
	Received  int    `json:"received"`
	Threshold int    `json:"threshold"`
}

// AdminHandler collects signed seed shares until the seed is recovered.
type AdminHandler struct {
	log      *slog.Logger
	recovery *kms.SeedRecovery

	completeOnce sync.Once
	completeChan chan struct{}
}

func NewAdminHandler(recovery *kms.SeedRecovery, log *slog.Logger) *AdminHandler {
	return &AdminHandler{
		log:          log,
		recovery:     recovery,
		completeChan: make(chan struct{}),
	}
}

// RegisterRoutes configures the admin API:
//   - GET /admin/status: recovery progress
//   - POST /admin/share: submit a signed share
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/admin/status", h.handleStatus)
	r.Post("/admin/share", h.handleSubmitShare)
}

// WaitForSeed blocks until the seed is recovered or ctx is done.
func (h *AdminHandler) WaitForSeed(ctx context.Context) ([]byte, error) {
	select {
	case <-h.completeChan:
		seed, _ := h.recovery.Seed()
		return seed, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *AdminHandler) state() BootstrapState {
	if _, ok := h.recovery.Seed(); ok {
		return StateComplete
	}
	return StateRecovering
}

func (h *AdminHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	received, threshold := h.recovery.Progress()
	writeJSON(w, http.StatusOK, StatusResponse{
		State:     h.state().String(),
		Received:  received,
		Threshold: threshold,
	})
}

func (h *AdminHandler) handleSubmitShare(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		http.Error(w, "Failed to read request", http.StatusBadRequest)
		return
	}

	var req SubmitShareRequest
	if err := json.Unmarshal(body, &req); err != nil || len(req.Share) == 0 || len(req.Signature) == 0 {
		http.Error(w, "Invalid share submission", http.StatusBadRequest)
		return
	}

	err = h.recovery.SubmitShare(req.Share, req.Signature)
	switch {
	case errors.Is(err, kms.ErrSeedRecovered):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, kms.ErrUnknownAdmin):
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	case err != nil:
		h.log.Warn("Rejected seed share", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	received, threshold := h.recovery.Progress()
	if h.state() == StateComplete {
		h.log.Info("Seed recovered from shares", "threshold", threshold)
		h.completeOnce.Do(func() { close(h.completeChan) })
	} else {
		h.log.Info("Accepted seed share", "received", received, "threshold", threshold)
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		State:     h.state().String(),
		Received:  received,
		Threshold: threshold,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
