package custodyhandler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/vetkd-custody-backend/api"
	"github.com/ruteri/vetkd-custody-backend/httpserver"
	"github.com/ruteri/vetkd-custody-backend/interfaces"
	"github.com/ruteri/vetkd-custody-backend/metrics"
	"github.com/ruteri/vetkd-custody-backend/ratelimiter"
)

const (
	// DefaultMaxSecretSize bounds stored encrypted secrets.
	DefaultMaxSecretSize = 64 << 10

	// Transport public key requests are tiny.
	maxKeyRequestBytes = 4 << 10
)

type Config struct {
	// MaxSecretSize bounds the encrypted secret accepted by a save.
	MaxSecretSize int

	// RateLimiter limits oracle and mutating routes per caller. Nil disables limiting.
	RateLimiter *ratelimiter.MapLimiter
}

// Handler translates HTTP requests into custody service calls. The caller
// identity comes from httpserver.CurrentIdentity.
type Handler struct {
	custody       interfaces.KeyCustody
	limiter       *ratelimiter.MapLimiter
	maxSecretSize int
	log           *slog.Logger
	now           func() time.Time
}

func NewHandler(custody interfaces.KeyCustody, cfg Config, log *slog.Logger) *Handler {
	if cfg.MaxSecretSize <= 0 {
		cfg.MaxSecretSize = DefaultMaxSecretSize
	}
	return &Handler{
		custody:       custody,
		limiter:       cfg.RateLimiter,
		maxSecretSize: cfg.MaxSecretSize,
		log:           log,
		now:           time.Now,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/whoami", h.HandleWhoAmI)

	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit)
		r.Post("/api/v1/asymmetric_keys", h.HandleAsymmetricKeys)
		r.Post("/api/v1/asymmetric_public_key", h.HandleAsymmetricPublicKey)
		r.Post("/api/v1/asymmetric_encrypted_key", h.HandleAsymmetricEncryptedKey)
		r.Put("/api/v1/encrypted_secret", h.HandleSaveEncryptedSecret)
		r.Post("/api/v1/asymmetric_save_encrypted_aes_key", h.HandleSaveEncryptedSecret)
	})
}

// HandleAsymmetricKeys returns the asymmetric public key with either the
// caller's stored secret or a derived key encrypted to the given transport key.
//
// URL format: POST /api/v1/asymmetric_keys
// Request body: {"transport_public_key": <48 bytes>}
// Response: interfaces.AsymmetricKeysReply
func (h *Handler) HandleAsymmetricKeys(w http.ResponseWriter, r *http.Request) {
	tpk, ok := h.transportKey(w, r)
	if !ok {
		return
	}

	reply, err := h.custody.GetAsymmetricKeys(r.Context(), httpserver.CurrentIdentity(r.Context()), tpk)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = writeResponse(w, r, http.StatusOK, reply)
}

// HandleAsymmetricPublicKey returns the public key of the asymmetric path.
//
// URL format: POST /api/v1/asymmetric_public_key
func (h *Handler) HandleAsymmetricPublicKey(w http.ResponseWriter, r *http.Request) {
	publicKey, err := h.custody.AsymmetricPublicKey(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = writeResponse(w, r, http.StatusOK, api.PublicKeyResponse{PublicKey: publicKey})
}

// HandleAsymmetricEncryptedKey derives the caller's key encrypted to the
// given transport key, whether or not a secret is stored.
//
// URL format: POST /api/v1/asymmetric_encrypted_key
// Request body: {"transport_public_key": <48 bytes>}
func (h *Handler) HandleAsymmetricEncryptedKey(w http.ResponseWriter, r *http.Request) {
	tpk, ok := h.transportKey(w, r)
	if !ok {
		return
	}

	encryptedKey, err := h.custody.AsymmetricEncryptedKey(r.Context(), httpserver.CurrentIdentity(r.Context()), tpk)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = writeResponse(w, r, http.StatusOK, api.EncryptedKeyResponse{EncryptedKey: encryptedKey})
}

// HandleSaveEncryptedSecret stores the caller's encrypted secret.
//
// URL format: PUT /api/v1/encrypted_secret
// Request body: {"encrypted_secret": <bytes>}
// Response: 204 No Content
func (h *Handler) HandleSaveEncryptedSecret(w http.ResponseWriter, r *http.Request) {
	caller := httpserver.CurrentIdentity(r.Context())
	if caller.IsAnonymous() {
		h.writeError(w, r, interfaces.ErrForbidden)
		return
	}

	var req api.SaveSecretRequest
	// base64 in JSON inflates the secret by a third
	limit := int64(h.maxSecretSize)*2 + 1024
	if err := decodeBody(w, r, &req, limit); err != nil {
		h.writeDecodeError(w, r, err)
		return
	}
	if len(req.EncryptedSecret) == 0 {
		h.writeStatus(w, r, http.StatusBadRequest, api.CodeBadRequest, "encrypted_secret is empty")
		return
	}
	if len(req.EncryptedSecret) > h.maxSecretSize {
		h.writeStatus(w, r, http.StatusRequestEntityTooLarge, api.CodeTooLarge, "encrypted_secret exceeds the maximum size")
		return
	}

	if err := h.custody.SaveEncryptedSecret(r.Context(), caller, req.EncryptedSecret); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleWhoAmI echoes the caller identity. It is the one route that is
// meaningful for anonymous callers.
//
// URL format: GET /api/v1/whoami
func (h *Handler) HandleWhoAmI(w http.ResponseWriter, r *http.Request) {
	identity := h.custody.WhoAmI(r.Context(), httpserver.CurrentIdentity(r.Context()))
	_ = writeResponse(w, r, http.StatusOK, api.WhoAmIResponse{Identity: identity})
}

func (h *Handler) transportKey(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	var req api.TransportKeyRequest
	if err := decodeBody(w, r, &req, maxKeyRequestBytes); err != nil {
		h.writeDecodeError(w, r, err)
		return nil, false
	}
	if len(req.TransportPublicKey) != interfaces.TransportPublicKeySize {
		h.writeStatus(w, r, http.StatusBadRequest, api.CodeBadRequest, "transport_public_key must be a compressed G1 point")
		return nil, false
	}
	return req.TransportPublicKey, true
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class, key := rateLimitKey(r)
		if !h.limiter.Allow(class, key, h.now()) {
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.RecordRateLimited(route)
			h.writeStatus(w, r, http.StatusTooManyRequests, api.CodeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Anonymous callers share no identity, so they are limited per remote host.
func rateLimitKey(r *http.Request) (ratelimiter.Class, string) {
	caller := httpserver.CurrentIdentity(r.Context())
	if !caller.IsAnonymous() {
		return ratelimiter.ClassIdentity, caller.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return ratelimiter.ClassAnonymous, host
}

func (h *Handler) writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		h.writeStatus(w, r, http.StatusRequestEntityTooLarge, api.CodeTooLarge, err.Error())
		return
	}
	h.writeStatus(w, r, http.StatusBadRequest, api.CodeBadRequest, err.Error())
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Warn("custody request failed",
			slog.String("path", r.URL.Path),
			slog.String("code", code),
			slog.String("err", err.Error()))
	}
	h.writeStatus(w, r, status, code, err.Error())
}

func (h *Handler) writeStatus(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	_ = writeResponse(w, r, status, api.ErrorResponse{Error: message, Code: code})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, interfaces.ErrForbidden):
		return http.StatusForbidden, api.CodeForbidden
	case errors.Is(err, interfaces.ErrCustodyDisabled):
		return http.StatusNotFound, api.CodeNotFound
	case errors.Is(err, interfaces.ErrOracleRejected):
		return http.StatusBadGateway, api.CodeOracleRejected
	case errors.Is(err, interfaces.ErrOracleUnavailable):
		return http.StatusServiceUnavailable, api.CodeOracleUnavailable
	case errors.Is(err, interfaces.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, api.CodeStoreUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, api.CodeOracleUnavailable
	default:
		return http.StatusInternalServerError, api.CodeInternal
	}
}
