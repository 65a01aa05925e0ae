package httpserver

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/vetkd-custody-backend/api"
	"github.com/ruteri/vetkd-custody-backend/cryptoutils"
	"github.com/ruteri/vetkd-custody-backend/interfaces"
)

// DefaultSignatureSkew is used when no skew is configured.
const DefaultSignatureSkew = 5 * time.Minute

// Signed bodies are read in full to verify the signature.
const maxSignedBodyBytes = 1 << 20

type identityKey struct{}

// WithIdentity returns a context carrying identity.
func WithIdentity(ctx context.Context, identity interfaces.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// CurrentIdentity returns the caller resolved by IdentityMiddleware, or the
// anonymous identity when none was resolved.
func CurrentIdentity(ctx context.Context) interfaces.Identity {
	if identity, ok := ctx.Value(identityKey{}).(interfaces.Identity); ok {
		return identity
	}
	return interfaces.AnonymousIdentity
}

// IdentityMiddleware authenticates signed requests. now may be nil.
func IdentityMiddleware(skew time.Duration, now func() time.Time, log *slog.Logger) func(http.Handler) http.Handler {
	if skew <= 0 {
		skew = DefaultSignatureSkew
	}
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := resolveIdentity(r, now(), skew)
			if err != nil {
				log.Debug("rejected request signature",
					slog.String("path", r.URL.Path),
					slog.String("err", err.Error()))
				writeUnauthorized(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func resolveIdentity(r *http.Request, now time.Time, skew time.Duration) (interfaces.Identity, error) {
	sigHex := r.Header.Get(cryptoutils.SignatureHeader)
	if sigHex == "" {
		return interfaces.AnonymousIdentity, nil
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return interfaces.Identity{}, fmt.Errorf("%w: %v", cryptoutils.ErrInvalidRequestSignature, err)
	}

	timestamp, err := strconv.ParseInt(r.Header.Get(cryptoutils.TimestampHeader), 10, 64)
	if err != nil {
		return interfaces.Identity{}, fmt.Errorf("%w: missing or malformed %s", cryptoutils.ErrInvalidRequestSignature, cryptoutils.TimestampHeader)
	}
	if err := cryptoutils.VerifyTimestamp(timestamp, now, skew); err != nil {
		return interfaces.Identity{}, err
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes+1))
		if err != nil {
			return interfaces.Identity{}, fmt.Errorf("could not read request body: %w", err)
		}
		if len(body) > maxSignedBodyBytes {
			return interfaces.Identity{}, errors.New("signed request body too large")
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	return cryptoutils.RecoverRequestIdentity(sig, r.Method, r.URL.Path, body, timestamp)
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: err.Error(), Code: api.CodeUnauthorized})
}
