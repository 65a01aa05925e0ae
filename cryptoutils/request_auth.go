package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/vetkd-custody-backend/interfaces"
)

// HTTP headers carrying the caller's request signature.
const (
	SignatureHeader = "X-Custody-Signature"
	TimestampHeader = "X-Custody-Timestamp"

	requestSigningDomain = "vetkd-custody-request"
)

var (
	// ErrInvalidRequestSignature is returned when a request signature cannot be recovered.
	ErrInvalidRequestSignature = errors.New("invalid request signature")

	// ErrRequestExpired is returned when the signed timestamp is outside the allowed skew.
	ErrRequestExpired = errors.New("request timestamp outside allowed skew")
)

// RequestDigest computes the message a caller signs:
// keccak256(domain || method || path || timestamp || sha256(body)).
func RequestDigest(method, path string, body []byte, timestamp int64) []byte {
	bodyHash := sha256.Sum256(body)
	return crypto.Keccak256(
		[]byte(requestSigningDomain),
		[]byte(method),
		[]byte(path),
		[]byte(strconv.FormatInt(timestamp, 10)),
		bodyHash[:],
	)
}

// SignRequest produces the 65-byte recoverable secp256k1 signature of a request.
func SignRequest(key *ecdsa.PrivateKey, method, path string, body []byte, timestamp int64) ([]byte, error) {
	sig, err := crypto.Sign(RequestDigest(method, path, body, timestamp), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	return sig, nil
}

// RecoverRequestIdentity recovers the signer's public key and returns the
// self-authenticating identity bound to it.
func RecoverRequestIdentity(sig []byte, method, path string, body []byte, timestamp int64) (interfaces.Identity, error) {
	if len(sig) != crypto.SignatureLength {
		return interfaces.Identity{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidRequestSignature, crypto.SignatureLength, len(sig))
	}

	pub, err := crypto.SigToPub(RequestDigest(method, path, body, timestamp), sig)
	if err != nil {
		return interfaces.Identity{}, fmt.Errorf("%w: %v", ErrInvalidRequestSignature, err)
	}

	return IdentityFromPublicKey(pub), nil
}

// IdentityFromPublicKey derives the self-authenticating identity of a secp256k1 key.
func IdentityFromPublicKey(pub *ecdsa.PublicKey) interfaces.Identity {
	return interfaces.SelfAuthenticatingIdentity(crypto.FromECDSAPub(pub))
}

// VerifyTimestamp checks timestamp is within skew of now.
func VerifyTimestamp(timestamp int64, now time.Time, skew time.Duration) error {
	signedAt := time.Unix(timestamp, 0)
	if signedAt.Before(now.Add(-skew)) || signedAt.After(now.Add(skew)) {
		return fmt.Errorf("%w: signed at %s", ErrRequestExpired, signedAt.UTC().Format(time.RFC3339))
	}
	return nil
}
