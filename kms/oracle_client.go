package kms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ruteri/vetkd-custody-backend/interfaces"
	"github.com/ruteri/vetkd-custody-backend/metrics"
)

// OracleClient adapts a raw VetKDSystem to interfaces.KeyDerivationOracle.
// It binds one key configuration and normalizes every failure to either
// ErrOracleUnavailable or ErrOracleRejected, keeping the original error wrapped.
// It does not retry and enforces no timeout beyond the caller's context.
type OracleClient struct {
	system interfaces.VetKDSystem
	keyID  interfaces.VetKDKeyID
}

// NewOracleClient creates a client for keyID on system.
func NewOracleClient(system interfaces.VetKDSystem, keyID interfaces.VetKDKeyID) (*OracleClient, error) {
	if system == nil {
		return nil, errors.New("vetkd system is nil")
	}
	if err := keyID.Validate(); err != nil {
		return nil, err
	}
	return &OracleClient{system: system, keyID: keyID}, nil
}

// KeyID returns the key configuration the client is bound to.
func (c *OracleClient) KeyID() interfaces.VetKDKeyID {
	return c.keyID
}

// DerivePublicKey returns the derived public key for path.
func (c *OracleClient) DerivePublicKey(ctx context.Context, path interfaces.DerivationPath) ([]byte, error) {
	start := time.Now()
	reply, err := c.system.PublicKey(ctx, interfaces.VetKDPublicKeyRequest{
		KeyID:          c.keyID,
		DerivationPath: path,
	})
	if err == nil && (reply == nil || len(reply.PublicKey) == 0) {
		err = fmt.Errorf("%w: empty public key in reply", interfaces.ErrOracleRejected)
	}
	metrics.ObserveOracleCall("public_key", start, err)
	if err != nil {
		return nil, normalizeOracleError("public key", err)
	}
	return reply.PublicKey, nil
}

// DeriveEncryptedPrivateKey derives the key of identity under path, encrypted
// to transportPublicKey. The derivation id is the raw identity bytes.
func (c *OracleClient) DeriveEncryptedPrivateKey(ctx context.Context, identity interfaces.Identity, path interfaces.DerivationPath, transportPublicKey []byte) ([]byte, error) {
	start := time.Now()
	reply, err := c.system.DeriveEncryptedKey(ctx, interfaces.VetKDEncryptedKeyRequest{
		KeyID:               c.keyID,
		DerivationPath:      path,
		DerivationID:        identity.Bytes(),
		EncryptionPublicKey: transportPublicKey,
	})
	if err == nil && (reply == nil || len(reply.EncryptedKey) == 0) {
		err = fmt.Errorf("%w: empty encrypted key in reply", interfaces.ErrOracleRejected)
	}
	metrics.ObserveOracleCall("encrypted_key", start, err)
	if err != nil {
		return nil, normalizeOracleError("encrypted key derivation", err)
	}
	return reply.EncryptedKey, nil
}

// normalizeOracleError classifies err as rejected or unavailable.
// Errors already carrying a classification are kept as they are.
func normalizeOracleError(op string, err error) error {
	switch {
	case errors.Is(err, interfaces.ErrOracleRejected), errors.Is(err, interfaces.ErrOracleUnavailable):
		return fmt.Errorf("%s: %w", op, err)
	default:
		// transport failures, cancellations and deadlines
		return fmt.Errorf("%w: %s: %w", interfaces.ErrOracleUnavailable, op, err)
	}
}
