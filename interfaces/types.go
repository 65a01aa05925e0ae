package interfaces

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrForbidden is returned when the anonymous identity attempts an identity-scoped mutation.
	ErrForbidden = errors.New("forbidden: anonymous identity")

	// ErrCustodyDisabled is returned by custody operations when the service runs without a secret store.
	ErrCustodyDisabled = errors.New("encrypted secret custody is disabled")
)

// AsymmetricKeysReply is the composite reply of the asymmetric keys workflow.
// Nil slices encode as null and stand for an absent value.
type AsymmetricKeysReply struct {
	PublicKey       []byte `json:"public_key" cbor:"public_key"`
	EncryptedKey    []byte `json:"encrypted_key" cbor:"encrypted_key"`
	EncryptedSecret []byte `json:"encrypted_secret" cbor:"encrypted_secret"`
}

// UnmarshalJSON also accepts the legacy "encrypted_aes_key" field name.
func (r *AsymmetricKeysReply) UnmarshalJSON(data []byte) error {
	var aux struct {
		PublicKey       []byte `json:"public_key"`
		EncryptedKey    []byte `json:"encrypted_key"`
		EncryptedSecret []byte `json:"encrypted_secret"`
		EncryptedAESKey []byte `json:"encrypted_aes_key"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.PublicKey = aux.PublicKey
	r.EncryptedKey = aux.EncryptedKey
	r.EncryptedSecret = aux.EncryptedSecret
	if r.EncryptedSecret == nil {
		r.EncryptedSecret = aux.EncryptedAESKey
	}
	return nil
}

// KeyCustody is the service interface implemented by the custody orchestrator
// and exposed by the boundary layer.
type KeyCustody interface {
	// GetAsymmetricKeys returns the asymmetric public key together with either
	// the caller's stored encrypted secret or a freshly derived encrypted key.
	GetAsymmetricKeys(ctx context.Context, caller Identity, transportPublicKey []byte) (*AsymmetricKeysReply, error)

	// SaveEncryptedSecret stores the caller's encrypted secret, replacing any previous one.
	SaveEncryptedSecret(ctx context.Context, caller Identity, blob []byte) error

	// WhoAmI echoes the caller identity in its textual form.
	WhoAmI(ctx context.Context, caller Identity) string

	// AsymmetricPublicKey returns the public key for the asymmetric derivation path.
	AsymmetricPublicKey(ctx context.Context) ([]byte, error)

	// AsymmetricEncryptedKey derives the caller's encrypted key unconditionally.
	AsymmetricEncryptedKey(ctx context.Context, caller Identity, transportPublicKey []byte) ([]byte, error)
}
