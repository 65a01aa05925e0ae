package interfaces

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// VetKDCurve names the curve of a vetKD key configuration.
type VetKDCurve string

const (
	// VetKDCurveBLS12381G2 is the only curve supported by the threshold key system.
	VetKDCurveBLS12381G2 VetKDCurve = "bls12_381_g2"
)

// Encoded sizes of vetKD key material on BLS12-381.
const (
	G1CompressedSize = 48
	G2CompressedSize = 96

	// TransportPublicKeySize is the size of a compressed G1 transport public key.
	TransportPublicKeySize = G1CompressedSize
	// DerivedPublicKeySize is the size of a compressed G2 derived public key.
	DerivedPublicKeySize = G2CompressedSize
	// EncryptedKeySize is the size of c1 (G1) || c2 (G2) || c3 (G1).
	EncryptedKeySize = 2*G1CompressedSize + G2CompressedSize
)

var (
	// ErrOracleUnavailable is returned when the threshold key system cannot be reached
	// or does not answer within the caller's context.
	ErrOracleUnavailable = errors.New("key derivation oracle unavailable")

	// ErrOracleRejected is returned when the threshold key system answered with an error
	// or with a reply that does not carry key material.
	ErrOracleRejected = errors.New("key derivation oracle rejected request")
)

// VetKDKeyID identifies a named key configuration of the threshold key system.
type VetKDKeyID struct {
	Curve VetKDCurve `json:"curve" cbor:"curve"`
	Name  string     `json:"name" cbor:"name"`
}

// Validate checks the key id refers to a supported curve and carries a name.
func (k VetKDKeyID) Validate() error {
	if k.Curve != VetKDCurveBLS12381G2 {
		return fmt.Errorf("unsupported vetkd curve %q", k.Curve)
	}
	if k.Name == "" {
		return errors.New("vetkd key name is empty")
	}
	return nil
}

func (k VetKDKeyID) String() string {
	return fmt.Sprintf("%s:%s", k.Curve, k.Name)
}

// DerivationPath namespaces key material derived from the same master key.
type DerivationPath [][]byte

// NewDerivationPath builds a path from string labels.
func NewDerivationPath(labels ...string) DerivationPath {
	path := make(DerivationPath, 0, len(labels))
	for _, label := range labels {
		path = append(path, []byte(label))
	}
	return path
}

// String joins the path elements with "/" for logging.
func (p DerivationPath) String() string {
	parts := make([]string, 0, len(p))
	for _, element := range p {
		parts = append(parts, string(element))
	}
	return strings.Join(parts, "/")
}

type VetKDPublicKeyRequest struct {
	KeyID          VetKDKeyID     `json:"key_id" cbor:"key_id"`
	DerivationPath DerivationPath `json:"derivation_path" cbor:"derivation_path"`
}

type VetKDPublicKeyReply struct {
	PublicKey []byte `json:"public_key" cbor:"public_key"`
}

type VetKDEncryptedKeyRequest struct {
	KeyID          VetKDKeyID     `json:"key_id" cbor:"key_id"`
	DerivationPath DerivationPath `json:"derivation_path" cbor:"derivation_path"`
	// DerivationID binds the derived key to a caller identity.
	DerivationID []byte `json:"derivation_id" cbor:"derivation_id"`
	// EncryptionPublicKey is the caller's transport public key.
	EncryptionPublicKey []byte `json:"encryption_public_key" cbor:"encryption_public_key"`
}

type VetKDEncryptedKeyReply struct {
	EncryptedKey []byte `json:"encrypted_key" cbor:"encrypted_key"`
}

// VetKDSystem is the external threshold key system. Both calls block until the
// system answers or ctx is done.
type VetKDSystem interface {
	PublicKey(ctx context.Context, req VetKDPublicKeyRequest) (*VetKDPublicKeyReply, error)
	DeriveEncryptedKey(ctx context.Context, req VetKDEncryptedKeyRequest) (*VetKDEncryptedKeyReply, error)
}

// KeyDerivationOracle is the normalized view of the threshold key system used
// by the custody service. It is bound to a single key configuration and
// reports failures as ErrOracleUnavailable or ErrOracleRejected.
type KeyDerivationOracle interface {
	DerivePublicKey(ctx context.Context, path DerivationPath) ([]byte, error)
	DeriveEncryptedPrivateKey(ctx context.Context, identity Identity, path DerivationPath, transportPublicKey []byte) ([]byte, error)
}
