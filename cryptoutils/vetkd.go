package cryptoutils

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/cloudflare/circl/ecc/bls12381"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInvalidEncryptedKey is returned when an encrypted key is malformed
	// or its ciphertext components are inconsistent.
	ErrInvalidEncryptedKey = errors.New("invalid encrypted key")

	// ErrVetKeyVerification is returned when a decrypted key does not verify
	// against the derived public key and derivation id.
	ErrVetKeyVerification = errors.New("vetkey verification failed")
)

// TransportSecretKey is the caller-held scalar the oracle encrypts derived
// keys to. Its public half is g1^tsk.
type TransportSecretKey struct {
	scalar *big.Int
}

// GenerateTransportKey samples a fresh transport key pair.
func GenerateTransportKey() (*TransportSecretKey, error) {
	return generateTransportKey(rand.Reader)
}

func generateTransportKey(rnd io.Reader) (*TransportSecretKey, error) {
	n, err := RandomNonZeroBig(rnd)
	if err != nil {
		return nil, err
	}
	return &TransportSecretKey{scalar: n}, nil
}

// TransportSecretKeyFromBytes restores a key serialized with Bytes.
func TransportSecretKeyFromBytes(b []byte) (*TransportSecretKey, error) {
	if len(b) != bls12381.ScalarSize {
		return nil, fmt.Errorf("transport secret key must be %d bytes, got %d", bls12381.ScalarSize, len(b))
	}
	n := new(big.Int).SetBytes(b)
	if n.Sign() == 0 || n.Cmp(ScalarOrder) >= 0 {
		return nil, errors.New("transport secret key out of range")
	}
	return &TransportSecretKey{scalar: n}, nil
}

// Bytes returns the 32-byte big-endian encoding of the secret scalar.
func (k *TransportSecretKey) Bytes() []byte {
	buf := make([]byte, bls12381.ScalarSize)
	k.scalar.FillBytes(buf)
	return buf
}

// PublicKey returns the compressed G1 transport public key.
func (k *TransportSecretKey) PublicKey() []byte {
	p := new(bls12381.G1)
	p.ScalarMult(ScalarFromBig(k.scalar), bls12381.G1Generator())
	return p.BytesCompressed()
}

// DecryptAndVerify recovers the vetKey from an encrypted key
// c1 (G1) || c2 (G2) || c3 (G1) and checks it is the BLS signature of
// derivedPublicKey || derivationID under derivedPublicKey.
func DecryptAndVerify(tsk *TransportSecretKey, encryptedKey, derivedPublicKey, derivationID []byte) ([]byte, error) {
	g1Len, g2Len := bls12381.G1SizeCompressed, bls12381.G2SizeCompressed
	if len(encryptedKey) != 2*g1Len+g2Len {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidEncryptedKey, 2*g1Len+g2Len, len(encryptedKey))
	}

	c1, err := DecodeG1(encryptedKey[:g1Len])
	if err != nil {
		return nil, fmt.Errorf("%w: c1: %v", ErrInvalidEncryptedKey, err)
	}
	c2, err := DecodeG2(encryptedKey[g1Len : g1Len+g2Len])
	if err != nil {
		return nil, fmt.Errorf("%w: c2: %v", ErrInvalidEncryptedKey, err)
	}
	c3, err := DecodeG1(encryptedKey[g1Len+g2Len:])
	if err != nil {
		return nil, fmt.Errorf("%w: c3: %v", ErrInvalidEncryptedKey, err)
	}

	if _, err := DecodeG2(derivedPublicKey); err != nil {
		return nil, fmt.Errorf("invalid derived public key: %w", err)
	}

	// c1 and c2 must share the encryption randomness
	if !bls12381.Pair(c1, bls12381.G2Generator()).IsEqual(bls12381.Pair(bls12381.G1Generator(), c2)) {
		return nil, fmt.Errorf("%w: c1 and c2 are inconsistent", ErrInvalidEncryptedKey)
	}

	// k = c3 - tsk*c1
	mask := new(bls12381.G1)
	mask.ScalarMult(ScalarFromBig(tsk.scalar), c1)
	mask.Neg()
	vetKey := new(bls12381.G1)
	vetKey.Add(c3, mask)

	if err := VerifyVetKey(vetKey.BytesCompressed(), derivedPublicKey, derivationID); err != nil {
		return nil, err
	}

	return vetKey.BytesCompressed(), nil
}

// VerifyVetKey checks e(k, g2) == e(H(pk || id), pk).
func VerifyVetKey(vetKey, derivedPublicKey, derivationID []byte) error {
	k, err := DecodeG1(vetKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVetKeyVerification, err)
	}
	pk, err := DecodeG2(derivedPublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVetKeyVerification, err)
	}

	h := HashToG1(append(append([]byte{}, derivedPublicKey...), derivationID...))
	if !bls12381.Pair(k, bls12381.G2Generator()).IsEqual(bls12381.Pair(h, pk)) {
		return ErrVetKeyVerification
	}
	return nil
}

// DeriveSymmetricKey expands a vetKey into a 32-byte symmetric key bound to domain.
func DeriveSymmetricKey(vetKey []byte, domain string) ([]byte, error) {
	key := make([]byte, 32)
	reader := hkdf.New(sha256.New, vetKey, SymmetricKeyDST, []byte(domain))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive symmetric key: %w", err)
	}
	return key, nil
}
