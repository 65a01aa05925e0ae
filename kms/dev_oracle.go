package kms

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/cloudflare/circl/ecc/bls12381"
	"github.com/ruteri/vetkd-custody-backend/cryptoutils"
	"github.com/ruteri/vetkd-custody-backend/interfaces"
)

// DefaultKeyName is the key configuration served when none is specified.
const DefaultKeyName = "test_key_1"

// MinSeedLength is the minimum length of a DevOracle seed.
const MinSeedLength = 32

// DevOracle is a deterministic single-node vetKD system over BLS12-381.
// It derives every master key from one seed and is suitable for development
// and testing only; a production deployment talks to a threshold key system.
type DevOracle struct {
	keys map[interfaces.VetKDKeyID]*masterKey
	rand io.Reader
}

type masterKey struct {
	secret *big.Int
	public []byte
}

// NewDevOracle creates an oracle serving the given key names on curve
// bls12_381_g2. The seed must be at least 32 bytes long.
func NewDevOracle(seed []byte, keyNames ...string) (*DevOracle, error) {
	if len(seed) < MinSeedLength {
		return nil, fmt.Errorf("seed must be at least %d bytes", MinSeedLength)
	}
	if len(keyNames) == 0 {
		keyNames = []string{DefaultKeyName}
	}

	o := &DevOracle{
		keys: make(map[interfaces.VetKDKeyID]*masterKey, len(keyNames)),
		rand: rand.Reader,
	}

	for _, name := range keyNames {
		keyID := interfaces.VetKDKeyID{Curve: interfaces.VetKDCurveBLS12381G2, Name: name}
		if err := keyID.Validate(); err != nil {
			return nil, err
		}

		// msk = HKDF(seed, curve || name) mod r
		secret := cryptoutils.HashToBig(seed, []byte(string(keyID.Curve)+keyID.Name))
		if secret.Sign() == 0 {
			return nil, errors.New("degenerate master key")
		}

		public := new(bls12381.G2)
		public.ScalarMult(cryptoutils.ScalarFromBig(secret), bls12381.G2Generator())
		o.keys[keyID] = &masterKey{secret: secret, public: public.BytesCompressed()}
	}

	return o, nil
}

// WithRandomness returns a copy of the oracle drawing encryption randomness from r.
// Used by tests to produce reproducible ciphertexts.
func (o *DevOracle) WithRandomness(r io.Reader) *DevOracle {
	return &DevOracle{keys: o.keys, rand: r}
}

// MasterPublicKey returns the compressed G2 master public key of keyID.
func (o *DevOracle) MasterPublicKey(keyID interfaces.VetKDKeyID) ([]byte, error) {
	mk, err := o.lookup(keyID)
	if err != nil {
		return nil, err
	}
	return append([]byte{}, mk.public...), nil
}

// PublicKey returns pk = g2^sk for the derivation path of the request.
func (o *DevOracle) PublicKey(ctx context.Context, req interfaces.VetKDPublicKeyRequest) (*interfaces.VetKDPublicKeyReply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mk, err := o.lookup(req.KeyID)
	if err != nil {
		return nil, err
	}

	_, pk := mk.derive(req.DerivationPath)
	return &interfaces.VetKDPublicKeyReply{PublicKey: pk.BytesCompressed()}, nil
}

// DeriveEncryptedKey computes k = H(pk || id)^sk and encrypts it to the
// transport public key of the request:
//
//	c1 = g1^r, c2 = g2^r, c3 = k + tpk^r
func (o *DevOracle) DeriveEncryptedKey(ctx context.Context, req interfaces.VetKDEncryptedKeyRequest) (*interfaces.VetKDEncryptedKeyReply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mk, err := o.lookup(req.KeyID)
	if err != nil {
		return nil, err
	}

	tpk, err := cryptoutils.DecodeG1(req.EncryptionPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid transport public key: %v", interfaces.ErrOracleRejected, err)
	}
	if tpk.IsIdentity() {
		return nil, fmt.Errorf("%w: transport public key is the identity element", interfaces.ErrOracleRejected)
	}

	sk, pk := mk.derive(req.DerivationPath)
	skScalar := cryptoutils.ScalarFromBig(sk)

	h := cryptoutils.HashToG1(append(pk.BytesCompressed(), req.DerivationID...))
	vetKey := new(bls12381.G1)
	vetKey.ScalarMult(skScalar, h)

	r, err := cryptoutils.RandomNonZeroBig(o.rand)
	if err != nil {
		return nil, err
	}
	rScalar := cryptoutils.ScalarFromBig(r)

	c1 := new(bls12381.G1)
	c1.ScalarMult(rScalar, bls12381.G1Generator())
	c2 := new(bls12381.G2)
	c2.ScalarMult(rScalar, bls12381.G2Generator())
	mask := new(bls12381.G1)
	mask.ScalarMult(rScalar, tpk)
	c3 := new(bls12381.G1)
	c3.Add(vetKey, mask)

	encrypted := make([]byte, 0, interfaces.EncryptedKeySize)
	encrypted = append(encrypted, c1.BytesCompressed()...)
	encrypted = append(encrypted, c2.BytesCompressed()...)
	encrypted = append(encrypted, c3.BytesCompressed()...)

	return &interfaces.VetKDEncryptedKeyReply{EncryptedKey: encrypted}, nil
}

func (o *DevOracle) lookup(keyID interfaces.VetKDKeyID) (*masterKey, error) {
	if err := keyID.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrOracleRejected, err)
	}
	mk, found := o.keys[keyID]
	if !found {
		return nil, fmt.Errorf("%w: unknown key %s", interfaces.ErrOracleRejected, keyID)
	}
	return mk, nil
}

// derive returns sk = msk + H(mpk || path) mod r and pk = g2^sk.
func (mk *masterKey) derive(path interfaces.DerivationPath) (*big.Int, *bls12381.G2) {
	msg := append([]byte{}, mk.public...)
	msg = binary.BigEndian.AppendUint64(msg, uint64(len(path)))
	for _, element := range path {
		msg = binary.BigEndian.AppendUint64(msg, uint64(len(element)))
		msg = append(msg, element...)
	}

	sk := new(big.Int).Add(mk.secret, cryptoutils.HashToBig(msg, cryptoutils.DerivationDST))
	sk.Mod(sk, cryptoutils.ScalarOrder)

	pk := new(bls12381.G2)
	pk.ScalarMult(cryptoutils.ScalarFromBig(sk), bls12381.G2Generator())
	return sk, pk
}
