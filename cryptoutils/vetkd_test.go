package cryptoutils

import (
	"math/big"
	"testing"

	"github.com/cloudflare/circl/ecc/bls12381"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encryptForTest builds an encrypted key the way an oracle would.
func encryptForTest(t *testing.T, sk *big.Int, derivationID, transportPublicKey []byte) (encryptedKey, derivedPublicKey []byte) {
	t.Helper()

	pk := new(bls12381.G2)
	pk.ScalarMult(ScalarFromBig(sk), bls12381.G2Generator())
	derivedPublicKey = pk.BytesCompressed()

	h := HashToG1(append(append([]byte{}, derivedPublicKey...), derivationID...))
	k := new(bls12381.G1)
	k.ScalarMult(ScalarFromBig(sk), h)

	tpk, err := DecodeG1(transportPublicKey)
	require.NoError(t, err)

	r := big.NewInt(123456789)
	c1 := new(bls12381.G1)
	c1.ScalarMult(ScalarFromBig(r), bls12381.G1Generator())
	c2 := new(bls12381.G2)
	c2.ScalarMult(ScalarFromBig(r), bls12381.G2Generator())
	mask := new(bls12381.G1)
	mask.ScalarMult(ScalarFromBig(r), tpk)
	c3 := new(bls12381.G1)
	c3.Add(k, mask)

	encryptedKey = append(append(c1.BytesCompressed(), c2.BytesCompressed()...), c3.BytesCompressed()...)
	return encryptedKey, derivedPublicKey
}

func TestDecryptAndVerify(t *testing.T) {
	tsk, err := GenerateTransportKey()
	require.NoError(t, err)
	require.Len(t, tsk.PublicKey(), bls12381.G1SizeCompressed)

	sk := big.NewInt(42424242)
	id := []byte("caller-identity")
	encryptedKey, derivedPublicKey := encryptForTest(t, sk, id, tsk.PublicKey())
	require.Len(t, encryptedKey, 192)

	vetKey, err := DecryptAndVerify(tsk, encryptedKey, derivedPublicKey, id)
	require.NoError(t, err)
	assert.Len(t, vetKey, bls12381.G1SizeCompressed)

	t.Run("wrong identity fails verification", func(t *testing.T) {
		_, err := DecryptAndVerify(tsk, encryptedKey, derivedPublicKey, []byte("someone-else"))
		assert.ErrorIs(t, err, ErrVetKeyVerification)
	})

	t.Run("wrong transport key fails verification", func(t *testing.T) {
		other, err := GenerateTransportKey()
		require.NoError(t, err)
		_, err = DecryptAndVerify(other, encryptedKey, derivedPublicKey, id)
		assert.ErrorIs(t, err, ErrVetKeyVerification)
	})

	t.Run("truncated ciphertext", func(t *testing.T) {
		_, err := DecryptAndVerify(tsk, encryptedKey[:100], derivedPublicKey, id)
		assert.ErrorIs(t, err, ErrInvalidEncryptedKey)
	})

	t.Run("swapped c1 breaks consistency", func(t *testing.T) {
		tampered := append([]byte{}, encryptedKey...)
		copy(tampered[:48], tsk.PublicKey())
		_, err := DecryptAndVerify(tsk, tampered, derivedPublicKey, id)
		assert.ErrorIs(t, err, ErrInvalidEncryptedKey)
	})
}

func TestTransportSecretKeyRoundTrip(t *testing.T) {
	tsk, err := GenerateTransportKey()
	require.NoError(t, err)

	restored, err := TransportSecretKeyFromBytes(tsk.Bytes())
	require.NoError(t, err)
	assert.Equal(t, tsk.PublicKey(), restored.PublicKey())

	_, err = TransportSecretKeyFromBytes(make([]byte, 32))
	assert.Error(t, err, "zero scalar must be rejected")

	_, err = TransportSecretKeyFromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDeriveSymmetricKey(t *testing.T) {
	vetKey := make([]byte, 48)
	vetKey[0] = 0xaa

	k1, err := DeriveSymmetricKey(vetKey, "encrypted-secret")
	require.NoError(t, err)
	k2, err := DeriveSymmetricKey(vetKey, "encrypted-secret")
	require.NoError(t, err)
	k3, err := DeriveSymmetricKey(vetKey, "other-domain")
	require.NoError(t, err)

	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestDecodePointsRejectGarbage(t *testing.T) {
	_, err := DecodeG1(make([]byte, 47))
	assert.ErrorIs(t, err, ErrInvalidG1Point)

	_, err = DecodeG2([]byte("not a point"))
	assert.ErrorIs(t, err, ErrInvalidG2Point)
}
