package cryptoutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenSecret(t *testing.T) {
	key, err := GenerateSecretKey()
	require.NoError(t, err)

	testCases := []struct {
		name string
		data []byte
	}{
		{name: "AES key", data: make([]byte, 32)},
		{name: "Simple string", data: []byte("This is a secret message")},
		{name: "Empty data", data: []byte{}},
		{name: "Long data", data: make([]byte, 4096)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := SealSecret(key, tc.data)
			require.NoError(t, err)
			assert.Len(t, sealed, len(tc.data)+gcmNonceSize+16)

			opened, err := OpenSecret(key, sealed)
			require.NoError(t, err)
			assert.Equal(t, tc.data, opened)
			assert.NotNil(t, opened)
		})
	}
}

func TestOpenSecretFailures(t *testing.T) {
	key, err := GenerateSecretKey()
	require.NoError(t, err)
	sealed, err := SealSecret(key, []byte("secret"))
	require.NoError(t, err)

	otherKey, err := GenerateSecretKey()
	require.NoError(t, err)
	_, err = OpenSecret(otherKey, sealed)
	assert.ErrorIs(t, err, ErrInvalidSealedSecret)

	tampered := append([]byte{}, sealed...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = OpenSecret(key, tampered)
	assert.ErrorIs(t, err, ErrInvalidSealedSecret)

	_, err = OpenSecret(key, sealed[:5])
	assert.ErrorIs(t, err, ErrInvalidSealedSecret)

	_, err = SealSecret([]byte("short"), []byte("x"))
	assert.Error(t, err)
}
