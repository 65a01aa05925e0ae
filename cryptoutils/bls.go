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

// Domain separation tags for the hash functions of the vetKD scheme.
var (
	DerivationDST   = []byte("VETKD-CUSTODY-BLS12381-DERIVE-V1")
	IdentityG1DST   = []byte("VETKD-CUSTODY-BLS12381G1_XMD:SHA-256_SSWU_RO_V1")
	SymmetricKeyDST = []byte("VETKD-CUSTODY-SYMMETRIC-KEY-V1")
)

// ScalarOrder is the order r of the BLS12-381 prime-order subgroups.
var ScalarOrder, _ = new(big.Int).SetString("73eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001", 16)

var (
	ErrInvalidG1Point = errors.New("invalid BLS12-381 G1 point")
	ErrInvalidG2Point = errors.New("invalid BLS12-381 G2 point")
)

// ScalarFromBig reduces n modulo r and converts it to a curve scalar.
func ScalarFromBig(n *big.Int) *bls12381.Scalar {
	reduced := new(big.Int).Mod(n, ScalarOrder)
	buf := make([]byte, bls12381.ScalarSize)
	reduced.FillBytes(buf)

	s := new(bls12381.Scalar)
	if err := s.UnmarshalBinary(buf); err != nil {
		// unreachable, reduced is always below r
		panic(fmt.Sprintf("scalar conversion: %v", err))
	}
	return s
}

// HashToBig maps msg to an integer mod r using 64 bytes of HKDF-SHA256
// output, which keeps the modular bias negligible.
func HashToBig(msg, dst []byte) *big.Int {
	wide := make([]byte, 64)
	if _, err := io.ReadFull(hkdf.New(sha256.New, msg, nil, dst), wide); err != nil {
		panic(fmt.Sprintf("hkdf expand: %v", err))
	}
	return new(big.Int).Mod(new(big.Int).SetBytes(wide), ScalarOrder)
}

// RandomNonZeroBig samples a uniform non-zero integer mod r.
func RandomNonZeroBig(rnd io.Reader) (*big.Int, error) {
	for {
		n, err := rand.Int(rnd, ScalarOrder)
		if err != nil {
			return nil, fmt.Errorf("failed to sample scalar: %w", err)
		}
		if n.Sign() != 0 {
			return n, nil
		}
	}
}

// HashToG1 hashes msg onto G1 with the identity DST.
func HashToG1(msg []byte) *bls12381.G1 {
	p := new(bls12381.G1)
	p.Hash(msg, IdentityG1DST)
	return p
}

// DecodeG1 parses a compressed G1 point and checks subgroup membership.
func DecodeG1(b []byte) (*bls12381.G1, error) {
	if len(b) != bls12381.G1SizeCompressed {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidG1Point, bls12381.G1SizeCompressed, len(b))
	}
	p := new(bls12381.G1)
	if err := p.SetBytes(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidG1Point, err)
	}
	if !p.IsOnG1() {
		return nil, fmt.Errorf("%w: not in subgroup", ErrInvalidG1Point)
	}
	return p, nil
}

// DecodeG2 parses a compressed G2 point and checks subgroup membership.
func DecodeG2(b []byte) (*bls12381.G2, error) {
	if len(b) != bls12381.G2SizeCompressed {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidG2Point, bls12381.G2SizeCompressed, len(b))
	}
	p := new(bls12381.G2)
	if err := p.SetBytes(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidG2Point, err)
	}
	if !p.IsOnG2() {
		return nil, fmt.Errorf("%w: not in subgroup", ErrInvalidG2Point)
	}
	return p, nil
}
