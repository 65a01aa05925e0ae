package kms

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/vetkd-custody-backend/cryptoutils"
	"github.com/ruteri/vetkd-custody-backend/interfaces"
)

var (
	// ErrUnknownAdmin is returned for shares not signed by a registered administrator.
	ErrUnknownAdmin = errors.New("share not signed by a registered administrator")

	// ErrSeedRecovered is returned for shares submitted after recovery completed.
	ErrSeedRecovered = errors.New("seed already recovered")
)

// SplitSeed splits a DevOracle seed into shares using Shamir's Secret Sharing.
// Any threshold shares reconstruct the seed; the shares should be handed to
// different administrators and the seed erased afterwards.
func SplitSeed(seed []byte, shares, threshold int) ([][]byte, error) {
	if len(seed) < MinSeedLength {
		return nil, fmt.Errorf("seed must be at least %d bytes", MinSeedLength)
	}
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if shares < threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}

	parts, err := shamir.Split(seed, shares, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split seed: %w", err)
	}
	return parts, nil
}

// CombineSeedShares reconstructs a seed from at least threshold shares.
func CombineSeedShares(shares [][]byte) ([]byte, error) {
	seed, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct seed: %w", err)
	}
	if len(seed) < MinSeedLength {
		return nil, fmt.Errorf("reconstructed seed is shorter than %d bytes", MinSeedLength)
	}
	return seed, nil
}

// SignSeedShare signs a share with an administrator's secp256k1 key.
func SignSeedShare(share []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	return crypto.Sign(crypto.Keccak256(share), key)
}

// SeedRecovery collects administrator-signed seed shares until the threshold
// is reached. Each registered administrator contributes at most one share.
type SeedRecovery struct {
	mu        sync.Mutex
	threshold int
	admins    map[interfaces.Identity]bool
	received  map[interfaces.Identity][]byte
	seed      []byte
}

// NewSeedRecovery creates a recovery session accepting shares signed by any
// of adminPubKeys (uncompressed secp256k1, 65 bytes).
func NewSeedRecovery(threshold int, adminPubKeys [][]byte) (*SeedRecovery, error) {
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if len(adminPubKeys) < threshold {
		return nil, errors.New("fewer administrators than threshold")
	}

	r := &SeedRecovery{
		threshold: threshold,
		admins:    make(map[interfaces.Identity]bool, len(adminPubKeys)),
		received:  make(map[interfaces.Identity][]byte),
	}
	for _, raw := range adminPubKeys {
		pub, err := crypto.UnmarshalPubkey(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid admin pubkey %x: %w", raw, err)
		}
		r.admins[cryptoutils.IdentityFromPublicKey(pub)] = true
	}
	return r, nil
}

// SubmitShare verifies the share signature and stores the share. When the
// threshold is reached the seed is reconstructed and the shares are wiped.
func (r *SeedRecovery) SubmitShare(share, signature []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seed != nil {
		return ErrSeedRecovered
	}

	pub, err := crypto.SigToPub(crypto.Keccak256(share), signature)
	if err != nil {
		return fmt.Errorf("invalid share signature: %w", err)
	}
	admin := cryptoutils.IdentityFromPublicKey(pub)
	if !r.admins[admin] {
		return ErrUnknownAdmin
	}

	r.received[admin] = append([]byte{}, share...)
	if len(r.received) < r.threshold {
		return nil
	}

	shares := make([][]byte, 0, len(r.received))
	for _, s := range r.received {
		shares = append(shares, s)
	}
	seed, err := CombineSeedShares(shares)
	if err != nil {
		return err
	}

	r.seed = seed
	for admin, s := range r.received {
		wipeBytes(s)
		delete(r.received, admin)
	}
	return nil
}

// Progress returns the number of shares received and the threshold.
func (r *SeedRecovery) Progress() (received, threshold int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seed != nil {
		return r.threshold, r.threshold
	}
	return len(r.received), r.threshold
}

// Seed returns the recovered seed, or false while below threshold.
func (r *SeedRecovery) Seed() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seed, r.seed != nil
}

func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
