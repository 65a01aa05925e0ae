// Package kms provides the key derivation oracle side of the custody system.
//
// # OracleClient
//
// OracleClient wraps an interfaces.VetKDSystem, binds a single key
// configuration and implements interfaces.KeyDerivationOracle:
//
//	DerivePublicKey(ctx, path) ([]byte, error)
//	DeriveEncryptedPrivateKey(ctx, identity, path, transportPublicKey) ([]byte, error)
//
// Failures are normalized: explicit rejections and empty replies wrap
// interfaces.ErrOracleRejected, everything else (transport failures, context
// cancellation and deadlines) wraps interfaces.ErrOracleUnavailable.
//
// # DevOracle
//
// DevOracle is a deterministic, single-node vetKD system over BLS12-381 for
// development and tests. Key material is derived from a seed:
//
//	msk = HKDF(seed, curve || name) mod r
//	sk  = msk + H(mpk || path) mod r,  pk = g2^sk
//	k   = H_G1(pk || id)^sk
//
// and k is returned encrypted to the caller's transport key as
// c1 = g1^r, c2 = g2^r, c3 = k + tpk^r.
//
// # Seed Shares
//
// SplitSeed and SeedRecovery protect the DevOracle seed with Shamir's Secret
// Sharing. Administrators sign their shares with secp256k1 keys; once a
// threshold of valid shares is submitted the seed is reconstructed in memory
// and the shares are wiped.
package kms
