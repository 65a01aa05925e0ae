// Package cryptoutils provides the client-side cryptography of the vetKD key
// custody system and the request signatures used to authenticate callers.
//
// # Transport Keys and vetKeys
//
// A caller generates a TransportSecretKey and sends its compressed G1 public
// key to the service. The oracle returns an encrypted key
//
//	[c1 (G1, 48 bytes)][c2 (G2, 96 bytes)][c3 (G1, 48 bytes)]
//
// which DecryptAndVerify opens as k = c3 - tsk*c1 and checks with two pairing
// equations:
//
//	e(c1, g2) == e(g1, c2)
//	e(k, g2)  == e(H(pk || id), pk)
//
// DeriveSymmetricKey expands the 48-byte vetKey into an AES-256 key with
// HKDF-SHA256.
//
// # Encrypted Secrets
//
// SealSecret and OpenSecret wrap caller secrets with AES-256-GCM. The sealed
// form is what the custody service stores per identity.
//
// # Request Signatures
//
// Requests are signed with a secp256k1 key (go-ethereum crypto.Sign) over
//
//	keccak256("vetkd-custody-request" || method || path || timestamp || sha256(body))
//
// RecoverRequestIdentity returns the self-authenticating identity of the
// signer, sha224(pubkey) || 0x02.
package cryptoutils
