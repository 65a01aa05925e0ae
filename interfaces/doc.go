// Package interfaces defines the core types and interfaces of the vetKD key
// custody service, separating contracts from implementations.
//
// # Identity
//
// Identity is the opaque caller identifier resolved per request by the
// transport layer. AnonymousIdentity is structurally valid but is rejected by
// every mutating operation. Identities render as checksummed base32 text
// ("2vxsx-fae" for the anonymous identity).
//
// # Threshold Key System
//
// VetKDSystem is the external oracle with two operations: PublicKey and
// DeriveEncryptedKey, both over a named VetKDKeyID. KeyDerivationOracle is the
// normalized client view used by the custody service.
//
// # Storage
//
// DurableMap is the crash-durable map collaborator, addressed by a
// StoreLocation URI (memory, file, sqlite, postgres, redis, vault, s3).
// EncryptedSecretStore layers the identity rules on top of it.
//
// # Errors
//
// ErrForbidden, ErrOracleUnavailable, ErrOracleRejected and ErrStoreUnavailable
// are the sentinel errors every component wraps; callers use errors.Is.
package interfaces
