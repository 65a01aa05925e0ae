package api

// Request and response bodies of the custody HTTP API. Byte fields are
// base64 in JSON and byte strings in CBOR.

type TransportKeyRequest struct {
	TransportPublicKey []byte `json:"transport_public_key" cbor:"transport_public_key"`
}

type PublicKeyResponse struct {
	PublicKey []byte `json:"public_key" cbor:"public_key"`
}

type EncryptedKeyResponse struct {
	EncryptedKey []byte `json:"encrypted_key" cbor:"encrypted_key"`
}

type SaveSecretRequest struct {
	EncryptedSecret []byte `json:"encrypted_secret" cbor:"encrypted_secret"`
}

type WhoAmIResponse struct {
	Identity string `json:"identity" cbor:"identity"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error" cbor:"error"`
	Code  string `json:"code" cbor:"code"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeBadRequest        = "bad_request"
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeNotFound          = "custody_disabled"
	CodeOracleRejected    = "oracle_rejected"
	CodeOracleUnavailable = "oracle_unavailable"
	CodeStoreUnavailable  = "store_unavailable"
	CodeRateLimited       = "rate_limited"
	CodeTooLarge          = "too_large"
	CodeInternal          = "internal"
)
