/*
Package api holds the wire types and server configuration of the custody
HTTP API. Its subpackages implement the boundary layers:

  - custodyhandler: HTTP routes of the key custody service and a Go client
  - oracle: the gRPC transport of the vetKD key-derivation oracle

# Authentication

Callers are identified per request. A request carrying the
X-Custody-Signature and X-Custody-Timestamp headers is attributed to the
self-authenticating identity of the secp256k1 key that signed it. A request
without them is anonymous. Anonymous callers may read keys and ask who they
are but cannot store secrets.

# Routes

	POST /api/v1/asymmetric_keys            {transport_public_key}
	POST /api/v1/asymmetric_public_key
	POST /api/v1/asymmetric_encrypted_key   {transport_public_key}
	PUT  /api/v1/encrypted_secret           {encrypted_secret}
	POST /api/v1/asymmetric_save_encrypted_aes_key (alias of the above)
	GET  /api/v1/whoami

Bodies are JSON unless the request carries Content-Type application/cbor,
in which case requests and replies are CBOR.
*/
package api
