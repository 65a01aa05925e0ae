/*
Package httpserver runs the custody HTTP API.

The server owns the process lifecycle around the custody routes:

  - /livez and /readyz health endpoints; readiness also requires the secret store to answer
  - /drain and /undrain to take the instance out of a load balancer
  - request logging, optional pprof and a separate Prometheus listener

# Caller identity

IdentityMiddleware resolves the caller once per request. Requests without a
signature are anonymous. A signed request is attributed to the
self-authenticating identity of the signing key; a signature that does not
verify, or whose timestamp is outside the allowed skew, is rejected with 401
rather than downgraded to anonymous. Handlers read the result with
CurrentIdentity.
*/
package httpserver
