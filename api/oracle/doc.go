// Package oracle carries the vetKD system interface over gRPC and selects
// an oracle implementation from a URI.
//
// Supported URIs:
//
//	local://            in-process DevOracle, development only
//	grpc://host:port    remote oracle served by cmd/oracled
package oracle
