package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrInvalidLocationURI is returned when a store location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid store location URI")

	// ErrStoreUnavailable is returned when the durable map cannot be read or written.
	// It is never used to signal an absent record.
	ErrStoreUnavailable = errors.New("secret store unavailable")
)

// StoreLocation represents the parsed URI of a durable map backend.
type StoreLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStoreLocation parses and validates a store location URI.
func NewStoreLocation(uri string) (StoreLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StoreLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "memory", "file", "sqlite", "postgres", "postgresql", "redis", "rediss", "vault", "s3":
		// Valid scheme
	default:
		return StoreLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StoreLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc StoreLocation) String() string {
	return loc.Raw
}

// FilesystemPath joins host and path so both file:///abs/dir and file://rel/dir work.
func (loc StoreLocation) FilesystemPath() string {
	return loc.Host + loc.Path
}

// GetParam returns a query parameter value.
func (loc StoreLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StoreLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

// DurableMap is a crash-durable map from identity bytes to opaque values.
// A successful Insert must be visible to Get after a process restart.
type DurableMap interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key []byte) ([]byte, bool, error)

	// Insert stores value under key and returns the previous value, if any.
	Insert(ctx context.Context, key []byte, value []byte) ([]byte, bool, error)

	// Available checks if the backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend, with credentials redacted.
	LocationURI() string

	// Close releases connections and file handles.
	Close() error
}

// EncryptedSecretStore keeps one opaque encrypted secret per identity.
type EncryptedSecretStore interface {
	// Save overwrites the secret of identity. Anonymous callers get ErrForbidden.
	Save(ctx context.Context, identity Identity, blob []byte) error

	// Load returns the secret of identity and whether one exists.
	Load(ctx context.Context, identity Identity) ([]byte, bool, error)
}
