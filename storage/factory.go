package storage

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/vetkd-custody-backend/interfaces"
)

// DurableMapFactory creates durable map backends from URI strings and
// assembles replicated configurations.
type DurableMapFactory struct {
	log *slog.Logger
}

// NewDurableMapFactory creates a new factory instance.
func NewDurableMapFactory(logger *slog.Logger) *DurableMapFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DurableMapFactory{log: logger}
}

// DurableMapFor creates a backend from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - memory:// - In-process map, lost on restart
//   - file:// - One file per identity in a local directory
//   - sqlite:// - SQLite database file
//   - postgres:// - PostgreSQL database
//   - redis:// - Redis server, durability follows its persistence policy
//   - vault:// - HashiCorp Vault KV v2 engine
//   - s3:// - Amazon S3 or compatible object storage
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *DurableMapFactory) DurableMapFor(locationURI string) (interfaces.DurableMap, error) {
	loc, err := interfaces.NewStoreLocation(locationURI)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(loc.Scheme) {
	case "memory":
		return NewMemoryMap(), nil
	case "file":
		return f.createFileMap(loc)
	case "sqlite":
		return f.createSQLiteMap(loc)
	case "postgres", "postgresql":
		f.log.Debug("Creating postgres backend", slog.String("host", loc.Host))
		return NewPostgresMap(loc.Raw, f.log)
	case "redis", "rediss":
		f.log.Debug("Creating redis backend", slog.String("host", loc.Host))
		return NewRedisMap(loc.Raw, loc.GetParam("prefix"), f.log)
	case "vault":
		return f.createVaultMap(loc)
	case "s3":
		return f.createS3Map(loc)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %s", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// CreateReplicatedMap creates a replicated map from a list of location URIs.
// A single URI yields the backend itself. Writes go to every available
// backend and reads are served by the first backend holding the key.
// Returns an error if any URI cannot be turned into a backend.
func (f *DurableMapFactory) CreateReplicatedMap(locationURIs []string) (interfaces.DurableMap, error) {
	if len(locationURIs) == 0 {
		return nil, fmt.Errorf("%w: no store locations configured", interfaces.ErrInvalidLocationURI)
	}

	backends := make([]interfaces.DurableMap, 0, len(locationURIs))
	for _, uri := range locationURIs {
		backend, err := f.DurableMapFor(uri)
		if err != nil {
			for _, created := range backends {
				_ = created.Close()
			}
			return nil, fmt.Errorf("store %q: %w", redactURI(uri), err)
		}
		backends = append(backends, backend)
	}

	if len(backends) == 1 {
		return backends[0], nil
	}
	return NewReplicatedMap(backends, f.log), nil
}

// createFileMap creates a file system backend.
// URI format: file:///absolute/path/ or file://relative/path/
func (f *DurableMapFactory) createFileMap(loc interfaces.StoreLocation) (interfaces.DurableMap, error) {
	f.log.Debug("Creating file backend", slog.String("uri", loc.Raw))

	path := loc.FilesystemPath()
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, loc.Raw)
	}
	return NewFileMap(path, f.log)
}

// createSQLiteMap creates a SQLite backend.
// URI format: sqlite:///var/lib/custody/secrets.db
func (f *DurableMapFactory) createSQLiteMap(loc interfaces.StoreLocation) (interfaces.DurableMap, error) {
	f.log.Debug("Creating sqlite backend", slog.String("uri", loc.Raw))

	path := loc.FilesystemPath()
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in sqlite URI: %s", interfaces.ErrInvalidLocationURI, loc.Raw)
	}
	return NewSQLiteMap(path, f.log)
}

// createVaultMap creates a Vault KV v2 backend.
// URI format: vault://[TOKEN@]vault.example.com:8200/mount/path?tls=false&cert=client.pem&key=client.key
// Without a token in the URI the VAULT_TOKEN environment variable applies.
func (f *DurableMapFactory) createVaultMap(loc interfaces.StoreLocation) (interfaces.DurableMap, error) {
	f.log.Debug("Creating vault backend", slog.String("host", loc.Host))

	parts := strings.SplitN(strings.Trim(loc.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: vault URI must be vault://host:port/mount/path", interfaces.ErrInvalidLocationURI)
	}

	scheme := "https"
	if loc.GetParam("tls") == "false" {
		scheme = "http"
	}

	return NewVaultMap(VaultConfig{
		Address:    fmt.Sprintf("%s://%s", scheme, loc.Host),
		MountPath:  parts[0],
		DataPath:   parts[1],
		Token:      loc.Auth,
		ClientCert: loc.GetParam("cert"),
		ClientKey:  loc.GetParam("key"),
	}, f.log)
}

// createS3Map creates an S3 or S3-compatible backend.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/path/?region=us-west-2&endpoint=custom.s3.com
// Without embedded credentials the default AWS credential chain applies.
func (f *DurableMapFactory) createS3Map(loc interfaces.StoreLocation) (interfaces.DurableMap, error) {
	f.log.Debug("Creating S3 backend", slog.String("bucket", loc.Host))

	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing bucket in S3 URI", interfaces.ErrInvalidLocationURI)
	}

	region := loc.GetParam("region")
	if region == "" {
		region = "us-east-1" // Default region
	}

	var accessKey, secretKey string
	if loc.Auth != "" {
		accessKey, secretKey, _ = strings.Cut(loc.Auth, ":")
	}

	return NewS3Map(S3Config{
		Bucket:         loc.Host,
		Prefix:         strings.TrimPrefix(loc.Path, "/"),
		Region:         region,
		Endpoint:       loc.GetParam("endpoint"),
		AccessKey:      accessKey,
		SecretKey:      secretKey,
		ForcePathStyle: loc.GetParamBool("path_style"),
	}, f.log)
}

// redactURI strips credentials from a URI for logging.
// The whole userinfo is replaced because vault:// carries the token as
// the user name. url.Parse is not used: an unescaped '/' in a password
// ends the authority early and leaves the rest of the secret in the path.
func redactURI(uri string) string {
	scheme, rest, found := strings.Cut(uri, "://")
	if !found || strings.HasPrefix(rest, "/") {
		return uri
	}
	head := rest
	if end := strings.IndexAny(head, "?#"); end >= 0 {
		head = head[:end]
	}
	if at := strings.LastIndex(head, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return uri
}
