package storage

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/vetkd-custody-backend/interfaces"
)

// VaultConfig configures a Vault KV v2 backend.
type VaultConfig struct {
	// Address is the Vault server address, e.g. https://vault.example.com:8200
	Address string
	// MountPath is the KV v2 mount, e.g. "secret"
	MountPath string
	// DataPath is the prefix within the mount, e.g. "custody"
	DataPath string
	// Token authenticates to Vault; empty falls back to VAULT_TOKEN.
	Token string
	// ClientCert and ClientKey are optional PEM files for TLS client authentication.
	ClientCert string
	ClientKey  string
}

// VaultMap implements a durable map using HashiCorp Vault's KV v2 engine.
// Values are stored base64 encoded under the "content" field.
type VaultMap struct {
	mu          sync.Mutex
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultMap creates a new Vault backend.
func NewVaultMap(cfg VaultConfig, log *slog.Logger) (*VaultMap, error) {
	// Create Vault config
	config := api.DefaultConfig()
	config.Address = cfg.Address

	if cfg.ClientCert != "" {
		clientCert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load Vault client certificate: %w", err)
		}
		config.HttpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{clientCert}},
			},
			Timeout: 30 * time.Second,
		}
	}

	// Create Vault client
	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	// Ensure paths are properly formatted
	mountPath := strings.Trim(cfg.MountPath, "/")
	dataPath := strings.Trim(cfg.DataPath, "/")

	return &VaultMap{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(cfg.Address, "https://"), "http://"), mountPath, dataPath),
	}, nil
}

func (b *VaultMap) path(key []byte) string {
	// Vault KV v2 path structure
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, hex.EncodeToString(key))
}

// Get reads the latest version of the value stored under key.
func (b *VaultMap) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	return b.read(ctx, key)
}

func (b *VaultMap) read(ctx context.Context, key []byte) ([]byte, bool, error) {
	path := b.path(key)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault", slog.String("path", path), "err", err)
		return nil, false, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	if secret == nil || secret.Data == nil {
		return nil, false, nil
	}

	// Extract data from the response (KV v2 format). Deleted versions carry nil data.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok || data == nil {
		return nil, false, nil
	}

	content, ok := data["content"].(string)
	if !ok {
		return nil, false, fmt.Errorf("%w: content key not found in Vault data", interfaces.ErrStoreUnavailable)
	}

	value, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, false, fmt.Errorf("%w: invalid content encoding in Vault data: %v", interfaces.ErrStoreUnavailable, err)
	}
	return value, true, nil
}

// Insert writes a new version of the value. The read of the previous value and
// the write are serialized within this process only.
func (b *VaultMap) Insert(ctx context.Context, key []byte, value []byte) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()

	previous, found, err := b.read(ctx, key)
	if err != nil {
		return nil, false, err
	}

	// Prepare data for Vault (KV v2 format)
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"content": base64.StdEncoding.EncodeToString(value),
		},
	}

	path := b.path(key)
	if _, err := b.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		b.log.Error("Failed to write to Vault", slog.String("path", path), "err", err)
		return nil, false, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	b.log.Debug("Stored value in Vault",
		slog.String("path", path),
		slog.Duration("duration", time.Since(start)))

	return previous, found, nil
}

// Available checks if the Vault backend is accessible.
// It uses the health endpoint to verify that Vault is initialized and unsealed.
func (b *VaultMap) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	// Check if Vault is initialized and unsealed
	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

// Name returns a unique identifier for this backend.
func (b *VaultMap) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this backend.
func (b *VaultMap) LocationURI() string {
	return b.locationURI
}

func (b *VaultMap) Close() error {
	return nil
}
