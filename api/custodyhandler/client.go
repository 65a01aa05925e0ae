package custodyhandler

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/vetkd-custody-backend/api"
	"github.com/ruteri/vetkd-custody-backend/cryptoutils"
	"github.com/ruteri/vetkd-custody-backend/interfaces"
)

// ErrUnexpectedResponse is returned for failures the client cannot classify.
var ErrUnexpectedResponse = errors.New("unexpected custody response")

// Client calls the custody HTTP API. Requests are signed with the
// configured secp256k1 key; without a key the client is anonymous.
type Client struct {
	baseURL *url.URL
	key     *ecdsa.PrivateKey
	http    *http.Client
	now     func() time.Time
}

// NewClient creates a client for the service at baseURL. key may be nil.
func NewClient(baseURL string, key *ecdsa.PrivateKey, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL scheme %q", parsed.Scheme)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: parsed, key: key, http: httpClient, now: time.Now}, nil
}

// Identity returns the identity the service attributes this client's requests to.
func (c *Client) Identity() interfaces.Identity {
	if c.key == nil {
		return interfaces.AnonymousIdentity
	}
	return cryptoutils.IdentityFromPublicKey(&c.key.PublicKey)
}

func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	var resp api.WhoAmIResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/whoami", nil, &resp); err != nil {
		return "", err
	}
	return resp.Identity, nil
}

func (c *Client) AsymmetricKeys(ctx context.Context, transportPublicKey []byte) (*interfaces.AsymmetricKeysReply, error) {
	var reply interfaces.AsymmetricKeysReply
	req := api.TransportKeyRequest{TransportPublicKey: transportPublicKey}
	if err := c.do(ctx, http.MethodPost, "/api/v1/asymmetric_keys", req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) AsymmetricPublicKey(ctx context.Context) ([]byte, error) {
	var resp api.PublicKeyResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/asymmetric_public_key", nil, &resp); err != nil {
		return nil, err
	}
	return resp.PublicKey, nil
}

func (c *Client) AsymmetricEncryptedKey(ctx context.Context, transportPublicKey []byte) ([]byte, error) {
	var resp api.EncryptedKeyResponse
	req := api.TransportKeyRequest{TransportPublicKey: transportPublicKey}
	if err := c.do(ctx, http.MethodPost, "/api/v1/asymmetric_encrypted_key", req, &resp); err != nil {
		return nil, err
	}
	return resp.EncryptedKey, nil
}

func (c *Client) SaveEncryptedSecret(ctx context.Context, blob []byte) error {
	return c.do(ctx, http.MethodPut, "/api/v1/encrypted_secret", api.SaveSecretRequest{EncryptedSecret: blob}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
	}

	target := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", ContentTypeJSON)
	req.Header.Set("Accept", ContentTypeJSON)

	if c.key != nil {
		timestamp := c.now().Unix()
		sig, err := cryptoutils.SignRequest(c.key, method, target.Path, body, timestamp)
		if err != nil {
			return err
		}
		req.Header.Set(cryptoutils.SignatureHeader, hex.EncodeToString(sig))
		req.Header.Set(cryptoutils.TimestampHeader, strconv.FormatInt(timestamp, 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("could not request %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read %s response: %w", path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return responseError(resp.StatusCode, respBody)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("could not parse %s response: %w", path, err)
	}
	return nil
}

// responseError maps an error reply back onto the service error classes.
func responseError(status int, body []byte) error {
	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Code == "" {
		return fmt.Errorf("%w: status %d: %s", ErrUnexpectedResponse, status, strings.TrimSpace(string(body)))
	}

	var sentinel error
	switch errResp.Code {
	case api.CodeForbidden:
		sentinel = interfaces.ErrForbidden
	case api.CodeNotFound:
		sentinel = interfaces.ErrCustodyDisabled
	case api.CodeOracleRejected:
		sentinel = interfaces.ErrOracleRejected
	case api.CodeOracleUnavailable:
		sentinel = interfaces.ErrOracleUnavailable
	case api.CodeStoreUnavailable:
		sentinel = interfaces.ErrStoreUnavailable
	case api.CodeUnauthorized:
		sentinel = cryptoutils.ErrInvalidRequestSignature
	default:
		sentinel = ErrUnexpectedResponse
	}
	return fmt.Errorf("%w: status %d: %s", sentinel, status, errResp.Error)
}
