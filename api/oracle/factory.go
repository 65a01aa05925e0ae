package oracle

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/ruteri/vetkd-custody-backend/interfaces"
	"github.com/ruteri/vetkd-custody-backend/kms"
)

var ErrUnsupportedOracleURI = errors.New("unsupported oracle URI")

// Options configures NewSystem.
type Options struct {
	// Seed is the master seed of a local:// oracle.
	Seed []byte

	// KeyNames are the key names served by a local:// oracle.
	KeyNames []string

	// DialTimeout applies to grpc:// oracles.
	DialTimeout time.Duration
}

// NewSystem returns the vetKD system addressed by uri together with a closer
// releasing its resources.
func NewSystem(uri string, opts Options) (interfaces.VetKDSystem, io.Closer, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrUnsupportedOracleURI, err)
	}

	switch parsed.Scheme {
	case "local":
		dev, err := kms.NewDevOracle(opts.Seed, opts.KeyNames...)
		if err != nil {
			return nil, nil, err
		}
		return dev, nopCloser{}, nil
	case "grpc":
		if parsed.Host == "" {
			return nil, nil, fmt.Errorf("%w: %s has no host", ErrUnsupportedOracleURI, uri)
		}
		client, err := Dial(parsed.Host, DialOptions{Timeout: opts.DialTimeout})
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedOracleURI, parsed.Scheme)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
