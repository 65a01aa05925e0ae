package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/vetkd-custody-backend/events"
	"github.com/ruteri/vetkd-custody-backend/interfaces"
	"github.com/ruteri/vetkd-custody-backend/metrics"
)

// AsymmetricDerivationPath is the fixed derivation path of every custody key.
var AsymmetricDerivationPath = interfaces.NewDerivationPath("asymmetric")

// Config selects the service variant.
type Config struct {
	// Custody enables the encrypted-secret store. Without it the private key
	// is derived on every call and saving secrets is disabled.
	Custody bool
}

// Service implements interfaces.KeyCustody.
type Service struct {
	cfg    Config
	oracle interfaces.KeyDerivationOracle
	store  interfaces.EncryptedSecretStore
	events events.Publisher
	log    *slog.Logger
}

var _ interfaces.KeyCustody = (*Service)(nil)

// NewService wires the orchestrator. store may be nil only when custody is
// disabled; a nil publisher drops events.
func NewService(cfg Config, oracle interfaces.KeyDerivationOracle, store interfaces.EncryptedSecretStore, publisher events.Publisher, log *slog.Logger) (*Service, error) {
	if oracle == nil {
		return nil, errors.New("key derivation oracle is required")
	}
	if cfg.Custody && store == nil {
		return nil, errors.New("custody requires an encrypted secret store")
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		cfg:    cfg,
		oracle: oracle,
		store:  store,
		events: publisher,
		log:    log,
	}, nil
}

// GetAsymmetricKeys returns the public key of the asymmetric path together
// with either the caller's stored encrypted secret or, when none is stored,
// a key derived for the caller and encrypted to transportPublicKey.
func (s *Service) GetAsymmetricKeys(ctx context.Context, caller interfaces.Identity, transportPublicKey []byte) (*interfaces.AsymmetricKeysReply, error) {
	s.debugCaller("asymmetric_keys", caller)

	publicKey, err := s.oracle.DerivePublicKey(ctx, AsymmetricDerivationPath)
	if err != nil {
		return nil, fmt.Errorf("deriving public key: %w", err)
	}

	var (
		encryptedSecret []byte
		found           bool
	)
	if s.cfg.Custody {
		encryptedSecret, found, err = s.store.Load(ctx, caller)
		if err != nil {
			return nil, fmt.Errorf("loading encrypted secret: %w", err)
		}
	}

	reply := &interfaces.AsymmetricKeysReply{
		PublicKey:       publicKey,
		EncryptedSecret: encryptedSecret,
	}

	derived := !found
	if derived {
		encryptedKey, err := s.oracle.DeriveEncryptedPrivateKey(ctx, caller, AsymmetricDerivationPath, transportPublicKey)
		if err != nil {
			return nil, fmt.Errorf("deriving encrypted key: %w", err)
		}
		reply.EncryptedKey = encryptedKey
	}

	metrics.RecordDerivation(derived)
	s.publish(ctx, events.NewEvent(events.KindAsymmetricKeys, caller.String(), derived))
	return reply, nil
}

// SaveEncryptedSecret stores blob as the caller's encrypted secret,
// replacing any earlier one.
func (s *Service) SaveEncryptedSecret(ctx context.Context, caller interfaces.Identity, blob []byte) error {
	s.debugCaller("save_encrypted_secret", caller)

	if caller.IsAnonymous() {
		return interfaces.ErrForbidden
	}
	if !s.cfg.Custody {
		return interfaces.ErrCustodyDisabled
	}

	if err := s.store.Save(ctx, caller, blob); err != nil {
		return fmt.Errorf("saving encrypted secret: %w", err)
	}

	metrics.RecordSecretSave()
	s.publish(ctx, events.NewEvent(events.KindSecretSaved, caller.String(), false))
	return nil
}

// WhoAmI echoes the caller identity in text form.
func (s *Service) WhoAmI(_ context.Context, caller interfaces.Identity) string {
	s.debugCaller("whoami", caller)
	return caller.String()
}

// AsymmetricPublicKey returns the public key of the asymmetric path.
func (s *Service) AsymmetricPublicKey(ctx context.Context) ([]byte, error) {
	publicKey, err := s.oracle.DerivePublicKey(ctx, AsymmetricDerivationPath)
	if err != nil {
		return nil, fmt.Errorf("deriving public key: %w", err)
	}
	return publicKey, nil
}

// AsymmetricEncryptedKey derives the caller's key encrypted to
// transportPublicKey regardless of any stored secret.
func (s *Service) AsymmetricEncryptedKey(ctx context.Context, caller interfaces.Identity, transportPublicKey []byte) ([]byte, error) {
	s.debugCaller("asymmetric_encrypted_key", caller)

	encryptedKey, err := s.oracle.DeriveEncryptedPrivateKey(ctx, caller, AsymmetricDerivationPath, transportPublicKey)
	if err != nil {
		return nil, fmt.Errorf("deriving encrypted key: %w", err)
	}

	metrics.RecordDerivation(true)
	s.publish(ctx, events.NewEvent(events.KindEncryptedKey, caller.String(), true))
	return encryptedKey, nil
}

// Available reports whether the configured store answers. Without custody
// there is nothing to check.
func (s *Service) Available(ctx context.Context) bool {
	if !s.cfg.Custody {
		return true
	}
	checker, ok := s.store.(interface{ Available(context.Context) bool })
	if !ok {
		return true
	}
	return checker.Available(ctx)
}

func (s *Service) debugCaller(method string, caller interfaces.Identity) {
	s.log.Debug(fmt.Sprintf("%s (%s): caller: %s (isAnonymous: %t)",
		method, AsymmetricDerivationPath, caller, caller.IsAnonymous()))
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn("failed to publish custody event",
			slog.String("kind", string(event.Kind)),
			slog.String("err", err.Error()))
	}
}
