package custody

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ruteri/vetkd-custody-backend/cryptoutils"
	"github.com/ruteri/vetkd-custody-backend/events"
	"github.com/ruteri/vetkd-custody-backend/interfaces"
	"github.com/ruteri/vetkd-custody-backend/kms"
	"github.com/ruteri/vetkd-custody-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOracle is a mock implementation of interfaces.KeyDerivationOracle
type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) DerivePublicKey(ctx context.Context, path interfaces.DerivationPath) ([]byte, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockOracle) DeriveEncryptedPrivateKey(ctx context.Context, identity interfaces.Identity, path interfaces.DerivationPath, tpk []byte) ([]byte, error) {
	args := m.Called(ctx, identity, path, tpk)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

var (
	testPK     = []byte("public-key")
	testEK     = []byte("encrypted-key")
	testTPK    = []byte("transport-public-key")
	testSecret = []byte("encrypted-secret")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, custody bool) (*Service, *MockOracle, *storage.SecretStore, *recordingPublisher) {
	t.Helper()
	oracle := new(MockOracle)
	store := storage.NewSecretStore(storage.NewMemoryMap(), discardLogger())
	publisher := &recordingPublisher{}
	svc, err := NewService(Config{Custody: custody}, oracle, store, publisher, discardLogger())
	require.NoError(t, err)
	return svc, oracle, store, publisher
}

func TestNewService(t *testing.T) {
	_, err := NewService(Config{Custody: true}, nil, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewService(Config{Custody: true}, new(MockOracle), nil, nil, nil)
	assert.Error(t, err, "custody without a store must be rejected")

	svc, err := NewService(Config{Custody: false}, new(MockOracle), nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, svc.Available(context.Background()))
}

// Scenario A: a fresh identity receives a derived encrypted key.
func TestGetAsymmetricKeys_FreshIdentity(t *testing.T) {
	ctx := context.Background()
	svc, oracle, _, publisher := newTestService(t, true)
	u1 := interfaces.SelfAuthenticatingIdentity([]byte("u1"))

	oracle.On("DerivePublicKey", ctx, AsymmetricDerivationPath).Return(testPK, nil).Once()
	oracle.On("DeriveEncryptedPrivateKey", ctx, u1, AsymmetricDerivationPath, testTPK).Return(testEK, nil).Once()

	reply, err := svc.GetAsymmetricKeys(ctx, u1, testTPK)
	require.NoError(t, err)
	assert.Equal(t, testPK, reply.PublicKey)
	assert.Equal(t, testEK, reply.EncryptedKey)
	assert.Nil(t, reply.EncryptedSecret)

	oracle.AssertExpectations(t)
	oracle.AssertNumberOfCalls(t, "DeriveEncryptedPrivateKey", 1)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, events.KindAsymmetricKeys, publisher.events[0].Kind)
	assert.Equal(t, u1.String(), publisher.events[0].Identity)
	assert.True(t, publisher.events[0].Derived)
}

// Scenario B: a stored secret suppresses the private key derivation.
func TestGetAsymmetricKeys_StoredSecret(t *testing.T) {
	ctx := context.Background()
	svc, oracle, _, publisher := newTestService(t, true)
	u1 := interfaces.SelfAuthenticatingIdentity([]byte("u1"))

	require.NoError(t, svc.SaveEncryptedSecret(ctx, u1, testSecret))

	oracle.On("DerivePublicKey", ctx, AsymmetricDerivationPath).Return(testPK, nil).Once()

	reply, err := svc.GetAsymmetricKeys(ctx, u1, testTPK)
	require.NoError(t, err)
	assert.Equal(t, testPK, reply.PublicKey)
	assert.Nil(t, reply.EncryptedKey)
	assert.Equal(t, testSecret, reply.EncryptedSecret)

	oracle.AssertExpectations(t)
	oracle.AssertNotCalled(t, "DeriveEncryptedPrivateKey", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	require.Len(t, publisher.events, 2)
	assert.Equal(t, events.KindSecretSaved, publisher.events[0].Kind)
	assert.False(t, publisher.events[1].Derived)
}

// Scenario C: anonymous callers cannot save but can still ask who they are.
func TestSaveEncryptedSecret_AnonymousForbidden(t *testing.T) {
	ctx := context.Background()
	svc, _, store, publisher := newTestService(t, true)

	_, found, err := store.Load(ctx, interfaces.AnonymousIdentity)
	require.NoError(t, err)
	require.False(t, found)

	err = svc.SaveEncryptedSecret(ctx, interfaces.AnonymousIdentity, testSecret)
	assert.ErrorIs(t, err, interfaces.ErrForbidden)

	_, found, err = store.Load(ctx, interfaces.AnonymousIdentity)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, publisher.events)

	assert.Equal(t, "2vxsx-fae", svc.WhoAmI(ctx, interfaces.AnonymousIdentity))
}

func TestSaveEncryptedSecret_AnonymousNeverTouchesStore(t *testing.T) {
	ctx := context.Background()
	store := new(MockSecretStore)
	svc, err := NewService(Config{Custody: true}, new(MockOracle), store, nil, discardLogger())
	require.NoError(t, err)

	err = svc.SaveEncryptedSecret(ctx, interfaces.AnonymousIdentity, testSecret)
	assert.ErrorIs(t, err, interfaces.ErrForbidden)
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}

func TestSaveEncryptedSecret_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	svc, oracle, _, _ := newTestService(t, true)
	alice := interfaces.SelfAuthenticatingIdentity([]byte("alice"))
	bob := interfaces.SelfAuthenticatingIdentity([]byte("bob"))

	require.NoError(t, svc.SaveEncryptedSecret(ctx, alice, []byte("b1")))
	require.NoError(t, svc.SaveEncryptedSecret(ctx, alice, []byte("b2")))

	oracle.On("DerivePublicKey", ctx, AsymmetricDerivationPath).Return(testPK, nil)
	oracle.On("DeriveEncryptedPrivateKey", ctx, bob, AsymmetricDerivationPath, testTPK).Return(testEK, nil).Once()

	reply, err := svc.GetAsymmetricKeys(ctx, alice, testTPK)
	require.NoError(t, err)
	assert.Equal(t, []byte("b2"), reply.EncryptedSecret)

	// bob is unaffected by alice's saves
	reply, err = svc.GetAsymmetricKeys(ctx, bob, testTPK)
	require.NoError(t, err)
	assert.Nil(t, reply.EncryptedSecret)
	assert.Equal(t, testEK, reply.EncryptedKey)
	oracle.AssertExpectations(t)
}

func TestGetAsymmetricKeys_PublicKeyAlwaysPresent(t *testing.T) {
	ctx := context.Background()
	svc, oracle, _, _ := newTestService(t, true)
	u1 := interfaces.SelfAuthenticatingIdentity([]byte("u1"))

	oracle.On("DerivePublicKey", ctx, AsymmetricDerivationPath).Return(testPK, nil).Twice()
	oracle.On("DeriveEncryptedPrivateKey", ctx, u1, AsymmetricDerivationPath, testTPK).Return(testEK, nil).Once()

	before, err := svc.GetAsymmetricKeys(ctx, u1, testTPK)
	require.NoError(t, err)
	require.NoError(t, svc.SaveEncryptedSecret(ctx, u1, testSecret))
	after, err := svc.GetAsymmetricKeys(ctx, u1, testTPK)
	require.NoError(t, err)

	assert.Equal(t, testPK, before.PublicKey)
	assert.Equal(t, testPK, after.PublicKey)
	oracle.AssertExpectations(t)
}

func TestGetAsymmetricKeys_OracleFailuresAbort(t *testing.T) {
	ctx := context.Background()
	u1 := interfaces.SelfAuthenticatingIdentity([]byte("u1"))

	t.Run("public key", func(t *testing.T) {
		svc, oracle, _, publisher := newTestService(t, true)
		oracle.On("DerivePublicKey", ctx, AsymmetricDerivationPath).Return(nil, interfaces.ErrOracleUnavailable)

		reply, err := svc.GetAsymmetricKeys(ctx, u1, testTPK)
		assert.ErrorIs(t, err, interfaces.ErrOracleUnavailable)
		assert.Nil(t, reply)
		assert.Empty(t, publisher.events)
		oracle.AssertNotCalled(t, "DeriveEncryptedPrivateKey", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("encrypted key", func(t *testing.T) {
		svc, oracle, _, publisher := newTestService(t, true)
		oracle.On("DerivePublicKey", ctx, AsymmetricDerivationPath).Return(testPK, nil)
		oracle.On("DeriveEncryptedPrivateKey", ctx, u1, AsymmetricDerivationPath, testTPK).Return(nil, interfaces.ErrOracleRejected)

		reply, err := svc.GetAsymmetricKeys(ctx, u1, testTPK)
		assert.ErrorIs(t, err, interfaces.ErrOracleRejected)
		assert.Nil(t, reply)
		assert.Empty(t, publisher.events)
	})
}

func TestGetAsymmetricKeys_StoreFailureAborts(t *testing.T) {
	ctx := context.Background()
	u1 := interfaces.SelfAuthenticatingIdentity([]byte("u1"))
	oracle := new(MockOracle)
	store := new(MockSecretStore)
	svc, err := NewService(Config{Custody: true}, oracle, store, nil, discardLogger())
	require.NoError(t, err)

	oracle.On("DerivePublicKey", ctx, AsymmetricDerivationPath).Return(testPK, nil)
	store.On("Load", ctx, u1).Return(nil, false, interfaces.ErrStoreUnavailable)

	reply, err := svc.GetAsymmetricKeys(ctx, u1, testTPK)
	assert.ErrorIs(t, err, interfaces.ErrStoreUnavailable)
	assert.Nil(t, reply)
	oracle.AssertNotCalled(t, "DeriveEncryptedPrivateKey", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWithoutCustody(t *testing.T) {
	ctx := context.Background()
	oracle := new(MockOracle)
	svc, err := NewService(Config{Custody: false}, oracle, nil, nil, discardLogger())
	require.NoError(t, err)
	u1 := interfaces.SelfAuthenticatingIdentity([]byte("u1"))

	assert.ErrorIs(t, svc.SaveEncryptedSecret(ctx, u1, testSecret), interfaces.ErrCustodyDisabled)
	assert.ErrorIs(t, svc.SaveEncryptedSecret(ctx, interfaces.AnonymousIdentity, testSecret), interfaces.ErrForbidden)

	oracle.On("DerivePublicKey", ctx, AsymmetricDerivationPath).Return(testPK, nil)
	oracle.On("DeriveEncryptedPrivateKey", ctx, u1, AsymmetricDerivationPath, testTPK).Return(testEK, nil)

	reply, err := svc.GetAsymmetricKeys(ctx, u1, testTPK)
	require.NoError(t, err)
	assert.Equal(t, testEK, reply.EncryptedKey)
	assert.Nil(t, reply.EncryptedSecret)
}

func TestSingleKeyOperations(t *testing.T) {
	ctx := context.Background()
	svc, oracle, _, publisher := newTestService(t, true)
	u1 := interfaces.SelfAuthenticatingIdentity([]byte("u1"))
	require.NoError(t, svc.SaveEncryptedSecret(ctx, u1, testSecret))

	oracle.On("DerivePublicKey", ctx, AsymmetricDerivationPath).Return(testPK, nil)
	oracle.On("DeriveEncryptedPrivateKey", ctx, u1, AsymmetricDerivationPath, testTPK).Return(testEK, nil)

	pk, err := svc.AsymmetricPublicKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, testPK, pk)

	// derived even though a secret is stored
	ek, err := svc.AsymmetricEncryptedKey(ctx, u1, testTPK)
	require.NoError(t, err)
	assert.Equal(t, testEK, ek)

	require.Len(t, publisher.events, 2)
	assert.Equal(t, events.KindEncryptedKey, publisher.events[1].Kind)
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	ctx := context.Background()
	svc, _, _, publisher := newTestService(t, true)
	publisher.err = errors.New("sink down")

	err := svc.SaveEncryptedSecret(ctx, interfaces.SelfAuthenticatingIdentity([]byte("u1")), testSecret)
	assert.NoError(t, err)
	assert.Len(t, publisher.events, 1)
}

func TestKeysDecryptWithDevOracle(t *testing.T) {
	ctx := context.Background()
	keyID := interfaces.VetKDKeyID{Curve: interfaces.VetKDCurveBLS12381G2, Name: kms.DefaultKeyName}

	dev, err := kms.NewDevOracle(bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)
	client, err := kms.NewOracleClient(dev, keyID)
	require.NoError(t, err)

	svc, err := NewService(Config{Custody: true}, client, storage.NewSecretStore(storage.NewMemoryMap(), discardLogger()), nil, discardLogger())
	require.NoError(t, err)

	tsk, err := cryptoutils.GenerateTransportKey()
	require.NoError(t, err)

	alice := interfaces.SelfAuthenticatingIdentity([]byte("alice"))
	reply, err := svc.GetAsymmetricKeys(ctx, alice, tsk.PublicKey())
	require.NoError(t, err)
	require.NotEmpty(t, reply.EncryptedKey)

	vetKey, err := cryptoutils.DecryptAndVerify(tsk, reply.EncryptedKey, reply.PublicKey, alice.Bytes())
	require.NoError(t, err)

	// bootstrap: wrap a fresh secret key under the vetKey and store it
	wrapKey, err := cryptoutils.DeriveSymmetricKey(vetKey, "custody-secret")
	require.NoError(t, err)
	secretKey, err := cryptoutils.GenerateSecretKey()
	require.NoError(t, err)
	sealed, err := cryptoutils.SealSecret(wrapKey, secretKey)
	require.NoError(t, err)
	require.NoError(t, svc.SaveEncryptedSecret(ctx, alice, sealed))

	reply, err = svc.GetAsymmetricKeys(ctx, alice, tsk.PublicKey())
	require.NoError(t, err)
	assert.Nil(t, reply.EncryptedKey)

	opened, err := cryptoutils.OpenSecret(wrapKey, reply.EncryptedSecret)
	require.NoError(t, err)
	assert.Equal(t, secretKey, opened)

	// the same key is derived for alice on a later call and not for bob
	again, err := svc.AsymmetricEncryptedKey(ctx, alice, tsk.PublicKey())
	require.NoError(t, err)
	vetKeyAgain, err := cryptoutils.DecryptAndVerify(tsk, again, reply.PublicKey, alice.Bytes())
	require.NoError(t, err)
	assert.Equal(t, vetKey, vetKeyAgain)

	bob := interfaces.SelfAuthenticatingIdentity([]byte("bob"))
	bobKey, err := svc.AsymmetricEncryptedKey(ctx, bob, tsk.PublicKey())
	require.NoError(t, err)
	bobVetKey, err := cryptoutils.DecryptAndVerify(tsk, bobKey, reply.PublicKey, bob.Bytes())
	require.NoError(t, err)
	assert.NotEqual(t, vetKey, bobVetKey)
}

// MockSecretStore is a mock implementation of interfaces.EncryptedSecretStore
type MockSecretStore struct {
	mock.Mock
}

func (m *MockSecretStore) Save(ctx context.Context, identity interfaces.Identity, blob []byte) error {
	args := m.Called(ctx, identity, blob)
	return args.Error(0)
}

func (m *MockSecretStore) Load(ctx context.Context, identity interfaces.Identity) ([]byte, bool, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.Bool(1), args.Error(2)
}
