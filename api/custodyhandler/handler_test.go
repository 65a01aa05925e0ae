package custodyhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/vetkd-custody-backend/api"
	"github.com/ruteri/vetkd-custody-backend/cryptoutils"
	"github.com/ruteri/vetkd-custody-backend/custody"
	"github.com/ruteri/vetkd-custody-backend/httpserver"
	"github.com/ruteri/vetkd-custody-backend/interfaces"
	"github.com/ruteri/vetkd-custody-backend/kms"
	"github.com/ruteri/vetkd-custody-backend/ratelimiter"
	"github.com/ruteri/vetkd-custody-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockKeyCustody is a mock implementation of interfaces.KeyCustody
type MockKeyCustody struct {
	mock.Mock
}

func (m *MockKeyCustody) GetAsymmetricKeys(ctx context.Context, caller interfaces.Identity, tpk []byte) (*interfaces.AsymmetricKeysReply, error) {
	args := m.Called(ctx, caller, tpk)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.AsymmetricKeysReply), args.Error(1)
}

func (m *MockKeyCustody) SaveEncryptedSecret(ctx context.Context, caller interfaces.Identity, blob []byte) error {
	args := m.Called(ctx, caller, blob)
	return args.Error(0)
}

func (m *MockKeyCustody) WhoAmI(ctx context.Context, caller interfaces.Identity) string {
	args := m.Called(ctx, caller)
	return args.String(0)
}

func (m *MockKeyCustody) AsymmetricPublicKey(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockKeyCustody) AsymmetricEncryptedKey(ctx context.Context, caller interfaces.Identity, tpk []byte) ([]byte, error) {
	args := m.Called(ctx, caller, tpk)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

var testTPK = bytes.Repeat([]byte{0xab}, interfaces.TransportPublicKeySize)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newRouter mounts the handler behind the identity middleware, as the server does.
func newRouter(h *Handler) http.Handler {
	mux := chi.NewRouter()
	mux.Use(httpserver.IdentityMiddleware(time.Minute, nil, discardLogger()))
	h.RegisterRoutes(mux)
	return mux
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func TestHandleAsymmetricKeys_ErrorMapping(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"rejected", fmt.Errorf("deriving: %w", interfaces.ErrOracleRejected), http.StatusBadGateway, api.CodeOracleRejected},
		{"unavailable", interfaces.ErrOracleUnavailable, http.StatusServiceUnavailable, api.CodeOracleUnavailable},
		{"store", interfaces.ErrStoreUnavailable, http.StatusServiceUnavailable, api.CodeStoreUnavailable},
		{"forbidden", interfaces.ErrForbidden, http.StatusForbidden, api.CodeForbidden},
		{"internal", assert.AnError, http.StatusInternalServerError, api.CodeInternal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(MockKeyCustody)
			svc.On("GetAsymmetricKeys", mock.Anything, interfaces.AnonymousIdentity, testTPK).Return(nil, tc.err)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/asymmetric_keys", jsonBody(t, api.TransportKeyRequest{TransportPublicKey: testTPK}))
			w := httptest.NewRecorder()
			newRouter(NewHandler(svc, Config{}, discardLogger())).ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
			var errResp api.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
			assert.Equal(t, tc.code, errResp.Code)
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestHandleAsymmetricKeys_BadRequests(t *testing.T) {
	svc := new(MockKeyCustody)
	router := newRouter(NewHandler(svc, Config{}, discardLogger()))

	for name, body := range map[string]string{
		"empty":     "",
		"malformed": "{",
		"short key": `{"transport_public_key":"AAEC"}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/asymmetric_keys", bytes.NewBufferString(body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	svc.AssertNotCalled(t, "GetAsymmetricKeys", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleSaveEncryptedSecret(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	caller := cryptoutils.IdentityFromPublicKey(&key.PublicKey)

	svc := new(MockKeyCustody)
	svc.On("SaveEncryptedSecret", mock.Anything, caller, []byte("secret")).Return(nil).Once()
	router := newRouter(NewHandler(svc, Config{MaxSecretSize: 16}, discardLogger()))

	send := func(t *testing.T, method, path string, signed bool, body []byte) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		if signed {
			ts := time.Now().Unix()
			sig, err := cryptoutils.SignRequest(key, method, path, body, ts)
			require.NoError(t, err)
			req.Header.Set(cryptoutils.SignatureHeader, fmt.Sprintf("%x", sig))
			req.Header.Set(cryptoutils.TimestampHeader, fmt.Sprint(ts))
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	body, _ := json.Marshal(api.SaveSecretRequest{EncryptedSecret: []byte("secret")})

	t.Run("signed", func(t *testing.T) {
		w := send(t, http.MethodPut, "/api/v1/encrypted_secret", true, body)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("anonymous", func(t *testing.T) {
		w := send(t, http.MethodPut, "/api/v1/encrypted_secret", false, body)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("empty secret", func(t *testing.T) {
		empty, _ := json.Marshal(api.SaveSecretRequest{})
		w := send(t, http.MethodPut, "/api/v1/encrypted_secret", true, empty)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("too large", func(t *testing.T) {
		large, _ := json.Marshal(api.SaveSecretRequest{EncryptedSecret: bytes.Repeat([]byte{1}, 17)})
		w := send(t, http.MethodPost, "/api/v1/asymmetric_save_encrypted_aes_key", true, large)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("tampered body", func(t *testing.T) {
		tampered := new(MockKeyCustody)
		tampered.On("SaveEncryptedSecret", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		tamperedRouter := newRouter(NewHandler(tampered, Config{}, discardLogger()))

		req := httptest.NewRequest(http.MethodPut, "/api/v1/encrypted_secret", bytes.NewReader(body))
		ts := time.Now().Unix()
		sig, err := cryptoutils.SignRequest(key, http.MethodPut, "/api/v1/encrypted_secret", []byte(`{"encrypted_secret":"b3RoZXI="}`), ts)
		require.NoError(t, err)
		req.Header.Set(cryptoutils.SignatureHeader, fmt.Sprintf("%x", sig))
		req.Header.Set(cryptoutils.TimestampHeader, fmt.Sprint(ts))
		w := httptest.NewRecorder()
		tamperedRouter.ServeHTTP(w, req)

		// a recoverable signature over other bytes yields some other identity
		tampered.AssertNotCalled(t, "SaveEncryptedSecret", mock.Anything, caller, mock.Anything)
	})

	t.Run("custody disabled", func(t *testing.T) {
		other := new(MockKeyCustody)
		other.On("SaveEncryptedSecret", mock.Anything, caller, []byte("secret")).Return(interfaces.ErrCustodyDisabled)
		router = newRouter(NewHandler(other, Config{}, discardLogger()))
		w := send(t, http.MethodPut, "/api/v1/encrypted_secret", true, body)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleWhoAmI_CBOR(t *testing.T) {
	svc := new(MockKeyCustody)
	svc.On("WhoAmI", mock.Anything, interfaces.AnonymousIdentity).Return("2vxsx-fae")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set("Accept", ContentTypeCBOR)
	w := httptest.NewRecorder()
	newRouter(NewHandler(svc, Config{}, discardLogger())).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ContentTypeCBOR, w.Header().Get("Content-Type"))

	var resp api.WhoAmIResponse
	require.NoError(t, cbor.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2vxsx-fae", resp.Identity)
}

func TestHandleAsymmetricKeys_CBORRequest(t *testing.T) {
	svc := new(MockKeyCustody)
	svc.On("GetAsymmetricKeys", mock.Anything, interfaces.AnonymousIdentity, testTPK).
		Return(&interfaces.AsymmetricKeysReply{PublicKey: []byte("pk"), EncryptedKey: []byte("ek")}, nil)

	body, err := cbor.Marshal(api.TransportKeyRequest{TransportPublicKey: testTPK})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/asymmetric_keys", bytes.NewReader(body))
	req.Header.Set("Content-Type", ContentTypeCBOR)
	w := httptest.NewRecorder()
	newRouter(NewHandler(svc, Config{}, discardLogger())).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var reply interfaces.AsymmetricKeysReply
	require.NoError(t, cbor.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, []byte("pk"), reply.PublicKey)
	assert.Equal(t, []byte("ek"), reply.EncryptedKey)
	assert.Nil(t, reply.EncryptedSecret)
}

func TestRateLimit(t *testing.T) {
	svc := new(MockKeyCustody)
	svc.On("AsymmetricPublicKey", mock.Anything).Return([]byte("pk"), nil)
	svc.On("WhoAmI", mock.Anything, interfaces.AnonymousIdentity).Return("2vxsx-fae")

	limiter := ratelimiter.New(ratelimiter.Config{Identity: ratelimiter.Limit{RPS: 0.001, Burst: 2}, IdleTTL: time.Minute})
	router := newRouter(NewHandler(svc, Config{RateLimiter: limiter}, discardLogger()))

	statuses := make([]int, 0, 3)
	for range 3 {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/asymmetric_public_key", nil))
		statuses = append(statuses, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)

	// anonymous callers are limited per remote host
	other := httptest.NewRequest(http.MethodPost, "/api/v1/asymmetric_public_key", nil)
	other.RemoteAddr = "198.51.100.7:4000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, other)
	assert.Equal(t, http.StatusOK, w.Code)

	// whoami is never limited
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

// End to end over HTTP with the dev oracle and a memory store.
func TestClientFlow(t *testing.T) {
	ctx := context.Background()

	dev, err := kms.NewDevOracle(bytes.Repeat([]byte{0x05}, 32))
	require.NoError(t, err)
	oracleClient, err := kms.NewOracleClient(dev, interfaces.VetKDKeyID{Curve: interfaces.VetKDCurveBLS12381G2, Name: kms.DefaultKeyName})
	require.NoError(t, err)
	svc, err := custody.NewService(custody.Config{Custody: true}, oracleClient,
		storage.NewSecretStore(storage.NewMemoryMap(), discardLogger()), nil, discardLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(newRouter(NewHandler(svc, Config{}, discardLogger())))
	defer srv.Close()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	client, err := NewClient(srv.URL, key, srv.Client())
	require.NoError(t, err)
	anonymous, err := NewClient(srv.URL, nil, srv.Client())
	require.NoError(t, err)

	identity, err := client.WhoAmI(ctx)
	require.NoError(t, err)
	assert.Equal(t, client.Identity().String(), identity)

	identity, err = anonymous.WhoAmI(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2vxsx-fae", identity)

	tsk, err := cryptoutils.GenerateTransportKey()
	require.NoError(t, err)

	// scenario A
	reply, err := client.AsymmetricKeys(ctx, tsk.PublicKey())
	require.NoError(t, err)
	require.NotEmpty(t, reply.PublicKey)
	require.NotEmpty(t, reply.EncryptedKey)
	assert.Nil(t, reply.EncryptedSecret)

	vetKey, err := cryptoutils.DecryptAndVerify(tsk, reply.EncryptedKey, reply.PublicKey, client.Identity().Bytes())
	require.NoError(t, err)
	assert.NotEmpty(t, vetKey)

	publicKey, err := anonymous.AsymmetricPublicKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, reply.PublicKey, publicKey)

	// scenario B
	require.NoError(t, client.SaveEncryptedSecret(ctx, []byte("SECRET")))
	reply, err = client.AsymmetricKeys(ctx, tsk.PublicKey())
	require.NoError(t, err)
	assert.Nil(t, reply.EncryptedKey)
	assert.Equal(t, []byte("SECRET"), reply.EncryptedSecret)

	encryptedKey, err := client.AsymmetricEncryptedKey(ctx, tsk.PublicKey())
	require.NoError(t, err)
	assert.Len(t, encryptedKey, interfaces.EncryptedKeySize)

	// scenario C
	err = anonymous.SaveEncryptedSecret(ctx, []byte("SECRET"))
	assert.ErrorIs(t, err, interfaces.ErrForbidden)
	identity, err = anonymous.WhoAmI(ctx)
	require.NoError(t, err)
	assert.Equal(t, interfaces.AnonymousIdentity.String(), identity)
}

func TestClientMapsErrors(t *testing.T) {
	svc := new(MockKeyCustody)
	svc.On("AsymmetricPublicKey", mock.Anything).Return(nil, interfaces.ErrOracleUnavailable)

	srv := httptest.NewServer(newRouter(NewHandler(svc, Config{}, discardLogger())))
	defer srv.Close()

	client, err := NewClient(srv.URL, nil, srv.Client())
	require.NoError(t, err)

	_, err = client.AsymmetricPublicKey(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrOracleUnavailable)

	_, err = NewClient("ftp://example.com", nil, nil)
	assert.Error(t, err)
}
