package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	mock.Mock
}

func (m *mockConn) Publish(subject string, data []byte) error {
	return m.Called(subject, data).Error(0)
}

func (m *mockConn) Drain() error {
	return m.Called().Error(0)
}

func TestNewEvent(t *testing.T) {
	e1 := NewEvent(KindSecretSaved, "2vxsx-fae", false)
	e2 := NewEvent(KindSecretSaved, "2vxsx-fae", false)
	assert.NotEqual(t, e1.ID, e2.ID)
	assert.False(t, e1.Timestamp.IsZero())
}

func TestNATSPublisher(t *testing.T) {
	conn := new(mockConn)
	publisher := newNATSPublisher(conn, "")
	event := NewEvent(KindAsymmetricKeys, "aaaaa-aa", true)

	var published []byte
	conn.On("Publish", "vetkd.custody.events.asymmetric_keys", mock.Anything).
		Run(func(args mock.Arguments) { published = args.Get(1).([]byte) }).
		Return(nil).Once()

	require.NoError(t, publisher.Publish(context.Background(), event))

	var decoded Event
	require.NoError(t, json.Unmarshal(published, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, KindAsymmetricKeys, decoded.Kind)
	assert.True(t, decoded.Derived)

	conn.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nats: connection closed"))
	assert.Error(t, publisher.Publish(context.Background(), event))

	conn.On("Drain").Return(nil)
	assert.NoError(t, publisher.Close())
	conn.AssertExpectations(t)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	publisher := NewLogPublisher(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, publisher.Publish(context.Background(), NewEvent(KindSecretSaved, "aaaaa-aa", false)))
	assert.Contains(t, buf.String(), `"kind":"secret_saved"`)
	assert.Contains(t, buf.String(), `"identity":"aaaaa-aa"`)

	assert.NoError(t, NoopPublisher{}.Publish(context.Background(), Event{}))
}
