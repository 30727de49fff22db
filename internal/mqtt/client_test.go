package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildClientOptions(t *testing.T) {
	opts := buildClientOptions(Options{
		Broker:    "tcp://mqtt.local:1883",
		ClientID:  "puretools-remote",
		Username:  "bridge",
		Password:  "secret",
		WillTopic: "puretools-remote/status",
	})

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://mqtt.local:1883", opts.Servers[0].String())
	assert.Equal(t, "puretools-remote", opts.ClientID)
	assert.Equal(t, "bridge", opts.Username)
	assert.Equal(t, "secret", opts.Password)

	assert.True(t, opts.CleanSession)
	assert.True(t, opts.AutoReconnect)
	assert.True(t, opts.ConnectRetry)
	assert.Equal(t, maxReconnectDelay, opts.MaxReconnectInterval)
	assert.Equal(t, connectTimeout, opts.ConnectTimeout)
	assert.Equal(t, int64(keepAlive/time.Second), opts.KeepAlive)
	assert.False(t, opts.Order, "handlers must not run on the router goroutine")

	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "puretools-remote/status", opts.WillTopic)
	assert.Equal(t, []byte(OfflinePayload), opts.WillPayload)
	assert.Equal(t, byte(qos), opts.WillQos)
	assert.True(t, opts.WillRetained)
}

func TestBuildClientOptions_Anonymous(t *testing.T) {
	opts := buildClientOptions(Options{Broker: "tcp://mqtt.local:1883", ClientID: "x"})

	assert.Empty(t, opts.Username)
	assert.Empty(t, opts.Password)
	assert.False(t, opts.WillEnabled)
}

func TestClient_Offline(t *testing.T) {
	c := newClient(Options{Broker: "tcp://127.0.0.1:1", ClientID: "x", WillTopic: "base/status"}, zap.NewNop())

	err := c.Publish("base/den/source", true, []byte("PS5"))
	assert.ErrorIs(t, err, ErrNotConnected)

	handler := func(string, []byte) {}
	err = c.Subscribe("base/+/source/set", handler)
	assert.ErrorIs(t, err, ErrSubscribeFailed)

	// Kept for the resubscribe after the next connect
	c.subMu.RLock()
	_, kept := c.subscriptions["base/+/source/set"]
	c.subMu.RUnlock()
	assert.True(t, kept)

	c.Close()
}
