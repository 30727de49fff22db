package puretools

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/m-lange/puretools-remote/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, device *testutil.FakeSwitcher, opts ...Option) *Client {
	t.Helper()
	client, err := NewClient(
		Endpoint{Host: device.Host(), Port: device.Port()},
		StaticSession(&http.Client{Timeout: 2 * time.Second}),
		opts...,
	)
	require.NoError(t, err)
	return client
}

func TestNewClient_Validation(t *testing.T) {
	session := StaticSession(http.DefaultClient)

	tests := []struct {
		name        string
		endpoint    Endpoint
		provider    SessionProvider
		errContains string
	}{
		{name: "valid", endpoint: Endpoint{Host: "192.168.1.50", Port: "80"}, provider: session},
		{name: "empty host", endpoint: Endpoint{Port: "80"}, provider: session, errContains: "host is required"},
		{name: "empty port", endpoint: Endpoint{Host: "switcher"}, provider: session, errContains: "port is required"},
		{name: "bad port", endpoint: Endpoint{Host: "switcher", Port: "http"}, provider: session, errContains: "between 1 and 65535"},
		{name: "port out of range", endpoint: Endpoint{Host: "switcher", Port: "70000"}, provider: session, errContains: "between 1 and 65535"},
		{name: "nil provider", endpoint: Endpoint{Host: "switcher", Port: "80"}, errContains: "session provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.endpoint, tt.provider)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				assert.Nil(t, client)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "http://192.168.1.50:80", client.Endpoint().BaseURL())
		})
	}
}

func TestClient_SysInfo(t *testing.T) {
	device := testutil.NewFakeSwitcher(testutil.SwitcherState{
		Model: "PT-HDMI-401", SWVersion: "1.2.0", Source: "HDMI3", Auto: true,
	})
	defer device.Close()

	client := newTestClient(t, device)
	info, err := client.SysInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SysInfo{Model: "PT-HDMI-401", SWVersion: "1.2.0", Source: SourceHDMI3, Auto: true}, info)
	assert.Equal(t, []string{"/sysinfo"}, testutil.Paths(device.Calls()))
}

func TestClient_CommandPaths(t *testing.T) {
	device := testutil.NewFakeSwitcher(testutil.SwitcherState{Model: "m", SWVersion: "1", Source: "HDMI1"})
	defer device.Close()

	client := newTestClient(t, device)
	ctx := context.Background()

	for n := 1; n <= InputCount; n++ {
		_, err := client.SelectInput(ctx, n)
		require.NoError(t, err)
	}
	_, err := client.SetAutoMode(ctx, true)
	require.NoError(t, err)
	_, err = client.SetAutoMode(ctx, false)
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"/hdmi1", "/hdmi2", "/hdmi3", "/hdmi4", "/auto", "/manual"},
		testutil.Paths(device.Calls()))
}

func TestClient_SelectInputRejectsOutOfRange(t *testing.T) {
	device := testutil.NewFakeSwitcher(testutil.SwitcherState{Model: "m", SWVersion: "1", Source: "HDMI1"})
	defer device.Close()

	client := newTestClient(t, device)

	for _, n := range []int{0, 5, -1} {
		_, err := client.SelectInput(context.Background(), n)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
	assert.Empty(t, device.Calls(), "invalid input must not reach the device")
}

func TestClient_CannotConnect(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*testutil.FakeSwitcher)
	}{
		{name: "dropped connection", setup: func(d *testutil.FakeSwitcher) { d.SetUnreachable(true) }},
		{name: "malformed json", setup: func(d *testutil.FakeSwitcher) { d.SetMalformed(true) }},
		{name: "server error", setup: func(d *testutil.FakeSwitcher) { d.SetStatus(http.StatusInternalServerError) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := testutil.NewFakeSwitcher(testutil.SwitcherState{Model: "m", SWVersion: "1", Source: "HDMI1"})
			defer device.Close()
			tt.setup(device)

			client := newTestClient(t, device)

			_, err := client.SysInfo(context.Background())
			assert.ErrorIs(t, err, ErrCannotConnect)

			_, err = client.SetAutoMode(context.Background(), true)
			assert.ErrorIs(t, err, ErrCannotConnect)
		})
	}
}

func TestClient_RefusedConnection(t *testing.T) {
	device := testutil.NewFakeSwitcher(testutil.SwitcherState{})
	client := newTestClient(t, device)
	device.Close()

	_, err := client.SysInfo(context.Background())
	assert.ErrorIs(t, err, ErrCannotConnect)
}

func TestClient_SysInfoMissingKeys(t *testing.T) {
	server := newRawServer(t, `{"model": "PT-HDMI-401", "source": "HDMI1"}`)
	client, err := NewClient(server.endpoint, StaticSession(http.DefaultClient))
	require.NoError(t, err)

	_, err = client.SysInfo(context.Background())
	require.ErrorIs(t, err, ErrCannotConnect)
	assert.Contains(t, err.Error(), "sw_version")
	assert.Contains(t, err.Error(), "auto")
}

func TestClient_EmptyAckAccepted(t *testing.T) {
	server := newRawServer(t, "")
	client, err := NewClient(server.endpoint, StaticSession(http.DefaultClient))
	require.NoError(t, err)

	ack, err := client.SelectInput(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, ack)
}

func TestClient_SessionReacquiredAfterClose(t *testing.T) {
	device := testutil.NewFakeSwitcher(testutil.SwitcherState{Model: "m", SWVersion: "1", Source: "HDMI1"})
	defer device.Close()

	acquired := 0
	provider := func() *http.Client {
		acquired++
		return &http.Client{Timeout: 2 * time.Second}
	}

	client, err := NewClient(Endpoint{Host: device.Host(), Port: device.Port()}, provider)
	require.NoError(t, err)
	assert.Equal(t, 0, acquired, "session is acquired lazily")

	_, err = client.SysInfo(context.Background())
	require.NoError(t, err)
	_, err = client.SysInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, acquired)

	client.Close()
	_, err = client.SysInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, acquired)
}

func TestClient_RequestHook(t *testing.T) {
	device := testutil.NewFakeSwitcher(testutil.SwitcherState{Model: "m", SWVersion: "1", Source: "HDMI1"})
	defer device.Close()

	type observed struct {
		path string
		err  error
	}
	var seen []observed
	client := newTestClient(t, device, WithRequestHook(func(path string, _ time.Duration, err error) {
		seen = append(seen, observed{path: path, err: err})
	}))

	_, err := client.SelectInput(context.Background(), 4)
	require.NoError(t, err)

	device.SetUnreachable(true)
	_, err = client.SysInfo(context.Background())
	require.Error(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, "/hdmi4", seen[0].path)
	assert.NoError(t, seen[0].err)
	assert.Equal(t, "/sysinfo", seen[1].path)
	assert.True(t, errors.Is(seen[1].err, ErrCannotConnect))
}

func TestSource_Input(t *testing.T) {
	for n := 1; n <= InputCount; n++ {
		source, err := SourceForInput(n)
		require.NoError(t, err)
		got, ok := source.Input()
		assert.True(t, ok)
		assert.Equal(t, n, got)
	}

	_, ok := Source("HDMI5").Input()
	assert.False(t, ok)
	_, ok = Source("hdmi1").Input()
	assert.False(t, ok)
}
