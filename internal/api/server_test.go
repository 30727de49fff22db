package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/m-lange/puretools-remote/internal/entity"
	"github.com/m-lange/puretools-remote/internal/integration"
	"github.com/m-lange/puretools-remote/internal/metrics"
	"github.com/m-lange/puretools-remote/internal/plugins/hdmiswitch"
	"github.com/m-lange/puretools-remote/internal/puretools"
	"github.com/m-lange/puretools-remote/internal/shadowstate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeController records calls and returns canned results
type fakeController struct {
	statuses map[string]hdmiswitch.Status
	err      error

	selected []string
	auto     []bool
	labels   entity.InputLabelMap
}

func newFakeController() *fakeController {
	return &fakeController{statuses: map[string]hdmiswitch.Status{
		"den": {ID: "den", Name: "Den", Host: "10.0.0.5", Port: "80", Ready: true,
			MediaPlayer: entity.MediaPlayerState{State: entity.PowerOn, Source: "Apple TV"}},
	}}
}

func (c *fakeController) Devices() []hdmiswitch.Status {
	return []hdmiswitch.Status{c.statuses["den"]}
}

func (c *fakeController) Device(id string) (hdmiswitch.Status, error) {
	st, ok := c.statuses[id]
	if !ok {
		return hdmiswitch.Status{}, fmt.Errorf("%w: %s", hdmiswitch.ErrUnknownSwitcher, id)
	}
	return st, nil
}

func (c *fakeController) SelectSource(_ context.Context, id, label string) (hdmiswitch.Status, error) {
	st, err := c.Device(id)
	if err != nil {
		return st, err
	}
	if c.err != nil {
		return st, c.err
	}
	c.selected = append(c.selected, label)
	st.MediaPlayer.Source = label
	return st, nil
}

func (c *fakeController) SetAutoSwitching(_ context.Context, id string, on bool) (hdmiswitch.Status, error) {
	st, err := c.Device(id)
	if err != nil {
		return st, err
	}
	if c.err != nil {
		return st, c.err
	}
	c.auto = append(c.auto, on)
	st.AutoSwitch.IsOn = on
	return st, nil
}

func (c *fakeController) UpdateOptions(id string, labels entity.InputLabelMap) (hdmiswitch.Status, error) {
	st, err := c.Device(id)
	if err != nil {
		return st, err
	}
	if err := labels.Validate(); err != nil {
		return st, err
	}
	c.labels = labels
	st.Labels = labels
	return st, nil
}

func newTestServer(t *testing.T, controller Controller) *httptest.Server {
	t.Helper()

	tracker := shadowstate.NewTracker()
	hdmi := shadowstate.NewHDMISwitchTracker(time.Now)
	tracker.RegisterPluginProvider("hdmiswitch", func() shadowstate.PluginShadowState { return hdmi.GetState() })

	registry, _ := metrics.NewRegistry()
	server := NewServer(controller, tracker, metrics.Handler(registry), zap.NewNop(), 0)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestListSwitchers(t *testing.T) {
	ts := newTestServer(t, newFakeController())

	resp, body := do(t, ts, http.MethodGet, "/api/switchers", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var statuses []hdmiswitch.Status
	require.NoError(t, json.Unmarshal(body, &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, "den", statuses[0].ID)
	assert.Equal(t, "Apple TV", statuses[0].MediaPlayer.Source)
}

func TestGetSwitcher(t *testing.T) {
	ts := newTestServer(t, newFakeController())

	resp, _ := do(t, ts, http.MethodGet, "/api/switchers/den", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, ts, http.MethodGet, "/api/switchers/attic", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Contains(t, errResp.Error, "unknown switcher")
}

func TestSelectSource(t *testing.T) {
	controller := newFakeController()
	ts := newTestServer(t, controller)

	resp, body := do(t, ts, http.MethodPost, "/api/switchers/den/source", `{"source": "PS5"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"PS5"}, controller.selected)

	var status hdmiswitch.Status
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "PS5", status.MediaPlayer.Source)

	resp, _ = do(t, ts, http.MethodPost, "/api/switchers/den/source", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, ts, http.MethodGet, "/api/switchers/den/source", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSetAutoSwitching(t *testing.T) {
	controller := newFakeController()
	ts := newTestServer(t, controller)

	resp, _ := do(t, ts, http.MethodPost, "/api/switchers/den/auto", `{"on": false}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []bool{false}, controller.auto)

	resp, _ = do(t, ts, http.MethodPost, "/api/switchers/den/auto", `{"enabled": true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateOptions(t *testing.T) {
	controller := newFakeController()
	ts := newTestServer(t, controller)

	resp, _ := do(t, ts, http.MethodPut, "/api/switchers/den/options", `{"hdmi1": "Roku"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, entity.InputLabelMap{"hdmi1": "Roku"}, controller.labels)

	resp, _ = do(t, ts, http.MethodPut, "/api/switchers/den/options", `{"hdmi7": "Roku"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, ts, http.MethodPut, "/api/switchers/den/options", `["Roku"]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestErrorStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "device unreachable", err: fmt.Errorf("switcher den: %w", puretools.ErrCannotConnect), code: http.StatusBadGateway},
		{name: "not set up yet", err: fmt.Errorf("switcher den: %w", integration.ErrNotReady), code: http.StatusServiceUnavailable},
		{name: "read-only", err: hdmiswitch.ErrReadOnlyMode, code: http.StatusConflict},
		{name: "other", err: fmt.Errorf("boom"), code: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			controller := newFakeController()
			controller.err = tt.err
			ts := newTestServer(t, controller)

			resp, _ := do(t, ts, http.MethodPost, "/api/switchers/den/source", `{"source": "PS5"}`)
			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}
}

func TestHealthShadowAndMetrics(t *testing.T) {
	ts := newTestServer(t, newFakeController())

	resp, body := do(t, ts, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status": "ok"}`, string(body))

	resp, body = do(t, ts, http.MethodGet, "/api/shadow", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var shadow map[string]map[string]any
	require.NoError(t, json.Unmarshal(body, &shadow))
	assert.Contains(t, shadow, "hdmiswitch")

	resp, body = do(t, ts, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestSitemap(t *testing.T) {
	ts := newTestServer(t, newFakeController())

	resp, body := do(t, ts, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "/api/switchers/{id}/source")
	assert.Contains(t, string(body), "/metrics")

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	htmlResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer htmlResp.Body.Close()
	assert.Equal(t, "text/html; charset=utf-8", htmlResp.Header.Get("Content-Type"))

	resp, _ = do(t, ts, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
