// Package testutil provides test doubles for code that talks to a PureTools
// HDMI switcher. FakeSwitcher serves the device's HTTP/JSON API from an
// httptest server and records every request it receives.
package testutil

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"
)

// SwitcherState is the device state exposed via /sysinfo
type SwitcherState struct {
	Model     string `json:"model"`
	SWVersion string `json:"sw_version"`
	Source    string `json:"source"`
	Auto      bool   `json:"auto"`
}

// FakeSwitcher simulates a PureTools 4x1 HDMI switcher.
//
// Like the real device, selecting an input while auto-switching is enabled
// is acknowledged but has no effect.
type FakeSwitcher struct {
	server *httptest.Server

	mu          sync.Mutex
	state       SwitcherState
	calls       []DeviceCall
	unreachable bool
	malformed   bool
	status      int
}

// NewFakeSwitcher starts a fake switcher reporting the given state
func NewFakeSwitcher(initial SwitcherState) *FakeSwitcher {
	f := &FakeSwitcher{state: initial}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// Close shuts down the HTTP server
func (f *FakeSwitcher) Close() {
	f.server.Close()
}

// Host returns the host part of the server address
func (f *FakeSwitcher) Host() string {
	host, _ := f.hostPort()
	return host
}

// Port returns the port part of the server address
func (f *FakeSwitcher) Port() string {
	_, port := f.hostPort()
	return port
}

func (f *FakeSwitcher) hostPort() (string, string) {
	u, err := url.Parse(f.server.URL)
	if err != nil {
		panic(fmt.Sprintf("bad httptest url %q: %v", f.server.URL, err))
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		panic(fmt.Sprintf("bad httptest host %q: %v", u.Host, err))
	}
	return host, port
}

// State returns a copy of the current device state
func (f *FakeSwitcher) State() SwitcherState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SetState replaces the device state
func (f *FakeSwitcher) SetState(state SwitcherState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

// SetModel changes the model reported by /sysinfo
func (f *FakeSwitcher) SetModel(model string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Model = model
}

// SetUnreachable makes every request fail at the connection level
func (f *FakeSwitcher) SetUnreachable(unreachable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachable = unreachable
}

// SetMalformed makes every response body invalid JSON
func (f *FakeSwitcher) SetMalformed(malformed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.malformed = malformed
}

// SetStatus forces an HTTP status code for every response (0 restores 200)
func (f *FakeSwitcher) SetStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

// Calls returns all recorded requests
func (f *FakeSwitcher) Calls() []DeviceCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	calls := make([]DeviceCall, len(f.calls))
	copy(calls, f.calls)
	return calls
}

// ClearCalls resets the request history
func (f *FakeSwitcher) ClearCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *FakeSwitcher) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls = append(f.calls, DeviceCall{Timestamp: time.Now(), Path: r.URL.Path})
	unreachable := f.unreachable
	malformed := f.malformed
	status := f.status
	f.mu.Unlock()

	if unreachable {
		// Drop the connection without answering
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
		http.Error(w, "unreachable", http.StatusServiceUnavailable)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body any
	f.mu.Lock()
	switch r.URL.Path {
	case "/sysinfo":
		body = f.state
	case "/auto":
		f.state.Auto = true
		body = map[string]any{"auto": true}
	case "/manual":
		f.state.Auto = false
		body = map[string]any{"auto": false}
	case "/hdmi1", "/hdmi2", "/hdmi3", "/hdmi4":
		if !f.state.Auto {
			f.state.Source = "HDMI" + r.URL.Path[len("/hdmi"):]
		}
		body = map[string]any{"source": f.state.Source}
	default:
		f.mu.Unlock()
		http.NotFound(w, r)
		return
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	if malformed {
		fmt.Fprint(w, "{not json")
		return
	}
	json.NewEncoder(w).Encode(body)
}
