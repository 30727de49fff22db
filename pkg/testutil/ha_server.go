package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/m-lange/puretools-remote/internal/ha"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) write(msg ha.Message) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.WriteJSON(msg)
}

// ServiceCall is a service call received by MockHAServer
type ServiceCall struct {
	Timestamp   time.Time
	Domain      string
	Service     string
	ServiceData map[string]any
}

// EntityID returns the entity_id of the call, if any
func (c ServiceCall) EntityID() string {
	id, _ := c.ServiceData["entity_id"].(string)
	return id
}

// MockHAServer simulates the Home Assistant WebSocket API for the helpers
// the bridge uses. Like Home Assistant, set_options on an input_select
// resets its state to the first option when the current one is dropped.
type MockHAServer struct {
	server *httptest.Server
	token  string

	statesMu sync.RWMutex
	states   map[string]*ha.State

	connsMu     sync.Mutex
	connections []*connWrapper

	callsMu      sync.Mutex
	serviceCalls []ServiceCall
}

type wsRequest struct {
	ID          int            `json:"id"`
	Type        string         `json:"type"`
	AccessToken string         `json:"access_token"`
	Domain      string         `json:"domain"`
	Service     string         `json:"service"`
	ServiceData map[string]any `json:"service_data"`
}

// NewMockHAServer starts a mock server accepting token
func NewMockHAServer(token string) *MockHAServer {
	s := &MockHAServer{
		token:  token,
		states: make(map[string]*ha.State),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	s.server = httptest.NewServer(mux)
	return s
}

// URL returns the WebSocket URL of the server
func (s *MockHAServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/api/websocket"
}

// Close closes all connections and stops the server
func (s *MockHAServer) Close() {
	s.connsMu.Lock()
	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
	s.connections = nil
	s.connsMu.Unlock()

	s.server.Close()
}

// SetState sets a state and broadcasts a state_changed event
func (s *MockHAServer) SetState(entityID, state string, attributes map[string]any) {
	s.statesMu.Lock()
	oldState := s.states[entityID]
	now := time.Now()
	newState := &ha.State{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	s.states[entityID] = newState
	s.statesMu.Unlock()

	s.broadcastStateChange(entityID, oldState, newState)
}

// GetState retrieves a state, nil if the entity does not exist
func (s *MockHAServer) GetState(entityID string) *ha.State {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// AddSelect creates an input_select helper
func (s *MockHAServer) AddSelect(name string, options []string, current string) {
	s.SetState("input_select."+name, current, map[string]any{"options": toAny(options)})
}

// AddBoolean creates an input_boolean helper
func (s *MockHAServer) AddBoolean(name string, on bool) {
	state := "off"
	if on {
		state = "on"
	}
	s.SetState("input_boolean."+name, state, map[string]any{})
}

func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wrapper := &connWrapper{conn: conn}
	defer func() {
		s.connsMu.Lock()
		for i, c := range s.connections {
			if c == wrapper {
				s.connections = append(s.connections[:i], s.connections[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
		conn.Close()
	}()

	wrapper.write(ha.Message{Type: "auth_required"})

	var auth wsRequest
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != s.token {
		wrapper.write(ha.Message{Type: "auth_invalid"})
		return
	}
	wrapper.write(ha.Message{Type: "auth_ok"})

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		switch req.Type {
		case "subscribe_events":
			wrapper.write(result(req.ID, nil))
		case "get_states":
			s.statesMu.RLock()
			states := make([]*ha.State, 0, len(s.states))
			for _, state := range s.states {
				states = append(states, state)
			}
			s.statesMu.RUnlock()
			data, _ := json.Marshal(states)
			wrapper.write(result(req.ID, data))
		case "call_service":
			s.handleCallService(req)
			wrapper.write(result(req.ID, nil))
		}
	}
}

func result(id int, data json.RawMessage) ha.Message {
	success := true
	return ha.Message{ID: id, Type: "result", Success: &success, Result: data}
}

func (s *MockHAServer) handleCallService(req wsRequest) {
	call := ServiceCall{
		Timestamp:   time.Now(),
		Domain:      req.Domain,
		Service:     req.Service,
		ServiceData: req.ServiceData,
	}
	s.callsMu.Lock()
	s.serviceCalls = append(s.serviceCalls, call)
	s.callsMu.Unlock()

	entityID := call.EntityID()
	current := s.GetState(entityID)
	if current == nil {
		return
	}

	switch req.Domain + "." + req.Service {
	case "input_boolean.turn_on":
		s.SetState(entityID, "on", current.Attributes)
	case "input_boolean.turn_off":
		s.SetState(entityID, "off", current.Attributes)
	case "input_select.select_option":
		option, _ := req.ServiceData["option"].(string)
		if slices.Contains(current.Options(), option) {
			s.SetState(entityID, option, current.Attributes)
		}
	case "input_select.set_options":
		raw, _ := req.ServiceData["options"].([]any)
		options := make([]string, 0, len(raw))
		for _, v := range raw {
			if str, ok := v.(string); ok {
				options = append(options, str)
			}
		}
		state := current.State
		if !slices.Contains(options, state) && len(options) > 0 {
			state = options[0]
		}
		s.SetState(entityID, state, map[string]any{"options": toAny(options)})
	}
}

func (s *MockHAServer) broadcastStateChange(entityID string, oldState, newState *ha.State) {
	data, _ := json.Marshal(ha.StateChangedEvent{
		EntityID: entityID,
		NewState: newState,
		OldState: oldState,
	})
	msg := ha.Message{
		Type: "event",
		Event: &ha.Event{
			EventType: "state_changed",
			Data:      data,
			Origin:    "LOCAL",
			TimeFired: time.Now(),
		},
	}

	s.connsMu.Lock()
	wrappers := slices.Clone(s.connections)
	s.connsMu.Unlock()

	for _, wrapper := range wrappers {
		wrapper.write(msg)
	}
}

// GetServiceCalls returns all service calls since the last clear
func (s *MockHAServer) GetServiceCalls() []ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	return slices.Clone(s.serviceCalls)
}

// ClearServiceCalls resets the service call log
func (s *MockHAServer) ClearServiceCalls() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.serviceCalls = nil
}

// FilterServiceCalls keeps calls matching domain and service
func FilterServiceCalls(calls []ServiceCall, domain, service string) []ServiceCall {
	var filtered []ServiceCall
	for _, call := range calls {
		if call.Domain == domain && call.Service == service {
			filtered = append(filtered, call)
		}
	}
	return filtered
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
