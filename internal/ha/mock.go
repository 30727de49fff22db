package ha

import (
	"fmt"
	"sync"
	"time"
)

// ServiceCall is a service call recorded by MockClient
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]any
	Time    time.Time
}

// MockClient is an in-memory HAClient. Service calls on input helpers
// update the stored state and notify subscribers, the way Home Assistant
// echoes state_changed events for helper changes.
type MockClient struct {
	statesMu sync.RWMutex
	states   map[string]*State

	subsMu      sync.RWMutex
	subscribers map[string][]subscriberEntry
	nextSubID   int

	connMu    sync.RWMutex
	connected bool

	callsMu      sync.Mutex
	serviceCalls []ServiceCall
	serviceErr   error
}

type mockSubscription struct {
	entityID string
	subID    int
	mock     *MockClient
}

func (s *mockSubscription) Unsubscribe() error {
	s.mock.subsMu.Lock()
	defer s.mock.subsMu.Unlock()

	entries := s.mock.subscribers[s.entityID]
	for i, entry := range entries {
		if entry.subID == s.subID {
			s.mock.subscribers[s.entityID] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	return nil
}

// NewMockClient creates a disconnected mock client
func NewMockClient() *MockClient {
	return &MockClient{
		states:      make(map[string]*State),
		subscribers: make(map[string][]subscriberEntry),
	}
}

func (m *MockClient) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	return nil
}

func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	m.connected = false
	m.connMu.Unlock()

	m.subsMu.Lock()
	m.subscribers = make(map[string][]subscriberEntry)
	m.subsMu.Unlock()
	return nil
}

func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

func (m *MockClient) GetState(entityID string) (*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	return state, nil
}

func (m *MockClient) GetAllStates() ([]*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	states := make([]*State, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, state)
	}
	return states, nil
}

// SetServiceError makes every following service call fail with err (nil
// restores success)
func (m *MockClient) SetServiceError(err error) {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.serviceErr = err
}

func (m *MockClient) CallService(domain, service string, data map[string]any) error {
	m.callsMu.Lock()
	m.serviceCalls = append(m.serviceCalls, ServiceCall{
		Domain:  domain,
		Service: service,
		Data:    data,
		Time:    time.Now(),
	})
	err := m.serviceErr
	m.callsMu.Unlock()

	if err != nil {
		return err
	}

	if entityID, ok := data["entity_id"].(string); ok {
		m.applyServiceCall(entityID, domain, service, data)
	}
	return nil
}

func (m *MockClient) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	subID := m.nextSubID
	m.nextSubID++
	m.subscribers[entityID] = append(m.subscribers[entityID], subscriberEntry{subID: subID, handler: handler})

	return &mockSubscription{entityID: entityID, subID: subID, mock: m}, nil
}

func (m *MockClient) SetInputBoolean(name string, value bool) error {
	service := "turn_off"
	if value {
		service = "turn_on"
	}
	return m.CallService("input_boolean", service, map[string]any{
		"entity_id": "input_boolean." + name,
	})
}

func (m *MockClient) SelectOption(name, option string) error {
	return m.CallService("input_select", "select_option", map[string]any{
		"entity_id": "input_select." + name,
		"option":    option,
	})
}

func (m *MockClient) SetSelectOptions(name string, options []string) error {
	return m.CallService("input_select", "set_options", map[string]any{
		"entity_id": "input_select." + name,
		"options":   options,
	})
}

// SetState stores a state and notifies subscribers, as if the change came
// from Home Assistant
func (m *MockClient) SetState(entityID, value string, attributes map[string]any) {
	if attributes == nil {
		attributes = make(map[string]any)
	}
	now := time.Now()
	m.replaceState(entityID, &State{
		EntityID:    entityID,
		State:       value,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	})
}

// SimulateStateChange changes only the state value, keeping attributes
func (m *MockClient) SimulateStateChange(entityID, value string) {
	m.statesMu.RLock()
	attributes := map[string]any{}
	if old, ok := m.states[entityID]; ok && old.Attributes != nil {
		attributes = old.Attributes
	}
	m.statesMu.RUnlock()

	m.SetState(entityID, value, attributes)
}

// GetServiceCalls returns all recorded service calls
func (m *MockClient) GetServiceCalls() []ServiceCall {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	calls := make([]ServiceCall, len(m.serviceCalls))
	copy(calls, m.serviceCalls)
	return calls
}

// ClearServiceCalls resets the service call history
func (m *MockClient) ClearServiceCalls() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.serviceCalls = nil
}

func (m *MockClient) applyServiceCall(entityID, domain, service string, data map[string]any) {
	m.statesMu.RLock()
	value := ""
	attributes := make(map[string]any)
	if old, ok := m.states[entityID]; ok {
		value = old.State
		for k, v := range old.Attributes {
			attributes[k] = v
		}
	}
	m.statesMu.RUnlock()

	switch domain + "." + service {
	case "input_boolean.turn_on":
		value = "on"
	case "input_boolean.turn_off":
		value = "off"
	case "input_select.select_option":
		if option, ok := data["option"].(string); ok {
			value = option
		}
	case "input_select.set_options":
		if options, ok := data["options"].([]string); ok {
			list := make([]any, len(options))
			for i, o := range options {
				list[i] = o
			}
			attributes["options"] = list
		}
	default:
		return
	}

	m.SetState(entityID, value, attributes)
}

func (m *MockClient) replaceState(entityID string, newState *State) {
	m.statesMu.Lock()
	oldState := m.states[entityID]
	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.subsMu.RLock()
	entries := append([]subscriberEntry(nil), m.subscribers[entityID]...)
	m.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(entityID, oldState, newState)
	}
}
