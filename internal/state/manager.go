// Package state mirrors bridge state into Home Assistant helper entities.
//
// Variables are registered at runtime. Writes go to the local cache first
// and are published to HA only when the value changes; a failed publish
// rolls the cache back. Changes made in HA are applied to the cache and
// passed to subscribers. Because the cache already holds every value the
// bridge published, HA's echo of a publish is not reported as a change.
package state

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/m-lange/puretools-remote/internal/ha"

	"go.uber.org/zap"
)

var (
	ErrUnknownVariable = errors.New("variable not registered")
	ErrTypeMismatch    = errors.New("variable has a different type")
)

// StateChangeHandler is called when HA changes a variable
type StateChangeHandler func(key string, oldValue, newValue any)

// Subscription is an active variable subscription
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	key     string
	id      int
	manager *Manager
}

func (s *subscription) Unsubscribe() {
	s.manager.unsubscribe(s.key, s.id)
}

type handlerEntry struct {
	id      int
	handler StateChangeHandler
}

// Manager keeps the cache and talks to HA
type Manager struct {
	client   ha.HAClient
	logger   *zap.Logger
	readOnly bool

	mu        sync.RWMutex
	variables map[string]Variable
	cache     map[string]any
	options   map[string][]string
	haSubs    map[string]ha.Subscription

	subsMu      sync.RWMutex
	subscribers map[string][]handlerEntry
	nextID      int
}

// NewManager creates a state manager. In read-only mode nothing is written
// to HA; the cache is still updated.
func NewManager(client ha.HAClient, logger *zap.Logger, readOnly bool) *Manager {
	return &Manager{
		client:      client,
		logger:      logger.Named("state"),
		readOnly:    readOnly,
		variables:   make(map[string]Variable),
		cache:       make(map[string]any),
		options:     make(map[string][]string),
		haSubs:      make(map[string]ha.Subscription),
		subscribers: make(map[string][]handlerEntry),
	}
}

// Register adds a variable, seeds the cache from HA and subscribes to the
// helper entity. A helper that does not exist yet starts at its default.
func (m *Manager) Register(v Variable) error {
	m.mu.Lock()
	if _, exists := m.variables[v.Key]; exists {
		m.mu.Unlock()
		return fmt.Errorf("variable %s already registered", v.Key)
	}
	m.variables[v.Key] = v
	m.cache[v.Key] = v.Default
	m.mu.Unlock()

	if current, err := m.client.GetState(v.EntityID); err == nil && current != nil {
		m.mu.Lock()
		m.cache[v.Key] = parseValue(current.State, v.Type)
		if v.Type == TypeSelect {
			m.options[v.Key] = current.Options()
		}
		m.mu.Unlock()
	} else {
		m.logger.Debug("Helper not found in HA, using default",
			zap.String("entity_id", v.EntityID),
			zap.Error(err))
	}

	sub, err := m.client.SubscribeStateChanges(v.EntityID, func(_ string, _, newState *ha.State) {
		m.handleHAChange(v.Key, newState)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", v.EntityID, err)
	}

	m.mu.Lock()
	m.haSubs[v.Key] = sub
	m.mu.Unlock()
	return nil
}

// Unregister removes a variable and its HA subscription
func (m *Manager) Unregister(key string) {
	m.mu.Lock()
	sub := m.haSubs[key]
	delete(m.haSubs, key)
	delete(m.variables, key)
	delete(m.cache, key)
	delete(m.options, key)
	m.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}

	m.subsMu.Lock()
	delete(m.subscribers, key)
	m.subsMu.Unlock()
}

func (m *Manager) handleHAChange(key string, newState *ha.State) {
	if newState == nil {
		return
	}

	m.mu.Lock()
	v, ok := m.variables[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	newValue := parseValue(newState.State, v.Type)
	oldValue := m.cache[key]
	if v.Type == TypeSelect {
		if opts := newState.Options(); opts != nil {
			m.options[key] = opts
		}
	}
	if oldValue == newValue {
		m.mu.Unlock()
		return
	}
	m.cache[key] = newValue
	m.mu.Unlock()

	m.logger.Debug("Helper changed in HA",
		zap.String("key", key),
		zap.Any("old", oldValue),
		zap.Any("new", newValue))

	m.subsMu.RLock()
	handlers := append([]handlerEntry(nil), m.subscribers[key]...)
	m.subsMu.RUnlock()

	for _, h := range handlers {
		go h.handler(key, oldValue, newValue)
	}
}

func (m *Manager) lookup(key string, t StateType) (Variable, error) {
	v, ok := m.variables[key]
	if !ok {
		return Variable{}, fmt.Errorf("%w: %s", ErrUnknownVariable, key)
	}
	if v.Type != t {
		return Variable{}, fmt.Errorf("%w: %s is %s, not %s", ErrTypeMismatch, key, v.Type, t)
	}
	return v, nil
}

// GetBool returns the cached value of a bool variable
func (m *Manager) GetBool(key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := m.lookup(key, TypeBool); err != nil {
		return false, err
	}
	value, _ := m.cache[key].(bool)
	return value, nil
}

// SetBool stores value and publishes it if it changed
func (m *Manager) SetBool(key string, value bool) error {
	return m.set(key, TypeBool, value, func(v Variable) error {
		return m.client.SetInputBoolean(entityName(v.EntityID), value)
	})
}

// GetSelect returns the cached option of a select variable
func (m *Manager) GetSelect(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := m.lookup(key, TypeSelect); err != nil {
		return "", err
	}
	value, _ := m.cache[key].(string)
	return value, nil
}

// SetSelect stores option and publishes it if it changed
func (m *Manager) SetSelect(key, option string) error {
	return m.set(key, TypeSelect, option, func(v Variable) error {
		return m.client.SelectOption(entityName(v.EntityID), option)
	})
}

// Options returns the option list of a select variable
func (m *Manager) Options(key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := m.lookup(key, TypeSelect); err != nil {
		return nil, err
	}
	return slices.Clone(m.options[key]), nil
}

// SetOptions replaces the option list of a select variable if it changed
func (m *Manager) SetOptions(key string, options []string) error {
	m.mu.Lock()
	v, err := m.lookup(key, TypeSelect)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	old := m.options[key]
	if slices.Equal(old, options) {
		m.mu.Unlock()
		return nil
	}
	m.options[key] = slices.Clone(options)
	m.mu.Unlock()

	if m.readOnly {
		m.logger.Debug("Read-only: not publishing options", zap.String("key", key), zap.Strings("options", options))
		return nil
	}

	if err := m.client.SetSelectOptions(entityName(v.EntityID), options); err != nil {
		m.mu.Lock()
		m.options[key] = old
		m.mu.Unlock()
		return fmt.Errorf("failed to set HA options: %w", err)
	}
	return nil
}

func (m *Manager) set(key string, t StateType, value any, publish func(Variable) error) error {
	m.mu.Lock()
	v, err := m.lookup(key, t)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	oldValue := m.cache[key]
	if oldValue == value {
		m.mu.Unlock()
		return nil
	}
	m.cache[key] = value
	m.mu.Unlock()

	if m.readOnly {
		m.logger.Debug("Read-only: not publishing", zap.String("key", key), zap.Any("value", value))
		return nil
	}

	if err := publish(v); err != nil {
		m.mu.Lock()
		m.cache[key] = oldValue
		m.mu.Unlock()
		return fmt.Errorf("failed to set HA value: %w", err)
	}
	return nil
}

// Subscribe registers handler for HA-originated changes of key. Handlers
// run on their own goroutine.
func (m *Manager) Subscribe(key string, handler StateChangeHandler) (Subscription, error) {
	m.mu.RLock()
	_, ok := m.variables[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariable, key)
	}

	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	id := m.nextID
	m.nextID++
	m.subscribers[key] = append(m.subscribers[key], handlerEntry{id: id, handler: handler})
	return &subscription{key: key, id: id, manager: m}, nil
}

func (m *Manager) unsubscribe(key string, id int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	m.subscribers[key] = slices.DeleteFunc(m.subscribers[key], func(e handlerEntry) bool {
		return e.id == id
	})
}

// GetAllValues returns a copy of the cache
func (m *Manager) GetAllValues() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	values := make(map[string]any, len(m.cache))
	for k, v := range m.cache {
		values[k] = v
	}
	return values
}
