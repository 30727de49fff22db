package integration

import (
	"fmt"
	"sort"
	"sync"

	"github.com/m-lange/puretools-remote/internal/entity"
	"github.com/m-lange/puretools-remote/internal/puretools"
)

// Entry is a configured switcher. ID is the host the entry was created for.
type Entry struct {
	ID      string               `json:"id"`
	Title   string               `json:"title"`
	Host    string               `json:"host"`
	Port    string               `json:"port"`
	Options entity.InputLabelMap `json:"options"`
}

// Endpoint returns the device address of the entry
func (e Entry) Endpoint() puretools.Endpoint {
	return puretools.Endpoint{Host: e.Host, Port: e.Port}
}

// OptionsListener is notified after an entry's labels change
type OptionsListener func(entry Entry)

// Entries stores config entries keyed by unique id.
type Entries struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	listeners []OptionsListener
}

// NewEntries creates an empty entry store
func NewEntries() *Entries {
	return &Entries{entries: make(map[string]Entry)}
}

// Get returns the entry with the given id
func (s *Entries) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if ok {
		entry.Options = entry.Options.Clone()
	}
	return entry, ok
}

// List returns all entries sorted by id
func (s *Entries) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entry.Options = entry.Options.Clone()
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Labels returns a getter for the entry's current label map. The getter
// sees later option updates.
func (s *Entries) Labels(id string) entity.LabelSource {
	return func() entity.InputLabelMap {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.entries[id].Options.Clone()
	}
}

// OnOptionsChanged registers a listener for UpdateOptions
func (s *Entries) OnOptionsChanged(listener OptionsListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// UpdateOptions replaces the label map of an entry
func (s *Entries) UpdateOptions(id string, labels entity.InputLabelMap) (Entry, error) {
	if err := labels.Validate(); err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	entry, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownEntry, id)
	}
	entry.Options = labels.Clone()
	s.entries[id] = entry
	listeners := append([]OptionsListener(nil), s.listeners...)
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(entry)
	}
	return entry, nil
}

// add stores a new entry, refusing duplicate ids
func (s *Entries) add(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyConfigured, entry.ID)
	}
	s.entries[entry.ID] = entry
	return nil
}

// updateEndpoint rewrites host and port of an existing entry
func (s *Entries) updateEndpoint(id, host, port string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	entry.Host = host
	entry.Port = port
	s.entries[id] = entry
	return entry, true
}
