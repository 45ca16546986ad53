package store

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	// HistoryKey is the key the connected belt list is stored under.
	HistoryKey = "lastConnectedBelts"
	// DefaultHistoryCapacity is the number of belts remembered.
	DefaultHistoryCapacity = 10
)

// History is the most-recent-first list of belts that completed a
// handshake. It implements connection.Store.
type History struct {
	backend  Backend
	key      string
	capacity int

	mu sync.Mutex
}

// NewHistory stores the list in backend under HistoryKey.
func NewHistory(backend Backend) *History {
	return &History{backend: backend, key: HistoryKey, capacity: DefaultHistoryCapacity}
}

// List returns the remembered belts, most recent first.
func (h *History) List() ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load()
}

// Add moves id to the front, dropping the oldest entries beyond capacity.
func (h *History) Add(id string) error {
	if id == "" {
		return errors.New("empty belt identifier")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	ids, err := h.load()
	if err != nil {
		return err
	}
	ids = slices.DeleteFunc(ids, func(x string) bool { return x == id })
	ids = append([]string{id}, ids...)
	if len(ids) > h.capacity {
		ids = ids[:h.capacity]
	}
	return h.save(ids)
}

// Last returns the most recently connected belt.
func (h *History) Last() (string, bool, error) {
	ids, err := h.List()
	if err != nil || len(ids) == 0 {
		return "", false, err
	}
	return ids[0], true, nil
}

// Clear forgets every belt.
func (h *History) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.save(nil)
}

func (h *History) load() ([]string, error) {
	data, err := h.backend.Get(h.key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := yaml.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("corrupt %s entry: %w", h.key, err)
	}
	return ids, nil
}

func (h *History) save(ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := yaml.Marshal(ids)
	if err != nil {
		return err
	}
	return h.backend.Set(h.key, data)
}
