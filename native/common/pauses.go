package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"basketd/storage"
)

var pausesKey = []byte("system/pauses")

// PauseStore persists per-module pause toggles and serves them as a
// PauseView. Reads never fail the hot path: a broken or missing record reads
// as unpaused.
type PauseStore struct {
	mu sync.Mutex
	db storage.Database
}

func NewPauseStore(db storage.Database) *PauseStore {
	return &PauseStore{db: db}
}

// IsPaused reports whether the module's pause toggle is set.
func (p *PauseStore) IsPaused(module string) bool {
	if p == nil || p.db == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	paused, err := p.load()
	if err != nil {
		return false
	}
	return paused[normalizeModule(module)]
}

// SetPaused flips one module's toggle.
func (p *PauseStore) SetPaused(module string, paused bool) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("pauses: store not configured")
	}
	name := normalizeModule(module)
	if name == "" {
		return fmt.Errorf("pauses: module name required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	current, err := p.load()
	if err != nil {
		return err
	}
	if paused {
		current[name] = true
	} else {
		delete(current, name)
	}
	if len(current) == 0 {
		if err := p.db.Delete(pausesKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("pauses: clear: %w", err)
		}
		return nil
	}
	encoded, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("pauses: encode: %w", err)
	}
	if err := p.db.Put(pausesKey, encoded); err != nil {
		return fmt.Errorf("pauses: store: %w", err)
	}
	return nil
}

// Paused lists the currently paused modules in sorted order.
func (p *PauseStore) Paused() ([]string, error) {
	if p == nil || p.db == nil {
		return nil, fmt.Errorf("pauses: store not configured")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	current, err := p.load()
	if err != nil {
		return nil, err
	}
	modules := make([]string, 0, len(current))
	for name := range current {
		modules = append(modules, name)
	}
	sort.Strings(modules)
	return modules, nil
}

func (p *PauseStore) load() (map[string]bool, error) {
	raw, err := p.db.Get(pausesKey)
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pauses: load: %w", err)
	}
	paused := map[string]bool{}
	if len(raw) == 0 {
		return paused, nil
	}
	if err := json.Unmarshal(raw, &paused); err != nil {
		return nil, fmt.Errorf("pauses: decode: %w", err)
	}
	return paused, nil
}

func normalizeModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}
