// Package gleaning reads the gleaning status sidecar.
//
// Gleanings are externally produced note files representing saved links.
// The sidecar is written only by the gleaning tooling; the search engine
// reads it to suppress inactive and hidden results.
package gleaning

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StatusFileName is the sidecar file under the vault state directory.
const StatusFileName = "gleaning_status.json"

// Status values a gleaning can carry.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusHidden   = "hidden"
)

// Record is one gleaning's status entry.
type Record struct {
	Status    string          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
	History   json.RawMessage `json:"history,omitempty"`
}

// StatusMap reads gleaning statuses for one vault, caching the sidecar in
// memory. Unknown ids default to active. Invalidate drops the cache; the
// registry calls it when the owning engine is evicted or reloaded.
type StatusMap struct {
	path string

	mu      sync.RWMutex
	records map[string]*Record
	loaded  bool
}

// NewStatusMap creates a status map over the vault's state directory.
func NewStatusMap(stateDir string) *StatusMap {
	return &StatusMap{path: filepath.Join(stateDir, StatusFileName)}
}

// Status returns the status for a gleaning id. Ids without a sidecar entry
// are active.
func (m *StatusMap) Status(id string) string {
	if id == "" {
		return StatusActive
	}

	m.mu.RLock()
	if m.loaded {
		defer m.mu.RUnlock()
		if rec, ok := m.records[id]; ok && rec.Status != "" {
			return rec.Status
		}
		return StatusActive
	}
	m.mu.RUnlock()

	m.load()
	return m.Status(id)
}

// Suppressed reports whether results for this gleaning id should be dropped.
func (m *StatusMap) Suppressed(id string) bool {
	switch m.Status(id) {
	case StatusInactive, StatusHidden:
		return true
	default:
		return false
	}
}

// Invalidate drops the cached sidecar so the next lookup rereads it.
func (m *StatusMap) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	m.loaded = false
}

// load reads the sidecar. A missing or malformed sidecar yields an empty
// map: gleanings without status records are active.
func (m *StatusMap) load() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return
	}

	m.records = map[string]*Record{}
	m.loaded = true

	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("gleaning_status_read_failed",
				slog.String("path", m.path),
				slog.String("error", err.Error()))
		}
		return
	}

	var records map[string]*Record
	if err := json.Unmarshal(data, &records); err != nil {
		slog.Warn("gleaning_status_malformed",
			slog.String("path", m.path),
			slog.String("error", err.Error()))
		return
	}
	m.records = records
}
