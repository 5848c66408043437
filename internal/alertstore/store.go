// Package alertstore keeps the bounded, ordered alert history. Eviction is
// strictly chronological: once the store is at capacity the oldest alert
// is dropped regardless of its read or remediation state.
package alertstore

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/orionsec/ad-guardian/internal/types"
)

// ErrNotFound is returned when an alert id is unknown to the store.
var ErrNotFound = errors.New("alert not found")

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	Severity types.Severity
	Status   types.AlertStatus
	Limit    int
}

// Statistics is an aggregate view over the stored alerts.
type Statistics struct {
	Total      int                       `json:"total_alerts"`
	BySeverity map[types.Severity]int    `json:"alerts_by_severity"`
	ByStatus   map[types.AlertStatus]int `json:"alerts_by_status"`
	TopUsers   []EntityCount             `json:"top_users"`
	TopDevices []EntityCount             `json:"top_devices"`
}

// EntityCount pairs an entity with its alert count.
type EntityCount struct {
	Entity string `json:"entity"`
	Count  int    `json:"count"`
}

// Store is the bounded FIFO alert collection.
type Store struct {
	mu       sync.RWMutex
	alerts   []*types.Alert
	capacity int
	log      *logrus.Logger
}

// New creates a Store holding at most capacity alerts.
func New(capacity int, log *logrus.Logger) *Store {
	return &Store{capacity: capacity, log: log}
}

// Record appends the alert, assigning an id, timestamp, and initial status
// where missing, and evicts the oldest entry beyond capacity. The assigned
// id is returned.
func (s *Store) Record(alert *types.Alert) string {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if alert.Status == "" {
		alert.Status = types.AlertNew
	}

	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	evicted := 0
	if len(s.alerts) > s.capacity {
		evicted = len(s.alerts) - s.capacity
		s.alerts = s.alerts[evicted:]
	}
	s.mu.Unlock()

	if evicted > 0 {
		s.log.WithField("evicted", evicted).Debug("Alert store at capacity, dropped oldest")
	}
	return alert.ID
}

// MarkRead transitions a new alert to read. Re-marking a read alert is a
// no-op; a remediated alert stays remediated.
func (s *Store) MarkRead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.find(id)
	if a == nil {
		return ErrNotFound
	}
	if a.Status == types.AlertNew {
		a.Status = types.AlertRead
	}
	return nil
}

// Remediate transitions an alert to the terminal remediated state.
// Idempotent.
func (s *Store) Remediate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.find(id)
	if a == nil {
		return ErrNotFound
	}
	a.Status = types.AlertRemediated
	return nil
}

func (s *Store) find(id string) *types.Alert {
	for _, a := range s.alerts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// Get returns a copy of the alert with the given id.
func (s *Store) Get(id string) (types.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a := s.find(id)
	if a == nil {
		return types.Alert{}, ErrNotFound
	}
	return *a, nil
}

// Query returns a newest-first snapshot of alerts matching the filter.
// The backing slice is in insertion order, which is chronological, so the
// snapshot walks it in reverse; alerts recorded on the same timestamp tick
// still come back newest-first. Stored state is never mutated.
func (s *Store) Query(f Filter) []types.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Alert, 0, len(s.alerts))
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, *a)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Len returns the number of stored alerts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

// Stats aggregates the stored alerts for the statistics surface.
func (s *Store) Stats() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{
		Total:      len(s.alerts),
		BySeverity: make(map[types.Severity]int),
		ByStatus:   make(map[types.AlertStatus]int),
	}
	users := make(map[string]int)
	devices := make(map[string]int)
	for _, a := range s.alerts {
		stats.BySeverity[a.Severity]++
		stats.ByStatus[a.Status]++
		if a.User != "" {
			users[a.User]++
		}
		if a.Device != "" {
			devices[a.Device]++
		}
	}
	stats.TopUsers = topEntities(users, 10)
	stats.TopDevices = topEntities(devices, 10)
	return stats
}

func topEntities(counts map[string]int, n int) []EntityCount {
	out := make([]EntityCount, 0, len(counts))
	for e, c := range counts {
		out = append(out, EntityCount{Entity: e, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Entity < out[j].Entity
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
