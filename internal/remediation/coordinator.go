// Package remediation contains the containment coordinator. The reference
// action is a simulated quarantine: it produces an auditable action record
// without touching the directory. A production deployment swaps the
// simulation for real account/network isolation behind the same contract.
package remediation

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orionsec/ad-guardian/internal/config"
	"github.com/orionsec/ad-guardian/internal/types"
)

// ModuleName identifies the coordinator in health and alert records.
const ModuleName = "remediation"

// maxActionHistory bounds the in-memory action record list.
const maxActionHistory = 1000

// ActionRecord is one containment action taken (or simulated) for an event.
type ActionRecord struct {
	Kind          string    `json:"kind"`
	Timestamp     time.Time `json:"timestamp"`
	Target        string    `json:"target"`
	EventID       string    `json:"event_id"`
	Justification string    `json:"justification"`
}

// Coordinator performs containment for escalated events. Escalate is safe
// to call repeatedly for the same event; every call yields its own record.
type Coordinator struct {
	cfg config.RemediationConfig
	log *logrus.Logger

	mu      sync.Mutex
	running bool
	actions []ActionRecord
	taken   float64
}

// New creates a Coordinator.
func New(cfg config.RemediationConfig, log *logrus.Logger) *Coordinator {
	return &Coordinator{cfg: cfg, log: log}
}

// Name implements module.Module.
func (c *Coordinator) Name() string { return ModuleName }

// Start implements module.Module.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.running = true
	c.log.WithField("module", ModuleName).Info("Remediation coordinator started (simulated actions)")
	return nil
}

// Stop implements module.Module.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	c.log.WithField("module", ModuleName).Info("Remediation coordinator stopped")
	return nil
}

// Escalate quarantines the entity implicated by the event. The target is
// derived from whichever context is present; an event with neither user
// nor device context is still actionable with an "unknown" target.
func (c *Coordinator) Escalate(event *types.SecurityEvent, justification string) error {
	target := TargetEntity(event)
	record := ActionRecord{
		Kind:          "quarantine",
		Timestamp:     time.Now(),
		Target:        target,
		EventID:       event.EventID,
		Justification: justification,
	}

	c.mu.Lock()
	c.actions = append(c.actions, record)
	if len(c.actions) > maxActionHistory {
		c.actions = c.actions[len(c.actions)-maxActionHistory:]
	}
	c.taken++
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"target":        target,
		"event_id":      event.EventID,
		"justification": justification,
	}).Error("Simulated quarantine of entity")
	return nil
}

// TargetEntity derives the containment target label for an event.
func TargetEntity(event *types.SecurityEvent) string {
	switch {
	case event.User != nil && event.User.Username != "":
		return "user:" + event.User.Username
	case event.Device != nil && event.Device.Hostname != "":
		return "device:" + event.Device.Hostname
	default:
		return "unknown"
	}
}

// Actions returns a copy of the recorded containment actions, oldest first.
func (c *Coordinator) Actions() []ActionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ActionRecord, len(c.actions))
	copy(out, c.actions)
	return out
}

// Health implements module.Module.
func (c *Coordinator) Health() types.ModuleHealth {
	c.mu.Lock()
	status := types.StatusStopped
	if c.running {
		status = types.StatusRunning
	}
	m := map[string]float64{
		"actions_taken":      c.taken,
		"quarantines_active": float64(len(c.actions)),
	}
	c.mu.Unlock()
	return types.ModuleHealth{
		Name:          ModuleName,
		Status:        status,
		LastHeartbeat: time.Now(),
		Metrics:       m,
	}
}

// Metrics implements module.Module.
func (c *Coordinator) Metrics() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]float64{
		"actions_taken":      c.taken,
		"quarantines_active": float64(len(c.actions)),
	}
}
