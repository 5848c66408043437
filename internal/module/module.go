// Package module defines the detection-module contract. Every module the
// orchestrator manages exposes lifecycle, health, and metrics; the two
// detection specializations add their verdict operation, and the
// remediator adds escalation.
package module

import (
	"context"

	"github.com/orionsec/ad-guardian/internal/types"
)

// Module is the base contract for all orchestrator-managed modules.
// Start and Stop are idempotent. Health and Metrics must be safe to call
// concurrently with the verdict operations.
type Module interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Health() types.ModuleHealth
	Metrics() map[string]float64
}

// DecoyDetector classifies whether an event is an interaction with a
// planted decoy identity.
type DecoyDetector interface {
	Module
	Classify(event *types.SecurityEvent) (bool, error)
}

// RiskScorer produces a graded risk assessment for an event.
type RiskScorer interface {
	Module
	Assess(event *types.SecurityEvent) (*types.RiskAssessment, error)
}

// Remediator performs a containment action for an escalated event. It must
// tolerate repeated escalations for the same event and missing contexts.
type Remediator interface {
	Module
	Escalate(event *types.SecurityEvent, justification string) error
}
