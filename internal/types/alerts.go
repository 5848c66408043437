package types

import "time"

// RiskAssessment is the graded verdict produced by a risk scorer for one
// event. Produced fresh per event; never persisted.
type RiskAssessment struct {
	Score         float64            `json:"score"`
	Level         RiskLevel          `json:"level"`
	Confidence    float64            `json:"confidence"`
	Factors       map[string]float64 `json:"factors,omitempty"`
	Justification string             `json:"justification"`
}

// AlertStatus is the lifecycle state of an alert. Transitions are ordered:
// new -> read -> remediated, with remediated terminal.
type AlertStatus string

const (
	AlertNew        AlertStatus = "new"
	AlertRead       AlertStatus = "read"
	AlertRemediated AlertStatus = "remediated"
)

// Alert is the artifact recorded when an escalation fires.
type Alert struct {
	ID            string      `json:"id"`
	Timestamp     time.Time   `json:"timestamp"`
	Source        string      `json:"source"`
	Severity      Severity    `json:"severity"`
	RiskLevel     RiskLevel   `json:"risk_level"`
	Score         float64     `json:"score"`
	Justification string      `json:"justification"`
	EventID       string      `json:"event_id"`
	User          string      `json:"user,omitempty"`
	Device        string      `json:"device,omitempty"`
	Action        string      `json:"recommended_action,omitempty"`
	Status        AlertStatus `json:"status"`
}

// ModuleStatus is the reported lifecycle state of a module.
type ModuleStatus string

const (
	StatusRunning ModuleStatus = "running"
	StatusStopped ModuleStatus = "stopped"
	StatusError   ModuleStatus = "error"
)

// ModuleHealth is a point-in-time health snapshot of one module. The
// aggregated health map replaces each entry wholesale on every poll.
type ModuleHealth struct {
	Name          string             `json:"name"`
	Status        ModuleStatus       `json:"status"`
	LastHeartbeat time.Time          `json:"last_heartbeat"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
}

// OrchestratorStatus is the point-in-time snapshot exposed on the status
// surface.
type OrchestratorStatus struct {
	Running    bool                    `json:"running"`
	Modules    map[string]ModuleHealth `json:"modules"`
	QueueDepth int                     `json:"queue_depth"`
	Uptime     float64                 `json:"uptime_seconds"`
}
