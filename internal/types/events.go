// Package types defines shared types for security events, risk assessments,
// alerts, and module health used by the guardian HTTP API and internal
// processing.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a security event. The set is closed; sources must
// map their raw telemetry onto one of these values.
type EventType string

const (
	// Active Directory events.
	EventADLogon               EventType = "ad_logon"
	EventADLogoff              EventType = "ad_logoff"
	EventADLogonFailure        EventType = "ad_logon_failure"
	EventADAccountCreated      EventType = "ad_account_created"
	EventADAccountModified     EventType = "ad_account_modified"
	EventADAccountDeleted      EventType = "ad_account_deleted"
	EventADGroupModified       EventType = "ad_group_modified"
	EventADPrivilegeEscalation EventType = "ad_privilege_escalation"
	EventADPasswordChange      EventType = "ad_password_change"
	EventADGPOModified         EventType = "ad_gpo_modified"

	// Network events.
	EventNetworkConnection        EventType = "network_connection"
	EventNetworkDNSQuery          EventType = "network_dns_query"
	EventNetworkSuspiciousTraffic EventType = "network_suspicious_traffic"

	// Kerberos events.
	EventKerberosTGTRequest  EventType = "kerberos_tgt_request"
	EventKerberosTGSRequest  EventType = "kerberos_tgs_request"
	EventKerberosAuthFailure EventType = "kerberos_auth_failure"

	// Deception events.
	EventDecoyInteraction EventType = "decoy_interaction"
	EventDecoyHoneypot    EventType = "decoy_honeypot_access"

	// Endpoint events.
	EventProcessCreation      EventType = "process_creation"
	EventFileAccess           EventType = "file_access"
	EventRegistryModification EventType = "registry_modification"
)

// Severity of an event or alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// RiskLevel is a 5-point ordinal risk classification.
type RiskLevel int

const (
	RiskVeryLow RiskLevel = iota + 1
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskVeryLow:
		return "very_low"
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// UserContext carries user identity attributes on an event.
type UserContext struct {
	Username   string   `json:"username"`
	Domain     string   `json:"domain"`
	UserID     string   `json:"user_id,omitempty"`
	Email      string   `json:"email,omitempty"`
	Groups     []string `json:"groups,omitempty"`
	Privileges []string `json:"privileges,omitempty"`
	RiskScore  float64  `json:"risk_score,omitempty"`
}

// DeviceContext carries endpoint attributes on an event.
type DeviceContext struct {
	Hostname        string  `json:"hostname"`
	IPAddress       string  `json:"ip_address"`
	MACAddress      string  `json:"mac_address,omitempty"`
	OperatingSystem string  `json:"operating_system,omitempty"`
	DomainJoined    bool    `json:"domain_joined"`
	RiskScore       float64 `json:"risk_score,omitempty"`
}

// NetworkContext carries connection attributes on an event.
type NetworkContext struct {
	SourceIP         string  `json:"source_ip"`
	DestinationIP    string  `json:"destination_ip"`
	SourcePort       int     `json:"source_port,omitempty"`
	DestinationPort  int     `json:"destination_port,omitempty"`
	Protocol         string  `json:"protocol,omitempty"`
	BytesTransferred int64   `json:"bytes_transferred,omitempty"`
	Duration         float64 `json:"duration,omitempty"`
}

// SecurityEvent is the unit of work flowing through the pipeline.
// Events are immutable by convention once submitted; modules add to them
// only through Enrich, AddTag, AddLabel, and AddProcessingInfo.
type SecurityEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"event_type"`

	Severity   Severity  `json:"severity"`
	RiskLevel  RiskLevel `json:"risk_level"`
	Confidence float64   `json:"confidence"`

	User    *UserContext    `json:"user_context,omitempty"`
	Device  *DeviceContext  `json:"device_context,omitempty"`
	Network *NetworkContext `json:"network_context,omitempty"`

	RawData      map[string]interface{} `json:"raw_data,omitempty"`
	EnrichedData map[string]interface{} `json:"enriched_data,omitempty"`

	Source        string `json:"source"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ParentEventID string `json:"parent_event_id,omitempty"`

	Tags   []string          `json:"tags,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`

	ProcessedBy    []string      `json:"processed_by,omitempty"`
	ProcessingTime time.Duration `json:"processing_time,omitempty"`
}

// categoryTags maps an event-type prefix to the tag derived at construction.
var categoryTags = []struct {
	prefix string
	tag    string
}{
	{"ad_", "active_directory"},
	{"network_", "network"},
	{"kerberos_", "kerberos"},
	{"decoy_", "deception"},
}

// NewEvent constructs a validated event with a generated id and the current
// timestamp. Confidence outside [0,1] is rejected.
func NewEvent(t EventType, severity Severity, confidence float64) (*SecurityEvent, error) {
	e := &SecurityEvent{
		EventID:    uuid.NewString(),
		Timestamp:  time.Now(),
		Type:       t,
		Severity:   severity,
		RiskLevel:  RiskLow,
		Confidence: confidence,
		Source:     "unknown",
	}
	if err := e.Normalize(); err != nil {
		return nil, err
	}
	return e, nil
}

// Normalize validates an event and fills generated fields. It is the
// construction step for events decoded from the wire: missing ids and
// timestamps are generated, confidence is checked, and the category tag
// for the event-type prefix is derived. The tag is added at most once.
func (e *SecurityEvent) Normalize() error {
	if e.Confidence < 0.0 || e.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got %g", e.Confidence)
	}
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Source == "" {
		e.Source = "unknown"
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if e.RiskLevel == 0 {
		e.RiskLevel = RiskLow
	}
	for _, c := range categoryTags {
		if strings.HasPrefix(string(e.Type), c.prefix) {
			e.AddTag(c.tag)
			break
		}
	}
	return nil
}

// Enrich adds a module-produced annotation to the event.
func (e *SecurityEvent) Enrich(key string, value interface{}) {
	if e.EnrichedData == nil {
		e.EnrichedData = make(map[string]interface{})
	}
	e.EnrichedData[key] = value
}

// AddTag appends a tag if not already present.
func (e *SecurityEvent) AddTag(tag string) {
	for _, t := range e.Tags {
		if t == tag {
			return
		}
	}
	e.Tags = append(e.Tags, tag)
}

// AddLabel sets a label on the event.
func (e *SecurityEvent) AddLabel(key, value string) {
	if e.Labels == nil {
		e.Labels = make(map[string]string)
	}
	e.Labels[key] = value
}

// AddProcessingInfo records that a module processed the event and
// accumulates the time it spent.
func (e *SecurityEvent) AddProcessingInfo(moduleName string, d time.Duration) {
	e.ProcessedBy = append(e.ProcessedBy, moduleName)
	e.ProcessingTime += d
}

// IsHighRisk reports whether the event is classified high or critical.
func (e *SecurityEvent) IsHighRisk() bool {
	return e.RiskLevel >= RiskHigh
}

// IsCritical reports whether the event is critical by risk level or severity.
func (e *SecurityEvent) IsCritical() bool {
	return e.RiskLevel == RiskCritical || e.Severity == SeverityCritical
}
