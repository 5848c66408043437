// Package risk scores security events with an additive rule policy. An
// optional model-backed analyzer can be plugged in; when it fails, scoring
// falls open to the rules so an assessment is always produced.
package risk

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orionsec/ad-guardian/internal/config"
	"github.com/orionsec/ad-guardian/internal/types"
)

// ModuleName identifies this scorer in health and alert records.
const ModuleName = "risk"

// maxRawScore is the additive ceiling before normalization to [0,1].
const maxRawScore = 5.0

var sensitiveAccountMarkers = []string{"admin", "root", "service", "system"}

var privilegedGroups = []string{"domain admins", "enterprise admins", "schema admins"}

// Analyzer is an optional model-backed assessment path. Scorer falls back
// to the rule policy when it returns an error.
type Analyzer interface {
	Analyze(event *types.SecurityEvent) (*types.RiskAssessment, error)
}

// Scorer implements the rule-based risk policy.
type Scorer struct {
	cfg      config.RiskConfig
	log      *logrus.Logger
	analyzer Analyzer
	private  []*net.IPNet

	mu       sync.Mutex
	running  bool
	analyzed float64
	elevated float64
}

// New creates a Scorer. The configured private networks must parse as CIDR
// prefixes.
func New(cfg config.RiskConfig, log *logrus.Logger, analyzer Analyzer) (*Scorer, error) {
	s := &Scorer{cfg: cfg, log: log, analyzer: analyzer}
	for _, cidr := range cfg.PrivateNetworks {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid private network %q: %w", cidr, err)
		}
		s.private = append(s.private, n)
	}
	return s, nil
}

// Name implements module.Module.
func (s *Scorer) Name() string { return ModuleName }

// Start implements module.Module.
func (s *Scorer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	mode := "rules"
	if s.analyzer != nil {
		mode = "model"
	}
	s.log.WithFields(logrus.Fields{"module": ModuleName, "mode": mode}).Info("Risk scorer started")
	return nil
}

// Stop implements module.Module.
func (s *Scorer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	s.log.WithField("module", ModuleName).Info("Risk scorer stopped")
	return nil
}

// Assess produces a risk assessment for the event. The model path, when
// configured, is tried first and fails open to the rules.
func (s *Scorer) Assess(event *types.SecurityEvent) (*types.RiskAssessment, error) {
	s.mu.Lock()
	s.analyzed++
	s.mu.Unlock()

	if s.analyzer != nil {
		a, err := s.analyzer.Analyze(event)
		if err == nil {
			s.noteElevated(a)
			return a, nil
		}
		s.log.WithError(err).WithField("event_id", event.EventID).
			Warn("Model analysis failed, falling back to rule policy")
	}
	a := s.assessRules(event)
	s.noteElevated(a)
	return a, nil
}

func (s *Scorer) noteElevated(a *types.RiskAssessment) {
	if a.Score >= s.cfg.AnomalyThreshold {
		s.mu.Lock()
		s.elevated++
		s.mu.Unlock()
	}
}

func (s *Scorer) assessRules(event *types.SecurityEvent) *types.RiskAssessment {
	raw := 0.0
	factors := make(map[string]float64)
	var reasons []string

	addFactor := func(name string, weight float64, why string) {
		raw += weight
		factors[name] = weight
		reasons = append(reasons, why)
	}

	if event.User != nil {
		username := strings.ToLower(event.User.Username)
		for _, marker := range sensitiveAccountMarkers {
			if strings.Contains(username, marker) {
				addFactor("sensitive_account", 1.0, "sensitive account used")
				break
			}
		}
		if len(event.User.Privileges) > 0 {
			addFactor("high_privileges", 0.5, "elevated privileges present")
		}
	}

	if event.Device != nil {
		if !event.Device.DomainJoined {
			addFactor("non_domain_joined", 1.0, "device not joined to the domain")
		}
		// A missing or unparseable address is neutral: the external-IP
		// factor only fires on a valid address outside the private ranges.
		if ip := net.ParseIP(event.Device.IPAddress); ip != nil && !s.isPrivate(ip) {
			addFactor("external_ip", 2.0, "connection from external IP "+event.Device.IPAddress)
		}
		if strings.Contains(strings.ToLower(event.Device.Hostname), "unknown") {
			addFactor("unknown_device", 0.5, "unrecognized device")
		}
	}

	if hour := event.Timestamp.Hour(); hour < 6 || hour > 22 {
		addFactor("off_hours", 0.5, "activity outside business hours")
	}

	switch event.Type {
	case types.EventADGroupModified:
		addFactor("group_modification", 2.0, "group membership modified")
		if group, ok := event.RawData["Group"].(string); ok {
			lower := strings.ToLower(group)
			for _, g := range privilegedGroups {
				if strings.Contains(lower, g) {
					addFactor("critical_group", 3.0, "privileged group "+group+" modified")
					break
				}
			}
		}
	case types.EventADAccountModified:
		addFactor("account_modification", 1.0, "account modified")
		if kind, ok := event.RawData["EventType"].(string); ok && strings.Contains(strings.ToLower(kind), "enabled") {
			addFactor("account_enabled", 1.0, "disabled account re-enabled")
		}
	case types.EventADAccountCreated:
		addFactor("account_creation", 0.5, "account created")
	}

	if raw > maxRawScore {
		raw = maxRawScore
	}

	level := types.RiskVeryLow
	switch {
	case raw > 4.5:
		level = types.RiskCritical
	case raw > 3.5:
		level = types.RiskHigh
	case raw > 2.5:
		level = types.RiskMedium
	case raw > 1.5:
		level = types.RiskLow
	}

	justification := "no risk factors observed"
	if len(reasons) > 0 {
		justification = strings.Join(reasons, "; ")
	}

	score := raw / maxRawScore
	if raw >= 3.0 {
		s.log.WithFields(logrus.Fields{
			"event_id": event.EventID,
			"score":    score,
			"level":    level.String(),
			"reason":   justification,
		}).Warn("Elevated risk detected")
	}

	return &types.RiskAssessment{
		Score:         score,
		Level:         level,
		Confidence:    s.cfg.RuleConfidence,
		Factors:       factors,
		Justification: justification,
	}
}

func (s *Scorer) isPrivate(ip net.IP) bool {
	for _, n := range s.private {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Health implements module.Module.
func (s *Scorer) Health() types.ModuleHealth {
	s.mu.Lock()
	status := types.StatusStopped
	if s.running {
		status = types.StatusRunning
	}
	modelLoaded := 0.0
	if s.analyzer != nil {
		modelLoaded = 1.0
	}
	m := map[string]float64{
		"events_analyzed":    s.analyzed,
		"anomalies_detected": s.elevated,
		"model_loaded":       modelLoaded,
	}
	s.mu.Unlock()
	return types.ModuleHealth{
		Name:          ModuleName,
		Status:        status,
		LastHeartbeat: time.Now(),
		Metrics:       m,
	}
}

// Metrics implements module.Module.
func (s *Scorer) Metrics() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	modelLoaded := 0.0
	if s.analyzer != nil {
		modelLoaded = 1.0
	}
	return map[string]float64{
		"events_analyzed":    s.analyzed,
		"anomalies_detected": s.elevated,
		"model_loaded":       modelLoaded,
	}
}
