// Package orchestrator owns the ingestion queue and runs the dispatch,
// health-monitor, and metrics-collector loops. It is the only writer of
// the alert store and the aggregated health map; detection modules and the
// remediator return verdicts and keep their own counters.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/orionsec/ad-guardian/internal/alertstore"
	"github.com/orionsec/ad-guardian/internal/config"
	"github.com/orionsec/ad-guardian/internal/module"
	"github.com/orionsec/ad-guardian/internal/sink"
	"github.com/orionsec/ad-guardian/internal/types"
)

// Prometheus metrics (registered once).
var (
	eventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_events_received_total",
			Help: "Total security events submitted to the pipeline",
		},
		[]string{"type", "severity"},
	)
	eventsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_events_processed_total",
			Help: "Total events fully dispatched through module fan-out",
		},
	)
	alertsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_alerts_total",
			Help: "Total alerts recorded, by source module and severity",
		},
		[]string{"source", "severity"},
	)
	moduleFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_module_failures_total",
			Help: "Total detection-module verdict failures",
		},
		[]string{"module"},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardian_queue_depth",
			Help: "Events waiting in the ingestion queue",
		},
	)
)

func init() {
	prometheus.MustRegister(eventsReceived)
	prometheus.MustRegister(eventsProcessed)
	prometheus.MustRegister(alertsRecorded)
	prometheus.MustRegister(moduleFailures)
	prometheus.MustRegister(queueDepth)
}

// defaultPollTimeout bounds the dispatch loop's dequeue wait. A timeout is
// the loop's liveness check, not an error.
const defaultPollTimeout = time.Second

// Orchestrator composes the detection modules, the remediation
// coordinator, the alert store, and the external sink.
type Orchestrator struct {
	cfg   config.Config
	log   *logrus.Logger
	decoy module.DecoyDetector
	risk  module.RiskScorer
	remed module.Remediator
	store *alertstore.Store
	sink  sink.Sink

	queue       *eventQueue
	pollTimeout time.Duration

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	health    map[string]types.ModuleHealth

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the orchestrator from its collaborators. The decoy detector
// and risk scorer may be nil when disabled by configuration; the
// remediator and store must be present.
func New(cfg config.Config, log *logrus.Logger, decoy module.DecoyDetector,
	risk module.RiskScorer, remed module.Remediator,
	store *alertstore.Store, snk sink.Sink) *Orchestrator {
	if snk == nil {
		snk = sink.Noop{}
	}
	return &Orchestrator{
		cfg:         cfg,
		log:         log,
		decoy:       decoy,
		risk:        risk,
		remed:       remed,
		store:       store,
		sink:        snk,
		queue:       newEventQueue(),
		pollTimeout: defaultPollTimeout,
		health:      make(map[string]types.ModuleHealth),
	}
}

// modules returns the lifecycle-managed modules in start order.
func (o *Orchestrator) modules() []module.Module {
	var ms []module.Module
	if o.decoy != nil {
		ms = append(ms, o.decoy)
	}
	if o.risk != nil {
		ms = append(ms, o.risk)
	}
	if o.remed != nil {
		ms = append(ms, o.remed)
	}
	return ms
}

// Start brings up all modules and launches the dispatch, health, and
// metrics loops. A module failing to start causes a clean stop of the
// already-started ones before the error propagates.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = true
	o.startedAt = time.Now()
	o.mu.Unlock()

	var started []module.Module
	for _, m := range o.modules() {
		if err := m.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				if stopErr := started[i].Stop(); stopErr != nil {
					o.log.WithError(stopErr).WithField("module", started[i].Name()).
						Warn("Stop after failed startup")
				}
			}
			o.mu.Lock()
			o.running = false
			o.mu.Unlock()
			return fmt.Errorf("start module %s: %w", m.Name(), err)
		}
		started = append(started, m)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.wg.Add(3)
	go o.dispatchLoop(loopCtx)
	go o.healthLoop(loopCtx)
	go o.metricsLoop(loopCtx)

	o.log.Info("Orchestrator started")
	return nil
}

// Stop cancels the loops, waits for any in-flight fan-out to finish, then
// stops the modules in reverse start order.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()

	ms := o.modules()
	for i := len(ms) - 1; i >= 0; i-- {
		if err := ms[i].Stop(); err != nil {
			o.log.WithError(err).WithField("module", ms[i].Name()).Warn("Module stop failed")
		}
	}
	o.log.Info("Orchestrator stopped")
}

// Submit enqueues a validated event for asynchronous processing. It never
// blocks on processing and never rejects a valid event; malformed events
// are refused at this boundary and do not enter the queue.
func (o *Orchestrator) Submit(event *types.SecurityEvent) error {
	if err := event.Normalize(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	o.queue.push(event)
	eventsReceived.WithLabelValues(string(event.Type), string(event.Severity)).Inc()
	queueDepth.Set(float64(o.queue.len()))
	return nil
}

// Status returns a point-in-time snapshot. It never blocks on the dispatch
// loop.
func (o *Orchestrator) Status() types.OrchestratorStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	modules := make(map[string]types.ModuleHealth, len(o.health))
	for k, v := range o.health {
		modules[k] = v
	}
	uptime := 0.0
	if !o.startedAt.IsZero() {
		uptime = time.Since(o.startedAt).Seconds()
	}
	return types.OrchestratorStatus{
		Running:    o.running,
		Modules:    modules,
		QueueDepth: o.queue.len(),
		Uptime:     uptime,
	}
}

// dispatchLoop pops one event at a time and fans it out to the detection
// modules. At most one event is in flight; throughput is bounded by the
// slowest module per event, not by queue depth. That keeps ordering strict
// and the loop simple; it is the documented scaling limit of this core.
func (o *Orchestrator) dispatchLoop(ctx context.Context) {
	defer o.wg.Done()
	o.log.Info("Dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			o.log.Info("Dispatch loop halted")
			return
		default:
		}
		event, ok := o.queue.pop(o.pollTimeout)
		if !ok {
			continue
		}
		queueDepth.Set(float64(o.queue.len()))
		o.dispatch(event)
		eventsProcessed.Inc()
	}
}

// dispatch runs the module fan-out for one event and applies escalation
// policy to the verdicts. A module failure is contained: it is logged,
// counted, and treated as "no verdict" for that module only.
func (o *Orchestrator) dispatch(event *types.SecurityEvent) {
	var (
		wg         sync.WaitGroup
		decoyHit   bool
		decoyErr   error
		decoyTook  time.Duration
		assessment *types.RiskAssessment
		assessErr  error
		assessTook time.Duration
	)

	if o.decoy != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			decoyHit, decoyErr = o.decoy.Classify(event)
			decoyTook = time.Since(start)
		}()
	}
	if o.risk != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			assessment, assessErr = o.risk.Assess(event)
			assessTook = time.Since(start)
		}()
	}
	wg.Wait()

	// Event mutation happens only here, after the join: the verdict
	// goroutines must not touch shared event state concurrently.
	if o.decoy != nil {
		event.AddProcessingInfo(o.decoy.Name(), decoyTook)
	}
	if o.risk != nil {
		event.AddProcessingInfo(o.risk.Name(), assessTook)
	}

	if decoyErr != nil {
		moduleFailures.WithLabelValues(o.decoy.Name()).Inc()
		o.log.WithError(decoyErr).WithField("event_id", event.EventID).
			Error("Decoy detector failed for event")
	} else if decoyHit {
		o.escalateDecoy(event)
	}

	if assessErr != nil {
		moduleFailures.WithLabelValues(o.risk.Name()).Inc()
		o.log.WithError(assessErr).WithField("event_id", event.EventID).
			Error("Risk scorer failed for event")
	} else if assessment != nil && assessment.Score >= o.cfg.Risk.AnomalyThreshold {
		o.escalateRisk(event, assessment)
	}
}

func (o *Orchestrator) escalateDecoy(event *types.SecurityEvent) {
	const justification = "decoy interaction"
	o.remediate(event, justification)
	o.recordAlert(&types.Alert{
		Source:        "decoy",
		Severity:      types.SeverityCritical,
		RiskLevel:     types.RiskCritical,
		Score:         1.0,
		Justification: justification,
		EventID:       event.EventID,
		User:          usernameOf(event),
		Device:        hostnameOf(event),
		Action:        "quarantine",
	})
}

func (o *Orchestrator) escalateRisk(event *types.SecurityEvent, a *types.RiskAssessment) {
	severity := types.SeverityError
	level := types.RiskHigh
	if a.Score >= o.cfg.Remediation.QuarantineThreshold {
		severity = types.SeverityCritical
		level = types.RiskCritical
	}
	o.remediate(event, a.Justification)
	o.recordAlert(&types.Alert{
		Source:        "risk",
		Severity:      severity,
		RiskLevel:     level,
		Score:         a.Score,
		Justification: a.Justification,
		EventID:       event.EventID,
		User:          usernameOf(event),
		Device:        hostnameOf(event),
		Action:        "quarantine",
	})
}

func (o *Orchestrator) remediate(event *types.SecurityEvent, justification string) {
	if o.remed == nil {
		return
	}
	if err := o.remed.Escalate(event, justification); err != nil {
		moduleFailures.WithLabelValues(o.remed.Name()).Inc()
		o.log.WithError(err).WithField("event_id", event.EventID).
			Error("Remediation failed for event")
	}
}

func (o *Orchestrator) recordAlert(alert *types.Alert) {
	id := o.store.Record(alert)
	alertsRecorded.WithLabelValues(alert.Source, string(alert.Severity)).Inc()
	o.log.WithFields(logrus.Fields{
		"alert_id":      id,
		"source":        alert.Source,
		"severity":      alert.Severity,
		"score":         alert.Score,
		"event_id":      alert.EventID,
		"justification": alert.Justification,
	}).Warn("SECURITY ALERT")
	if err := o.sink.PublishAlert(alert); err != nil {
		o.log.WithError(err).WithField("alert_id", id).Debug("Alert sink publish failed")
	}
}

// healthLoop polls every module's health on a fixed interval and replaces
// the aggregated map wholesale. The first poll runs immediately so the
// status surface is populated right after startup. On an internal error it
// backs off to the longer interval before retrying.
func (o *Orchestrator) healthLoop(ctx context.Context) {
	defer o.wg.Done()
	o.log.Info("Health monitor started")
	for {
		interval := o.cfg.Monitoring.HealthInterval
		if err := o.pollHealth(); err != nil {
			o.log.WithError(err).Error("Health monitor error")
			interval = o.cfg.Monitoring.HealthBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (o *Orchestrator) pollHealth() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("health poll panic: %v", r)
		}
	}()
	fresh := make(map[string]types.ModuleHealth)
	for _, m := range o.modules() {
		h := m.Health()
		fresh[m.Name()] = h
		if h.Status != types.StatusRunning {
			o.log.WithFields(logrus.Fields{
				"module": m.Name(),
				"status": h.Status,
			}).Warn("Module not running")
		}
	}
	o.mu.Lock()
	o.health = fresh
	o.mu.Unlock()
	return nil
}

// metricsLoop polls every module's metrics plus the orchestrator counters
// and forwards the aggregate to the sink. Collects immediately on startup,
// then on the interval; on error it backs off like the health monitor.
func (o *Orchestrator) metricsLoop(ctx context.Context) {
	defer o.wg.Done()
	o.log.Info("Metrics collector started")
	for {
		interval := o.cfg.Monitoring.MetricsInterval
		if err := o.collectMetrics(); err != nil {
			o.log.WithError(err).Error("Metrics collector error")
			interval = o.cfg.Monitoring.MetricsBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (o *Orchestrator) collectMetrics() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("metrics poll panic: %v", r)
		}
	}()
	aggregate := make(map[string]map[string]float64)
	for _, m := range o.modules() {
		aggregate[m.Name()] = m.Metrics()
	}
	o.mu.RLock()
	uptime := time.Since(o.startedAt).Seconds()
	o.mu.RUnlock()
	aggregate["orchestrator"] = map[string]float64{
		"queue_depth":   float64(o.queue.len()),
		"uptime":        uptime,
		"alerts_stored": float64(o.store.Len()),
	}
	queueDepth.Set(float64(o.queue.len()))
	return o.sink.PublishMetrics(aggregate)
}

func usernameOf(event *types.SecurityEvent) string {
	if event.User != nil {
		return event.User.Username
	}
	return ""
}

func hostnameOf(event *types.SecurityEvent) string {
	if event.Device != nil {
		return event.Device.Hostname
	}
	return ""
}
