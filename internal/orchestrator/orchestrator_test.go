package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orionsec/ad-guardian/internal/alertstore"
	"github.com/orionsec/ad-guardian/internal/config"
	"github.com/orionsec/ad-guardian/internal/types"
)

// trace records the interleaving of module calls across the fan-out so
// ordering properties can be asserted after the fact.
type trace struct {
	mu      sync.Mutex
	entries []string
}

func (tr *trace) add(entry string) {
	tr.mu.Lock()
	tr.entries = append(tr.entries, entry)
	tr.mu.Unlock()
}

func (tr *trace) snapshot() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]string, len(tr.entries))
	copy(out, tr.entries)
	return out
}

type fakeModule struct {
	name     string
	startErr error

	mu      sync.Mutex
	started bool
	stopped bool
}

func (f *fakeModule) Name() string { return f.name }

func (f *fakeModule) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeModule) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeModule) Health() types.ModuleHealth {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := types.StatusStopped
	if f.started && !f.stopped {
		status = types.StatusRunning
	}
	return types.ModuleHealth{Name: f.name, Status: status, LastHeartbeat: time.Now()}
}

func (f *fakeModule) Metrics() map[string]float64 { return map[string]float64{} }

func (f *fakeModule) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeDecoy struct {
	fakeModule
	tr       *trace
	hit      func(*types.SecurityEvent) bool
	err      error
	classify time.Duration
}

func (f *fakeDecoy) Classify(e *types.SecurityEvent) (bool, error) {
	if f.classify > 0 {
		time.Sleep(f.classify)
	}
	if f.tr != nil {
		f.tr.add("classify:" + e.EventID)
	}
	if f.err != nil {
		return false, f.err
	}
	if f.hit != nil {
		return f.hit(e), nil
	}
	return false, nil
}

type fakeRisk struct {
	fakeModule
	score float64
	err   error
}

func (f *fakeRisk) Assess(e *types.SecurityEvent) (*types.RiskAssessment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.RiskAssessment{
		Score:         f.score,
		Level:         types.RiskHigh,
		Confidence:    0.7,
		Justification: "synthetic assessment",
	}, nil
}

type fakeRemediator struct {
	fakeModule
	tr *trace

	mu    sync.Mutex
	calls []string
}

func (f *fakeRemediator) Escalate(e *types.SecurityEvent, justification string) error {
	if f.tr != nil {
		f.tr.add("escalate:" + e.EventID)
	}
	f.mu.Lock()
	f.calls = append(f.calls, e.EventID)
	f.mu.Unlock()
	return nil
}

func (f *fakeRemediator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSink struct {
	mu     sync.Mutex
	alerts []types.Alert
}

func (f *fakeSink) PublishAlert(a *types.Alert) error {
	f.mu.Lock()
	f.alerts = append(f.alerts, *a)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) PublishMetrics(map[string]map[string]float64) error { return nil }
func (f *fakeSink) Close()                                             {}

func (f *fakeSink) published() []types.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Alert, len(f.alerts))
	copy(out, f.alerts)
	return out
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testOrchConfig() config.Config {
	cfg := config.Default()
	// Keep the supervision loops quiet during short tests.
	cfg.Monitoring.HealthInterval = time.Hour
	cfg.Monitoring.HealthBackoff = time.Hour
	cfg.Monitoring.MetricsInterval = time.Hour
	cfg.Monitoring.MetricsBackoff = time.Hour
	return cfg
}

func TestSubmit_RejectsInvalidEvent(t *testing.T) {
	store := alertstore.New(10, testLogger())
	o := New(testOrchConfig(), testLogger(), nil, nil, &fakeRemediator{fakeModule: fakeModule{name: "remediation"}}, store, nil)

	e := &types.SecurityEvent{Type: types.EventADLogon, Confidence: 2.0}
	if err := o.Submit(e); err == nil {
		t.Error("out-of-range confidence should be rejected at the boundary")
	}
	if o.queue.len() != 0 {
		t.Error("rejected event must not enter the queue")
	}
}

func TestSubmit_NeverBlocksWithoutConsumer(t *testing.T) {
	store := alertstore.New(10, testLogger())
	o := New(testOrchConfig(), testLogger(), nil, nil, nil, store, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			e, _ := types.NewEvent(types.EventADLogon, types.SeverityInfo, 1.0)
			o.Submit(e)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked without a running dispatch loop")
	}
	if o.queue.len() != 500 {
		t.Errorf("queue depth = %d, want 500", o.queue.len())
	}
}

func TestDispatch_FIFOAndFullEscalationBeforeNext(t *testing.T) {
	tr := &trace{}
	decoy := &fakeDecoy{fakeModule: fakeModule{name: "decoy"}, tr: tr, hit: func(*types.SecurityEvent) bool { return true }}
	remed := &fakeRemediator{fakeModule: fakeModule{name: "remediation"}, tr: tr}
	store := alertstore.New(10, testLogger())

	o := New(testOrchConfig(), testLogger(), decoy, nil, remed, store, nil)
	o.pollTimeout = 10 * time.Millisecond
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer o.Stop()

	a, _ := types.NewEvent(types.EventADLogon, types.SeverityInfo, 1.0)
	b, _ := types.NewEvent(types.EventADLogon, types.SeverityInfo, 1.0)
	o.Submit(a)
	o.Submit(b)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && store.Len() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if store.Len() != 2 {
		t.Fatalf("alerts = %d, want 2", store.Len())
	}

	want := []string{
		"classify:" + a.EventID,
		"escalate:" + a.EventID,
		"classify:" + b.EventID,
		"escalate:" + b.EventID,
	}
	got := tr.snapshot()
	if len(got) != len(want) {
		t.Fatalf("trace = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("trace = %v, want %v; first event must be fully escalated before the next dispatch", got, want)
		}
	}
}

func TestDispatch_ModuleFailureIsolated(t *testing.T) {
	decoy := &fakeDecoy{fakeModule: fakeModule{name: "decoy"}, err: errors.New("classifier broken")}
	risk := &fakeRisk{fakeModule: fakeModule{name: "risk"}, score: 0.95}
	remed := &fakeRemediator{fakeModule: fakeModule{name: "remediation"}}
	store := alertstore.New(10, testLogger())

	o := New(testOrchConfig(), testLogger(), decoy, risk, remed, store, nil)
	o.pollTimeout = 10 * time.Millisecond
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer o.Stop()

	e, _ := types.NewEvent(types.EventADLogon, types.SeverityInfo, 1.0)
	o.Submit(e)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && store.Len() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	alerts := store.Query(alertstore.Filter{})
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1 (risk verdict must survive the decoy failure)", len(alerts))
	}
	if alerts[0].Source != "risk" {
		t.Errorf("alert source = %q, want risk", alerts[0].Source)
	}
}

func TestDispatch_DecoyAndRiskProduceIndependentAlerts(t *testing.T) {
	decoy := &fakeDecoy{fakeModule: fakeModule{name: "decoy"}, hit: func(*types.SecurityEvent) bool { return true }}
	risk := &fakeRisk{fakeModule: fakeModule{name: "risk"}, score: 0.85}
	remed := &fakeRemediator{fakeModule: fakeModule{name: "remediation"}}
	store := alertstore.New(10, testLogger())

	o := New(testOrchConfig(), testLogger(), decoy, risk, remed, store, nil)
	o.pollTimeout = 10 * time.Millisecond
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer o.Stop()

	e, _ := types.NewEvent(types.EventADLogon, types.SeverityInfo, 1.0)
	e.User = &types.UserContext{Username: "svc_decoy_backup"}
	o.Submit(e)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && store.Len() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	alerts := store.Query(alertstore.Filter{})
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2 independent alerts", len(alerts))
	}
	sources := map[string]bool{}
	for _, a := range alerts {
		sources[a.Source] = true
		if a.EventID != e.EventID {
			t.Errorf("alert event id = %q, want %q", a.EventID, e.EventID)
		}
	}
	if !sources["decoy"] || !sources["risk"] {
		t.Errorf("alert sources = %v, want both decoy and risk", sources)
	}
	if remed.callCount() != 2 {
		t.Errorf("escalations = %d, want 2", remed.callCount())
	}
}

func TestEscalation_SeverityByScore(t *testing.T) {
	cases := []struct {
		score    float64
		severity types.Severity
		level    types.RiskLevel
	}{
		{0.85, types.SeverityError, types.RiskHigh},
		{0.95, types.SeverityCritical, types.RiskCritical},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("score_%.2f", tc.score), func(t *testing.T) {
			risk := &fakeRisk{fakeModule: fakeModule{name: "risk"}, score: tc.score}
			store := alertstore.New(10, testLogger())
			o := New(testOrchConfig(), testLogger(), nil, risk, &fakeRemediator{fakeModule: fakeModule{name: "remediation"}}, store, nil)
			o.pollTimeout = 10 * time.Millisecond
			if err := o.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			defer o.Stop()

			e, _ := types.NewEvent(types.EventADLogon, types.SeverityInfo, 1.0)
			o.Submit(e)

			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) && store.Len() == 0 {
				time.Sleep(5 * time.Millisecond)
			}
			alerts := store.Query(alertstore.Filter{})
			if len(alerts) != 1 {
				t.Fatalf("alerts = %d, want 1", len(alerts))
			}
			if alerts[0].Severity != tc.severity || alerts[0].RiskLevel != tc.level {
				t.Errorf("alert severity/level = %s/%s, want %s/%s",
					alerts[0].Severity, alerts[0].RiskLevel, tc.severity, tc.level)
			}
		})
	}
}

func TestDispatch_ProcessingInfoFromBothModules(t *testing.T) {
	decoy := &fakeDecoy{fakeModule: fakeModule{name: "decoy"}}
	risk := &fakeRisk{fakeModule: fakeModule{name: "risk"}, score: 0.1}
	store := alertstore.New(10, testLogger())
	o := New(testOrchConfig(), testLogger(), decoy, risk, &fakeRemediator{fakeModule: fakeModule{name: "remediation"}}, store, nil)

	for i := 0; i < 50; i++ {
		e, _ := types.NewEvent(types.EventADLogon, types.SeverityInfo, 1.0)
		o.dispatch(e)
		if len(e.ProcessedBy) != 2 {
			t.Fatalf("event %d: ProcessedBy = %v, want both modules recorded", i, e.ProcessedBy)
		}
		seen := map[string]bool{}
		for _, name := range e.ProcessedBy {
			seen[name] = true
		}
		if !seen["decoy"] || !seen["risk"] {
			t.Fatalf("event %d: ProcessedBy = %v, want decoy and risk", i, e.ProcessedBy)
		}
	}
}

func TestHealthLoop_PollsBeforeFirstInterval(t *testing.T) {
	decoy := &fakeDecoy{fakeModule: fakeModule{name: "decoy"}}
	remed := &fakeRemediator{fakeModule: fakeModule{name: "remediation"}}
	store := alertstore.New(10, testLogger())

	// Intervals are an hour; module health must still appear right away.
	o := New(testOrchConfig(), testLogger(), decoy, nil, remed, store, nil)
	o.pollTimeout = 10 * time.Millisecond
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer o.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(o.Status().Modules) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	modules := o.Status().Modules
	if len(modules) != 2 {
		t.Fatalf("modules = %v, want decoy and remediation health before the first interval elapses", modules)
	}
	if modules["decoy"].Status != types.StatusRunning {
		t.Errorf("decoy status = %s, want running", modules["decoy"].Status)
	}
}

func TestRecordAlert_PublishedToSink(t *testing.T) {
	decoy := &fakeDecoy{fakeModule: fakeModule{name: "decoy"}, hit: func(*types.SecurityEvent) bool { return true }}
	remed := &fakeRemediator{fakeModule: fakeModule{name: "remediation"}}
	store := alertstore.New(10, testLogger())
	snk := &fakeSink{}

	o := New(testOrchConfig(), testLogger(), decoy, nil, remed, store, snk)
	o.pollTimeout = 10 * time.Millisecond
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer o.Stop()

	e, _ := types.NewEvent(types.EventADLogon, types.SeverityInfo, 1.0)
	e.User = &types.UserContext{Username: "svc_decoy_backup"}
	o.Submit(e)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(snk.published()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	published := snk.published()
	if len(published) != 1 {
		t.Fatalf("sink received %d alerts, want 1", len(published))
	}
	if published[0].Source != "decoy" || published[0].EventID != e.EventID {
		t.Errorf("published alert = %+v, want the decoy alert for the event", published[0])
	}
}

func TestStart_RollbackOnModuleFailure(t *testing.T) {
	decoy := &fakeDecoy{fakeModule: fakeModule{name: "decoy"}}
	risk := &fakeRisk{fakeModule: fakeModule{name: "risk", startErr: errors.New("model load failed")}}
	store := alertstore.New(10, testLogger())

	o := New(testOrchConfig(), testLogger(), decoy, risk, &fakeRemediator{fakeModule: fakeModule{name: "remediation"}}, store, nil)
	err := o.Start(context.Background())
	if err == nil {
		t.Fatal("Start() should propagate the module startup failure")
	}
	if !decoy.wasStopped() {
		t.Error("already-started modules must be stopped on startup failure")
	}
	if o.Status().Running {
		t.Error("orchestrator must not report running after a failed start")
	}
}

func TestStop_Lifecycle(t *testing.T) {
	decoy := &fakeDecoy{fakeModule: fakeModule{name: "decoy"}}
	remed := &fakeRemediator{fakeModule: fakeModule{name: "remediation"}}
	store := alertstore.New(10, testLogger())

	o := New(testOrchConfig(), testLogger(), decoy, nil, remed, store, nil)
	o.pollTimeout = 10 * time.Millisecond
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !o.Status().Running {
		t.Error("status should report running after Start")
	}

	o.Stop()
	if o.Status().Running {
		t.Error("status should report stopped after Stop")
	}
	if !decoy.wasStopped() || !remed.wasStopped() {
		t.Error("modules should be stopped on orchestrator Stop")
	}

	// Repeated Stop is a no-op.
	o.Stop()
}

func TestQueue_FIFOOrderAndTimeout(t *testing.T) {
	q := newEventQueue()
	a, _ := types.NewEvent(types.EventADLogon, types.SeverityInfo, 1.0)
	b, _ := types.NewEvent(types.EventADLogoff, types.SeverityInfo, 1.0)
	q.push(a)
	q.push(b)

	got, ok := q.pop(time.Millisecond)
	if !ok || got.EventID != a.EventID {
		t.Error("pop should return the oldest event first")
	}
	got, ok = q.pop(time.Millisecond)
	if !ok || got.EventID != b.EventID {
		t.Error("pop should return the second event next")
	}
	if _, ok := q.pop(10 * time.Millisecond); ok {
		t.Error("pop on empty queue should time out")
	}
}

func TestQueue_PopWakesOnPush(t *testing.T) {
	q := newEventQueue()
	e, _ := types.NewEvent(types.EventADLogon, types.SeverityInfo, 1.0)

	done := make(chan bool, 1)
	go func() {
		_, ok := q.pop(time.Second)
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	q.push(e)

	select {
	case ok := <-done:
		if !ok {
			t.Error("waiting pop should receive the pushed event")
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake on push")
	}
}
