// Package decoy detects interactions with planted decoy identities. A
// logon event whose username carries a decoy marker means an attacker is
// using deception material; there is no legitimate reason to touch it.
package decoy

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/orionsec/ad-guardian/internal/config"
	"github.com/orionsec/ad-guardian/internal/types"
)

// ModuleName identifies this detector in health and alert records.
const ModuleName = "decoy"

// registryFile is the on-disk shape of the decoy registry.
type registryFile struct {
	Markers       []string `yaml:"markers"`
	AdminSuffixes []string `yaml:"admin_suffixes"`
}

// Detector classifies logon events against the decoy registry. Markers are
// loaded from config and optionally hot-reloaded from a registry file.
type Detector struct {
	cfg config.DecoyConfig
	log *logrus.Logger

	mu            sync.RWMutex
	markers       []string
	adminSuffixes []string
	running       bool

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	statsMu      sync.Mutex
	checked      float64
	interactions float64
}

// New creates a Detector with the configured markers.
func New(cfg config.DecoyConfig, log *logrus.Logger) *Detector {
	return &Detector{
		cfg:           cfg,
		log:           log,
		markers:       append([]string(nil), cfg.Markers...),
		adminSuffixes: append([]string(nil), cfg.AdminSuffixes...),
	}
}

// Name implements module.Module.
func (d *Detector) Name() string { return ModuleName }

// Start loads the registry file if configured and begins watching it for
// changes. Starting an already-running detector is a no-op.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.mu.Unlock()

	if d.cfg.RegistryPath == "" {
		d.log.WithField("module", ModuleName).Info("Decoy detector started with built-in markers")
		return nil
	}

	if err := d.loadRegistry(d.cfg.RegistryPath); err != nil {
		d.setStopped()
		return fmt.Errorf("load decoy registry: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.setStopped()
		return fmt.Errorf("create registry watcher: %w", err)
	}
	if err := watcher.Add(d.cfg.RegistryPath); err != nil {
		watcher.Close()
		d.setStopped()
		return fmt.Errorf("watch decoy registry: %w", err)
	}
	d.watcher = watcher
	d.done = make(chan struct{})

	d.wg.Add(1)
	go d.watchRegistry()

	d.log.WithFields(logrus.Fields{
		"module":   ModuleName,
		"registry": d.cfg.RegistryPath,
	}).Info("Decoy detector started")
	return nil
}

func (d *Detector) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

func (d *Detector) watchRegistry() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := d.loadRegistry(d.cfg.RegistryPath); err != nil {
				d.log.WithError(err).Warn("Decoy registry reload failed, keeping previous markers")
				continue
			}
			d.log.WithField("registry", d.cfg.RegistryPath).Info("Decoy registry reloaded")
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log.WithError(err).Warn("Decoy registry watcher error")
		}
	}
}

func (d *Detector) loadRegistry(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var reg registryFile
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return err
	}
	if len(reg.Markers) == 0 && len(reg.AdminSuffixes) == 0 {
		return fmt.Errorf("registry %s defines no markers", path)
	}
	d.mu.Lock()
	d.markers = reg.Markers
	d.adminSuffixes = reg.AdminSuffixes
	d.mu.Unlock()
	return nil
}

// Stop halts the registry watcher. Stopping twice is a no-op.
func (d *Detector) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	if d.watcher != nil {
		close(d.done)
		d.watcher.Close()
		d.wg.Wait()
		d.watcher = nil
	}
	d.log.WithField("module", ModuleName).Info("Decoy detector stopped")
	return nil
}

// Classify reports whether the event is a logon against a decoy identity.
func (d *Detector) Classify(event *types.SecurityEvent) (bool, error) {
	d.statsMu.Lock()
	d.checked++
	d.statsMu.Unlock()

	if event.Type != types.EventADLogon || event.User == nil {
		return false, nil
	}
	username := strings.ToLower(event.User.Username)

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, m := range d.markers {
		if m != "" && strings.Contains(username, strings.ToLower(m)) {
			d.recordInteraction(event)
			return true, nil
		}
	}
	for _, s := range d.adminSuffixes {
		if s != "" && strings.HasSuffix(username, strings.ToLower(s)) {
			d.recordInteraction(event)
			return true, nil
		}
	}
	return false, nil
}

func (d *Detector) recordInteraction(event *types.SecurityEvent) {
	d.statsMu.Lock()
	d.interactions++
	d.statsMu.Unlock()
	d.log.WithFields(logrus.Fields{
		"event_id": event.EventID,
		"username": event.User.Username,
	}).Warn("Decoy interaction detected")
}

// Health implements module.Module.
func (d *Detector) Health() types.ModuleHealth {
	d.mu.RLock()
	status := types.StatusStopped
	if d.running {
		status = types.StatusRunning
	}
	markerCount := float64(len(d.markers) + len(d.adminSuffixes))
	d.mu.RUnlock()
	m := d.Metrics()
	m["markers_active"] = markerCount
	return types.ModuleHealth{
		Name:          ModuleName,
		Status:        status,
		LastHeartbeat: time.Now(),
		Metrics:       m,
	}
}

// Metrics implements module.Module.
func (d *Detector) Metrics() map[string]float64 {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return map[string]float64{
		"events_checked":        d.checked,
		"interactions_detected": d.interactions,
	}
}
