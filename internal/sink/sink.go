// Package sink forwards alerts and metric aggregates to external
// consumers. The pipeline treats the sink as fire-and-forget: publish
// failures are logged by callers and never block event processing.
package sink

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/orionsec/ad-guardian/internal/types"
)

// Sink publishes alerts and metric aggregates.
type Sink interface {
	PublishAlert(alert *types.Alert) error
	PublishMetrics(metrics map[string]map[string]float64) error
	Close()
}

// Noop discards everything. Used when no sink is configured.
type Noop struct{}

func (Noop) PublishAlert(*types.Alert) error                    { return nil }
func (Noop) PublishMetrics(map[string]map[string]float64) error { return nil }
func (Noop) Close()                                             {}

// NATS publishes JSON payloads to <prefix>.alerts and <prefix>.metrics.
type NATS struct {
	nc     *nats.Conn
	prefix string
	log    *logrus.Logger
}

// NewNATS connects to the NATS server at url.
func NewNATS(url, prefix string, log *logrus.Logger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("ad-guardian"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	if prefix == "" {
		prefix = "guardian"
	}
	log.WithField("url", url).Info("Connected to NATS sink")
	return &NATS{nc: nc, prefix: prefix, log: log}, nil
}

// PublishAlert sends the alert to <prefix>.alerts.
func (n *NATS) PublishAlert(alert *types.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return n.nc.Publish(n.prefix+".alerts", data)
}

// PublishMetrics sends the per-module metric aggregate to <prefix>.metrics.
func (n *NATS) PublishMetrics(metrics map[string]map[string]float64) error {
	payload := struct {
		Timestamp time.Time                     `json:"timestamp"`
		Modules   map[string]map[string]float64 `json:"modules"`
	}{Timestamp: time.Now(), Modules: metrics}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	return n.nc.Publish(n.prefix+".metrics", data)
}

// Close drains the connection.
func (n *NATS) Close() {
	if err := n.nc.Drain(); err != nil {
		n.log.WithError(err).Debug("NATS drain failed")
	}
}
