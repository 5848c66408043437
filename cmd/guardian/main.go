package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/orionsec/ad-guardian/internal/alertstore"
	"github.com/orionsec/ad-guardian/internal/config"
	"github.com/orionsec/ad-guardian/internal/decoy"
	"github.com/orionsec/ad-guardian/internal/module"
	"github.com/orionsec/ad-guardian/internal/orchestrator"
	"github.com/orionsec/ad-guardian/internal/remediation"
	"github.com/orionsec/ad-guardian/internal/risk"
	"github.com/orionsec/ad-guardian/internal/server"
	"github.com/orionsec/ad-guardian/internal/sink"
	"github.com/orionsec/ad-guardian/internal/version"
)

func main() {
	configPath := flag.String("config", config.GetEnv("GUARDIAN_CONFIG", ""), "path to YAML configuration file")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Configuration rejected")
	}
	log.WithFields(logrus.Fields{
		"version":     version.Version,
		"environment": cfg.Environment,
	}).Info("Starting AD Guardian")

	var decoyDetector module.DecoyDetector
	if cfg.Decoy.Enabled {
		decoyDetector = decoy.New(cfg.Decoy, log)
	}
	var riskScorer module.RiskScorer
	if cfg.Risk.Enabled {
		scorer, err := risk.New(cfg.Risk, log, nil)
		if err != nil {
			log.WithError(err).Fatal("Risk scorer configuration rejected")
		}
		riskScorer = scorer
	}
	var remediator module.Remediator
	if cfg.Remediation.Enabled {
		remediator = remediation.New(cfg.Remediation, log)
	}

	var snk sink.Sink = sink.Noop{}
	if cfg.Sink.NATSURL != "" {
		natsSink, err := sink.NewNATS(cfg.Sink.NATSURL, cfg.Sink.SubjectPrefix, log)
		if err != nil {
			log.WithError(err).Fatal("Sink connection failed")
		}
		snk = natsSink
	}
	defer snk.Close()

	store := alertstore.New(cfg.Alerts.Capacity, log)
	orch := orchestrator.New(cfg, log, decoyDetector, riskScorer, remediator, store, snk)
	if err := orch.Start(context.Background()); err != nil {
		log.WithError(err).Fatal("Orchestrator startup failed")
	}

	srv := server.New(cfg, orch, store, log)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Guardian API server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down guardian")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	orch.Stop()
}
