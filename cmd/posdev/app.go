package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/posdev/internal/cache"
	"github.com/srg/posdev/internal/candidates"
	"github.com/srg/posdev/internal/detect"
	"github.com/srg/posdev/internal/device/goble"
	"github.com/srg/posdev/internal/discovery"
	"github.com/srg/posdev/pkg/config"
)

// app wires the detector to its collaborators for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	registry *cache.Registry
	source   *candidates.Source
	detector *detect.Orchestrator
}

// newDiscoverer builds wireless discovery. It is a variable so command tests
// run without a radio.
var newDiscoverer = func(cfg *config.Config, source *candidates.Source, logger *logrus.Logger) detect.Discoverer {
	return discovery.New(cfg.ScanOptions(), source.Discovered, logger)
}

// newSource builds the candidate source. It is a variable so command tests
// can supply fake transports.
var newSource = func(cfg *config.Config, registry *cache.Registry, logger *logrus.Logger) *candidates.Source {
	return candidates.New(registry, cfg.SourceOptions(), logger)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return nil, err
	}

	registry, err := cache.Open(cfg.CachePath, logger)
	if err != nil {
		return nil, err
	}
	source := newSource(cfg, registry, logger)
	detector, err := detect.New(cfg.DetectOptions(), source, newDiscoverer(cfg, source, logger), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		source:   source,
		detector: detector,
	}, nil
}

// Close stops any run still in progress and releases the BLE adapter.
func (a *app) Close() {
	a.detector.CancelDetection(false)
	goble.ResetSharedDevice()
}
