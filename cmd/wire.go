package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	browseradapter "github.com/mfields/cadence/internal/adapters/browser"
	"github.com/mfields/cadence/internal/adapters/controlplane"
	statusadapter "github.com/mfields/cadence/internal/adapters/render/status"
	tomlrepo "github.com/mfields/cadence/internal/adapters/repo/toml"
	filestore "github.com/mfields/cadence/internal/adapters/secrets/file"
	"github.com/mfields/cadence/internal/application"
	"github.com/mfields/cadence/internal/audit"
	"github.com/mfields/cadence/internal/config"
	"github.com/mfields/cadence/internal/ports"
)

type app struct {
	cfg            *config.Config
	log            *audit.Logger
	tracker        *application.ActivityTracker
	simulator      *application.BehaviorSimulator
	queue          *application.InteractionQueue
	supervisor     *application.SessionSupervisor
	heal           *application.HealCoordinator
	controlPlane   *controlplane.Client
	secretStore    ports.SecretStore
	statusRenderer func(statusadapter.Snapshot, statusadapter.RenderOptions) (string, error)
	now            func() time.Time
}

func wireApp() (*app, error) {
	cfg, err := config.Load(viper.New())
	if err != nil {
		return nil, fmt.Errorf("wire config: %w", err)
	}

	level := logrus.InfoLevel
	if cfg.Snapshot().DebugLogging {
		level = logrus.DebugLevel
	}
	log := audit.New(os.Stderr, level)

	healRepo, err := tomlrepo.NewRepository(viper.New())
	if err != nil {
		return nil, fmt.Errorf("wire heal session repository: %w", err)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	secretStore := filestore.NewStore(filepath.Join(homeDir, ".cadence", "secrets"))

	clock := ports.SystemClock{}
	tracker := application.NewActivityTracker(cfg, clock, log)

	controlPlane := controlplane.NewClient(cfg, nil, clock, log)
	if key, err := secretStore.Get(context.Background(), controlPlaneKeySecret); err == nil && key != "" {
		controlPlane.SetAPIKey(key)
	}

	return &app{
		cfg:            cfg,
		log:            log,
		tracker:        tracker,
		simulator:      application.NewBehaviorSimulator(cfg, clock, tracker, log),
		queue:          application.NewInteractionQueue(cfg, clock, log),
		supervisor:     application.NewSessionSupervisor(cfg, browseradapter.Factory{}, clock, log),
		heal:           application.NewHealCoordinator(cfg, healRepo, clock, log),
		controlPlane:   controlPlane,
		secretStore:    secretStore,
		statusRenderer: statusadapter.Render,
		now:            time.Now,
	}, nil
}
