// Package app wires configuration, storage, controllers and the HTTP server together.
package app

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kfcemployee/joyofenergy/internal/config"
	"github.com/kfcemployee/joyofenergy/internal/controller"
	"github.com/kfcemployee/joyofenergy/internal/metrics"
	"github.com/kfcemployee/joyofenergy/internal/readings"
	"github.com/kfcemployee/joyofenergy/server"
	"github.com/kfcemployee/joyofenergy/server/engine"
)

// App is one fully wired service instance
type App struct {
	Server   *server.Server
	Readings *readings.Service
	Metrics  *metrics.Collector // nil when metrics are disabled

	cfg *config.Config
	log zerolog.Logger
}

// New builds the service and loads demo data, nothing is listening yet
func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	svc := readings.NewService()

	now := time.Now()
	rnd := rand.New(rand.NewPCG(uint64(now.UnixNano()), 0x9e3779b97f4a7c15))
	if err := readings.Seed(svc, cfg.Seed.Meters, cfg.Seed.ReadingsPerMeter, now, rnd); err != nil {
		return nil, err
	}
	if cfg.Seed.File != "" {
		batches, err := readings.LoadFixtures(cfg.Seed.File)
		if err != nil {
			return nil, fmt.Errorf("load fixtures: %w", err)
		}
		if err := readings.StoreFixtures(svc, batches); err != nil {
			return nil, err
		}
	}
	log.Info().Strs("meters", svc.Meters()).Msg("readings seeded")

	a := &App{Readings: svc, cfg: cfg, log: log}

	scfg := server.Config{
		Engine: engine.Config{
			Workers:       cfg.Server.Workers,
			Backlog:       cfg.Server.Backlog,
			BufferSize:    cfg.Server.BufferSize,
			ReadTimeout:   cfg.Server.ReadTimeout,
			WriteTimeout:  cfg.Server.WriteTimeout,
			IdleTimeout:   cfg.Server.IdleTimeout,
			SweepInterval: cfg.Server.SweepInterval,
		},
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		GzipMinBytes: cfg.Server.GzipMinBytes,
		Logger:       &a.log,
	}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		scfg.Observer = a.Metrics
	}

	a.Server = server.New(scfg)
	controller.NewMeterReadingController(svc, log).Register(a.Server.R)
	return a, nil
}

// Start binds the listener and starts the workers
func (a *App) Start() error {
	if err := a.Server.Listen(a.cfg.Server.Address, a.cfg.Server.Port); err != nil {
		return fmt.Errorf("listen %s:%d: %w", a.cfg.Server.Address, a.cfg.Server.Port, err)
	}
	if err := a.Server.Serve(); err != nil {
		a.Server.Close()
		return err
	}
	a.log.Info().Str("addr", a.Server.Addr().String()).Int("workers", a.cfg.Server.Workers).Msg("http listening")
	return nil
}

// Addr is the bound HTTP address, valid after Start
func (a *App) Addr() net.Addr {
	return a.Server.Addr()
}

// Run starts the HTTP server and the metrics listener and blocks until ctx is
// done or one of them fails
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		a.log.Info().Msg("shutting down")
		return a.Server.Close()
	})
	if a.Metrics != nil {
		g.Go(func() error {
			return a.Metrics.Serve(ctx, a.cfg.Metrics.Addr, a.log)
		})
	}
	return g.Wait()
}
