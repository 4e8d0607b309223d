package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/tagctl/internal/bus"
	"github.com/danmuck/tagctl/internal/config"
	"github.com/danmuck/tagctl/internal/coordinator"
	"github.com/danmuck/tagctl/internal/game"
	"github.com/danmuck/tagctl/internal/logging"
	"github.com/danmuck/tagctl/internal/observability"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var errNeedsNetworkBus = errors.New("coordctl: memory transport cannot reach other processes")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "coordctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("coordctl", flag.ContinueOnError)
	flags := config.RegisterFlags(fs)
	id := fs.String("id", "coordinator", "coordinator node id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logging.ConfigureRuntime()

	cfg, err := flags.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if strings.EqualFold(cfg.Bus.Transport, bus.TransportMemory) {
		return errNeedsNetworkBus
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	shutdown, err := observability.SetupTracing(ctx, "coordctl")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	connect, err := bus.NewConnector(cfg.Bus, nil)
	if err != nil {
		return err
	}
	b, err := connect(ctx, *id)
	if err != nil {
		return err
	}
	defer b.Close()

	ccfg := coordinator.DefaultConfig(cfg.Bounds(), cfg.NumEvaders+cfg.NumPursuers)
	ccfg.ID = *id
	ccfg.RateHz = cfg.CoordinatorRateHz
	ccfg.RegistrationTimeout = cfg.RegistrationTimeout
	ccfg.PublishState = cfg.PublishState
	coord, err := coordinator.New(b, ccfg)
	if err != nil {
		return err
	}

	adminCtx, stopAdmin := context.WithCancel(ctx)
	defer stopAdmin()
	g, _ := errgroup.WithContext(adminCtx)
	if cfg.AdminAddr != "" {
		admin := observability.NewAdmin(*id, cfg.AdminAddr, cfg.CorsOrigins)
		coord.OnSnapshot(game.AdminObserver(admin, logging.Component("coordctl")))
		g.Go(func() error { return admin.Run(adminCtx) })
	}

	log.Info().
		Str("id", *id).
		Str("bus", cfg.Bus.Transport).
		Int("expected", ccfg.ExpectedActors).
		Msg("coordctl waiting for actors")
	outcome, runErr := coord.Run(ctx)
	stopAdmin()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}
	return json.NewEncoder(os.Stdout).Encode(outcome)
}
