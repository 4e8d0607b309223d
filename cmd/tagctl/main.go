package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/tagctl/internal/bus"
	"github.com/danmuck/tagctl/internal/config"
	"github.com/danmuck/tagctl/internal/game"
	"github.com/danmuck/tagctl/internal/logging"
	"github.com/danmuck/tagctl/internal/observability"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tagctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("tagctl", flag.ContinueOnError)
	flags := config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	logging.ConfigureRuntime()

	cfg, err := flags.Load()
	if err != nil {
		return err
	}
	opts, err := cfg.Options()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.SetupTracing(ctx, "tagctl")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	var mem *bus.Memory
	if strings.EqualFold(cfg.Bus.Transport, bus.TransportMemory) {
		mem = bus.NewMemory()
		defer mem.Close()
	}
	connect, err := bus.NewConnector(cfg.Bus, mem)
	if err != nil {
		return err
	}

	var admin *observability.Admin
	if cfg.AdminAddr != "" {
		admin = observability.NewAdmin("tagctl", cfg.AdminAddr, cfg.CorsOrigins)
	}

	log.Info().
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Int("evaders", cfg.NumEvaders).
		Int("pursuers", cfg.NumPursuers).
		Str("bus", cfg.Bus.Transport).
		Msg("tagctl starting game")
	outcome, err := game.Launch(ctx, connect, opts, admin)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(outcome)
}
