package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/tagctl/internal/agent"
	"github.com/danmuck/tagctl/internal/bus"
	"github.com/danmuck/tagctl/internal/config"
	"github.com/danmuck/tagctl/internal/grid"
	"github.com/danmuck/tagctl/internal/logging"
	"github.com/danmuck/tagctl/internal/protocol"
	"github.com/rs/zerolog/log"
)

var errNeedsNetworkBus = errors.New("agentctl: memory transport cannot reach other processes")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "agentctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("agentctl", flag.ContinueOnError)
	flags := config.RegisterFlags(fs)
	roleName := fs.String("role", "not_it", "actor role: it|not_it")
	x := fs.Int("x", 0, "start column")
	y := fs.Int("y", 0, "start row")
	id := fs.String("id", "", "actor identity (default: role-prefixed uuid)")
	rate := fs.Float64("rate", 0, "tick rate in Hz (default per role)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logging.ConfigureRuntime()

	cfg, err := flags.Load()
	if err != nil {
		return err
	}
	if strings.EqualFold(cfg.Bus.Transport, bus.TransportMemory) {
		return errNeedsNetworkBus
	}
	role, err := protocol.ParseRole(*roleName)
	if err != nil {
		return err
	}
	identity := strings.TrimSpace(*id)
	if identity == "" {
		identity = agent.NewIdentity(role)
	}
	start := grid.Cell{X: *x, Y: *y}
	bounds := cfg.Bounds()

	var acfg agent.Config
	switch role {
	case protocol.RolePursuer:
		acfg = agent.NewPursuer(identity, start, bounds)
		acfg.RateHz = cfg.PursuerRateHz
	default:
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		acfg = agent.NewEvader(identity, start, bounds, rand.New(rand.NewSource(seed)))
		acfg.RateHz = cfg.EvaderRateHz
	}
	if *rate > 0 {
		acfg.RateHz = *rate
	}
	if !bounds.Contains(start) {
		return fmt.Errorf("%w: %s on %dx%d", grid.ErrOutOfBounds, start, bounds.Rows, bounds.Cols)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	connect, err := bus.NewConnector(cfg.Bus, nil)
	if err != nil {
		return err
	}
	b, err := connect(ctx, identity)
	if err != nil {
		return err
	}
	defer b.Close()

	a, err := agent.New(b, acfg)
	if err != nil {
		return err
	}
	log.Info().Str("actor", identity).Str("role", role.String()).Str("at", start.String()).Msg("agentctl running")
	if err := a.Run(ctx); err != nil {
		return err
	}
	log.Info().Str("actor", identity).Str("state", a.State().String()).Msg("agentctl finished")
	return nil
}
