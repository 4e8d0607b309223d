// Package game wires one coordinator and its actors onto a bus.
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/tagctl/internal/agent"
	"github.com/danmuck/tagctl/internal/bus"
	"github.com/danmuck/tagctl/internal/coordinator"
	"github.com/danmuck/tagctl/internal/grid"
	"github.com/danmuck/tagctl/internal/logging"
	"github.com/danmuck/tagctl/internal/node"
	"github.com/danmuck/tagctl/internal/observability"
	"github.com/danmuck/tagctl/internal/protocol"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const DefaultStopGrace = 3 * time.Second

var ErrNoActors = errors.New("game: no actors to launch")

type Options struct {
	Bounds    grid.Bounds
	Evaders   []grid.Cell
	Pursuers  []grid.Cell
	Seed      int64
	StopGrace time.Duration

	EvaderRateHz        float64
	PursuerRateHz       float64
	CoordinatorRateHz   float64
	RegistrationTimeout time.Duration
	PublishState        bool
}

func DefaultOptions(bounds grid.Bounds, evaders, pursuers []grid.Cell) Options {
	return Options{
		Bounds:              bounds,
		Evaders:             evaders,
		Pursuers:            pursuers,
		Seed:                time.Now().UnixNano(),
		StopGrace:           DefaultStopGrace,
		EvaderRateHz:        agent.DefaultEvaderRateHz,
		PursuerRateHz:       agent.DefaultPursuerRateHz,
		CoordinatorRateHz:   coordinator.DefaultRateHz,
		RegistrationTimeout: coordinator.DefaultRegistrationTimeout,
	}
}

func (o Options) coordinatorConfig() coordinator.Config {
	cfg := coordinator.DefaultConfig(o.Bounds, len(o.Evaders)+len(o.Pursuers))
	if o.CoordinatorRateHz > 0 {
		cfg.RateHz = o.CoordinatorRateHz
	}
	if o.RegistrationTimeout > 0 {
		cfg.RegistrationTimeout = o.RegistrationTimeout
	}
	cfg.PublishState = o.PublishState
	return cfg
}

// AgentConfigs builds one config per actor, evaders first. Each evader walks
// with its own generator derived from Seed.
func (o Options) AgentConfigs() []agent.Config {
	seeds := rand.New(rand.NewSource(o.Seed))
	out := make([]agent.Config, 0, len(o.Evaders)+len(o.Pursuers))
	for _, at := range o.Evaders {
		cfg := agent.NewEvader(agent.NewIdentity(protocol.RoleEvader), at, o.Bounds, rand.New(rand.NewSource(seeds.Int63())))
		if o.EvaderRateHz > 0 {
			cfg.RateHz = o.EvaderRateHz
		}
		out = append(out, cfg)
	}
	for _, at := range o.Pursuers {
		cfg := agent.NewPursuer(agent.NewIdentity(protocol.RolePursuer), at, o.Bounds)
		if o.PursuerRateHz > 0 {
			cfg.RateHz = o.PursuerRateHz
		}
		out = append(out, cfg)
	}
	return out
}

// Launch runs a coordinator and every actor until the game ends. Each unit
// gets its own bus client from connect. Actors still running StopGrace after
// the coordinator exits are cancelled. admin may be nil.
// AdminObserver mirrors coordinator snapshots onto admin. A failed update is
// logged and the snapshot dropped.
func AdminObserver(admin *observability.Admin, logger zerolog.Logger) coordinator.Observer {
	return func(s coordinator.Snapshot) {
		if err := admin.Update(s.Phase.String(), s.Phase == coordinator.PhaseActive, s); err != nil {
			logger.Warn().Err(err).Uint64("seq", s.Seq).Msg("game.AdminObserver update failed")
		}
	}
}

func Launch(ctx context.Context, connect bus.ConnectFunc, opts Options, admin *observability.Admin) (coordinator.Outcome, error) {
	logger := logging.Component("game")
	agents := opts.AgentConfigs()
	if len(agents) == 0 {
		return coordinator.Outcome{}, ErrNoActors
	}

	var (
		clientsMu sync.Mutex
		clients   []bus.Bus
	)
	dial := func(ctx context.Context, name string) (bus.Bus, error) {
		b, err := connect(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("game: connect %s: %w", name, err)
		}
		clientsMu.Lock()
		clients = append(clients, b)
		clientsMu.Unlock()
		return b, nil
	}
	defer func() {
		clientsMu.Lock()
		defer clientsMu.Unlock()
		for i := len(clients) - 1; i >= 0; i-- {
			_ = clients[i].Close()
		}
	}()

	coordBus, err := dial(ctx, "coordinator")
	if err != nil {
		return coordinator.Outcome{}, err
	}
	coord, err := coordinator.New(coordBus, opts.coordinatorConfig())
	if err != nil {
		return coordinator.Outcome{}, err
	}
	if admin != nil {
		coord.OnSnapshot(AdminObserver(admin, logger))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	var outcome coordinator.Outcome
	coordDone := make(chan struct{})
	g.Go(func() error {
		defer close(coordDone)
		out, err := coord.Run(gctx)
		outcome = out
		return err
	})
	go func() {
		select {
		case <-coordDone:
		case <-runCtx.Done():
			return
		}
		grace := opts.StopGrace
		if grace <= 0 {
			grace = DefaultStopGrace
		}
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			logger.Warn().Dur("grace", grace).Msg("game.Launch cancelling actors still running")
			cancel()
		case <-runCtx.Done():
		}
	}()

	select {
	case <-coord.Listening():
	case <-coord.Done():
	case <-gctx.Done():
	}

	for _, cfg := range agents {
		b, err := dial(gctx, cfg.Identity)
		if err != nil {
			cancel()
			_ = g.Wait()
			return outcome, err
		}
		a, err := agent.New(b, cfg)
		if err != nil {
			cancel()
			_ = g.Wait()
			return outcome, err
		}
		runUnit(gctx, g, logger, a)
	}
	logger.Info().
		Int("evaders", len(opts.Evaders)).
		Int("pursuers", len(opts.Pursuers)).
		Int("rows", opts.Bounds.Rows).
		Int("cols", opts.Bounds.Cols).
		Msg("game.Launch started")

	var adminDone chan error
	adminCtx, stopAdmin := context.WithCancel(ctx)
	defer stopAdmin()
	if admin != nil {
		adminDone = make(chan error, 1)
		go func() { adminDone <- admin.Run(adminCtx) }()
	}

	err = g.Wait()
	if adminDone != nil {
		stopAdmin()
		if aerr := <-adminDone; aerr != nil && err == nil {
			err = fmt.Errorf("game: admin: %w", aerr)
		}
	}
	logger.Info().
		Str("reason", string(outcome.Reason)).
		Str("winner", outcome.Winner.String()).
		Int("frozen", len(outcome.Frozen)).
		Msg("game.Launch finished")
	return outcome, err
}

// runUnit runs u in g and logs its exit.
func runUnit(ctx context.Context, g *errgroup.Group, logger zerolog.Logger, u node.Unit) {
	g.Go(func() error {
		err := u.Run(ctx)
		event := logger.Debug()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.Str("node", u.NodeID()).Str("kind", u.Kind()).Msg("game.Launch unit exited")
		return err
	})
}
