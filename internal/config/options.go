package config

import (
	"time"

	"github.com/danmuck/tagctl/internal/game"
	"github.com/danmuck/tagctl/internal/grid"
)

func (g Game) Bounds() grid.Bounds {
	return grid.Bounds{Rows: g.Height, Cols: g.Width}
}

// Options validates g and partitions its positions into launch options.
// A zero Seed is replaced with the current time.
func (g Game) Options() (game.Options, error) {
	if err := g.Validate(); err != nil {
		return game.Options{}, err
	}
	evaders, pursuers, err := game.ProcessInitialPositions(g.Positions, g.Height, g.Width, g.NumEvaders, g.NumPursuers)
	if err != nil {
		return game.Options{}, err
	}
	opts := game.DefaultOptions(g.Bounds(), evaders, pursuers)
	if g.Seed != 0 {
		opts.Seed = g.Seed
	} else {
		opts.Seed = time.Now().UnixNano()
	}
	opts.StopGrace = g.StopGrace
	opts.EvaderRateHz = g.EvaderRateHz
	opts.PursuerRateHz = g.PursuerRateHz
	opts.CoordinatorRateHz = g.CoordinatorRateHz
	opts.RegistrationTimeout = g.RegistrationTimeout
	opts.PublishState = g.PublishState
	return opts, nil
}
