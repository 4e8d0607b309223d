package agent

import (
	"math"
	"math/rand"

	"github.com/danmuck/tagctl/internal/grid"
)

// Policy computes the next cell for an active agent. ok=false means stay put
// and publish nothing this tick.
type Policy interface {
	Next(pos grid.Cell, bounds grid.Bounds) (next grid.Cell, ok bool)
}

// Observer is implemented by policies that learn from other actors' traffic.
// self is the observing agent's position when the message arrived.
type Observer interface {
	ObserveMove(id string, self, at grid.Cell)
	ObserveFreeze(id string)
}

// RandomWalk picks a uniform offset in {-1,0,1}x{-1,0,1}, resampling until the
// result is on the board. The zero offset is a valid outcome and is published,
// so pursuers keep learning where a standing evader is.
type RandomWalk struct {
	rng *rand.Rand
}

func NewRandomWalk(rng *rand.Rand) *RandomWalk {
	return &RandomWalk{rng: rng}
}

func (w *RandomWalk) Next(pos grid.Cell, bounds grid.Bounds) (grid.Cell, bool) {
	if !bounds.Contains(pos) {
		return pos, false
	}
	for {
		c := pos.Add(w.rng.Intn(3)-1, w.rng.Intn(3)-1)
		if bounds.Contains(c) {
			return c, true
		}
	}
}

// GreedyPursuit chases the closest actor it has heard from.
//
// The tracked distance is the one measured when the target last moved; it is
// not recomputed as the pursuer itself moves.
type GreedyPursuit struct {
	targetID string
	target   grid.Cell
	distance float64
}

func NewGreedyPursuit() *GreedyPursuit {
	return &GreedyPursuit{distance: math.Inf(1)}
}

// ObserveMove replaces the target when the move comes from the tracked target
// or is strictly closer than it. Ties keep the first-seen target.
func (p *GreedyPursuit) ObserveMove(id string, self, at grid.Cell) {
	d := float64(self.DistanceSquared(at))
	if (p.targetID != "" && id == p.targetID) || d < p.distance {
		p.targetID = id
		p.target = at
		p.distance = d
	}
}

func (p *GreedyPursuit) ObserveFreeze(id string) {
	if p.targetID != "" && id == p.targetID {
		p.targetID = ""
		p.target = grid.Cell{}
		p.distance = math.Inf(1)
	}
}

// Target returns the tracked target, if any.
func (p *GreedyPursuit) Target() (id string, at grid.Cell, ok bool) {
	return p.targetID, p.target, p.targetID != ""
}

func (p *GreedyPursuit) Next(pos grid.Cell, bounds grid.Bounds) (grid.Cell, bool) {
	if p.targetID == "" {
		return pos, false
	}
	c := pos.Add(clampStep(p.target.X-pos.X), clampStep(p.target.Y-pos.Y))
	if !bounds.Contains(c) {
		return pos, false
	}
	return c, true
}

func clampStep(d int) int {
	switch {
	case d > 0:
		return 1
	case d < 0:
		return -1
	default:
		return 0
	}
}
