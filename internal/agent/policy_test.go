package agent

import (
	"math/rand"
	"testing"

	"github.com/danmuck/tagctl/internal/grid"
	"github.com/danmuck/tagctl/internal/testutil/testlog"
)

func TestRandomWalkStaysOnBoardAndAdjacent(t *testing.T) {
	testlog.Start(t)
	bounds := grid.Bounds{Rows: 3, Cols: 4}
	w := NewRandomWalk(rand.New(rand.NewSource(42)))
	pos := grid.Cell{X: 0, Y: 0}
	sawZero := false
	for i := 0; i < 1000; i++ {
		next, ok := w.Next(pos, bounds)
		if !ok {
			t.Fatalf("random walk must always move or republish")
		}
		if !bounds.Contains(next) {
			t.Fatalf("step %d: %s off board", i, next)
		}
		if dx, dy := next.X-pos.X, next.Y-pos.Y; dx < -1 || dx > 1 || dy < -1 || dy > 1 {
			t.Fatalf("step %d: %s not adjacent to %s", i, next, pos)
		}
		if next == pos {
			sawZero = true
		}
		pos = next
	}
	if !sawZero {
		t.Fatalf("expected the zero offset to be sampled")
	}
}

func TestRandomWalkSingleCellBoard(t *testing.T) {
	testlog.Start(t)
	w := NewRandomWalk(rand.New(rand.NewSource(1)))
	next, ok := w.Next(grid.Cell{}, grid.Bounds{Rows: 1, Cols: 1})
	if !ok || next != (grid.Cell{}) {
		t.Fatalf("expected (0,0) republished, got %s ok=%v", next, ok)
	}
}

func TestRandomWalkIsDeterministicForSeed(t *testing.T) {
	testlog.Start(t)
	bounds := grid.Bounds{Rows: 10, Cols: 10}
	a := NewRandomWalk(rand.New(rand.NewSource(9)))
	b := NewRandomWalk(rand.New(rand.NewSource(9)))
	pa, pb := grid.Cell{X: 5, Y: 5}, grid.Cell{X: 5, Y: 5}
	for i := 0; i < 50; i++ {
		pa, _ = a.Next(pa, bounds)
		pb, _ = b.Next(pb, bounds)
		if pa != pb {
			t.Fatalf("step %d diverged: %s vs %s", i, pa, pb)
		}
	}
}

func TestGreedyPursuitTieKeepsFirstSeen(t *testing.T) {
	testlog.Start(t)
	p := NewGreedyPursuit()
	self := grid.Cell{X: 2, Y: 2}
	p.ObserveMove("first", self, grid.Cell{X: 0, Y: 2})
	p.ObserveMove("second", self, grid.Cell{X: 4, Y: 2})
	id, at, ok := p.Target()
	if !ok || id != "first" || at != (grid.Cell{X: 0, Y: 2}) {
		t.Fatalf("expected first-seen target kept on tie, got %q %s", id, at)
	}

	p.ObserveMove("third", self, grid.Cell{X: 2, Y: 3})
	if id, _, _ := p.Target(); id != "third" {
		t.Fatalf("expected strictly closer target, got %q", id)
	}
}

func TestGreedyPursuitRefreshesTrackedTargetEvenWhenFarther(t *testing.T) {
	testlog.Start(t)
	p := NewGreedyPursuit()
	self := grid.Cell{X: 0, Y: 0}
	p.ObserveMove("e", self, grid.Cell{X: 1, Y: 0})
	p.ObserveMove("e", self, grid.Cell{X: 4, Y: 4})
	id, at, _ := p.Target()
	if id != "e" || at != (grid.Cell{X: 4, Y: 4}) {
		t.Fatalf("expected refreshed target position, got %q %s", id, at)
	}
	// The refreshed, larger distance is now the bar to beat.
	p.ObserveMove("f", self, grid.Cell{X: 3, Y: 3})
	if id, _, _ := p.Target(); id != "f" {
		t.Fatalf("expected closer actor to replace refreshed target, got %q", id)
	}
}

func TestGreedyPursuitFreezeClearsTrackedTargetOnly(t *testing.T) {
	testlog.Start(t)
	p := NewGreedyPursuit()
	self := grid.Cell{}
	p.ObserveMove("e", self, grid.Cell{X: 1, Y: 1})
	p.ObserveFreeze("someone-else")
	if _, _, ok := p.Target(); !ok {
		t.Fatalf("expected target kept after unrelated freeze")
	}
	p.ObserveFreeze("e")
	if _, _, ok := p.Target(); ok {
		t.Fatalf("expected target cleared after its freeze")
	}
	// Distance reset to infinity: any sighting is accepted.
	p.ObserveMove("far", self, grid.Cell{X: 9, Y: 9})
	if id, _, _ := p.Target(); id != "far" {
		t.Fatalf("expected new target after reset, got %q", id)
	}
}

func TestGreedyPursuitStep(t *testing.T) {
	testlog.Start(t)
	bounds := grid.Bounds{Rows: 5, Cols: 5}
	cases := []struct {
		name   string
		pos    grid.Cell
		target grid.Cell
		want   grid.Cell
		ok     bool
	}{
		{"diagonal", grid.Cell{X: 4, Y: 4}, grid.Cell{X: 0, Y: 0}, grid.Cell{X: 3, Y: 3}, true},
		{"horizontal", grid.Cell{X: 0, Y: 2}, grid.Cell{X: 4, Y: 2}, grid.Cell{X: 1, Y: 2}, true},
		{"on target", grid.Cell{X: 1, Y: 1}, grid.Cell{X: 1, Y: 1}, grid.Cell{X: 1, Y: 1}, true},
		{"off board target", grid.Cell{X: 4, Y: 4}, grid.Cell{X: 9, Y: 4}, grid.Cell{X: 4, Y: 4}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewGreedyPursuit()
			p.ObserveMove("e", tc.pos, tc.target)
			got, ok := p.Next(tc.pos, bounds)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("expected %s ok=%v, got %s ok=%v", tc.want, tc.ok, got, ok)
			}
		})
	}
}

func TestGreedyPursuitWithoutTargetStays(t *testing.T) {
	testlog.Start(t)
	p := NewGreedyPursuit()
	pos := grid.Cell{X: 2, Y: 2}
	if got, ok := p.Next(pos, grid.Bounds{Rows: 5, Cols: 5}); ok || got != pos {
		t.Fatalf("expected stay without target, got %s ok=%v", got, ok)
	}
}
