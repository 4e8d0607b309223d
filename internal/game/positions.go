package game

import (
	"errors"
	"fmt"

	"github.com/danmuck/tagctl/internal/grid"
)

var (
	ErrOddPositions   = errors.New("game: positions must be x y pairs")
	ErrPositionCount  = errors.New("game: position count does not match actor count")
	ErrPositionBounds = errors.New("game: position out of bounds")
	ErrActorCount     = errors.New("game: actor counts must be non-negative")
)

// ProcessInitialPositions splits a flat x/y list into evader cells followed by
// pursuer cells. The first numEvaders pairs are evaders; the rest pursuers.
// Input order is preserved within each group.
func ProcessInitialPositions(positions []int, rows, cols, numEvaders, numPursuers int) ([]grid.Cell, []grid.Cell, error) {
	if numEvaders < 0 || numPursuers < 0 {
		return nil, nil, fmt.Errorf("%w: evaders=%d pursuers=%d", ErrActorCount, numEvaders, numPursuers)
	}
	if len(positions)%2 != 0 {
		return nil, nil, fmt.Errorf("%w: got %d values", ErrOddPositions, len(positions))
	}
	expected := numEvaders + numPursuers
	if len(positions)/2 != expected {
		return nil, nil, fmt.Errorf("%w: expected %d, got %d", ErrPositionCount, expected, len(positions)/2)
	}

	bounds := grid.Bounds{Rows: rows, Cols: cols}
	cells := make([]grid.Cell, 0, expected)
	for i := 0; i < expected; i++ {
		c := grid.Cell{X: positions[2*i], Y: positions[2*i+1]}
		if !bounds.Contains(c) {
			return nil, nil, fmt.Errorf("%w: actor %d at %s on %dx%d", ErrPositionBounds, i, c, rows, cols)
		}
		cells = append(cells, c)
	}
	return cells[:numEvaders:numEvaders], cells[numEvaders:], nil
}
