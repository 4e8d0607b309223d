// Package grid is the coordinator's occupancy index: which identifiers sit in
// which cell of an N rows by M columns board.
package grid

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// MaxExtent is the largest row or column count. Coordinates travel as
// signed 32-bit values on the bus.
const MaxExtent = math.MaxInt32

var (
	ErrOutOfBounds = errors.New("grid: cell out of bounds")
	ErrNotTracked  = errors.New("grid: identifier not tracked")
	ErrEmptyBounds = errors.New("grid: bounds must be at least 1x1")
	ErrWideBounds  = errors.New("grid: bounds exceed the wire coordinate range")
)

// Cell is a column (X) and row (Y) pair.
type Cell struct {
	X int `json:"x" msgpack:"x"`
	Y int `json:"y" msgpack:"y"`
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Add returns c shifted by (dx, dy).
func (c Cell) Add(dx, dy int) Cell {
	return Cell{X: c.X + dx, Y: c.Y + dy}
}

// DistanceSquared is the squared euclidean distance between two cells.
func (c Cell) DistanceSquared(o Cell) int {
	dx := o.X - c.X
	dy := o.Y - c.Y
	return dx*dx + dy*dy
}

// Bounds is a board of Rows (N) by Cols (M).
type Bounds struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

func (b Bounds) Validate() error {
	if b.Rows < 1 || b.Cols < 1 {
		return fmt.Errorf("%w: got %dx%d", ErrEmptyBounds, b.Rows, b.Cols)
	}
	if b.Rows > MaxExtent || b.Cols > MaxExtent {
		return fmt.Errorf("%w: got %dx%d, max %d", ErrWideBounds, b.Rows, b.Cols, MaxExtent)
	}
	return nil
}

// Contains reports 0 <= x < Cols and 0 <= y < Rows.
func (b Bounds) Contains(c Cell) bool {
	return c.X >= 0 && c.X < b.Cols && c.Y >= 0 && c.Y < b.Rows
}

// Index maps cells to occupant sets. It is not safe for concurrent use; the
// owner serializes access.
type Index struct {
	bounds Bounds
	cells  map[Cell]map[string]struct{}
	pos    map[string]Cell
}

func NewIndex(bounds Bounds) (*Index, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	return &Index{
		bounds: bounds,
		cells:  make(map[Cell]map[string]struct{}),
		pos:    make(map[string]Cell),
	}, nil
}

func (ix *Index) Bounds() Bounds {
	return ix.bounds
}

// Place moves id to cell. A tracked id leaves its prior cell before the bounds
// check, so a rejected placement leaves id untracked.
func (ix *Index) Place(id string, cell Cell) error {
	if prev, ok := ix.pos[id]; ok {
		ix.evict(id, prev)
	}
	if !ix.bounds.Contains(cell) {
		return fmt.Errorf("%w: %s at %s on %dx%d", ErrOutOfBounds, id, cell, ix.bounds.Rows, ix.bounds.Cols)
	}
	set, ok := ix.cells[cell]
	if !ok {
		set = make(map[string]struct{})
		ix.cells[cell] = set
	}
	set[id] = struct{}{}
	ix.pos[id] = cell
	return nil
}

func (ix *Index) Remove(id string) error {
	cell, ok := ix.pos[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, id)
	}
	ix.evict(id, cell)
	return nil
}

// Occupants returns a sorted copy of the identifiers at cell.
func (ix *Index) Occupants(cell Cell) []string {
	set := ix.cells[cell]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (ix *Index) Position(id string) (Cell, bool) {
	c, ok := ix.pos[id]
	return c, ok
}

func (ix *Index) Len() int {
	return len(ix.pos)
}

func (ix *Index) evict(id string, cell Cell) {
	delete(ix.pos, id)
	set := ix.cells[cell]
	delete(set, id)
	if len(set) == 0 {
		delete(ix.cells, cell)
	}
}
