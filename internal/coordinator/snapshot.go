package coordinator

import (
	"fmt"

	"github.com/danmuck/tagctl/internal/grid"
	"github.com/danmuck/tagctl/internal/protocol"
	"github.com/vmihailenco/msgpack/v5"
)

type Phase int

const (
	PhaseCollecting Phase = iota
	PhaseActive
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseCollecting:
		return "collecting"
	case PhaseActive:
		return "active"
	case PhaseEnded:
		return "ended"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func ParsePhase(raw string) (Phase, error) {
	switch raw {
	case "collecting":
		return PhaseCollecting, nil
	case "active":
		return PhaseActive, nil
	case "ended":
		return PhaseEnded, nil
	default:
		return 0, fmt.Errorf("coordinator: unknown phase %q", raw)
	}
}

// ActorView is the coordinator's mirror of one actor.
type ActorView struct {
	Role protocol.Role `json:"role" msgpack:"role"`
	At   grid.Cell     `json:"at" msgpack:"at"`
}

// Snapshot is an immutable copy of coordinator state taken after a change.
// Seq increases by one per snapshot.
type Snapshot struct {
	Seq    uint64               `json:"seq"`
	Phase  Phase                `json:"phase"`
	Bounds grid.Bounds          `json:"bounds"`
	Actors map[string]ActorView `json:"actors"`
	Frozen []string             `json:"frozen,omitempty"`
}

// Observer receives every snapshot in order. It runs on the coordinator's
// handler path and must return quickly.
type Observer func(Snapshot)

type wireSnapshot struct {
	Seq    uint64               `msgpack:"seq"`
	Phase  string               `msgpack:"phase"`
	Rows   int                  `msgpack:"rows"`
	Cols   int                  `msgpack:"cols"`
	Actors map[string]ActorView `msgpack:"actors"`
	Frozen []string             `msgpack:"frozen"`
}

// EncodeSnapshot packs s as the msgpack blob carried on game_state.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	return msgpack.Marshal(wireSnapshot{
		Seq:    s.Seq,
		Phase:  s.Phase.String(),
		Rows:   s.Bounds.Rows,
		Cols:   s.Bounds.Cols,
		Actors: s.Actors,
		Frozen: s.Frozen,
	})
}

func DecodeSnapshot(b []byte) (Snapshot, error) {
	var w wireSnapshot
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return Snapshot{}, fmt.Errorf("coordinator: decode snapshot: %w", err)
	}
	phase, err := ParsePhase(w.Phase)
	if err != nil {
		return Snapshot{}, err
	}
	if w.Actors == nil {
		w.Actors = map[string]ActorView{}
	}
	return Snapshot{
		Seq:    w.Seq,
		Phase:  phase,
		Bounds: grid.Bounds{Rows: w.Rows, Cols: w.Cols},
		Actors: w.Actors,
		Frozen: w.Frozen,
	}, nil
}
