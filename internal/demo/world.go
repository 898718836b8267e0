// Package demo implements a reference adapter.Embedding for Razor's CLI
// harness: a toy world of players with 2D positions. It exists to exercise
// the C5 adapter contract end to end, not as a simulation of record.
package demo

import (
	"sync"

	"github.com/curvedinf/razor/pkg/codec"
	"lukechampine.com/frand"
)

// Position is one player's 2D location.
type Position struct {
	X, Y float32
}

// World is a trivial simulation. Razor's core is single-threaded cooperative
// (spec.md §5), so the CLI only touches World from the tick goroutine; every
// method still takes mu, so concurrent use is safe as well.
type World struct {
	mu      sync.Mutex
	players map[uint32]Position
}

// NewWorld returns an empty world.
func NewWorld() *World {
	return &World{players: make(map[uint32]Position)}
}

// NewPlayerID generates a fresh player id using frand rather than math/rand,
// since a demo embedding is exactly the kind of "small hash/PRNG" collaborator
// the core spec reserves for the embedding (spec.md §1).
func (w *World) NewPlayerID() uint32 {
	return uint32(frand.Uint64n(1 << 31))
}

// Move applies a position delta to a player, creating it if necessary.
func (w *World) Move(id uint32, dx, dy float32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.players[id]
	p.X += dx
	p.Y += dy
	w.players[id] = p
}

// ProduceState implements adapter.StateProducer: a count-prefixed list of
// (id, x, y) records.
func (w *World) ProduceState() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := make([]byte, 4+len(w.players)*12)
	pos := 0
	pos += codec.PutUint32(buf, pos, uint32(len(w.players)))
	for id, p := range w.players {
		pos += codec.PutUint32(buf, pos, id)
		pos += codec.PutFloat32(buf, pos, p.X)
		pos += codec.PutFloat32(buf, pos, p.Y)
	}
	return buf[:pos], nil
}

// ApplyState implements adapter.StateApplier: overwrite local state wholesale
// from the daemon's broadcast. A real embedding would instead re-simulate
// forward from daemonTick using futureTimeMs; the demo just snapshots.
func (w *World) ApplyState(state []byte, daemonTick uint64, futureTimeMs int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	pos := 0
	count, n := codec.GetUint32(state, pos)
	pos += n

	players := make(map[uint32]Position, count)
	for i := uint32(0); i < count; i++ {
		id, n := codec.GetUint32(state, pos)
		pos += n
		x, n := codec.GetFloat32(state, pos)
		pos += n
		y, n := codec.GetFloat32(state, pos)
		pos += n
		players[id] = Position{X: x, Y: y}
	}
	w.players = players
	return nil
}

// commandMove is the demo's one command kind: move player `ID` by (DX, DY).
type commandMove struct {
	ID     uint32
	DX, DY float32
}

// EncodeMoveCommand serializes a move command for submission to Engine.Command.
func EncodeMoveCommand(id uint32, dx, dy float32) []byte {
	buf := make([]byte, 12)
	pos := 0
	pos += codec.PutUint32(buf, pos, id)
	pos += codec.PutFloat32(buf, pos, dx)
	codec.PutFloat32(buf, pos, dy)
	return buf
}

func decodeMoveCommand(b []byte) (commandMove, bool) {
	if len(b) < 12 {
		return commandMove{}, false
	}
	id, n := codec.GetUint32(b, 0)
	dx, n2 := codec.GetFloat32(b, n)
	dy, _ := codec.GetFloat32(b, n+n2)
	return commandMove{ID: id, DX: dx, DY: dy}, true
}

// ApplyCommand implements adapter.CommandApplier.
func (w *World) ApplyCommand(command []byte, atTick uint64) error {
	mv, ok := decodeMoveCommand(command)
	if !ok {
		return nil
	}
	w.Move(mv.ID, mv.DX, mv.DY)
	return nil
}
