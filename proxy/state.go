package proxy

import (
	"maps"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/pthm-cable/pbd/cluster"
	"github.com/pthm-cable/pbd/field"
	"github.com/pthm-cable/pbd/particles"
)

// GameState is the consumer-authored input handed to the simulation by one
// BufferGameState call.
type GameState struct {
	Targets map[int]cluster.Transform // Kinematic targets by transform index
	Enabled map[int]bool
	Ops     []CommandOp // Command adds and removals in call order
}

// CommandOp queues Command with the field system, or drops it when Remove is
// set.
type CommandOp struct {
	Command *field.Command
	Remove  bool
}

func newGameState() *GameState {
	return &GameState{
		Targets: make(map[int]cluster.Transform),
		Enabled: make(map[int]bool),
	}
}

func (g *GameState) reset() {
	clear(g.Targets)
	clear(g.Enabled)
	clear(g.Ops)
	g.Ops = g.Ops[:0]
}

func (g *GameState) copyFrom(o *GameState) {
	g.reset()
	maps.Copy(g.Targets, o.Targets)
	maps.Copy(g.Enabled, o.Enabled)
	g.Ops = append(g.Ops, o.Ops...)
}

func (g *GameState) empty() bool {
	return len(g.Targets) == 0 && len(g.Enabled) == 0 && len(g.Ops) == 0
}

// mergeGameState folds a state the simulation never read into the one
// replacing it. Targets and flags in fresh win; stale command ops keep their
// place ahead of fresh ones. The stale slot is recycled afterwards, so
// nothing in fresh may alias its storage.
func mergeGameState(fresh, stale *GameState) {
	for i, t := range stale.Targets {
		if _, ok := fresh.Targets[i]; !ok {
			fresh.Targets[i] = t
		}
	}
	for i, e := range stale.Enabled {
		if _, ok := fresh.Enabled[i]; !ok {
			fresh.Enabled[i] = e
		}
	}
	if len(stale.Ops) == 0 {
		return
	}
	out := make([]CommandOp, 0, len(stale.Ops)+len(fresh.Ops))
	out = append(out, stale.Ops...)
	fresh.Ops = append(out, fresh.Ops...)
}

// TransformResult is the simulated state of one transform.
type TransformResult struct {
	Transform       cluster.Transform
	LinearVelocity  mgl64.Vec3
	AngularVelocity mgl64.Vec3
	State           particles.ObjectState
	Disabled        bool
	Parent          int
	Level           int
}

// Results is a self-contained snapshot of one simulation step, indexed like
// the collection's transforms.
type Results struct {
	Timestamp  int64
	Time       float64
	DT         float64
	Transforms []TransformResult
}

func newResults() *Results { return &Results{} }
