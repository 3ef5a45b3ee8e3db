package game

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/pthm-cable/pbd/cluster"
	"github.com/pthm-cable/pbd/components"
	"github.com/pthm-cable/pbd/config"
	"github.com/pthm-cable/pbd/field"
	"github.com/pthm-cable/pbd/particles"
	"github.com/pthm-cable/pbd/proxy"
	"github.com/pthm-cable/pbd/solver"
)

const dt = 0.01

func newGame(t *testing.T) (*Game, *solver.Solver) {
	t.Helper()
	cfg := config.Default()
	cfg.Solver.Workers = -1
	cfg.Solver.DT = dt
	s := solver.New(cfg, solver.Options{})
	return New(s, nil), s
}

// pair is a cluster of two one-sample leaves at height z.
func pair(name string, z float64) *cluster.Collection {
	c := cluster.New(name)
	root := c.AddCluster(cluster.Identity(), cluster.None)
	for k := 0; k < 2; k++ {
		t := cluster.Identity()
		t.Translation = mgl64.Vec3{float64(k), 0, z}
		c.AddLeaf(t, root, 1, []mgl64.Vec3{{0, 0, 0}})
	}
	return c
}

func countBodies(g *Game) int {
	n := 0
	q := g.bodyFilter.Query()
	for q.Next() {
		n++
	}
	return n
}

func TestAddCollectionCreatesEntities(t *testing.T) {
	g, _ := newGame(t)
	idx, err := g.AddCollection(context.Background(), pair("pair", 1), proxy.Options{})
	if err != nil {
		t.Fatalf("AddCollection: %v", err)
	}
	if n := countBodies(g); n != 3 {
		t.Fatalf("bodies = %d, want 3", n)
	}
	root := g.bodyMap.Get(g.Entities(idx)[0])
	if root.Leaf || root.Level != 0 || root.Mass != 2 {
		t.Errorf("root body = %+v", root)
	}
	leaf := g.bodyMap.Get(g.Entities(idx)[2])
	if !leaf.Leaf || leaf.Level != 1 || leaf.Parent != 0 {
		t.Errorf("leaf body = %+v", leaf)
	}
}

func TestUpdatePullsResults(t *testing.T) {
	g, s := newGame(t)
	idx, err := g.AddCollection(context.Background(), pair("pair", 1), proxy.Options{})
	if err != nil {
		t.Fatalf("AddCollection: %v", err)
	}
	if g.Tick() != -1 {
		t.Errorf("Tick before any step = %d, want -1", g.Tick())
	}
	s.Step(dt)
	if err := g.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if g.Tick() != 0 {
		t.Errorf("Tick = %d, want 0", g.Tick())
	}

	for k, e := range g.Entities(idx) {
		status := g.statusMap.Get(e)
		if status.Tick != 0 {
			t.Errorf("entity %d status tick = %d, want 0", k, status.Tick)
		}
		pose := g.transformMap.Get(e)
		if pose.Position.Z() >= 1 {
			t.Errorf("entity %d did not fall: %v", k, pose.Position)
		}
		if v := g.velMap.Get(e); v.Linear.Z() >= 0 {
			t.Errorf("entity %d velocity = %v", k, v.Linear)
		}
	}

	// No new step: the world keeps the same results.
	before := *g.transformMap.Get(g.Entities(idx)[1])
	if err := g.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if after := *g.transformMap.Get(g.Entities(idx)[1]); after != before {
		t.Errorf("pose changed without a step: %v -> %v", before, after)
	}
}

func TestKinematicTargetReachesSimulation(t *testing.T) {
	g, s := newGame(t)
	c := pair("pair", 1)
	for i := range c.State {
		c.State[i] = particles.StateKinematic
	}
	idx, err := g.AddCollection(context.Background(), c, proxy.Options{})
	if err != nil {
		t.Fatalf("AddCollection: %v", err)
	}
	s.Step(dt)

	leaf := g.Entities(idx)[1]
	want := mgl64.Vec3{3, 0, 2}
	g.SetKinematicTarget(leaf, components.Transform{Position: want, Rotation: mgl64.QuatIdent()})
	if err := g.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if g.targetMap.Get(leaf).Pending {
		t.Error("target still pending after Update")
	}
	s.Step(dt)
	if err := g.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got := g.transformMap.Get(leaf).Position
	if got.Sub(want).Len() > 1e-9 {
		t.Errorf("kinematic leaf at %v, want %v", got, want)
	}
}

func TestApplyFieldDisables(t *testing.T) {
	g, s := newGame(t)
	idx, err := g.AddCollection(context.Background(), pair("pair", 1), proxy.Options{})
	if err != nil {
		t.Fatalf("AddCollection: %v", err)
	}
	s.Step(dt)

	kill := field.NewIntegerCommand(field.TargetKill, field.UniformInteger{Value: 1})
	g.ApplyField(idx, kill)
	if err := g.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	s.Step(dt)
	if err := g.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	for k, e := range g.Entities(idx) {
		if st := g.statusMap.Get(e); !st.Disabled {
			t.Errorf("entity %d not disabled: %+v", k, st)
		}
	}
}

func TestRemoveCollection(t *testing.T) {
	g, s := newGame(t)
	ctx := context.Background()
	keep, err := g.AddCollection(ctx, pair("keep", 1), proxy.Options{})
	if err != nil {
		t.Fatalf("AddCollection: %v", err)
	}
	drop, err := g.AddCollection(ctx, pair("drop", 2), proxy.Options{})
	if err != nil {
		t.Fatalf("AddCollection: %v", err)
	}
	s.Step(dt)
	dropped := g.Entities(drop)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- g.RemoveCollection(ctx, drop)
	}()
	for !g.Proxy(drop).Destroying() {
		time.Sleep(time.Millisecond)
	}
	s.Step(dt)
	if err := <-done; err != nil {
		t.Fatalf("RemoveCollection: %v", err)
	}

	for _, e := range dropped {
		if g.World().Alive(e) {
			t.Errorf("entity %v still alive", e)
		}
	}
	if n := countBodies(g); n != 3 {
		t.Errorf("bodies = %d, want 3", n)
	}
	if g.Proxy(keep) == nil || g.Proxy(drop) != nil {
		t.Error("wrong proxy removed")
	}
	if err := g.RemoveCollection(ctx, drop); err == nil {
		t.Error("second RemoveCollection succeeded")
	}
}

func TestRun(t *testing.T) {
	g, s := newGame(t)
	ctx := context.Background()
	idx, err := g.AddCollection(ctx, pair("pair", 1), proxy.Options{})
	if err != nil {
		t.Fatalf("AddCollection: %v", err)
	}

	var updates int
	err = g.Run(ctx, RunOptions{
		MaxTicks:       20,
		UpdateInterval: time.Millisecond,
		OnUpdate:       func(*Game) error { updates++; return nil },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Tick() != 20 {
		t.Errorf("solver ticks = %d, want 20", s.Tick())
	}
	if updates == 0 {
		t.Error("OnUpdate never ran")
	}
	if st := g.statusMap.Get(g.Entities(idx)[1]); st.Tick != 19 {
		t.Errorf("final pulled tick = %d, want 19", st.Tick)
	}

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := g.Close(closeCtx); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestRunCancelledIsClean(t *testing.T) {
	g, _ := newGame(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	if err := g.Run(ctx, RunOptions{SimInterval: time.Millisecond, UpdateInterval: time.Millisecond}); err != nil {
		t.Errorf("Run after cancel = %v, want nil", err)
	}
}

func TestSnapshotAndFrame(t *testing.T) {
	g, s := newGame(t)
	if _, err := g.AddCollection(context.Background(), pair("pair", 1), proxy.Options{}); err != nil {
		t.Fatalf("AddCollection: %v", err)
	}
	s.Step(dt)
	if err := g.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	snap := g.Snapshot(42)
	if snap.Seed != 42 || snap.Tick != 0 || len(snap.Collections) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	bodies := snap.Collections[0].Bodies
	if len(bodies) != 3 || bodies[2].Level != 1 || bodies[2].State != "dynamic" {
		t.Errorf("bodies = %+v", bodies)
	}
	if math.Abs(snap.Time-dt) > 1e-12 {
		t.Errorf("snapshot time = %v, want %v", snap.Time, dt)
	}

	f := g.Frame()
	if len(f.Bodies) != 3 || f.Bodies[0].Collection != "pair" {
		t.Errorf("frame = %+v", f)
	}
}
