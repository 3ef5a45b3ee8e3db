package scenario

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/pthm-cable/pbd/config"
	"github.com/pthm-cable/pbd/field"
	"github.com/pthm-cable/pbd/solver"
	"github.com/pthm-cable/pbd/telemetry"
)

func TestPileLayout(t *testing.T) {
	tests := []struct {
		name                  string
		clusterSize, samples  int
		wantLeaves, wantPerLf int
	}{
		{"single", 1, 1, 1, 1},
		{"default", 2, 3, 8, 27},
		{"large", 3, 2, 27, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Scenario
			cfg.ClusterSize = tt.clusterSize
			cfg.SamplesPerAxis = tt.samples
			c := Pile("pile", cfg, nil)

			if err := c.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if c.Len() != tt.wantLeaves+1 {
				t.Fatalf("transforms = %d, want %d", c.Len(), tt.wantLeaves+1)
			}
			if len(c.Roots()) != 1 || c.IsLeaf(0) {
				t.Fatalf("root layout wrong: roots %v", c.Roots())
			}
			for i := 1; i < c.Len(); i++ {
				if len(c.Samples[i]) != tt.wantPerLf {
					t.Errorf("leaf %d samples = %d, want %d", i, len(c.Samples[i]), tt.wantPerLf)
				}
				z := c.Transforms[i].Translation.Z()
				if z < cfg.DropHeight {
					t.Errorf("leaf %d below drop height: %v", i, z)
				}
			}
			m := cfg.FragmentSize * cfg.FragmentSize * cfg.FragmentSize
			if got := c.TotalMass(0); math.Abs(got-m*float64(tt.wantLeaves)) > 1e-12 {
				t.Errorf("total mass = %v, want %v", got, m*float64(tt.wantLeaves))
			}
		})
	}
}

func TestPileSeeded(t *testing.T) {
	cfg := config.Default().Scenario
	a := Pile("a", cfg, rand.New(rand.NewSource(7)))
	b := Pile("b", cfg, rand.New(rand.NewSource(7)))
	plain := Pile("plain", cfg, nil)

	moved := false
	for i := range a.Transforms {
		if a.Transforms[i] != b.Transforms[i] {
			t.Fatalf("transform %d differs for the same seed", i)
		}
		d := a.Transforms[i].Translation.Sub(plain.Transforms[i].Translation)
		if d.Len() > jitter*cfg.FragmentSize*math.Sqrt(3)+1e-12 {
			t.Errorf("transform %d jitter %v too large", i, d)
		}
		if d.Len() > 0 {
			moved = true
		}
	}
	if !moved {
		t.Error("seeded pile has no jitter")
	}
}

func TestGridSpansFragment(t *testing.T) {
	pts := grid(3, 1)
	lo, hi := mgl64.Vec3{1, 1, 1}, mgl64.Vec3{-1, -1, -1}
	for _, p := range pts {
		for a := 0; a < 3; a++ {
			lo[a] = math.Min(lo[a], p[a])
			hi[a] = math.Max(hi[a], p[a])
		}
	}
	if lo != (mgl64.Vec3{-0.5, -0.5, -0.5}) || hi != (mgl64.Vec3{0.5, 0.5, 0.5}) {
		t.Errorf("grid bounds = %v..%v", lo, hi)
	}
}

func TestGroundStopsFall(t *testing.T) {
	cfg := config.Default()
	cfg.Solver.Workers = -1
	cfg.Solver.DT = 0.01
	cfg.Groups.Damping = 0
	e := solver.NewEvolution(cfg.Solver, cfg.Groups, nil)
	AddGround(e, [3]float64{0, 0, 0}) // Invalid normal falls back to +Z

	start := e.AddParticles(1, true)
	p := e.Particles()
	p.Group[start] = e.AllocateGroup()
	p.X[start] = mgl64.Vec3{0, 0, 0.5}
	for i := 0; i < 200; i++ {
		e.AdvanceOneTimeStep(0.01)
	}
	if z := p.X[start].Z(); math.Abs(z-cfg.Groups.Thickness) > 1e-6 {
		t.Errorf("rest height = %v, want %v", z, cfg.Groups.Thickness)
	}
}

func TestBlastPushesOutward(t *testing.T) {
	cfg := config.Default().Scenario
	cmd := Blast(cfg)
	if cmd.Target != field.TargetLinearForce || !cmd.HasEvaluator() {
		t.Fatalf("blast command = %+v", cmd)
	}

	ctx := &field.Context{Samples: []field.Sample{
		{Position: mgl64.Vec3{1, 0, 0}},
		{Position: mgl64.Vec3{0, 0, cfg.FieldRadius + 1}},
	}}
	out := make([]mgl64.Vec3, 2)
	cmd.Vector.EvaluateVector(ctx, out)
	if out[0].X() <= 0 || math.Abs(out[0].Y()) > 1e-12 {
		t.Errorf("force inside radius = %v, want +X", out[0])
	}
	if out[1].Len() != 0 {
		t.Errorf("force outside radius = %v, want zero", out[1])
	}
}

func TestRunFiresBlast(t *testing.T) {
	cfg := config.Default()
	cfg.Solver.Workers = -1
	cfg.Solver.DT = 0.01
	cfg.Scenario.ClusterSize = 1
	cfg.Scenario.SamplesPerAxis = 1
	cfg.Scenario.FieldTick = 5

	var windows []telemetry.StepStats
	cfg.Telemetry.StatsWindow = 10
	res, err := Run(context.Background(), cfg, Options{
		Seed:           3,
		MaxTicks:       40,
		SimInterval:    time.Millisecond,
		UpdateInterval: time.Millisecond,
		Solver: solver.Options{
			StatsCallback: func(s telemetry.StepStats) { windows = append(windows, s) },
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Ticks != 40 {
		t.Errorf("ticks = %d, want 40", res.Ticks)
	}
	if res.BlastTick < 5 {
		t.Errorf("blast tick = %d, want >= 5", res.BlastTick)
	}
	if len(res.Snapshot.Collections) != 1 || len(res.Snapshot.Collections[0].Bodies) != 2 {
		t.Fatalf("snapshot = %+v", res.Snapshot)
	}
	if res.Snapshot.Seed != 3 {
		t.Errorf("snapshot seed = %d, want 3", res.Snapshot.Seed)
	}
	if len(windows) == 0 {
		t.Error("no stats windows reported")
	}
}
