// Package scenario builds the demo scene used by the headless runner and the
// calibration tool: a cubic pile of box fragments dropped onto a ground plane
// and blown apart by a radial force field.
package scenario

import (
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/pthm-cable/pbd/cluster"
	"github.com/pthm-cable/pbd/collision"
	"github.com/pthm-cable/pbd/config"
	"github.com/pthm-cable/pbd/field"
	"github.com/pthm-cable/pbd/geometry"
	"github.com/pthm-cable/pbd/solver"
)

// jitter is the largest random offset of a fragment, as a share of its size.
const jitter = 0.05

// Pile builds one collection: a root cluster holding ClusterSize³ leaf
// fragments. Each leaf carries a SamplesPerAxis³ grid of sample points
// spanning a cube of edge FragmentSize. The pile's lowest layer starts at
// DropHeight above the origin.
func Pile(name string, cfg config.ScenarioConfig, rng *rand.Rand) *cluster.Collection {
	n := max(cfg.ClusterSize, 1)
	size := cfg.FragmentSize
	samples := grid(max(cfg.SamplesPerAxis, 1), size)
	mass := size * size * size

	c := cluster.New(name)
	root := c.AddCluster(cluster.Identity(), cluster.None)
	offset := -0.5 * float64(n-1) * size
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				t := cluster.Identity()
				t.Translation = mgl64.Vec3{
					offset + float64(i)*size,
					offset + float64(j)*size,
					cfg.DropHeight + 0.5*size + float64(k)*size,
				}
				if rng != nil {
					t.Translation = t.Translation.Add(mgl64.Vec3{
						(rng.Float64()*2 - 1) * jitter * size,
						(rng.Float64()*2 - 1) * jitter * size,
						rng.Float64() * jitter * size,
					})
				}
				c.AddLeaf(t, root, mass, samples)
			}
		}
	}
	return c
}

// grid returns n³ points spanning a cube of edge size centered on the origin.
// A single point sits at the center.
func grid(n int, size float64) []mgl64.Vec3 {
	if n == 1 {
		return []mgl64.Vec3{{}}
	}
	step := size / float64(n-1)
	lo := -0.5 * size
	pts := make([]mgl64.Vec3, 0, n*n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				pts = append(pts, mgl64.Vec3{lo + float64(i)*step, lo + float64(j)*step, lo + float64(k)*step})
			}
		}
	}
	return pts
}

// AddGround adds a static ground plane through the origin with the given
// normal, colliding with every group. It returns the object index. It must
// be called before the solver starts running.
func AddGround(e *solver.Evolution, normal [3]float64) int {
	n := mgl64.Vec3{normal[0], normal[1], normal[2]}
	if !geometry.ValidNormal(n) {
		n = mgl64.Vec3{0, 0, 1}
	}
	return e.AddCollisionObject(geometry.NewPlane(mgl64.Vec3{}, n.Normalize()), cluster.Identity(), collision.AnyGroup)
}

// Blast returns a transient radial force centered on the origin: FieldStrength
// at the center, fading smoothly to zero at FieldRadius. It pushes every
// enabled leaf away from the center.
func Blast(cfg config.ScenarioConfig) *field.Command {
	return field.NewVectorCommand(field.TargetLinearForce, field.ScaledVector{
		Scalar: field.RadialFalloff{
			Magnitude: cfg.FieldStrength,
			Radius:    cfg.FieldRadius,
			Falloff:   field.FalloffSmooth,
		},
		Vector: field.RadialVector{Magnitude: 1},
	}).WithFilter(field.FilterActive)
}
