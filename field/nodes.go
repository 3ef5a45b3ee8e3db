package field

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/ojrac/opensimplex-go"
)

// Falloff shapes a normalized distance t in [0, 1] (1 at the source) into a weight.
type Falloff uint8

const (
	FalloffNone Falloff = iota
	FalloffLinear
	FalloffSquared
	FalloffSmooth
)

func (f Falloff) weight(t float64) float64 {
	switch f {
	case FalloffLinear:
		return t
	case FalloffSquared:
		return t * t
	case FalloffSmooth:
		return t * t * (3 - 2*t)
	}
	return 1
}

// UniformVector is the same vector everywhere.
type UniformVector struct {
	Magnitude float64
	Direction mgl64.Vec3
}

func (n UniformVector) EvaluateVector(_ *Context, out []mgl64.Vec3) {
	v := n.Direction.Mul(n.Magnitude)
	for i := range out {
		out[i] = v
	}
}

// RadialVector points away from Position with constant magnitude. It is zero
// at Position.
type RadialVector struct {
	Magnitude float64
	Position  mgl64.Vec3
}

func (n RadialVector) EvaluateVector(ctx *Context, out []mgl64.Vec3) {
	for i, s := range ctx.Samples {
		d := s.Position.Sub(n.Position)
		l := d.Len()
		if l == 0 {
			out[i] = mgl64.Vec3{}
			continue
		}
		out[i] = d.Mul(n.Magnitude / l)
	}
}

// UniformScalar is the same value everywhere.
type UniformScalar struct {
	Magnitude float64
}

func (n UniformScalar) EvaluateScalar(_ *Context, out []float64) {
	for i := range out {
		out[i] = n.Magnitude
	}
}

// RadialFalloff is Magnitude at Position, fading to zero at Radius.
type RadialFalloff struct {
	Magnitude float64
	Position  mgl64.Vec3
	Radius    float64
	Falloff   Falloff
}

func (n RadialFalloff) EvaluateScalar(ctx *Context, out []float64) {
	for i, s := range ctx.Samples {
		d := s.Position.Sub(n.Position).Len()
		if n.Radius <= 0 || d >= n.Radius {
			out[i] = 0
			continue
		}
		out[i] = n.Magnitude * n.Falloff.weight(1-d/n.Radius)
	}
}

// PlaneFalloff is non-zero on the side opposite Normal within Distance of the plane.
type PlaneFalloff struct {
	Magnitude float64
	Position  mgl64.Vec3
	Normal    mgl64.Vec3
	Distance  float64
	Falloff   Falloff
}

func (n PlaneFalloff) EvaluateScalar(ctx *Context, out []float64) {
	for i, s := range ctx.Samples {
		d := s.Position.Sub(n.Position).Dot(n.Normal)
		if d > 0 || n.Distance <= 0 || -d >= n.Distance {
			out[i] = 0
			continue
		}
		out[i] = n.Magnitude * n.Falloff.weight(1+d/n.Distance)
	}
}

// BoxFalloff is non-zero inside the axis-aligned box [Min, Max], weighted by
// the distance to the box center along the most distant axis.
type BoxFalloff struct {
	Magnitude float64
	Min, Max  mgl64.Vec3
	Falloff   Falloff
}

func (n BoxFalloff) EvaluateScalar(ctx *Context, out []float64) {
	center := n.Min.Add(n.Max).Mul(0.5)
	half := n.Max.Sub(n.Min).Mul(0.5)
	for i, s := range ctx.Samples {
		out[i] = 0
		t := 0.0
		inside := true
		for a := 0; a < 3; a++ {
			if half[a] <= 0 {
				inside = false
				break
			}
			r := math.Abs(s.Position[a]-center[a]) / half[a]
			if r > 1 {
				inside = false
				break
			}
			t = math.Max(t, r)
		}
		if inside {
			out[i] = n.Magnitude * n.Falloff.weight(1-t)
		}
	}
}

// Noise is OpenSimplex noise mapped into [Min, Max]. Time advances the fourth
// noise dimension by Speed.
type Noise struct {
	Min, Max float64
	Scale    float64
	Speed    float64
	noise    opensimplex.Noise
}

// NewNoise creates a noise node with the given seed.
func NewNoise(seed int64, lo, hi, scale float64) *Noise {
	return &Noise{Min: lo, Max: hi, Scale: scale, noise: opensimplex.NewNormalized(seed)}
}

func (n *Noise) EvaluateScalar(ctx *Context, out []float64) {
	if n.noise == nil {
		for i := range out {
			out[i] = n.Min
		}
		return
	}
	w := ctx.Time * n.Speed
	for i, s := range ctx.Samples {
		p := s.Position.Mul(n.Scale)
		out[i] = n.Min + (n.Max-n.Min)*n.noise.Eval4(p[0], p[1], p[2], w)
	}
}

// UniformInteger is the same value everywhere.
type UniformInteger struct {
	Value int32
}

func (n UniformInteger) EvaluateInteger(_ *Context, out []int32) {
	for i := range out {
		out[i] = n.Value
	}
}

// RadialIntMask is Inside within Radius of Position and Outside elsewhere.
type RadialIntMask struct {
	Position mgl64.Vec3
	Radius   float64
	Inside   int32
	Outside  int32
}

func (n RadialIntMask) EvaluateInteger(ctx *Context, out []int32) {
	r2 := n.Radius * n.Radius
	for i, s := range ctx.Samples {
		if s.Position.Sub(n.Position).LenSqr() < r2 {
			out[i] = n.Inside
		} else {
			out[i] = n.Outside
		}
	}
}

// ScaledVector multiplies a vector node by a scalar node per sample.
type ScaledVector struct {
	Scalar ScalarNode
	Vector VectorNode
}

func (n ScaledVector) EvaluateVector(ctx *Context, out []mgl64.Vec3) {
	n.Vector.EvaluateVector(ctx, out)
	scale := make([]float64, len(out))
	n.Scalar.EvaluateScalar(ctx, scale)
	for i := range out {
		out[i] = out[i].Mul(scale[i])
	}
}

// SumVector adds the outputs of several vector nodes.
type SumVector []VectorNode

func (n SumVector) EvaluateVector(ctx *Context, out []mgl64.Vec3) {
	for i := range out {
		out[i] = mgl64.Vec3{}
	}
	tmp := make([]mgl64.Vec3, len(out))
	for _, node := range n {
		node.EvaluateVector(ctx, tmp)
		for i := range out {
			out[i] = out[i].Add(tmp[i])
		}
	}
}

// VectorFunc adapts a per-sample function to a VectorNode.
type VectorFunc func(s Sample, t float64) mgl64.Vec3

func (f VectorFunc) EvaluateVector(ctx *Context, out []mgl64.Vec3) {
	for i, s := range ctx.Samples {
		out[i] = f(s, ctx.Time)
	}
}

// ScalarFunc adapts a per-sample function to a ScalarNode.
type ScalarFunc func(s Sample, t float64) float64

func (f ScalarFunc) EvaluateScalar(ctx *Context, out []float64) {
	for i, s := range ctx.Samples {
		out[i] = f(s, ctx.Time)
	}
}

// IntegerFunc adapts a per-sample function to an IntegerNode.
type IntegerFunc func(s Sample, t float64) int32

func (f IntegerFunc) EvaluateInteger(ctx *Context, out []int32) {
	for i, s := range ctx.Samples {
		out[i] = f(s, ctx.Time)
	}
}
