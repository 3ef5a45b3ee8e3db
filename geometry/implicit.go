// Package geometry defines the implicit collision shapes consumed by the collision constraint.
//
// Shapes are evaluated in their own local frame; callers transform query points
// into that frame first. Signed distance is negative inside the shape.
package geometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// minNormalLenSqr is the squared length below which a normal is unusable.
const minNormalLenSqr = 1e-12

// Implicit is a shape that can be queried for signed distance and surface normal.
type Implicit interface {
	// PhiWithNormal returns the signed distance from x to the surface and the
	// outward unit normal at the closest surface point.
	PhiWithNormal(x mgl64.Vec3) (float64, mgl64.Vec3)

	// Raycast casts a ray from start along the unit direction dir for at most
	// length, against the surface inflated by thickness.
	Raycast(start, dir mgl64.Vec3, length, thickness float64) (Hit, bool)
}

// BatchImplicit is implemented by shapes that can evaluate many points at once
// from component lanes.
type BatchImplicit interface {
	Implicit
	PhiWithNormalBatch(l *Lanes)
}

// Hit describes a ray intersection in the shape's local frame.
type Hit struct {
	Time     float64 // Distance along the ray
	Position mgl64.Vec3
	Normal   mgl64.Vec3
}

// ValidNormal reports whether n is finite and long enough to be used as a contact normal.
func ValidNormal(n mgl64.Vec3) bool {
	for _, c := range n {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return n.LenSqr() > minNormalLenSqr
}

// Finite reports whether v is a finite value.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
