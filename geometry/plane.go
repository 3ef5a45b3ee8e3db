package geometry

import (
	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/floats"
)

// Plane is an infinite half-space; the normal points out of the solid side.
type Plane struct {
	Point  mgl64.Vec3
	Normal mgl64.Vec3
}

// NewPlane creates a plane through point with the given normal. The normal is
// normalized; a degenerate normal is kept as-is and yields invalid queries.
func NewPlane(point, normal mgl64.Vec3) *Plane {
	if ValidNormal(normal) {
		normal = normal.Normalize()
	}
	return &Plane{Point: point, Normal: normal}
}

// PhiWithNormal implements Implicit.
func (p *Plane) PhiWithNormal(x mgl64.Vec3) (float64, mgl64.Vec3) {
	return x.Sub(p.Point).Dot(p.Normal), p.Normal
}

// PhiWithNormalBatch implements BatchImplicit.
func (p *Plane) PhiWithNormalBatch(l *Lanes) {
	offset := -p.Point.Dot(p.Normal)
	for i := range l.Phi {
		l.Phi[i] = offset
	}
	floats.AddScaled(l.Phi, p.Normal[0], l.X)
	floats.AddScaled(l.Phi, p.Normal[1], l.Y)
	floats.AddScaled(l.Phi, p.Normal[2], l.Z)
	fill(l.NX, p.Normal[0])
	fill(l.NY, p.Normal[1])
	fill(l.NZ, p.Normal[2])
}

// Raycast implements Implicit.
func (p *Plane) Raycast(start, dir mgl64.Vec3, length, thickness float64) (Hit, bool) {
	if !ValidNormal(p.Normal) {
		return Hit{}, false
	}
	phi0 := start.Sub(p.Point).Dot(p.Normal) - thickness
	if phi0 <= 0 {
		return Hit{Time: 0, Position: start, Normal: p.Normal}, true
	}
	denom := dir.Dot(p.Normal)
	if denom >= 0 {
		return Hit{}, false
	}
	t := -phi0 / denom
	if t > length {
		return Hit{}, false
	}
	return Hit{Time: t, Position: start.Add(dir.Mul(t)), Normal: p.Normal}, true
}

func fill(s []float64, v float64) {
	for i := range s {
		s[i] = v
	}
}
