package geometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Sphere is a solid ball.
type Sphere struct {
	Center mgl64.Vec3
	Radius float64
}

// PhiWithNormal implements Implicit. At the exact center the normal is zero,
// which callers treat as no collision.
func (s *Sphere) PhiWithNormal(x mgl64.Vec3) (float64, mgl64.Vec3) {
	d := x.Sub(s.Center)
	dist := d.Len()
	if dist == 0 {
		return -s.Radius, mgl64.Vec3{}
	}
	return dist - s.Radius, d.Mul(1 / dist)
}

// PhiWithNormalBatch implements BatchImplicit.
func (s *Sphere) PhiWithNormalBatch(l *Lanes) {
	cx, cy, cz := s.Center[0], s.Center[1], s.Center[2]
	for i := range l.X {
		dx, dy, dz := l.X[i]-cx, l.Y[i]-cy, l.Z[i]-cz
		dist := math.Sqrt(dx*dx + dy*dy + dz*dz)
		l.Phi[i] = dist - s.Radius
		if dist == 0 {
			l.NX[i], l.NY[i], l.NZ[i] = 0, 0, 0
			continue
		}
		inv := 1 / dist
		l.NX[i], l.NY[i], l.NZ[i] = dx*inv, dy*inv, dz*inv
	}
}

// Raycast implements Implicit.
func (s *Sphere) Raycast(start, dir mgl64.Vec3, length, thickness float64) (Hit, bool) {
	r := s.Radius + thickness
	m := start.Sub(s.Center)
	c := m.Dot(m) - r*r
	if c <= 0 {
		n := m
		if ValidNormal(n) {
			n = n.Normalize()
		}
		return Hit{Time: 0, Position: start, Normal: n}, true
	}
	b := m.Dot(dir)
	if b > 0 {
		return Hit{}, false
	}
	disc := b*b - c
	if disc < 0 {
		return Hit{}, false
	}
	t := -b - math.Sqrt(disc)
	if t < 0 || t > length {
		return Hit{}, false
	}
	pos := start.Add(dir.Mul(t))
	return Hit{Time: t, Position: pos, Normal: pos.Sub(s.Center).Mul(1 / r)}, true
}
