package geometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Box is an axis-aligned box in its local frame.
type Box struct {
	Min, Max mgl64.Vec3
}

// NewBox creates a box centered at the origin with the given half extents.
func NewBox(half mgl64.Vec3) *Box {
	return &Box{Min: half.Mul(-1), Max: half}
}

// PhiWithNormal implements Implicit.
func (b *Box) PhiWithNormal(x mgl64.Vec3) (float64, mgl64.Vec3) {
	var outside mgl64.Vec3
	inside := true
	for i := 0; i < 3; i++ {
		switch {
		case x[i] < b.Min[i]:
			outside[i] = x[i] - b.Min[i]
			inside = false
		case x[i] > b.Max[i]:
			outside[i] = x[i] - b.Max[i]
			inside = false
		}
	}

	if !inside {
		dist := outside.Len()
		return dist, outside.Mul(1 / dist)
	}

	// Inside: nearest face wins
	best := math.Inf(1)
	var normal mgl64.Vec3
	for i := 0; i < 3; i++ {
		if d := x[i] - b.Min[i]; d < best {
			best = d
			normal = mgl64.Vec3{}
			normal[i] = -1
		}
		if d := b.Max[i] - x[i]; d < best {
			best = d
			normal = mgl64.Vec3{}
			normal[i] = 1
		}
	}
	return -best, normal
}

// Raycast implements Implicit using the slab method on the inflated box.
func (b *Box) Raycast(start, dir mgl64.Vec3, length, thickness float64) (Hit, bool) {
	lo := b.Min.Sub(mgl64.Vec3{thickness, thickness, thickness})
	hi := b.Max.Add(mgl64.Vec3{thickness, thickness, thickness})

	if phi, n := b.PhiWithNormal(start); phi <= thickness {
		return Hit{Time: 0, Position: start, Normal: n}, true
	}

	tMin, tMax := 0.0, length
	axis := -1
	sign := 0.0
	for i := 0; i < 3; i++ {
		if math.Abs(dir[i]) < 1e-12 {
			if start[i] < lo[i] || start[i] > hi[i] {
				return Hit{}, false
			}
			continue
		}
		inv := 1 / dir[i]
		t1 := (lo[i] - start[i]) * inv
		t2 := (hi[i] - start[i]) * inv
		s := -1.0
		if t1 > t2 {
			t1, t2 = t2, t1
			s = 1
		}
		if t1 > tMin {
			tMin = t1
			axis = i
			sign = s
		}
		tMax = math.Min(tMax, t2)
		if tMin > tMax {
			return Hit{}, false
		}
	}
	if axis < 0 {
		return Hit{}, false
	}

	var normal mgl64.Vec3
	normal[axis] = sign
	return Hit{Time: tMin, Position: start.Add(dir.Mul(tMin)), Normal: normal}, true
}
