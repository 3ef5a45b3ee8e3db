// Package particles defines the structure-of-arrays particle buffer shared by the solver stages.
package particles

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/pthm-cable/pbd/geometry"
)

// Kind selects the capability set of every particle in a buffer.
type Kind uint8

const (
	KindDynamic   Kind = iota // Point masses: position, velocity, mass
	KindRigid                 // Adds rotation and angular velocity
	KindKinematic             // Rigid, driven externally, infinite mass
)

// Caps is the capability set a kind provides.
type Caps struct {
	HasMass     bool
	HasRotation bool
	IsKinematic bool
}

// Caps returns the capability set for k.
func (k Kind) Caps() Caps {
	switch k {
	case KindRigid:
		return Caps{HasMass: true, HasRotation: true}
	case KindKinematic:
		return Caps{HasRotation: true, IsKinematic: true}
	default:
		return Caps{HasMass: true}
	}
}

func (k Kind) String() string {
	switch k {
	case KindDynamic:
		return "dynamic"
	case KindRigid:
		return "rigid"
	case KindKinematic:
		return "kinematic"
	}
	return "unknown"
}

// NoGroup marks a particle that belongs to no aggregate.
const NoGroup int32 = -1

// Buffer is a structure-of-arrays particle collection addressed by dense index.
// Rotation, angular velocity and geometry are allocated only for kinds that
// have rotation.
type Buffer struct {
	kind Kind
	caps Caps

	X    []mgl64.Vec3 // Position at start of step
	P    []mgl64.Vec3 // Predicted position used while solving constraints
	V    []mgl64.Vec3
	F    []mgl64.Vec3 // External force accumulator, cleared each step
	M    []float64
	InvM []float64

	R        []mgl64.Quat
	W        []mgl64.Vec3
	Geometry []geometry.Implicit

	Group          []int32
	CollisionGroup []int32 // Negative disables collisions for the particle
}

// NewBuffer creates an empty buffer of the given kind.
func NewBuffer(kind Kind) *Buffer {
	return &Buffer{kind: kind, caps: kind.Caps()}
}

// Kind returns the buffer's particle kind.
func (b *Buffer) Kind() Kind { return b.kind }

// Caps returns the buffer's capability set.
func (b *Buffer) Caps() Caps { return b.caps }

// Len returns the number of particles.
func (b *Buffer) Len() int { return len(b.X) }

// Add appends n zero-initialized particles and returns the index of the first.
// Dynamic particles start with unit mass, kinematic particles with zero inverse mass.
func (b *Buffer) Add(n int) int {
	first := len(b.X)
	if n <= 0 {
		return first
	}
	for i := 0; i < n; i++ {
		b.X = append(b.X, mgl64.Vec3{})
		b.P = append(b.P, mgl64.Vec3{})
		b.V = append(b.V, mgl64.Vec3{})
		b.F = append(b.F, mgl64.Vec3{})
		b.Group = append(b.Group, NoGroup)
		b.CollisionGroup = append(b.CollisionGroup, 0)
		if b.caps.HasMass {
			b.M = append(b.M, 1)
			b.InvM = append(b.InvM, 1)
		} else {
			b.M = append(b.M, 0)
			b.InvM = append(b.InvM, 0)
		}
		if b.caps.HasRotation {
			b.R = append(b.R, mgl64.QuatIdent())
			b.W = append(b.W, mgl64.Vec3{})
			b.Geometry = append(b.Geometry, nil)
		}
	}
	return first
}

// Truncate shrinks the buffer to n particles. Storage is kept for reuse.
func (b *Buffer) Truncate(n int) {
	if n >= len(b.X) || n < 0 {
		return
	}
	b.X = b.X[:n]
	b.P = b.P[:n]
	b.V = b.V[:n]
	b.F = b.F[:n]
	b.M = b.M[:n]
	b.InvM = b.InvM[:n]
	b.Group = b.Group[:n]
	b.CollisionGroup = b.CollisionGroup[:n]
	if b.caps.HasRotation {
		b.R = b.R[:n]
		b.W = b.W[:n]
		b.Geometry = b.Geometry[:n]
	}
}

// SetMass sets mass and inverse mass. Zero mass makes the particle kinematic.
func (b *Buffer) SetMass(i int, m float64) {
	if m <= 0 || b.caps.IsKinematic {
		b.M[i] = 0
		b.InvM[i] = 0
		return
	}
	b.M[i] = m
	b.InvM[i] = 1 / m
}

// IsKinematic reports whether particle i is externally driven.
func (b *Buffer) IsKinematic(i int) bool {
	return b.InvM[i] == 0
}

// Rotation returns the rotation of particle i, identity for kinds without rotation.
func (b *Buffer) Rotation(i int) mgl64.Quat {
	if !b.caps.HasRotation {
		return mgl64.QuatIdent()
	}
	return b.R[i]
}

// AngularVelocity returns the angular velocity of particle i, zero for kinds without rotation.
func (b *Buffer) AngularVelocity(i int) mgl64.Vec3 {
	if !b.caps.HasRotation {
		return mgl64.Vec3{}
	}
	return b.W[i]
}

// ClearForces zeroes the force accumulator.
func (b *Buffer) ClearForces() {
	for i := range b.F {
		b.F[i] = mgl64.Vec3{}
	}
}
