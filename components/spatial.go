package components

import "github.com/go-gl/mathgl/mgl64"

// Transform is an entity's world pose as last pulled from the simulation.
type Transform struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// Velocity is an entity's linear and angular velocity.
type Velocity struct {
	Linear  mgl64.Vec3
	Angular mgl64.Vec3 // rad/s
}

// KinematicTarget is a pose the consumer wants a kinematic body moved to.
// Pending is cleared once the target has been buffered for the simulation.
type KinematicTarget struct {
	Transform Transform
	Pending   bool
}
