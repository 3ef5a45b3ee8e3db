// Package components defines the ECS components of the consumer-side world.
package components

import "github.com/pthm-cable/pbd/particles"

// Body ties an entity to one transform of a proxied collection.
type Body struct {
	Proxy     int // Index into the game's proxy list
	Transform int // Transform index within the collection
	Parent    int // Parent transform, or -1
	Level     int // Hierarchy level, 0 for roots
	Leaf      bool
	Mass      float64
}

// Status is the dynamic state reported for a body.
type Status struct {
	State    particles.ObjectState
	Disabled bool
	Tick     int64 // Timestamp of the results the status came from
}
