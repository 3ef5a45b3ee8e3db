// Package field evaluates position-based commands that perturb per-particle
// quantities over a resolved subset of a collection.
package field

import "github.com/go-gl/mathgl/mgl64"

// Target is the physical quantity a command writes.
type Target uint8

const (
	TargetNone Target = iota

	// Integer parameters
	TargetDynamicState
	TargetKill
	TargetCollisionGroup

	// Scalar parameters
	TargetSleepingThreshold
	TargetDisableThreshold

	// Vector parameters
	TargetLinearVelocity
	TargetAngularVelocity
	TargetPositionTarget

	// Forces, accumulated additively
	TargetLinearForce
	TargetAngularTorque

	numTargets
)

var targetNames = [numTargets]string{
	TargetNone:              "none",
	TargetDynamicState:      "dynamic_state",
	TargetKill:              "kill",
	TargetCollisionGroup:    "collision_group",
	TargetSleepingThreshold: "sleeping_threshold",
	TargetDisableThreshold:  "disable_threshold",
	TargetLinearVelocity:    "linear_velocity",
	TargetAngularVelocity:   "angular_velocity",
	TargetPositionTarget:    "position_target",
	TargetLinearForce:       "linear_force",
	TargetAngularTorque:     "angular_torque",
}

func (t Target) String() string {
	if t >= numTargets {
		return "unknown"
	}
	return targetNames[t]
}

// Output is the result type a target expects.
type Output uint8

const (
	OutputNone Output = iota
	OutputInteger
	OutputScalar
	OutputVector
)

// Output returns the result type of t.
func (t Target) Output() Output {
	switch t {
	case TargetDynamicState, TargetKill, TargetCollisionGroup:
		return OutputInteger
	case TargetSleepingThreshold, TargetDisableThreshold:
		return OutputScalar
	case TargetLinearVelocity, TargetAngularVelocity, TargetPositionTarget,
		TargetLinearForce, TargetAngularTorque:
		return OutputVector
	}
	return OutputNone
}

// IsForce reports whether t is handled by the forces pass.
func (t Target) IsForce() bool {
	return t == TargetLinearForce || t == TargetAngularTorque
}

// Resolution selects which particles of a source a command considers.
type Resolution uint8

const (
	// ResolutionMinimal is the currently active leaf particles only.
	ResolutionMinimal Resolution = iota
	// ResolutionDisabledParents is the particles without a parent.
	ResolutionDisabledParents
	// ResolutionMaximum is every particle, including cluster children.
	ResolutionMaximum
)

func (r Resolution) String() string {
	switch r {
	case ResolutionMinimal:
		return "minimal"
	case ResolutionDisabledParents:
		return "disabled_parents"
	case ResolutionMaximum:
		return "maximum"
	}
	return "unknown"
}

// Filter drops resolved particles by dynamic state before evaluation.
type Filter uint8

const (
	FilterAll    Filter = iota
	FilterActive        // Dynamic and not disabled or sleeping
	FilterDynamic
	FilterKinematic
	FilterStatic
)

func (f Filter) String() string {
	switch f {
	case FilterAll:
		return "all"
	case FilterActive:
		return "active"
	case FilterDynamic:
		return "dynamic"
	case FilterKinematic:
		return "kinematic"
	case FilterStatic:
		return "static"
	}
	return "unknown"
}

// Lifetime says whether a command survives the update that processes it.
type Lifetime uint8

const (
	Transient Lifetime = iota
	Persistent
)

// Sample is one evaluation point handed to a node.
type Sample struct {
	Index    int
	Position mgl64.Vec3
}

// Context is the input to a node evaluation. Out slices passed alongside it
// have one entry per sample.
type Context struct {
	Time    float64 // Seconds since the command was created
	Samples []Sample
}

// VectorNode evaluates a vector per sample.
type VectorNode interface {
	EvaluateVector(ctx *Context, out []mgl64.Vec3)
}

// ScalarNode evaluates a scalar per sample.
type ScalarNode interface {
	EvaluateScalar(ctx *Context, out []float64)
}

// IntegerNode evaluates an integer per sample.
type IntegerNode interface {
	EvaluateInteger(ctx *Context, out []int32)
}

// Command is a queued field instruction. Commands are identified by pointer;
// only the evaluator matching Target.Output() is used.
type Command struct {
	Target     Target
	Resolution Resolution
	Filter     Filter
	Lifetime   Lifetime

	Vector  VectorNode
	Scalar  ScalarNode
	Integer IntegerNode

	// Created is the solver time at which the command was issued.
	Created float64
}

// NewVectorCommand creates a command writing a vector target.
func NewVectorCommand(t Target, node VectorNode) *Command {
	return &Command{Target: t, Resolution: ResolutionMinimal, Filter: FilterAll, Vector: node}
}

// NewScalarCommand creates a command writing a scalar target.
func NewScalarCommand(t Target, node ScalarNode) *Command {
	return &Command{Target: t, Resolution: ResolutionMinimal, Filter: FilterAll, Scalar: node}
}

// NewIntegerCommand creates a command writing an integer target.
func NewIntegerCommand(t Target, node IntegerNode) *Command {
	return &Command{Target: t, Resolution: ResolutionMinimal, Filter: FilterAll, Integer: node}
}

// WithResolution sets the resolution and returns c.
func (c *Command) WithResolution(r Resolution) *Command {
	c.Resolution = r
	return c
}

// WithFilter sets the filter and returns c.
func (c *Command) WithFilter(f Filter) *Command {
	c.Filter = f
	return c
}

// At sets the creation time and returns c.
func (c *Command) At(t float64) *Command {
	c.Created = t
	return c
}

// HasEvaluator reports whether c carries the evaluator its target needs.
func (c *Command) HasEvaluator() bool {
	switch c.Target.Output() {
	case OutputInteger:
		return c.Integer != nil
	case OutputScalar:
		return c.Scalar != nil
	case OutputVector:
		return c.Vector != nil
	}
	return false
}

// Clone returns a shallow copy sharing the evaluator nodes.
func (c *Command) Clone() *Command {
	cp := *c
	return &cp
}
