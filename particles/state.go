package particles

// ObjectState is the dynamic state of a simulated object. Values match the
// integers produced by DynamicState fields.
type ObjectState int32

const (
	StateUninitialized ObjectState = iota
	StateSleeping
	StateKinematic
	StateStatic
	StateDynamic
)

func (s ObjectState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSleeping:
		return "sleeping"
	case StateKinematic:
		return "kinematic"
	case StateStatic:
		return "static"
	case StateDynamic:
		return "dynamic"
	}
	return "unknown"
}

// Valid reports whether s is a known state.
func (s ObjectState) Valid() bool {
	return s >= StateUninitialized && s <= StateDynamic
}
