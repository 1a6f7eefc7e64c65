package tscadc

// State is a controller's position in its lifecycle.
type State int

const (
	Unconfigured State = iota
	ResourcesReserved
	ClockValidated
	RegistersProgrammed
	SubdevicesActive
	Running
	Destroyed
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case ResourcesReserved:
		return "resources-reserved"
	case ClockValidated:
		return "clock-validated"
	case RegistersProgrammed:
		return "registers-programmed"
	case SubdevicesActive:
		return "subdevices-active"
	case Running:
		return "running"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// MarshalText lets State render by name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
