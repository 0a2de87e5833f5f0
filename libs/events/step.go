package events

import "fmt"

// StepType identifies one leaf of a trip booking.
type StepType int

const (
	StepFlight StepType = iota + 1
	StepHotel
	StepCar
)

// Steps lists every leaf in booking order. Compensation walks it backwards.
var Steps = []StepType{StepFlight, StepHotel, StepCar}

func (s StepType) String() string {
	switch s {
	case StepFlight:
		return "Flight"
	case StepHotel:
		return "Hotel"
	case StepCar:
		return "Car"
	default:
		return fmt.Sprintf("StepType(%d)", int(s))
	}
}

func (s StepType) Valid() bool {
	switch s {
	case StepFlight, StepHotel, StepCar:
		return true
	default:
		return false
	}
}

func ParseStepType(raw string) (StepType, error) {
	switch raw {
	case "Flight", "flight":
		return StepFlight, nil
	case "Hotel", "hotel":
		return StepHotel, nil
	case "Car", "car":
		return StepCar, nil
	default:
		return 0, fmt.Errorf("unknown step type %q", raw)
	}
}

func (s StepType) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid step type %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *StepType) UnmarshalText(b []byte) error {
	v, err := ParseStepType(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
