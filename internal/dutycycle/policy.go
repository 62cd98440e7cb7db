package dutycycle

import "time"

// State is a phase of the sensor node's cycle.
type State int

const (
	Active State = iota
	Recording
	Transmitting
	Sleeping
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Recording:
		return "recording"
	case Transmitting:
		return "transmitting"
	case Sleeping:
		return "sleeping"
	}
	return "unknown"
}

// Policy chooses how long the node sleeps between recordings.
type Policy struct {
	WinterThreshold float64 // Celsius
	ActiveInterval  time.Duration
	WinterInterval  time.Duration
	// AlertInterval is carried as configuration only; nothing selects it.
	AlertInterval time.Duration
}

// DefaultPolicy returns 15 minutes above 15 °C and 2 hours below.
func DefaultPolicy() Policy {
	return Policy{
		WinterThreshold: 15.0,
		ActiveInterval:  15 * time.Minute,
		WinterInterval:  2 * time.Hour,
		AlertInterval:   5 * time.Minute,
	}
}

// SleepInterval returns WinterInterval when tempC is strictly below the
// threshold and ActiveInterval otherwise, including for NaN readings.
func (p Policy) SleepInterval(tempC float64) time.Duration {
	if tempC < p.WinterThreshold {
		return p.WinterInterval
	}
	return p.ActiveInterval
}
