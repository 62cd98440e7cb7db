package ml

import (
	"fmt"
	"strconv"
)

// QueenStatus is the class predicted for a recording.
type QueenStatus uint8

const (
	Queenright QueenStatus = iota
	Queenless
	QueenHatched
	QueenAccepted
)

// NumClasses is the number of queen status classes.
const NumClasses = 4

var statusNames = [NumClasses]string{
	Queenright:    "Queenright",
	Queenless:     "Queenless",
	QueenHatched:  "Queen_Hatched",
	QueenAccepted: "Queen_Accepted",
}

// String returns the label used in uplink payloads; ids outside the known
// range map to "Unknown".
func (s QueenStatus) String() string {
	if int(s) >= NumClasses {
		return "Unknown"
	}
	return statusNames[s]
}

// Valid reports whether s is one of the four known classes.
func (s QueenStatus) Valid() bool {
	return int(s) < NumClasses
}

// MarshalText lets rule files refer to classes by name.
func (s QueenStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("ml: invalid queen status %d", s)
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText accepts a class name or its numeric id.
func (s *QueenStatus) UnmarshalText(text []byte) error {
	name := string(text)
	for i, n := range statusNames {
		if n == name {
			*s = QueenStatus(i)
			return nil
		}
	}
	id, err := strconv.Atoi(name)
	if err != nil || id < 0 || id >= NumClasses {
		return fmt.Errorf("ml: unknown queen status %q", name)
	}
	*s = QueenStatus(id)
	return nil
}
