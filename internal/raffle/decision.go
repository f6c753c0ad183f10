package raffle

import "time"

type Decision int

const (
	Active Decision = iota
	Expired
)

func (d Decision) String() string {
	switch d {
	case Active:
		return "active"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Decide reports whether the round described by state is over at now.
// It has no side effects, so repeated calls on the same snapshot agree.
func Decide(state *State, now time.Time) Decision {
	unix := now.Unix()
	if unix < 0 {
		return Active
	}
	if uint64(unix) >= state.EndTime {
		return Expired
	}
	return Active
}
