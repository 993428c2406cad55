package presence

// State is the call state of a single client (one tab of one user).
//
// The order is a total priority order used when merging the states of all
// clients belonging to one user: a user is considered as busy as their
// busiest tab. Invited outranks Confirming, so a user already rung on one
// tab reads as Invited even while another tab sits in a confirmation dialog.
type State int

const (
	StateStandby State = iota + 1
	StateConfirming
	StateInvited
	StateCalling
	StateTalking
)

var stateNames = map[State]string{
	StateStandby:    "standby",
	StateConfirming: "confirming",
	StateInvited:    "invited",
	StateCalling:    "calling",
	StateTalking:    "talking",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "standby"
}

// ParseState maps a wire state name back to a State. Unknown names fall back
// to Standby so a newer peer cannot wedge an older one.
func ParseState(name string) State {
	for s, n := range stateNames {
		if n == name {
			return s
		}
	}
	return StateStandby
}
