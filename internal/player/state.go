package player

// State is a player lifecycle state.
type State int

const (
	Idle State = iota
	Loading
	Playing
	Paused
	Stopped
	Destroyed
)

var stateNames = [...]string{"idle", "loading", "playing", "paused", "stopped", "destroyed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// transitions lists the legal moves. Destroyed is reachable from anywhere
// and handled separately.
var transitions = map[State][]State{
	Idle:    {Loading},
	Loading: {Playing, Stopped},
	Playing: {Paused, Stopped},
	Paused:  {Playing, Stopped},
	Stopped: {Loading},
}

func canTransition(from, to State) bool {
	if to == Destroyed {
		return from != Destroyed
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
