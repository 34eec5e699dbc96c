package appsrc

import "fmt"

// State is the externally observable streaming state of an Element.
type State int

// Element states. StateRejectBuffers is both the initial state and the
// state after FlushStart and Stop.
const (
	StateRejectBuffers State = iota
	StateStarted
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateRejectBuffers:
		return "reject-buffers"
	case StateStarted:
		return "started"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// acceptsItems reports whether producers may queue items in state s.
func (s State) acceptsItems() bool {
	return s != StateRejectBuffers
}

// The transition functions below take the whole current state and return
// the whole next state, plus whether the streaming task must be
// (re)scheduled. They have no side effects; the Element applies them under
// its state lock.

func startTransition(s State) (State, bool) {
	if s == StateStarted {
		return s, false
	}
	return StateStarted, true
}

func pauseTransition(State) State {
	return StatePaused
}

func flushStartTransition(State) State {
	return StateRejectBuffers
}

func flushStopTransition(s State) (State, bool) {
	if s == StateStarted {
		return s, false
	}
	return StateStarted, true
}

func stopTransition(State) State {
	return StateRejectBuffers
}

// Transition is an element-level state change requested by the host.
type Transition int

// Host state transitions.
const (
	NullToReady Transition = iota
	ReadyToPaused
	PausedToPlaying
	PlayingToPaused
	PausedToReady
	ReadyToNull
)

func (t Transition) String() string {
	switch t {
	case NullToReady:
		return "null-to-ready"
	case ReadyToPaused:
		return "ready-to-paused"
	case PausedToPlaying:
		return "paused-to-playing"
	case PlayingToPaused:
		return "playing-to-paused"
	case PausedToReady:
		return "paused-to-ready"
	case ReadyToNull:
		return "ready-to-null"
	default:
		return fmt.Sprintf("Transition(%d)", int(t))
	}
}

// StateChangeReturn reports how a state change completed.
type StateChangeReturn int

const (
	// StateChangeSuccess means the transition completed.
	StateChangeSuccess StateChangeReturn = iota
	// StateChangeNoPreroll means the transition completed but, being a live
	// source, the element will not produce data in PAUSED.
	StateChangeNoPreroll
)

// Level is the host-visible state an element is brought to with SetLevel.
type Level int

// Host levels, in ascending order.
const (
	LevelNull Level = iota
	LevelReady
	LevelPaused
	LevelPlaying
)

var levelNames = [...]string{
	LevelNull:    "null",
	LevelReady:   "ready",
	LevelPaused:  "paused",
	LevelPlaying: "playing",
}

func (l Level) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel parses a level name as printed by Level.String.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if name == s {
			return Level(l), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

// Target returns the level reached after t.
func (t Transition) Target() Level {
	switch t {
	case NullToReady, PausedToReady:
		return LevelReady
	case ReadyToPaused, PlayingToPaused:
		return LevelPaused
	case PausedToPlaying:
		return LevelPlaying
	default:
		return LevelNull
	}
}

// Transitions returns the single-step transitions leading from one level
// to another, in order.
func Transitions(from, to Level) []Transition {
	up := [...]Transition{LevelNull: NullToReady, LevelReady: ReadyToPaused, LevelPaused: PausedToPlaying}
	down := [...]Transition{LevelReady: ReadyToNull, LevelPaused: PausedToReady, LevelPlaying: PlayingToPaused}

	var out []Transition
	for l := from; l < to; l++ {
		out = append(out, up[l])
	}
	for l := from; l > to; l-- {
		out = append(out, down[l])
	}
	return out
}
