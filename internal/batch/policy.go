package batch

import "time"

type Phase int

const (
	// Idle: empty queue, no timer, no window.
	Idle Phase = iota
	// Armed: non-empty queue, timer running, window started.
	Armed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	default:
		return "unknown"
	}
}

// State is the timer state of a Queue.
type State struct {
	Phase Phase
	// WindowStart is when the current burst began; zero when Idle.
	WindowStart time.Time
}

// Input is what drives a transition.
type Input int

const (
	InputEnqueue Input = iota
	InputTimerFired
	// InputFlush is an explicit flush request (e.g. shutdown).
	InputFlush
)

// Policy holds the two durations of the debounce.
type Policy struct {
	// Debounce is the quiet period required before a flush.
	Debounce time.Duration
	// MaxWait caps a burst measured from its first event. <= 0 disables the cap.
	MaxWait time.Duration
}

type ActionKind int

const (
	ActionCancelTimer ActionKind = iota
	ActionFlush
	ActionArmTimer
)

func (k ActionKind) String() string {
	switch k {
	case ActionCancelTimer:
		return "cancel"
	case ActionFlush:
		return "flush"
	case ActionArmTimer:
		return "arm"
	default:
		return "unknown"
	}
}

// Action is a side effect requested by Transition, executed in order.
type Action struct {
	Kind ActionKind
	// Delay is set for ActionArmTimer.
	Delay time.Duration
	// Forced marks a flush caused by the MaxWait ceiling.
	Forced bool
}

// Transition computes the next state and side effects for input at now.
//
// The ceiling is only evaluated when an event arrives while a timer is
// armed. A burst that stops just short of MaxWait still waits one full
// Debounce for its final timer, so a flush can land up to Debounce after
// the ceiling.
func Transition(s State, in Input, now time.Time, p Policy) (State, []Action) {
	switch in {
	case InputEnqueue:
		var actions []Action
		if s.Phase == Armed {
			actions = append(actions, Action{Kind: ActionCancelTimer})
			if p.MaxWait > 0 && !s.WindowStart.IsZero() && now.Sub(s.WindowStart) >= p.MaxWait {
				actions = append(actions, Action{Kind: ActionFlush, Forced: true})
				return State{Phase: Idle}, actions
			}
		}
		start := s.WindowStart
		if start.IsZero() {
			start = now
		}
		actions = append(actions, Action{Kind: ActionArmTimer, Delay: p.Debounce})
		return State{Phase: Armed, WindowStart: start}, actions

	case InputTimerFired:
		if s.Phase != Armed {
			return s, nil
		}
		return State{Phase: Idle}, []Action{{Kind: ActionFlush}}

	case InputFlush:
		if s.Phase != Armed {
			return State{Phase: Idle}, []Action{{Kind: ActionFlush}}
		}
		return State{Phase: Idle}, []Action{{Kind: ActionCancelTimer}, {Kind: ActionFlush}}
	}
	return s, nil
}
