// Package emustate turns state-change notifications from the engine thread
// into single-shot futures that any goroutine can wait on.
//
// A WaitManager is written from two sides. Register is called by arbitrary
// goroutines and never blocks. Notify is called only by the engine thread each
// time the engine reports a new state; it drains pending registrations and
// resolves every waiter whose target equals the reported state.
package emustate

import "fmt"

// State is a discrete engine state. States are compared for equality only.
type State int32

// Engine states as reported through the emulator-state core parameter.
const (
	Stopped State = 1
	Running State = 2
	Paused  State = 3
)

// String returns the state name, or its number if it has none.
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ParseState parses a state name as produced by String.
func ParseState(name string) (State, error) {
	switch name {
	case "stopped":
		return Stopped, nil
	case "running":
		return Running, nil
	case "paused":
		return Paused, nil
	default:
		return 0, fmt.Errorf("unknown emulator state: %q", name)
	}
}
