package bench

import (
	"errors"
	"fmt"
)

// Phase names the stage of a run that failed.
type Phase string

const (
	PhaseSetup   Phase = "setup"
	PhaseConnect Phase = "connect"
	PhaseCall    Phase = "call"
)

// Sentinels matched by errors.Is against an *Error of the same phase.
var (
	ErrSetup   = errors.New("setup failure")
	ErrConnect = errors.New("connect failure")
	ErrCall    = errors.New("call failure")
)

// Error is returned by Run. Err is the underlying cause.
type Error struct {
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failure: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of e's phase.
func (e *Error) Is(target error) bool {
	switch e.Phase {
	case PhaseSetup:
		return target == ErrSetup
	case PhaseConnect:
		return target == ErrConnect
	case PhaseCall:
		return target == ErrCall
	}
	return false
}
