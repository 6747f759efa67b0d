package plan

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSteps is returned when a session is started on an empty plan.
	ErrNoSteps = errors.New("no steps to execute")
	// ErrInvalidCommand is matched by every rejected operator command.
	ErrInvalidCommand = errors.New("invalid command")
	ErrInvalidMode    = errors.New("invalid execution mode")
	ErrInvalidPlan    = errors.New("invalid plan")
)

// CommandError explains why an operator command was rejected. The session
// state is never changed by a rejected command.
type CommandError struct {
	Command string
	State   State
	Reason  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s rejected while %s: %s", e.Command, e.State, e.Reason)
}

func (e *CommandError) Is(target error) bool {
	return target == ErrInvalidCommand
}

func reject(cmd string, state State, reason string) error {
	return &CommandError{Command: cmd, State: state, Reason: reason}
}
