package plan

import (
	"fmt"
	"strings"
	"time"
)

// Mode fixes how much operator confirmation a session requires.
type Mode string

const (
	ModeManual   Mode = "manual"
	ModeAuto     Mode = "auto"
	ModeFullAuto Mode = "full-auto"
)

// DefaultAutoDelay is how long auto mode waits after a successful step.
const DefaultAutoDelay = 3 * time.Second

// ParseMode accepts the canonical mode names plus a few spellings operators type.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual":
		return ModeManual, nil
	case "auto":
		return ModeAuto, nil
	case "full-auto", "fullauto", "full_auto", "full":
		return ModeFullAuto, nil
	}
	return "", fmt.Errorf("%w: %q (want manual, auto or full-auto)", ErrInvalidMode, s)
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeManual, ModeAuto, ModeFullAuto:
		return true
	}
	return false
}

// DecisionKind is the control action chosen after a step attempt.
type DecisionKind int

const (
	Advance DecisionKind = iota
	AdvanceAfterDelay
	HoldForOperator
)

func (k DecisionKind) String() string {
	switch k {
	case Advance:
		return "advance"
	case AdvanceAfterDelay:
		return "advance-after-delay"
	case HoldForOperator:
		return "hold-for-operator"
	default:
		return "unknown"
	}
}

// Decision is the output of the mode policy.
type Decision struct {
	Kind  DecisionKind
	Delay time.Duration
}

func (d Decision) String() string {
	if d.Kind == AdvanceAfterDelay {
		return fmt.Sprintf("%s(%s)", d.Kind, d.Delay)
	}
	return d.Kind.String()
}

// Decide maps a mode and a step result to the next control action.
// Anything other than success is treated identically for control flow.
func Decide(mode Mode, res Result) Decision {
	switch mode {
	case ModeFullAuto:
		return Decision{Kind: Advance}
	case ModeAuto:
		if res.Classification == ClassSuccess {
			return Decision{Kind: AdvanceAfterDelay, Delay: DefaultAutoDelay}
		}
		return Decision{Kind: HoldForOperator}
	default:
		return Decision{Kind: HoldForOperator}
	}
}
