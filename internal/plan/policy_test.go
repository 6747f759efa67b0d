package plan

import (
	"errors"
	"testing"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		mode  Mode
		class Classification
		want  DecisionKind
	}{
		{ModeFullAuto, ClassSuccess, Advance},
		{ModeFullAuto, ClassError, Advance},
		{ModeFullAuto, ClassAmbiguous, Advance},
		{ModeAuto, ClassSuccess, AdvanceAfterDelay},
		{ModeAuto, ClassError, HoldForOperator},
		{ModeAuto, ClassAmbiguous, HoldForOperator},
		{ModeManual, ClassSuccess, HoldForOperator},
		{ModeManual, ClassError, HoldForOperator},
		{ModeManual, ClassAmbiguous, HoldForOperator},
	}
	for _, tt := range tests {
		got := Decide(tt.mode, Result{Classification: tt.class})
		if got.Kind != tt.want {
			t.Errorf("Decide(%s, %s) = %s, want %s", tt.mode, tt.class, got.Kind, tt.want)
		}
		if got.Kind == AdvanceAfterDelay && got.Delay != DefaultAutoDelay {
			t.Errorf("expected %s delay, got %s", DefaultAutoDelay, got.Delay)
		}
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"manual":    ModeManual,
		" Auto ":    ModeAuto,
		"full-auto": ModeFullAuto,
		"full_auto": ModeFullAuto,
	} {
		got, err := ParseMode(in)
		if err != nil {
			t.Fatalf("ParseMode(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseMode(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseMode("turbo"); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}
}
