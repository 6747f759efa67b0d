package clierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeOf(t *testing.T) {
	cause := errors.New("bad yaml")
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("x"), ExitRuntime},
		{"usage", Usage("invalid plan", cause), ExitUsage},
		{"wrapped twice", fmt.Errorf("run: %w", New(ExitStepsFailed, "2 steps failed")), ExitStepsFailed},
		{"zero normalised", New(0, "oops"), ExitRuntime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeOf(tt.err))
		})
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("bad yaml")
	err := Usage("invalid plan", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "invalid plan: bad yaml", err.Error())
	assert.Equal(t, "just this", Wrap(ExitUsage, "just this", nil).Error())
}
