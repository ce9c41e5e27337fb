package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAssertInvariant(t *testing.T) {
	assert.NotPanics(t, func() { AssertInvariant(true, "fine") })
	assert.PanicsWithValue(t, "invariant violated - broken", func() { AssertInvariant(false, "broken") })
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "83.4%", FormatPercent(83.44))
	assert.Equal(t, "90.0%", FormatPercent(90))
	assert.Equal(t, "0.0%", FormatPercent(0))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "1.00 GB", FormatBytes(1<<30))
	assert.Equal(t, "0.50 GB", FormatBytes(1<<29))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{5*time.Minute + 1*time.Second, "5m 1s"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "2h 3m 4s"},
		{1500 * time.Millisecond, "2s"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}

func TestPtr(t *testing.T) {
	p := Ptr("x")
	assert.Equal(t, "x", *p)
}
