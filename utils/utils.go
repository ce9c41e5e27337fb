package utils

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

func AssertInvariant(condition bool, message string) {
	if !condition {
		panic("invariant violated - " + message)
	}
}

// FormatPercent renders a percentage with one decimal place, e.g. "83.4%".
func FormatPercent(value float64) string {
	return decimal.NewFromFloat(value).Round(1).StringFixed(1) + "%"
}

// FormatBytes renders a byte count in GiB with two decimals.
func FormatBytes(bytes uint64) string {
	gib := decimal.NewFromInt(int64(bytes)).Div(decimal.NewFromInt(1 << 30))
	return gib.StringFixed(2) + " GB"
}

// FormatDuration renders a duration as "1h 2m 3s", dropping leading zero units.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T {
	return &v
}
