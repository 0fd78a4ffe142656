package safe

import (
	"math"
)

// Int64ToInt32 converts val to int32, clamping to the int32 range.
// The boolean reports whether clamping occurred.
func Int64ToInt32(val int64) (int32, bool) {
	switch {
	case val > math.MaxInt32:
		return math.MaxInt32, true
	case val < math.MinInt32:
		return math.MinInt32, true
	default:
		return int32(val), false
	}
}
