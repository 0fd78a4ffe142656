package safe

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInt64ToInt32(t *testing.T) {
	tests := []struct {
		name        string
		in          int64
		want        int32
		wantClamped bool
	}{
		{"zero", 0, 0, false},
		{"one mebibyte", 1 << 20, 1 << 20, false},
		{"max int32", math.MaxInt32, math.MaxInt32, false},
		{"just over max", math.MaxInt32 + 1, math.MaxInt32, true},
		{"large artifact", 8 << 30, math.MaxInt32, true},
		{"min int32", math.MinInt32, math.MinInt32, false},
		{"below min", math.MinInt32 - 1, math.MinInt32, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, clamped := Int64ToInt32(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantClamped, clamped)
		})
	}
}
