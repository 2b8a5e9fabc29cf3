package eta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinutes(t *testing.T) {
	tests := []struct {
		name     string
		km, kmh  float64
		expected int
	}{
		{"zero distance", 0, 40, 0},
		{"ten km at forty", 10, 40, 15},
		{"rounds to nearest", 1, 40, 2}, // 1.5 min
		{"rounds down", 0.3, 40, 0},     // 0.45 min
		{"default speed", 20, 0, 30},
		{"faster vehicle", 30, 60, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Minutes(tt.km, tt.kmh))
		})
	}
}
