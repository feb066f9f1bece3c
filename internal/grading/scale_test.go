package grading

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertToNMTScale(t *testing.T) {
	tests := []struct {
		raw, max float64
		want     int
	}{
		{0, 100, 100},
		{100, 100, 200},
		{50, 100, 150},
		{150, 100, 200},
		{50, 0, 100},
		{-1, 100, 100},
		{5, 15, 133},
		{15, 15, 200},
		{1, 8, 113},
		{1, 200, 101},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ConvertToNMTScale(tt.raw, tt.max), "raw=%v max=%v", tt.raw, tt.max)
	}
}

func TestMaxScore(t *testing.T) {
	assert.Equal(t, 15.0, MaxScore([]Q{{Points: 5}, {Points: 10}}))
	assert.Zero(t, MaxScore(nil))
}
