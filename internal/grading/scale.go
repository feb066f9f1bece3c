package grading

import "math"

const (
	NMTMin = 100
	NMTMax = 200
)

// ConvertToNMTScale maps a raw test score onto the linear 100..200 scale.
// Raw scores above max are clamped; a non-positive max or negative raw
// yields the floor of the scale.
func ConvertToNMTScale(raw, max float64) int {
	if max <= 0 || raw < 0 {
		return NMTMin
	}
	scaled := NMTMin + math.Min(raw, max)*(float64(NMTMax-NMTMin)/max)
	return roundHalfUp(scaled)
}

// MaxScore sums question points.
func MaxScore(questions []Q) float64 {
	var total float64
	for _, q := range questions {
		total += q.Points
	}
	return total
}
