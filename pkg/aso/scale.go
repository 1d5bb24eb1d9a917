package aso

import "math"

// Band is one calibration point: a raw measurement and the score it maps to.
type Band struct {
	At    float64 `yaml:"at" json:"at"`
	Score float64 `yaml:"score" json:"score"`
}

// logScale maps v through bands with log interpolation between neighbouring
// points and a linear ramp from zero to the first point. Values at or beyond
// the last point map to ceiling.
func logScale(v float64, bands []Band, ceiling float64) float64 {
	if v <= 0 || len(bands) == 0 {
		return 0
	}
	for i, b := range bands {
		if v >= b.At {
			continue
		}
		if i == 0 {
			return v / b.At * b.Score
		}
		prev := bands[i-1]
		ratio := math.Log(v/prev.At) / math.Log(b.At/prev.At)
		return prev.Score + ratio*(b.Score-prev.Score)
	}
	return ceiling
}

// linearScale maps v through points with linear interpolation. Values outside
// the table take the score of the nearest end.
func linearScale(v float64, points []Band) float64 {
	if len(points) == 0 {
		return 0
	}
	if v <= points[0].At {
		return points[0].Score
	}
	for i := 1; i < len(points); i++ {
		p := points[i]
		if v <= p.At {
			prev := points[i-1]
			ratio := (v - prev.At) / (p.At - prev.At)
			return prev.Score + ratio*(p.Score-prev.Score)
		}
	}
	return points[len(points)-1].Score
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func median(sorted []int64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}

// sampleDampening ramps ratio-based signals up to full strength at ten results.
func sampleDampening(n int) float64 {
	return math.Min(1, float64(n)/10)
}
