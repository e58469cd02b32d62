package stats

import (
	"math"
	"time"
)

// Window holds the statistics of one acquisition window. Windows are
// independent of each other.
type Window struct {
	Timestamp time.Time
	DCOffset  float64 // mean of the samples
	ACRMS     float64 // RMS with the DC offset removed
	DCRMS     float64 // RMS of the raw samples
}

// Compute returns the statistics of samples, timestamped now.
func Compute(samples []float64) Window {
	return ComputeAt(samples, time.Now())
}

// ComputeAt returns the statistics of samples with the given timestamp.
func ComputeAt(samples []float64, ts time.Time) Window {
	w := Window{Timestamp: ts}
	if len(samples) == 0 {
		return w
	}
	n := float64(len(samples))

	var sum float64
	for _, v := range samples {
		sum += v
	}
	w.DCOffset = sum / n

	var sq, acSq float64
	for _, v := range samples {
		sq += v * v
		d := v - w.DCOffset
		acSq += d * d
	}
	w.DCRMS = math.Sqrt(sq / n)
	w.ACRMS = math.Sqrt(acSq / n)

	return w
}
