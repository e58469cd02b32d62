package stats_test

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"codeberg.org/mutker/ad2ctl/internal/stats"
	"github.com/stretchr/testify/assert"
)

const tolerance = 1e-9

func TestComputeScenarios(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		samples []float64
		want    stats.Window
	}{
		{
			name:    "alternating unit square",
			samples: []float64{1.0, -1.0, 1.0, -1.0},
			want:    stats.Window{Timestamp: ts, DCOffset: 0, DCRMS: 1, ACRMS: 1},
		},
		{
			name:    "all zeros",
			samples: make([]float64, 8000),
			want:    stats.Window{Timestamp: ts},
		},
		{
			name:    "constant",
			samples: []float64{2, 2, 2, 2},
			want:    stats.Window{Timestamp: ts, DCOffset: 2, DCRMS: 2, ACRMS: 0},
		},
		{
			name:    "offset square",
			samples: []float64{3, 1, 3, 1},
			want:    stats.Window{Timestamp: ts, DCOffset: 2, DCRMS: math.Sqrt(5), ACRMS: 1},
		},
		{
			name:    "empty",
			samples: nil,
			want:    stats.Window{Timestamp: ts},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stats.ComputeAt(tt.samples, ts)

			assert.Equal(t, tt.want.Timestamp, got.Timestamp)
			assert.InDelta(t, tt.want.DCOffset, got.DCOffset, tolerance)
			assert.InDelta(t, tt.want.DCRMS, got.DCRMS, tolerance)
			assert.InDelta(t, tt.want.ACRMS, got.ACRMS, tolerance)
		})
	}
}

func TestComputeProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(512)
		offset := rng.Float64()*20 - 10
		samples := make([]float64, n)
		var sum float64
		for j := range samples {
			samples[j] = offset + rng.NormFloat64()
			sum += samples[j]
		}

		w := stats.Compute(samples)

		assert.InDelta(t, sum/float64(n), w.DCOffset, 1e-9)
		assert.GreaterOrEqual(t, w.DCRMS+1e-12, w.ACRMS)
		// DC RMS² = AC RMS² + offset²
		assert.InDelta(t, w.DCRMS*w.DCRMS, w.ACRMS*w.ACRMS+w.DCOffset*w.DCOffset, 1e-6)
	}
}

func TestComputeZeroMean(t *testing.T) {
	samples := []float64{0.5, -0.25, -0.25, 2, -2}

	w := stats.Compute(samples)

	assert.InDelta(t, 0, w.DCOffset, tolerance)
	assert.InDelta(t, w.DCRMS, w.ACRMS, tolerance)
}

func TestComputeTimestamp(t *testing.T) {
	before := time.Now()
	w := stats.Compute([]float64{1})
	after := time.Now()

	assert.False(t, w.Timestamp.Before(before))
	assert.False(t, w.Timestamp.After(after))
}
