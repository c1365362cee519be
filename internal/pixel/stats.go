package pixel

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes a decoded sample buffer.
type Stats struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// ComputeStats returns summary statistics for samples.
// An empty buffer yields the zero Stats.
func ComputeStats(samples []uint16) Stats {
	if len(samples) == 0 {
		return Stats{}
	}
	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = float64(s)
	}
	mean, std := stat.MeanStdDev(x, nil)
	if len(x) == 1 {
		std = 0
	}
	return Stats{
		Count:  len(x),
		Min:    floats.Min(x),
		Max:    floats.Max(x),
		Mean:   mean,
		StdDev: std,
	}
}

// String formats the stats as a single info line.
func (s Stats) String() string {
	return fmt.Sprintf("n=%d min=%g max=%g mean=%.1f sd=%.1f", s.Count, s.Min, s.Max, s.Mean, s.StdDev)
}
