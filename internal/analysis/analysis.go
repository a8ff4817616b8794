// Package analysis compares simulated discharge with a reference series.
package analysis

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"text/tabwriter"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var ErrLength = errors.New("series_length_mismatch")

// pairs drops the positions where either series is NaN or infinite.
func pairs(obs, sim []float64) ([]float64, []float64) {
	o := make([]float64, 0, len(obs))
	s := make([]float64, 0, len(sim))
	for i := range min(len(obs), len(sim)) {
		if bad(obs[i]) || bad(sim[i]) {
			continue
		}
		o = append(o, obs[i])
		s = append(s, sim[i])
	}
	return o, s
}

func bad(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }

// NSE is the Nash-Sutcliffe efficiency, 1 for a perfect fit.
func NSE(obs, sim []float64) float64 {
	o, s := pairs(obs, sim)
	if len(o) == 0 {
		return math.NaN()
	}
	mean := stat.Mean(o, nil)
	var num, den float64
	for i := range o {
		num += (s[i] - o[i]) * (s[i] - o[i])
		den += (o[i] - mean) * (o[i] - mean)
	}
	return 1 - num/den
}

// KGE2009 is the Kling-Gupta efficiency of Gupta et al. (2009) built from
// correlation, variability ratio and bias ratio.
func KGE2009(obs, sim []float64) float64 {
	o, s := pairs(obs, sim)
	if len(o) < 2 {
		return math.NaN()
	}
	r := stat.Correlation(s, o, nil)
	alpha := stat.StdDev(s, nil) / stat.StdDev(o, nil)
	beta := stat.Mean(s, nil) / stat.Mean(o, nil)
	return 1 - math.Sqrt((r-1)*(r-1)+(alpha-1)*(alpha-1)+(beta-1)*(beta-1))
}

// SpectralAngle is the angle in radians between both series as vectors.
func SpectralAngle(obs, sim []float64) float64 {
	o, s := pairs(obs, sim)
	if len(o) == 0 {
		return math.NaN()
	}
	return math.Acos(floats.Dot(s, o) / (floats.Norm(s, 2) * floats.Norm(o, 2)))
}

// MeanError is the mean of sim minus obs.
func MeanError(obs, sim []float64) float64 {
	o, s := pairs(obs, sim)
	if len(o) == 0 {
		return math.NaN()
	}
	diff := make([]float64, len(o))
	floats.SubTo(diff, s, o)
	return stat.Mean(diff, nil)
}

// Metrics of one simulated series against the reference.
type Metrics struct {
	Name          string
	NSE           float64
	KGE2009       float64
	SpectralAngle float64
	MeanError     float64
}

// Compare computes the metrics of each simulated series, sorted by name.
func Compare(reference []float64, simulated map[string][]float64) ([]Metrics, error) {
	names := make([]string, 0, len(simulated))
	for name, sim := range simulated {
		if len(sim) != len(reference) {
			return nil, fmt.Errorf("%w: %s has %d values, reference has %d", ErrLength, name, len(sim), len(reference))
		}
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]Metrics, 0, len(names))
	for _, name := range names {
		sim := simulated[name]
		out = append(out, Metrics{
			Name:          name,
			NSE:           NSE(reference, sim),
			KGE2009:       KGE2009(reference, sim),
			SpectralAngle: SpectralAngle(reference, sim),
			MeanError:     MeanError(reference, sim),
		})
	}
	return out, nil
}

// WriteTable writes the metrics as an aligned text table with two decimals.
func WriteTable(w io.Writer, metrics []Metrics) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\tnse\tkge_2009\tsa\tme\t")
	for _, m := range metrics {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t\n", m.Name, m.NSE, m.KGE2009, m.SpectralAngle, m.MeanError)
	}
	return tw.Flush()
}

// Downsample averages a regular series into n rows spread evenly between
// the first and last time. It returns the new spacing. Series of at most n
// rows are returned as is with their own spacing.
func Downsample(times []time.Time, values []float64, n int) ([]time.Time, []float64, time.Duration, error) {
	if len(times) != len(values) {
		return nil, nil, 0, fmt.Errorf("%w: %d times for %d values", ErrLength, len(times), len(values))
	}
	if n <= 0 {
		return nil, nil, 0, fmt.Errorf("downsample to %d rows", n)
	}
	if len(times) <= n {
		var step time.Duration
		if len(times) > 1 {
			step = times[1].Sub(times[0])
		}
		return slices.Clone(times), slices.Clone(values), step, nil
	}
	size := float64(len(values)) / float64(n)
	sums := make([]float64, n)
	counts := make([]int, n)
	for i, v := range values {
		g := min(int(float64(i)/size), n-1)
		if !math.IsNaN(v) {
			sums[g] += v
			counts[g]++
		}
	}
	out := make([]float64, n)
	for g := range out {
		out[g] = math.NaN()
		if counts[g] > 0 {
			out[g] = sums[g] / float64(counts[g])
		}
	}
	first, last := times[0], times[len(times)-1]
	span := last.Sub(first)
	ts := make([]time.Time, n)
	for i := range ts {
		if n == 1 {
			ts[i] = first
			continue
		}
		ts[i] = first.Add(time.Duration(float64(span) * float64(i) / float64(n-1)))
	}
	return ts, out, span / time.Duration(n), nil
}
