package bench

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
)

// ErrEmptySample is returned by Summarize for a sample without latencies.
var ErrEmptySample = errors.New("empty latency sample")

// Summary describes a latency sample.
type Summary struct {
	Count  int
	Min    time.Duration
	Mean   time.Duration
	Max    time.Duration
	P99    time.Duration
	Median time.Duration
	StdDev time.Duration
}

// Summarize computes the statistics of sample. The sample is not modified.
// Mean is the integer nanosecond average. P99 is the element at
// floor(n*0.99) of the sorted sample, clamped to the last element.
func Summarize(sample []time.Duration) (Summary, error) {
	n := len(sample)
	if n == 0 {
		return Summary{}, ErrEmptySample
	}

	sorted := make([]time.Duration, n)
	copy(sorted, sample)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	data := make(stats.Float64Data, n)
	for i, d := range sorted {
		sum += d
		data[i] = float64(d)
	}

	median, err := stats.Median(data)
	if err != nil {
		return Summary{}, err
	}
	stddev, err := stats.StandardDeviationPopulation(data)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		Count:  n,
		Min:    sorted[0],
		Mean:   sum / time.Duration(n),
		Max:    sorted[n-1],
		P99:    sorted[p99Index(n)],
		Median: time.Duration(math.Round(median)),
		StdDev: time.Duration(math.Round(stddev)),
	}, nil
}

func p99Index(n int) int {
	idx := int(math.Floor(float64(n) * 0.99))
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

// Comparison relates the mean latencies of the two transports.
type Comparison struct {
	// Ratio is the TCP mean divided by the unix mean.
	Ratio float64
	// UnixFaster is set when Ratio > 1.
	UnixFaster bool
	// Factor is how many times faster the faster transport is, always >= 1.
	Factor float64
}

// Compare computes the ratio of the TCP mean to the unix mean. If either mean
// is zero the transports are reported as equal.
func Compare(unix, tcp Summary) Comparison {
	if unix.Mean <= 0 || tcp.Mean <= 0 {
		return Comparison{Ratio: 1, Factor: 1}
	}

	ratio := float64(tcp.Mean) / float64(unix.Mean)
	if ratio > 1 {
		return Comparison{Ratio: ratio, UnixFaster: true, Factor: ratio}
	}
	return Comparison{Ratio: ratio, Factor: 1 / ratio}
}
