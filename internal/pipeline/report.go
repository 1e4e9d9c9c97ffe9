package pipeline

import (
	"slices"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"
)

// p50 and p95 are the reported latency quantiles.
const (
	p50 = 0.5
	p95 = 0.95
)

// ChunkResult is the outcome of one chunk, reported in input order.
type ChunkResult struct {
	Index int
	// Offset and Size are in characters.
	Offset int
	Size   int
	Output string
	Err    error
	// Latency is the wall-clock time from dispatch to result.
	Latency time.Duration

	Offloaded      bool
	Fallback       bool
	FallbackReason string
	Attempts       int
}

// LatencySummary describes the per-chunk latency distribution in milliseconds.
type LatencySummary struct {
	Count  int
	MeanMS float64
	P50MS  float64
	P95MS  float64
	MaxMS  float64
}

// Report summarizes one run.
type Report struct {
	Chunks []ChunkResult
	// Output is the in-order concatenation of successful chunk outputs.
	Output string
	// ValidationErr is set when the assembled output failed validation.
	ValidationErr error
	// Failed lists the indices of chunks whose translation failed.
	Failed []int

	// Decisions counts controller consultations; Adaptations counts the
	// ones that changed the size.
	Decisions   int
	Adaptations int
	Fallbacks   int
	Offloaded   int

	// ChunkSizes lists the size requested for each chunk.
	ChunkSizes []int
	Elapsed    time.Duration
	Latency    LatencySummary
}

// OK reports whether every chunk translated and the output validated.
func (r *Report) OK() bool {
	return len(r.Failed) == 0 && r.ValidationErr == nil
}

func (r *Report) add(res ChunkResult) {
	r.Chunks = append(r.Chunks, res)

	if res.Offloaded {
		r.Offloaded++
	}

	if res.Fallback {
		r.Fallbacks++
	}

	if res.Err != nil {
		r.Failed = append(r.Failed, res.Index)
	}
}

func (r *Report) assemble() {
	var sb strings.Builder

	latencies := make([]float64, 0, len(r.Chunks))

	for _, res := range r.Chunks {
		latencies = append(latencies, float64(res.Latency)/float64(time.Millisecond))

		if res.Err == nil {
			sb.WriteString(res.Output)
		}
	}

	r.Output = sb.String()
	r.Latency = summarize(latencies)
}

func summarize(latencies []float64) LatencySummary {
	if len(latencies) == 0 {
		return LatencySummary{}
	}

	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	return LatencySummary{
		Count:  len(sorted),
		MeanMS: stat.Mean(sorted, nil),
		P50MS:  stat.Quantile(p50, stat.Empirical, sorted, nil),
		P95MS:  stat.Quantile(p95, stat.Empirical, sorted, nil),
		MaxMS:  sorted[len(sorted)-1],
	}
}
