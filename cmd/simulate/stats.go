package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"
)

type outcome int

const (
	outcomeOK outcome = iota
	outcomeConflict
	outcomeError
)

// opStats collects outcomes and latencies for one kind of request.
type opStats struct {
	mu        sync.Mutex
	counts    [3]int64
	latencies []time.Duration
}

func (s *opStats) record(latency time.Duration, o outcome) {
	s.mu.Lock()
	s.counts[o]++
	s.latencies = append(s.latencies, latency)
	s.mu.Unlock()
}

type summary struct {
	Total, OK, Conflict, Error int64
	Avg, Min, Max, P50, P95    time.Duration
}

func (s *opStats) summary() summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := summary{OK: s.counts[outcomeOK], Conflict: s.counts[outcomeConflict], Error: s.counts[outcomeError]}
	out.Total = out.OK + out.Conflict + out.Error
	if len(s.latencies) == 0 {
		return out
	}

	sorted := slices.Clone(s.latencies)
	slices.Sort(sorted)

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	out.Avg = sum / time.Duration(len(sorted))
	out.Min = sorted[0]
	out.Max = sorted[len(sorted)-1]
	out.P50 = sorted[percentileIndex(len(sorted), 50)]
	out.P95 = sorted[percentileIndex(len(sorted), 95)]
	return out
}

func percentileIndex(n, p int) int {
	return min(n*p/100, n-1)
}

// classify maps an HTTP status to an outcome. 409 is the expected loser of a race.
func classify(status int, err error) outcome {
	switch {
	case err != nil:
		return outcomeError
	case status >= 200 && status < 300:
		return outcomeOK
	case status == 409:
		return outcomeConflict
	default:
		return outcomeError
	}
}

func writeOpReport(w io.Writer, name string, s *opStats) {
	sum := s.summary()
	if sum.Total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(sum.Total) * 100 }

	fmt.Fprintf(w, "%s:\n", name)
	fmt.Fprintf(w, "  Total: %d\n", sum.Total)
	fmt.Fprintf(w, "  Success: %d (%.1f%%)\n", sum.OK, pct(sum.OK))
	if sum.Conflict > 0 {
		fmt.Fprintf(w, "  Conflicts: %d (%.1f%%)\n", sum.Conflict, pct(sum.Conflict))
	}
	if sum.Error > 0 {
		fmt.Fprintf(w, "  Errors: %d (%.1f%%)\n", sum.Error, pct(sum.Error))
	}
	fmt.Fprintf(w, "  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n\n",
		sum.Avg.Round(time.Millisecond), sum.Min.Round(time.Millisecond), sum.Max.Round(time.Millisecond),
		sum.P50.Round(time.Millisecond), sum.P95.Round(time.Millisecond))
}

func banner(w io.Writer, title string) {
	line := strings.Repeat("=", 80)
	fmt.Fprintf(w, "\n%s\n%s\n%s\n", line, title, line)
}
