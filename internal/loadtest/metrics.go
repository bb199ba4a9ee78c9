package loadtest

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OperationMetrics counts outcomes and keeps every latency of one operation
// kind. Safe for concurrent use.
type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

type LatencyStats struct {
	Avg, Min, Max, P50, P95 time.Duration
}

func (om *OperationMetrics) Stats() LatencyStats {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return LatencyStats{}
	}
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	return LatencyStats{
		Avg: sum / time.Duration(len(latencies)),
		Min: latencies[0],
		Max: latencies[len(latencies)-1],
		P50: percentile(latencies, 50),
		P95: percentile(latencies, 95),
	}
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p int) time.Duration {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type Metrics struct {
	Booking  OperationMetrics
	Cancel   OperationMetrics
	ListMine OperationMetrics
	ListOpen OperationMetrics
}

// WriteReport prints a summary of every operation that ran at least once.
func (r *Runner) WriteReport(w io.Writer) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
	fmt.Fprintln(w, "LOAD TEST REPORT")
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "Duration: %s\n", r.cfg.Duration)
	fmt.Fprintf(w, "Workers: %d\n", r.cfg.Workers)
	fmt.Fprintf(w, "Members: %d\n", len(r.members))
	fmt.Fprintln(w)

	writeOperation(w, "Booking", &r.Metrics.Booking)
	writeOperation(w, "Cancel", &r.Metrics.Cancel)
	writeOperation(w, "List mine", &r.Metrics.ListMine)
	writeOperation(w, "List open slots", &r.Metrics.ListOpen)
}

func writeOperation(w io.Writer, name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	st := om.Stats()

	fmt.Fprintf(w, "%s:\n", name)
	fmt.Fprintf(w, "  Total: %d\n", total)
	fmt.Fprintf(w, "  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Fprintf(w, "  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Fprintf(w, "  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Fprintf(w, "  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		st.Avg.Round(time.Microsecond), st.Min.Round(time.Microsecond), st.Max.Round(time.Microsecond),
		st.P50.Round(time.Microsecond), st.P95.Round(time.Microsecond))
	fmt.Fprintln(w)
}
