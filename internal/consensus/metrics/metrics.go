// Package metrics collects performance counters for consensus protocols.
package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is an optional interface for collecting protocol metrics. Call
// sites nil-check it, so a protocol instance may run without one.
type Collector interface {
	RecordProposal()
	RecordProposalCommitted(latency time.Duration)
	RecordProposalTimeout()
	RecordAppendEntries()
	RecordRequestVote()
	RecordHeartbeat()
	RecordElection()
}

// Metrics is the default Collector: atomic counters plus a latency series for
// percentile reporting.
type Metrics struct {
	mu              sync.Mutex
	commitLatencies []time.Duration
	startTime       time.Time

	proposals          atomic.Uint64
	proposalsCommitted atomic.Uint64
	proposalTimeouts   atomic.Uint64
	appendEntriesCount atomic.Uint64
	requestVoteCount   atomic.Uint64
	heartbeatCount     atomic.Uint64
	electionCount      atomic.Uint64
}

var _ Collector = (*Metrics)(nil)

func New() *Metrics {
	return &Metrics{
		commitLatencies: make([]time.Duration, 0, 1024),
		startTime:       time.Now(),
	}
}

func (m *Metrics) RecordProposal() { m.proposals.Add(1) }

func (m *Metrics) RecordProposalCommitted(latency time.Duration) {
	m.proposalsCommitted.Add(1)
	m.mu.Lock()
	m.commitLatencies = append(m.commitLatencies, latency)
	m.mu.Unlock()
}

func (m *Metrics) RecordProposalTimeout() { m.proposalTimeouts.Add(1) }

func (m *Metrics) RecordAppendEntries() { m.appendEntriesCount.Add(1) }

func (m *Metrics) RecordRequestVote() { m.requestVoteCount.Add(1) }

func (m *Metrics) RecordHeartbeat() { m.heartbeatCount.Add(1) }

func (m *Metrics) RecordElection() { m.electionCount.Add(1) }

// LatencyStats contains percentile statistics for commit latencies.
type LatencyStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
	Mean  float64 `json:"mean_ms"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
}

// CommitLatencyStats computes percentile statistics from recorded commit latencies.
func (m *Metrics) CommitLatencyStats() LatencyStats {
	m.mu.Lock()
	latencies := make([]time.Duration, len(m.commitLatencies))
	copy(latencies, m.commitLatencies)
	m.mu.Unlock()

	if len(latencies) == 0 {
		return LatencyStats{}
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	ms := make([]float64, len(latencies))
	var sum float64
	for i, lat := range latencies {
		ms[i] = float64(lat.Microseconds()) / 1000.0
		sum += ms[i]
	}

	return LatencyStats{
		Count: len(ms),
		Min:   ms[0],
		Max:   ms[len(ms)-1],
		Mean:  sum / float64(len(ms)),
		P50:   percentile(ms, 50),
		P95:   percentile(ms, 95),
		P99:   percentile(ms, 99),
	}
}

// percentile calculates the nth percentile from sorted data with linear
// interpolation between neighbors.
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Report is a point-in-time summary of all counters.
type Report struct {
	UptimeSeconds      float64      `json:"uptime_seconds"`
	Proposals          uint64       `json:"proposals"`
	ProposalsCommitted uint64       `json:"proposals_committed"`
	ProposalTimeouts   uint64       `json:"proposal_timeouts"`
	AppendEntriesCount uint64       `json:"append_entries_count"`
	RequestVoteCount   uint64       `json:"request_vote_count"`
	HeartbeatCount     uint64       `json:"heartbeat_count"`
	ElectionCount      uint64       `json:"election_count"`
	CommitLatency      LatencyStats `json:"commit_latency"`
}

func (m *Metrics) GetReport() Report {
	return Report{
		UptimeSeconds:      time.Since(m.startTime).Seconds(),
		Proposals:          m.proposals.Load(),
		ProposalsCommitted: m.proposalsCommitted.Load(),
		ProposalTimeouts:   m.proposalTimeouts.Load(),
		AppendEntriesCount: m.appendEntriesCount.Load(),
		RequestVoteCount:   m.requestVoteCount.Load(),
		HeartbeatCount:     m.heartbeatCount.Load(),
		ElectionCount:      m.electionCount.Load(),
		CommitLatency:      m.CommitLatencyStats(),
	}
}

// Reset clears all collected metrics, for running multiple measurements in
// one process.
func (m *Metrics) Reset() {
	m.mu.Lock()
	m.commitLatencies = m.commitLatencies[:0]
	m.startTime = time.Now()
	m.mu.Unlock()

	m.proposals.Store(0)
	m.proposalsCommitted.Store(0)
	m.proposalTimeouts.Store(0)
	m.appendEntriesCount.Store(0)
	m.requestVoteCount.Store(0)
	m.heartbeatCount.Store(0)
	m.electionCount.Store(0)
}
