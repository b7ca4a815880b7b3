package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.RecordProposal()
	m.RecordProposal()
	m.RecordProposalCommitted(10 * time.Millisecond)
	m.RecordProposalTimeout()
	m.RecordAppendEntries()
	m.RecordRequestVote()
	m.RecordHeartbeat()
	m.RecordElection()

	report := m.GetReport()
	assert.Equal(t, uint64(2), report.Proposals)
	assert.Equal(t, uint64(1), report.ProposalsCommitted)
	assert.Equal(t, uint64(1), report.ProposalTimeouts)
	assert.Equal(t, uint64(1), report.AppendEntriesCount)
	assert.Equal(t, uint64(1), report.RequestVoteCount)
	assert.Equal(t, uint64(1), report.HeartbeatCount)
	assert.Equal(t, uint64(1), report.ElectionCount)
}

func TestMetrics_CommitLatencyStats(t *testing.T) {
	m := New()
	for i := 1; i <= 10; i++ {
		m.RecordProposalCommitted(time.Duration(i) * time.Millisecond)
	}

	stats := m.CommitLatencyStats()

	assert.Equal(t, 10, stats.Count)
	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 10.0, stats.Max)
	assert.InDelta(t, 5.5, stats.Mean, 0.001)
	assert.InDelta(t, 5.5, stats.P50, 0.001)
	assert.InDelta(t, 9.55, stats.P95, 0.001)
}

func TestMetrics_CommitLatencyStats_Empty(t *testing.T) {
	m := New()

	assert.Equal(t, LatencyStats{}, m.CommitLatencyStats())
}

func TestPercentile_SingleValue(t *testing.T) {
	assert.Equal(t, 7.0, percentile([]float64{7.0}, 99))
}

func TestMetrics_Reset(t *testing.T) {
	m := New()
	m.RecordProposal()
	m.RecordProposalCommitted(time.Millisecond)
	m.RecordElection()

	m.Reset()

	report := m.GetReport()
	assert.Equal(t, uint64(0), report.Proposals)
	assert.Equal(t, uint64(0), report.ProposalsCommitted)
	assert.Equal(t, uint64(0), report.ElectionCount)
	assert.Equal(t, 0, report.CommitLatency.Count)
}
