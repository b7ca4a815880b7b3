package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, MechanismRaft, cfg.Mechanism)
	assert.Equal(t, 5000*time.Millisecond, cfg.ProposalTimeout)
	assert.Equal(t, 150*time.Millisecond, cfg.HeartbeatInterval)
	assert.Equal(t, 150*time.Millisecond, cfg.ElectionTimeoutMin)
	assert.Equal(t, 300*time.Millisecond, cfg.ElectionTimeoutMax)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 0, cfg.Quorum)
}

func TestConfig_Validate_FillsDefaults(t *testing.T) {
	var cfg Config

	err := cfg.Validate()

	assert.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_Validate_UnknownMechanism(t *testing.T) {
	cfg := Config{Mechanism: "two-phase-commit"}

	err := cfg.Validate()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown consensus mechanism")
}

func TestConfig_Validate_InvertedElectionRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ElectionTimeoutMin = 500 * time.Millisecond
	cfg.ElectionTimeoutMax = 100 * time.Millisecond

	err := cfg.Validate()

	assert.Error(t, err)
}

func TestConfig_Validate_NegativeQuorum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Quorum = -1

	assert.Error(t, cfg.Validate())
}

func TestConfig_ElectionTimeout_InRange(t *testing.T) {
	cfg := DefaultConfig()

	for i := 0; i < 100; i++ {
		timeout := cfg.ElectionTimeout()
		assert.GreaterOrEqual(t, timeout, cfg.ElectionTimeoutMin)
		assert.LessOrEqual(t, timeout, cfg.ElectionTimeoutMax)
	}
}

func TestConfig_ElectionTimeout_FixedRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ElectionTimeoutMin = 200 * time.Millisecond
	cfg.ElectionTimeoutMax = 200 * time.Millisecond

	assert.Equal(t, 200*time.Millisecond, cfg.ElectionTimeout())
}

func TestConfig_QuorumFor(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2, cfg.QuorumFor(3))

	cfg.Quorum = 3
	assert.Equal(t, 3, cfg.QuorumFor(3))
}

func TestParseConfig(t *testing.T) {
	data := []byte(`
mechanism: simple_majority
proposal_timeout_ms: 1000
heartbeat_interval_ms: 50
election_timeout_min_ms: 100
election_timeout_max_ms: 200
max_retries: 5
quorum: 2
`)

	cfg, err := ParseConfig(data)

	assert.NoError(t, err)
	assert.Equal(t, MechanismSimpleMajority, cfg.Mechanism)
	assert.Equal(t, 1000*time.Millisecond, cfg.ProposalTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.HeartbeatInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.ElectionTimeoutMin)
	assert.Equal(t, 200*time.Millisecond, cfg.ElectionTimeoutMax)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 2, cfg.Quorum)
}

func TestParseConfig_AbsentKeysGetDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`mechanism: raft`))

	assert.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfig_Malformed(t *testing.T) {
	_, err := ParseConfig([]byte(`mechanism: [not, a, string`))

	assert.Error(t, err)
}

func TestLoadConfigFile_Missing(t *testing.T) {
	_, err := LoadConfigFile("/nonexistent/consensus.yaml")

	assert.Error(t, err)
}
