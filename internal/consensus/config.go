package consensus

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Mechanism selects which protocol implementation a cluster runs.
type Mechanism string

const (
	MechanismRaft           Mechanism = "raft"
	MechanismSimpleMajority Mechanism = "simple_majority"
	// MechanismPBFT is reserved. Selecting it is an error until a Byzantine
	// fault tolerant implementation exists.
	MechanismPBFT Mechanism = "pbft"
)

// Defaults applied by Config.Validate for zero values.
const (
	// DefaultProposalTimeout bounds how long a proposer waits for a quorum commit.
	DefaultProposalTimeout = 5000 * time.Millisecond
	// DefaultHeartbeatInterval is how often a leader asserts leadership.
	DefaultHeartbeatInterval = 150 * time.Millisecond
	// The 150-300ms election timeout range is chosen based on the recommendation
	// at the end of Section 9.3 from the [Raft paper](https://raft.github.io/raft.pdf).
	DefaultElectionTimeoutMin = 150 * time.Millisecond
	DefaultElectionTimeoutMax = 300 * time.Millisecond
	// DefaultMaxRetries bounds transport-level resends a host may perform.
	// The core itself never retries a proposal; clients re-issue Propose.
	DefaultMaxRetries = 3
)

// Config carries the tunables of a protocol instance. The zero value is
// usable after Validate, which fills in defaults.
type Config struct {
	Mechanism         Mechanism
	ProposalTimeout   time.Duration
	HeartbeatInterval time.Duration
	// ElectionTimeoutMin/Max bound the randomized per-node election timeout.
	// The randomization is essential to avoid split-vote livelock.
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	MaxRetries         int
	// Quorum overrides the automatic floor(n/2)+1 majority when > 0.
	Quorum int
}

// DefaultConfig returns a Config with every field at its default.
func DefaultConfig() Config {
	return Config{
		Mechanism:          MechanismRaft,
		ProposalTimeout:    DefaultProposalTimeout,
		HeartbeatInterval:  DefaultHeartbeatInterval,
		ElectionTimeoutMin: DefaultElectionTimeoutMin,
		ElectionTimeoutMax: DefaultElectionTimeoutMax,
		MaxRetries:         DefaultMaxRetries,
	}
}

// Validate fills defaults for zero values and rejects configurations that
// cannot work.
func (c *Config) Validate() error {
	if c.Mechanism == "" {
		c.Mechanism = MechanismRaft
	}
	switch c.Mechanism {
	case MechanismRaft, MechanismSimpleMajority, MechanismPBFT:
	default:
		return fmt.Errorf("unknown consensus mechanism %q", c.Mechanism)
	}
	if c.ProposalTimeout == 0 {
		c.ProposalTimeout = DefaultProposalTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ElectionTimeoutMin == 0 {
		c.ElectionTimeoutMin = DefaultElectionTimeoutMin
	}
	if c.ElectionTimeoutMax == 0 {
		c.ElectionTimeoutMax = DefaultElectionTimeoutMax
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.ProposalTimeout < 0 || c.HeartbeatInterval < 0 || c.ElectionTimeoutMin < 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.ElectionTimeoutMax < c.ElectionTimeoutMin {
		return fmt.Errorf("election timeout max (%v) is below min (%v)", c.ElectionTimeoutMax, c.ElectionTimeoutMin)
	}
	if c.Quorum < 0 {
		return fmt.Errorf("quorum override must be >= 0, got %d", c.Quorum)
	}
	return nil
}

// ElectionTimeout draws a randomized election timeout uniformly from
// [ElectionTimeoutMin, ElectionTimeoutMax]. Each draw is independent; the
// timeout is re-drawn on every timer reset so no two nodes stay in lockstep.
func (c Config) ElectionTimeout() time.Duration {
	spread := c.ElectionTimeoutMax - c.ElectionTimeoutMin
	if spread <= 0 {
		return c.ElectionTimeoutMin
	}
	// +1 to make the range inclusive of the max
	return c.ElectionTimeoutMin + time.Duration(rand.Int63n(int64(spread)+1))
}

// QuorumFor returns the quorum for a cluster of the given size, honoring the
// manual override when set.
func (c Config) QuorumFor(clusterSize int) int {
	if c.Quorum > 0 {
		return c.Quorum
	}
	return Quorum(clusterSize)
}

// fileConfig is the on-disk YAML shape. Durations are plain milliseconds so
// config files stay free of Go-specific duration syntax.
type fileConfig struct {
	Mechanism            string `yaml:"mechanism"`
	ProposalTimeoutMs    int64  `yaml:"proposal_timeout_ms"`
	HeartbeatIntervalMs  int64  `yaml:"heartbeat_interval_ms"`
	ElectionTimeoutMinMs int64  `yaml:"election_timeout_min_ms"`
	ElectionTimeoutMaxMs int64  `yaml:"election_timeout_max_ms"`
	MaxRetries           int    `yaml:"max_retries"`
	Quorum               int    `yaml:"quorum"`
}

// LoadConfigFile reads a YAML config file, applies defaults for absent keys,
// and validates the result.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config bytes. See LoadConfigFile.
func ParseConfig(data []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := Config{
		Mechanism:          Mechanism(fc.Mechanism),
		ProposalTimeout:    time.Duration(fc.ProposalTimeoutMs) * time.Millisecond,
		HeartbeatInterval:  time.Duration(fc.HeartbeatIntervalMs) * time.Millisecond,
		ElectionTimeoutMin: time.Duration(fc.ElectionTimeoutMinMs) * time.Millisecond,
		ElectionTimeoutMax: time.Duration(fc.ElectionTimeoutMaxMs) * time.Millisecond,
		MaxRetries:         fc.MaxRetries,
		Quorum:             fc.Quorum,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
