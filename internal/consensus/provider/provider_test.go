package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holoscript/consensus/internal/consensus"
	"github.com/holoscript/consensus/internal/consensus/majority"
	"github.com/holoscript/consensus/internal/consensus/raft"
)

func TestNew_Raft(t *testing.T) {
	cfg := consensus.DefaultConfig()

	node, err := New("n1", cfg, nil, nil, nil)

	require.NoError(t, err)
	assert.IsType(t, &raft.Node{}, node)
}

func TestNew_SimpleMajority(t *testing.T) {
	cfg := consensus.DefaultConfig()
	cfg.Mechanism = consensus.MechanismSimpleMajority

	node, err := New("n1", cfg, nil, nil, nil)

	require.NoError(t, err)
	assert.IsType(t, &majority.Node{}, node)
}

func TestNew_DefaultsToRaft(t *testing.T) {
	node, err := New("n1", consensus.Config{}, nil, nil, nil)

	require.NoError(t, err)
	assert.IsType(t, &raft.Node{}, node)
}

func TestNew_PBFTNotImplemented(t *testing.T) {
	cfg := consensus.DefaultConfig()
	cfg.Mechanism = consensus.MechanismPBFT

	_, err := New("n1", cfg, nil, nil, nil)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not implemented")
}

func TestNew_UnknownMechanism(t *testing.T) {
	cfg := consensus.DefaultConfig()
	cfg.Mechanism = "zab"

	_, err := New("n1", cfg, nil, nil, nil)

	assert.Error(t, err)
}
