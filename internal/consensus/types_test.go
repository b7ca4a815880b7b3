package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeState_String(t *testing.T) {
	assert.Equal(t, "Follower", Follower.String())
	assert.Equal(t, "Candidate", Candidate.String())
	assert.Equal(t, "Leader", Leader.String())
	assert.Equal(t, "Unknown", NodeState(42).String())
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "set", CommandSet.String())
	assert.Equal(t, "delete", CommandDelete.String())
	assert.Equal(t, "unknown", Command(42).String())
}

func TestEnvelope_SatisfiesMessage(t *testing.T) {
	var msg Message = &AppendEntries{Envelope: Envelope{Sender: "n1", Term: 7}}

	assert.Equal(t, NodeID("n1"), msg.SenderID())
	assert.Equal(t, uint64(7), msg.MessageTerm())
}
