package consensus

import "github.com/google/uuid"

// Quorum returns the minimum agreeing set for safety: floor(n/2)+1. Majority
// is defined this way in Section 5.2 from the
// [Raft paper](https://raft.github.io/raft.pdf); any two quorums intersect.
func Quorum(clusterSize int) int {
	if clusterSize < 1 {
		return 1
	}
	return clusterSize/2 + 1
}

// NewNodeID generates a cluster-unique node id.
func NewNodeID() NodeID {
	return NodeID(uuid.New().String())
}

// NewProposalID generates a unique id for a client proposal or ballot.
func NewProposalID() string {
	return uuid.New().String()
}
