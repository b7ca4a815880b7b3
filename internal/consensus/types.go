package consensus

import (
	"time"
)

// NodeID is the id of a node in the cluster.
type NodeID string

// NodeAddress is the network address of a node. The protocol core never dials
// it; it is carried for the host's transport layer.
type NodeAddress string

// A NodeState is a custom type representing the state of a node at any given point: leader, follower, or candidate
type NodeState uint64

// As Golang does not support Enums this is a common pattern for implementing one
const (
	Follower NodeState = iota
	Candidate
	Leader
)

// String returns the string representation of the NodeState
func (s NodeState) String() string {
	switch s {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// Node is one cluster member as seen by a local protocol instance. Owned by
// that instance; mutated only by its message handlers.
type Node struct {
	ID      NodeID
	Address NodeAddress
	// The state of the node as last observed locally.
	State NodeState
	// The latest term known for that peer.
	Term uint64
	// The ID of the Candidate this node has voted for in its current term, or nil.
	VotedFor *NodeID
	// LastHeartbeat is the local time at which the peer last proved liveness.
	LastHeartbeat time.Time
}

// Command is the kind of operation a log entry applies to the key/value state machine.
type Command uint8

const (
	CommandSet Command = iota
	CommandDelete
)

func (c Command) String() string {
	switch c {
	case CommandSet:
		return "set"
	case CommandDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// A LogEntry is a term-stamped, index-addressed command. The log is an
// append-only, index-addressed ordered sequence owned exclusively by its
// protocol instance. Log Matching Property: if two logs contain an entry with
// the same (index, term), the logs are identical in all preceding entries.
type LogEntry struct {
	Term      uint64
	Index     int
	Command   Command
	Key       string
	Value     any
	Timestamp time.Time
}

// VoteTally is the replication outcome reported back to a proposer.
type VoteTally struct {
	For     int
	Against int
	Total   int
}

// ProposalResult is the structured outcome of a Propose call. Protocol-level
// failures travel in Err so callers can branch without exception handling.
type ProposalResult struct {
	Accepted bool
	Votes    VoteTally
	Err      error
}
