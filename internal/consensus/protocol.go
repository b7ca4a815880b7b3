package consensus

import "context"

// SendFunc is the single injected transport hook. The protocol core never
// opens sockets or serializes bytes itself: every outbound message is handed
// to this callback and delivery is the host's problem. Implementations must
// enqueue and return; calling back into the sending node synchronously (e.g.
// delivering a reply inline) deadlocks, as the node holds its own lock while
// sending.
type SendFunc func(to NodeID, msg Message)

// Protocol is the abstract consensus surface consumed by host code. Both the
// Raft implementation and the simple-majority variant satisfy it.
//
// Every method on one Protocol instance is safe for concurrent use; internally
// each instance serializes all mutation of its own state.
type Protocol interface {
	// IsLeader reports whether the local node currently believes it is the leader.
	IsLeader() bool

	// LeaderID returns the id of the known leader, if any.
	LeaderID() (NodeID, bool)

	// Propose submits a set command for key. It blocks until the command is
	// committed and applied, the proposal times out, or ctx is done. Failures
	// are reported through ProposalResult.Err, never via panic.
	Propose(ctx context.Context, key string, value any) ProposalResult

	// ProposeDelete submits a delete command for key with the same lifecycle
	// as Propose.
	ProposeDelete(ctx context.Context, key string) ProposalResult

	// Get returns the local state machine's current value for key. It is NOT
	// linearizable: a follower, or a leader without a read lease, may serve
	// stale data. This is a documented relaxation, not a bug.
	Get(key string) (any, bool)

	// Snapshot returns a copy of the full committed key/value state.
	Snapshot() map[string]any

	// AddNode adds a cluster member, effective immediately. There is no
	// joint-consensus handshake; concurrent membership churn during an
	// election or replication round has no proven safety argument.
	AddNode(node Node)

	// RemoveNode removes a cluster member and drops its replication bookkeeping.
	RemoveNode(id NodeID)

	// Nodes returns a snapshot of the cluster membership, local node included.
	Nodes() []Node

	// HandleMessage is the transport delivery entry point for all inbound
	// messages. Malformed messages are expected to be rejected by the
	// transport boundary; unknown concrete types are dropped here.
	HandleMessage(from NodeID, msg Message)

	// SetSendFunc injects the outbound transport hook. Must be called before Start.
	SetSendFunc(send SendFunc)

	// Start begins timer-driven behavior. Stop cancels all timers and fails
	// any pending proposals.
	Start() error
	Stop()
}
