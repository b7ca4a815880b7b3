package consensus

import "github.com/holoscript/consensus/internal/pubsub"

// Events emitted by protocol instances for host observation. Subscribe on the
// bus returned by the instance's Events method.
const (
	// EventLeaderElected fires when the local node learns of a newly elected
	// leader (itself included). Payload: NodeID.
	EventLeaderElected pubsub.EventType = iota
	// EventStateChanged fires once per committed entry applied to the local
	// state machine. Payload: StateChange.
	EventStateChanged
	// EventNodeJoined fires when a member is added. Payload: Node.
	EventNodeJoined
	// EventNodeLeft fires when a member is removed. Payload: NodeID.
	EventNodeLeft
	// EventProposalCommitted fires on the proposer when its own proposal
	// reaches commit. Payload: ProposalCommit.
	EventProposalCommitted
)

// StateChange describes a single applied state machine mutation.
type StateChange struct {
	Key      string
	Value    any
	Previous any
}

// ProposalCommit identifies a committed proposal by its log position.
type ProposalCommit struct {
	Index int
	Term  uint64
	Key   string
}
