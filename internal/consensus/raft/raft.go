// Package raft implements the Raft consensus algorithm as described in the
// [Raft paper](https://raft.github.io/raft.pdf): term management, leader
// election, log replication, commit-index advancement, and the client
// proposal lifecycle. The log is kept in memory; durable storage and wire
// transport are the host's concern, injected via consensus.SendFunc.
package raft

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/holoscript/consensus/internal/consensus"
	"github.com/holoscript/consensus/internal/consensus/metrics"
	"github.com/holoscript/consensus/internal/pubsub"
)

// Node is a single Raft cluster member. It is logically single-threaded: all
// mutation of term/log/commit state happens under mu, either inside
// HandleMessage or inside a timer callback, never concurrently with itself.
type Node struct {
	mu sync.Mutex

	id  consensus.NodeID
	cfg consensus.Config

	// Persistent state as defined in Figure 2 from the Raft paper,
	// conceptually durable but kept in memory here (persistence across
	// restarts is out of scope).
	state       consensus.NodeState
	currentTerm uint64
	votedFor    *consensus.NodeID
	log         []consensus.LogEntry

	// Volatile state. commitIndex and lastApplied are -1 while nothing has
	// committed; both are monotonic non-decreasing.
	commitIndex int
	lastApplied int
	leaderID    *consensus.NodeID

	// Leader-only volatile state, reset on every election win.
	nextIndex  map[consensus.NodeID]int
	matchIndex map[consensus.NodeID]int

	// Peers that granted us a vote in the current candidacy.
	votesGranted  map[consensus.NodeID]bool
	electionStart time.Time

	// Cluster membership bookkeeping, self excluded.
	peers map[consensus.NodeID]*consensus.Node

	// Pending client proposals keyed by log index. Created on Propose,
	// destroyed on commit-application or timeout, whichever comes first.
	pending map[int]*pendingProposal

	machine *consensus.KVStore

	send consensus.SendFunc

	// The election timer runs whenever the node is not leader; the heartbeat
	// goroutine runs only while leader.
	electionTimer *time.Timer
	hbStopCh      chan struct{}

	events  *pubsub.Bus
	logger  hclog.Logger
	metrics metrics.Collector

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

var _ consensus.Protocol = (*Node)(nil)

// NewNode creates a Raft node. An empty id is replaced with a generated one.
// logger and collector may be nil. Peers can be added later with AddNode.
func NewNode(id consensus.NodeID, cfg consensus.Config, peers []consensus.Node, logger hclog.Logger, collector metrics.Collector) *Node {
	if id == "" {
		id = consensus.NewNodeID()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	n := &Node{
		id:          id,
		cfg:         cfg,
		state:       consensus.Follower,
		commitIndex: -1,
		lastApplied: -1,
		nextIndex:   make(map[consensus.NodeID]int),
		matchIndex:  make(map[consensus.NodeID]int),
		peers:       make(map[consensus.NodeID]*consensus.Node),
		pending:     make(map[int]*pendingProposal),
		machine:     consensus.NewKVStore(),
		events:      pubsub.New(),
		logger:      logger.Named("raft").With("node_id", string(id)),
		metrics:     collector,
	}
	for _, p := range peers {
		if p.ID == id {
			continue
		}
		member := p
		member.State = consensus.Follower
		n.peers[p.ID] = &member
	}
	return n
}

// ID returns the local node's id.
func (n *Node) ID() consensus.NodeID {
	return n.id
}

// Events returns the bus carrying this node's consensus.Event* notifications.
// It is closed by Stop.
func (n *Node) Events() *pubsub.Bus {
	return n.events
}

// SetSendFunc injects the outbound transport hook. Must be set before Start.
func (n *Node) SetSendFunc(send consensus.SendFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.send = send
}

// Start validates the configuration and begins timer-driven behavior.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return fmt.Errorf("node %s is already started", n.id)
	}
	if n.send == nil {
		return fmt.Errorf("node %s has no transport send function injected", n.id)
	}
	if err := n.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	n.running = true
	n.stopCh = make(chan struct{})
	n.electionTimer = time.NewTimer(n.cfg.ElectionTimeout())
	n.wg.Add(1)
	go n.run()

	n.logger.Info("node started", "term", n.currentTerm, "cluster_size", n.clusterSize())
	return nil
}

// Stop cancels both timers, fails all pending proposals with ErrStopped, and
// closes the event bus. Idempotent.
func (n *Node) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	close(n.stopCh)
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	n.stopHeartbeats()
	for index, p := range n.pending {
		delete(n.pending, index)
		p.timer.Stop()
		p.deliver(consensus.ProposalResult{Accepted: false, Err: consensus.ErrStopped})
	}
	n.mu.Unlock()

	n.wg.Wait()
	n.events.Close()
	n.logger.Info("node stopped")
}

// run services the election timer until the node stops. Heartbeats live in
// their own goroutine because they exist only while leading.
func (n *Node) run() {
	defer n.wg.Done()
	for {
		select {
		case <-n.electionTimer.C:
			n.onElectionTimeout()
		case <-n.stopCh:
			return
		}
	}
}

func (n *Node) onElectionTimeout() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return
	}
	// The leader has no self-timeout; it only steps down on a higher-term message.
	if n.state != consensus.Leader {
		n.startElection()
	}
	if n.state != consensus.Leader {
		n.electionTimer.Reset(n.cfg.ElectionTimeout())
	}
}

// resetElectionTimer re-arms the election timer with a fresh randomized
// timeout. Callers must hold mu.
func (n *Node) resetElectionTimer() {
	if n.electionTimer == nil {
		return
	}
	if !n.electionTimer.Stop() {
		// Drain a fire the run loop has not consumed yet.
		select {
		case <-n.electionTimer.C:
		default:
		}
	}
	n.electionTimer.Reset(n.cfg.ElectionTimeout())
}

// IsLeader reports whether this node currently believes it is the leader.
func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == consensus.Leader
}

// LeaderID returns the id of the leader this node currently recognizes.
func (n *Node) LeaderID() (consensus.NodeID, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.leaderID == nil {
		return "", false
	}
	return *n.leaderID, true
}

// State returns the node's current Raft state.
func (n *Node) State() consensus.NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// ForceState forces a state transition outside the normal election flow, a
// debugging and test aid. Forcing Candidate starts an election; forcing Leader
// skips the vote entirely. An unknown target state is logged and ignored.
func (n *Node) ForceState(state consensus.NodeState) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch state {
	case consensus.Follower:
		if n.state == consensus.Leader {
			n.stopHeartbeats()
			n.resetElectionTimer()
		}
		n.state = consensus.Follower
	case consensus.Candidate:
		n.startElection()
	case consensus.Leader:
		n.becomeLeader()
	default:
		n.logger.Warn("ignoring forced transition to unknown state", "state", uint64(state))
	}
}

// Term returns the node's current term.
func (n *Node) Term() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentTerm
}

// CommitIndex returns the highest log index known committed, -1 if none.
func (n *Node) CommitIndex() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.commitIndex
}

// LogEntries returns a copy of the node's log, for inspection by hosts and tests.
func (n *Node) LogEntries() []consensus.LogEntry {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]consensus.LogEntry, len(n.log))
	copy(out, n.log)
	return out
}

// Get returns the local state machine's value for key. Reads are served from
// the local committed snapshot and are not linearizable: a follower, or a
// leader without a read lease, may return stale data.
func (n *Node) Get(key string) (any, bool) {
	return n.machine.Get(key)
}

// Snapshot returns a copy of the full committed key/value state.
func (n *Node) Snapshot() map[string]any {
	return n.machine.Snapshot()
}

// AddNode adds a cluster member, effective immediately for subsequent
// election and replication rounds. There is no joint-consensus handshake;
// concurrent membership churn is a documented safety gap.
func (n *Node) AddNode(node consensus.Node) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if node.ID == n.id {
		return
	}
	if _, ok := n.peers[node.ID]; ok {
		return
	}

	member := node
	member.State = consensus.Follower
	n.peers[node.ID] = &member
	if n.state == consensus.Leader {
		n.nextIndex[node.ID] = len(n.log)
		n.matchIndex[node.ID] = -1
	}

	n.logger.Info("node joined cluster", "peer_id", node.ID, "cluster_size", n.clusterSize())
	pubsub.Publish(n.events, consensus.EventNodeJoined, node)
}

// RemoveNode removes a cluster member and drops its replication bookkeeping.
func (n *Node) RemoveNode(id consensus.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.peers[id]; !ok {
		return
	}
	delete(n.peers, id)
	delete(n.nextIndex, id)
	delete(n.matchIndex, id)
	delete(n.votesGranted, id)
	if n.leaderID != nil && *n.leaderID == id {
		n.leaderID = nil
	}

	n.logger.Info("node left cluster", "peer_id", id, "cluster_size", n.clusterSize())
	pubsub.Publish(n.events, consensus.EventNodeLeft, id)
}

// Nodes returns a snapshot of the cluster membership, self included.
func (n *Node) Nodes() []consensus.Node {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]consensus.Node, 0, len(n.peers)+1)
	out = append(out, consensus.Node{
		ID:       n.id,
		State:    n.state,
		Term:     n.currentTerm,
		VotedFor: n.votedFor,
	})
	for _, p := range n.peers {
		out = append(out, *p)
	}
	return out
}

// clusterSize counts every known member including self. Callers must hold mu.
func (n *Node) clusterSize() int {
	return len(n.peers) + 1
}

// quorumSize is the number of agreeing nodes required for safety.
func (n *Node) quorumSize() int {
	return n.cfg.QuorumFor(n.clusterSize())
}

// lastLogIndexAndTerm returns (-1, 0) for an empty log.
func (n *Node) lastLogIndexAndTerm() (int, uint64) {
	if len(n.log) == 0 {
		return -1, 0
	}
	last := n.log[len(n.log)-1]
	return last.Index, last.Term
}

// envelope stamps an outbound message with the local identity and term.
func (n *Node) envelope() consensus.Envelope {
	return consensus.Envelope{Sender: n.id, Term: n.currentTerm}
}

func (n *Node) sendTo(to consensus.NodeID, msg consensus.Message) {
	if n.send == nil {
		n.logger.Warn("dropping outbound message, no transport injected", "to", to)
		return
	}
	n.send(to, msg)
}
