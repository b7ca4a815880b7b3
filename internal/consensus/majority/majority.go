// Package majority implements a leaderless ballot-based agreement protocol
// behind the same Protocol interface as the Raft implementation. It has no
// log, no terms, and no leader: any node may open a ballot, every node votes,
// and the proposer commits once a majority accepts. It trades Raft's ordering
// and durability guarantees for simplicity, for lower-stakes agreement.
package majority

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/holoscript/consensus/internal/consensus"
	"github.com/holoscript/consensus/internal/consensus/metrics"
	"github.com/holoscript/consensus/internal/pubsub"
)

// Node is a single simple-majority cluster member.
type Node struct {
	mu sync.Mutex

	id  consensus.NodeID
	cfg consensus.Config

	peers map[consensus.NodeID]*consensus.Node

	// Ballots this node proposed, keyed by proposal id, awaiting quorum.
	ballots map[string]*ballot
	// Commits already applied, for idempotence under message redelivery.
	applied map[string]bool

	store *consensus.KVStore

	send    consensus.SendFunc
	events  *pubsub.Bus
	logger  hclog.Logger
	metrics metrics.Collector

	running bool
}

type ballot struct {
	id       string
	command  consensus.Command
	key      string
	value    any
	accepts  map[consensus.NodeID]bool
	rejects  map[consensus.NodeID]bool
	start    time.Time
	resultCh chan consensus.ProposalResult
	timer    *time.Timer
}

var _ consensus.Protocol = (*Node)(nil)

// NewNode creates a simple-majority node. An empty id is replaced with a
// generated one; logger and collector may be nil.
func NewNode(id consensus.NodeID, cfg consensus.Config, peers []consensus.Node, logger hclog.Logger, collector metrics.Collector) *Node {
	if id == "" {
		id = consensus.NewNodeID()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	n := &Node{
		id:      id,
		cfg:     cfg,
		peers:   make(map[consensus.NodeID]*consensus.Node),
		ballots: make(map[string]*ballot),
		applied: make(map[string]bool),
		store:   consensus.NewKVStore(),
		events:  pubsub.New(),
		logger:  logger.Named("majority").With("node_id", string(id)),
		metrics: collector,
	}
	for _, p := range peers {
		if p.ID == id {
			continue
		}
		member := p
		n.peers[p.ID] = &member
	}
	return n
}

func (n *Node) ID() consensus.NodeID { return n.id }

// Events returns the bus carrying this node's consensus.Event* notifications.
func (n *Node) Events() *pubsub.Bus { return n.events }

func (n *Node) SetSendFunc(send consensus.SendFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.send = send
}

// IsLeader is always false: the protocol is leaderless.
func (n *Node) IsLeader() bool { return false }

// LeaderID never reports a leader.
func (n *Node) LeaderID() (consensus.NodeID, bool) { return "", false }

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
	n.logger.Info("node started", "cluster_size", n.clusterSize())
	return nil
}

func (n *Node) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	for id, b := range n.ballots {
		delete(n.ballots, id)
		b.timer.Stop()
		b.deliver(consensus.ProposalResult{Accepted: false, Err: consensus.ErrStopped})
	}
	n.mu.Unlock()

	n.events.Close()
	n.logger.Info("node stopped")
}

// Propose opens a ballot for a set command on any node and blocks until a
// majority accepts, the ballot times out, or ctx is done.
func (n *Node) Propose(ctx context.Context, key string, value any) consensus.ProposalResult {
	return n.propose(ctx, consensus.CommandSet, key, value)
}

// ProposeDelete opens a ballot for a delete command.
func (n *Node) ProposeDelete(ctx context.Context, key string) consensus.ProposalResult {
	return n.propose(ctx, consensus.CommandDelete, key, nil)
}

func (n *Node) propose(ctx context.Context, cmd consensus.Command, key string, value any) consensus.ProposalResult {
	n.mu.Lock()

	if !n.running {
		n.mu.Unlock()
		return consensus.ProposalResult{Err: consensus.ErrStopped}
	}
	if n.metrics != nil {
		n.metrics.RecordProposal()
	}

	b := &ballot{
		id:       consensus.NewProposalID(),
		command:  cmd,
		key:      key,
		value:    value,
		accepts:  make(map[consensus.NodeID]bool),
		rejects:  make(map[consensus.NodeID]bool),
		start:    time.Now(),
		resultCh: make(chan consensus.ProposalResult, 1),
	}
	n.ballots[b.id] = b
	b.timer = time.AfterFunc(n.cfg.ProposalTimeout, func() {
		n.failBallot(b, consensus.ErrProposalTimeout)
	})

	n.logger.Debug("ballot opened", "ballot_id", b.id, "command", cmd.String(), "key", key)

	// The proposer's own accept may already be a quorum (single-node cluster
	// or a manual quorum override of 1).
	if !n.maybeCommitBallot(b) {
		req := &consensus.BallotRequest{
			Envelope:   n.envelope(),
			ProposalID: b.id,
			Command:    cmd,
			Key:        key,
			Value:      value,
		}
		for peerID := range n.peers {
			n.sendTo(peerID, req)
		}
	}
	n.mu.Unlock()

	select {
	case res := <-b.resultCh:
		return res
	case <-ctx.Done():
		n.failBallot(b, ctx.Err())
		return <-b.resultCh
	}
}

// HandleMessage is the transport delivery entry point.
func (n *Node) HandleMessage(from consensus.NodeID, msg consensus.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return
	}

	switch m := msg.(type) {
	case *consensus.BallotRequest:
		n.handleBallotRequest(from, m)
	case *consensus.BallotResponse:
		n.handleBallotResponse(from, m)
	case *consensus.BallotCommit:
		n.handleBallotCommit(from, m)
	default:
		n.logger.Warn("dropping message of unexpected type",
			"type", fmt.Sprintf("%T", msg), "from", from)
	}
}

// handleBallotRequest votes on another node's ballot. Every ballot is
// accepted; the vote exists so the proposer can prove a majority of the
// cluster is reachable and willing before anything is applied.
func (n *Node) handleBallotRequest(from consensus.NodeID, m *consensus.BallotRequest) {
	n.sendTo(from, &consensus.BallotResponse{
		Envelope:   n.envelope(),
		ProposalID: m.ProposalID,
		Accept:     true,
	})
}

// handleBallotResponse tallies a vote on a locally proposed ballot.
// Duplicate votes from one node count once.
func (n *Node) handleBallotResponse(from consensus.NodeID, m *consensus.BallotResponse) {
	b, ok := n.ballots[m.ProposalID]
	if !ok {
		return
	}
	if m.Accept {
		b.accepts[from] = true
	} else {
		b.rejects[from] = true
	}
	n.maybeCommitBallot(b)
}

// maybeCommitBallot commits a ballot once the proposer plus accepting peers
// reach quorum: apply locally, resolve the caller, and broadcast the commit
// so every node applies. Callers must hold mu.
func (n *Node) maybeCommitBallot(b *ballot) bool {
	votesFor := 1 + len(b.accepts)
	if votesFor < n.quorumSize() {
		return false
	}

	delete(n.ballots, b.id)
	b.timer.Stop()
	n.applied[b.id] = true
	n.apply(b.command, b.key, b.value)

	latency := time.Since(b.start)
	if n.metrics != nil {
		n.metrics.RecordProposalCommitted(latency)
	}
	total := n.clusterSize()
	if votesFor > total {
		votesFor = total
	}
	n.logger.Info("ballot committed", "ballot_id", b.id, "votes_for", votesFor, "latency", latency)
	pubsub.Publish(n.events, consensus.EventProposalCommitted, consensus.ProposalCommit{Key: b.key})

	commit := &consensus.BallotCommit{
		Envelope:   n.envelope(),
		ProposalID: b.id,
		Command:    b.command,
		Key:        b.key,
		Value:      b.value,
	}
	for peerID := range n.peers {
		n.sendTo(peerID, commit)
	}

	b.deliver(consensus.ProposalResult{
		Accepted: true,
		Votes:    consensus.VoteTally{For: votesFor, Against: total - votesFor, Total: total},
	})
	return true
}

// handleBallotCommit applies a remotely committed ballot, once.
func (n *Node) handleBallotCommit(from consensus.NodeID, m *consensus.BallotCommit) {
	if n.applied[m.ProposalID] {
		return
	}
	n.applied[m.ProposalID] = true
	n.apply(m.Command, m.Key, m.Value)
	n.logger.Debug("remote ballot applied", "ballot_id", m.ProposalID, "from", from)
}

// apply folds a committed command into the local store and emits the
// StateChanged event. Callers must hold mu.
func (n *Node) apply(cmd consensus.Command, key string, value any) {
	previous, _ := n.store.Apply(consensus.LogEntry{
		Command:   cmd,
		Key:       key,
		Value:     value,
		Timestamp: time.Now(),
	})
	pubsub.Publish(n.events, consensus.EventStateChanged, consensus.StateChange{
		Key:      key,
		Value:    value,
		Previous: previous,
	})
}

// failBallot resolves a still-open ballot negatively.
func (n *Node) failBallot(b *ballot, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	cur, ok := n.ballots[b.id]
	if !ok || cur != b {
		return
	}
	delete(n.ballots, b.id)
	b.timer.Stop()

	if n.metrics != nil && err == consensus.ErrProposalTimeout {
		n.metrics.RecordProposalTimeout()
	}
	votesFor := 1 + len(b.accepts)
	total := n.clusterSize()
	n.logger.Warn("ballot failed", "ballot_id", b.id, "err", err)
	b.deliver(consensus.ProposalResult{
		Accepted: false,
		Votes:    consensus.VoteTally{For: votesFor, Against: total - votesFor, Total: total},
		Err:      err,
	})
}

func (n *Node) Get(key string) (any, bool) {
	return n.store.Get(key)
}

func (n *Node) Snapshot() map[string]any {
	return n.store.Snapshot()
}

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
	n.peers[node.ID] = &member
	n.logger.Info("node joined cluster", "peer_id", node.ID, "cluster_size", n.clusterSize())
	pubsub.Publish(n.events, consensus.EventNodeJoined, node)
}

func (n *Node) RemoveNode(id consensus.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.peers[id]; !ok {
		return
	}
	delete(n.peers, id)
	n.logger.Info("node left cluster", "peer_id", id, "cluster_size", n.clusterSize())
	pubsub.Publish(n.events, consensus.EventNodeLeft, id)
}

func (n *Node) Nodes() []consensus.Node {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]consensus.Node, 0, len(n.peers)+1)
	out = append(out, consensus.Node{ID: n.id, State: consensus.Follower})
	for _, p := range n.peers {
		out = append(out, *p)
	}
	return out
}

func (n *Node) clusterSize() int {
	return len(n.peers) + 1
}

func (n *Node) quorumSize() int {
	return n.cfg.QuorumFor(n.clusterSize())
}

func (n *Node) envelope() consensus.Envelope {
	return consensus.Envelope{Sender: n.id}
}

func (n *Node) sendTo(to consensus.NodeID, msg consensus.Message) {
	if n.send == nil {
		n.logger.Warn("dropping outbound message, no transport injected", "to", to)
		return
	}
	n.send(to, msg)
}

func (b *ballot) deliver(res consensus.ProposalResult) {
	select {
	case b.resultCh <- res:
	default:
	}
}
