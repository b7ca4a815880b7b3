package raft

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holoscript/consensus/internal/consensus"
	"github.com/holoscript/consensus/internal/pubsub"
)

// pendingProposal tracks one client request awaiting commit. Exactly one
// resolution happens per proposal: commit-application, timeout, context
// cancellation, or node stop - whichever comes first wins, and the buffered
// result channel absorbs the race.
type pendingProposal struct {
	id       string
	index    int
	term     uint64
	start    time.Time
	resultCh chan consensus.ProposalResult
	timer    *time.Timer
}

func (p *pendingProposal) deliver(res consensus.ProposalResult) {
	select {
	case p.resultCh <- res:
	default:
	}
}

// Propose submits a set command. Only the leader accepts proposals; on any
// other node the result carries ErrNotLeader naming the known leader, or
// ErrNoLeader when none is known. On the leader it appends the entry, fans
// out replication immediately, and blocks until the entry commits and is
// applied, the proposal times out, or ctx is done.
func (n *Node) Propose(ctx context.Context, key string, value any) consensus.ProposalResult {
	return n.propose(ctx, consensus.CommandSet, key, value)
}

// ProposeDelete submits a delete command with the same lifecycle as Propose.
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

	if n.state != consensus.Leader {
		var err error
		if n.leaderID != nil {
			err = fmt.Errorf("%w: current leader is %s", consensus.ErrNotLeader, *n.leaderID)
		} else {
			err = consensus.ErrNoLeader
		}
		n.mu.Unlock()
		return consensus.ProposalResult{Accepted: false, Err: err}
	}

	entry := consensus.LogEntry{
		Term:      n.currentTerm,
		Index:     len(n.log),
		Command:   cmd,
		Key:       key,
		Value:     value,
		Timestamp: time.Now(),
	}
	n.log = append(n.log, entry)

	p := &pendingProposal{
		id:       consensus.NewProposalID(),
		index:    entry.Index,
		term:     entry.Term,
		start:    time.Now(),
		resultCh: make(chan consensus.ProposalResult, 1),
	}
	n.pending[p.index] = p
	p.timer = time.AfterFunc(n.cfg.ProposalTimeout, func() {
		n.failProposal(p, consensus.ErrProposalTimeout)
	})

	n.logger.Debug("proposal appended", "proposal_id", p.id, "index", p.index,
		"term", p.term, "command", cmd.String(), "key", key)

	// A single-node cluster reaches quorum on the local append alone.
	n.advanceCommitIndex()
	n.broadcastAppendEntries()
	n.mu.Unlock()

	select {
	case res := <-p.resultCh:
		return res
	case <-ctx.Done():
		n.failProposal(p, ctx.Err())
		// Cancellation may have raced with a commit; whichever resolution won
		// is the one buffered.
		return <-p.resultCh
	}
}

// failProposal resolves a still-pending proposal negatively. A proposal
// already resolved (or superseded by a concurrent failure) is left alone.
func (n *Node) failProposal(p *pendingProposal, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	cur, ok := n.pending[p.index]
	if !ok || cur != p {
		return
	}
	delete(n.pending, p.index)
	p.timer.Stop()

	if n.metrics != nil && errors.Is(err, consensus.ErrProposalTimeout) {
		n.metrics.RecordProposalTimeout()
	}
	n.logger.Warn("proposal failed", "proposal_id", p.id, "index", p.index, "err", err)
	p.deliver(consensus.ProposalResult{Accepted: false, Votes: n.tallyFor(p.index), Err: err})
}

// resolveProposal resolves the pending proposal at a freshly applied index.
// If the applied entry's term differs from the proposal's, the original entry
// was overwritten by another leader and can no longer commit; the proposal is
// left to its timeout, the only cancellation path. Callers must hold mu.
func (n *Node) resolveProposal(index int, entry consensus.LogEntry) {
	p, ok := n.pending[index]
	if !ok {
		return
	}
	if p.term != entry.Term {
		return
	}
	delete(n.pending, index)
	p.timer.Stop()

	latency := time.Since(p.start)
	if n.metrics != nil {
		n.metrics.RecordProposalCommitted(latency)
	}
	n.logger.Info("proposal committed", "proposal_id", p.id, "index", index,
		"term", entry.Term, "latency", latency)
	pubsub.Publish(n.events, consensus.EventProposalCommitted, consensus.ProposalCommit{
		Index: index,
		Term:  entry.Term,
		Key:   entry.Key,
	})

	p.deliver(consensus.ProposalResult{Accepted: true, Votes: n.tallyFor(index)})
}

// tallyFor reports how many cluster members are known to hold the entry at
// index: self plus every peer whose matchIndex reaches it.
func (n *Node) tallyFor(index int) consensus.VoteTally {
	votesFor := 1
	for _, match := range n.matchIndex {
		if match >= index {
			votesFor++
		}
	}
	total := n.clusterSize()
	if votesFor > total {
		votesFor = total
	}
	return consensus.VoteTally{For: votesFor, Against: total - votesFor, Total: total}
}
