package raft

import (
	"time"

	"github.com/holoscript/consensus/internal/consensus"
	"github.com/holoscript/consensus/internal/pubsub"
)

// startElection begins a new candidacy as per Section 5.2 from the
// [Raft paper](https://raft.github.io/raft.pdf): increment the term, move to
// Candidate, vote for self, and solicit votes from every peer. Callers must
// hold mu.
func (n *Node) startElection() {
	n.currentTerm++
	n.state = consensus.Candidate
	self := n.id
	n.votedFor = &self
	n.leaderID = nil
	n.votesGranted = make(map[consensus.NodeID]bool)
	n.electionStart = time.Now()

	if n.metrics != nil {
		n.metrics.RecordElection()
	}
	n.logger.Info("election started", "term", n.currentTerm)

	// A single-node cluster wins on its own vote.
	if n.voteCount() >= n.quorumSize() {
		n.becomeLeader()
		return
	}

	lastIndex, lastTerm := n.lastLogIndexAndTerm()
	req := &consensus.RequestVote{
		Envelope:     n.envelope(),
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	}
	for peerID := range n.peers {
		if n.metrics != nil {
			n.metrics.RecordRequestVote()
		}
		n.sendTo(peerID, req)
	}
}

// voteCount tallies the self-vote plus every peer that granted one this term.
func (n *Node) voteCount() int {
	return 1 + len(n.votesGranted)
}

// becomeLeader transitions Candidate -> Leader: replication bookkeeping is
// reset for every peer, the election timer stops (a leader has no
// self-timeout), and heartbeats start. Callers must hold mu.
func (n *Node) becomeLeader() {
	n.state = consensus.Leader
	self := n.id
	n.leaderID = &self
	for peerID := range n.peers {
		n.nextIndex[peerID] = len(n.log)
		n.matchIndex[peerID] = -1
	}
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	n.startHeartbeats()

	n.logger.Info("won election", "term", n.currentTerm,
		"votes", n.voteCount(), "duration", time.Since(n.electionStart))
	pubsub.Publish(n.events, consensus.EventLeaderElected, n.id)

	// Assert leadership now instead of waiting out a heartbeat interval.
	n.broadcastAppendEntries()
}

// stepDown reverts to follower after observing a higher term (Section 5.1).
// The stale vote is cleared: votedFor is only valid for the term it was cast
// in. Callers must hold mu.
func (n *Node) stepDown(term uint64) {
	wasLeader := n.state == consensus.Leader
	if wasLeader {
		n.stopHeartbeats()
		n.resetElectionTimer()
	}
	if n.state != consensus.Follower {
		n.logger.Info("stepping down to follower", "old_term", n.currentTerm, "new_term", term)
	}
	n.state = consensus.Follower
	n.currentTerm = term
	n.votedFor = nil
	n.leaderID = nil
	n.votesGranted = nil
}

// handleRequestVote answers a candidate's vote solicitation. The vote is
// granted iff the candidate's term is current, this node has not voted for
// someone else this term, and the candidate's log is at least as up to date
// as ours (Section 5.4.1) - the rule that keeps a stale log from winning.
func (n *Node) handleRequestVote(from consensus.NodeID, m *consensus.RequestVote) {
	resp := &consensus.RequestVoteResponse{Envelope: n.envelope()}

	if m.Term < n.currentTerm {
		n.sendTo(from, resp)
		return
	}

	lastIndex, lastTerm := n.lastLogIndexAndTerm()
	upToDate := m.LastLogTerm > lastTerm ||
		(m.LastLogTerm == lastTerm && m.LastLogIndex >= lastIndex)

	if upToDate && (n.votedFor == nil || *n.votedFor == from) {
		candidate := from
		n.votedFor = &candidate
		n.currentTerm = m.Term
		n.resetElectionTimer()
		resp.Term = n.currentTerm
		resp.VoteGranted = true
		n.logger.Debug("vote granted", "candidate", from, "term", m.Term)
	} else {
		n.logger.Debug("vote rejected", "candidate", from, "term", m.Term,
			"up_to_date", upToDate)
	}
	n.sendTo(from, resp)
}

// handleRequestVoteResponse tallies votes while campaigning. Responses from
// other terms, and any response once the election is over, are ignored.
func (n *Node) handleRequestVoteResponse(from consensus.NodeID, m *consensus.RequestVoteResponse) {
	if n.state != consensus.Candidate || m.Term != n.currentTerm {
		return
	}
	if !m.VoteGranted {
		return
	}
	if n.votesGranted == nil {
		n.votesGranted = make(map[consensus.NodeID]bool)
	}
	if n.votesGranted[from] {
		return
	}
	n.votesGranted[from] = true
	n.logger.Debug("vote received", "from", from, "votes", n.voteCount(), "quorum", n.quorumSize())

	if n.voteCount() >= n.quorumSize() {
		n.becomeLeader()
	}
}
