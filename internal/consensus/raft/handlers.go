package raft

import (
	"fmt"
	"time"

	"github.com/holoscript/consensus/internal/consensus"
)

// HandleMessage is the single entry point for all inbound RPC-shaped traffic.
// Malformed payloads are the transport boundary's problem; unknown concrete
// types are dropped here.
func (n *Node) HandleMessage(from consensus.NodeID, msg consensus.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return
	}

	// Term rule from Section 5.1: a message carrying a newer term makes the
	// receiver adopt it and revert to follower before any dispatch, whatever
	// the message type.
	if msg.MessageTerm() > n.currentTerm {
		n.stepDown(msg.MessageTerm())
	}

	switch m := msg.(type) {
	case *consensus.AppendEntries:
		n.handleAppendEntries(from, m)
	case *consensus.AppendEntriesResponse:
		n.handleAppendEntriesResponse(from, m)
	case *consensus.RequestVote:
		n.handleRequestVote(from, m)
	case *consensus.RequestVoteResponse:
		n.handleRequestVoteResponse(from, m)
	default:
		n.logger.Warn("dropping message of unexpected type",
			"type", fmt.Sprintf("%T", msg), "from", from)
	}
}

// handleAppendEntries is the follower/candidate replication path: verify the
// sender is a live leader, check log consistency at PrevLogIndex, splice in
// genuinely new entries, and advance the commit index to what the leader
// reports safe.
func (n *Node) handleAppendEntries(from consensus.NodeID, m *consensus.AppendEntries) {
	lastIndex, _ := n.lastLogIndexAndTerm()
	resp := &consensus.AppendEntriesResponse{
		Envelope: n.envelope(),
		Success:  false,
		// On failure this carries our last index as a hint for the leader's retry.
		MatchIndex: lastIndex,
	}

	// Stale leader (Section 5.1).
	if m.Term < n.currentTerm {
		n.sendTo(from, resp)
		return
	}

	// Two leaders cannot share a term (Election Safety), so a leader seeing
	// an equal-term AppendEntries rejects it rather than yielding.
	if n.state == consensus.Leader {
		n.sendTo(from, resp)
		return
	}
	// A candidate that hears from the winner of its term reverts (Section 5.2).
	if n.state == consensus.Candidate {
		n.state = consensus.Follower
	}

	// The sender proved leadership for this term.
	leader := from
	n.leaderID = &leader
	n.resetElectionTimer()
	if peer, ok := n.peers[from]; ok {
		peer.State = consensus.Leader
		peer.Term = m.Term
		peer.LastHeartbeat = time.Now()
	}

	// Log Matching consistency check (Section 5.3): our log must hold the
	// leader's PrevLogIndex entry with the same term. PrevLogIndex -1 means
	// the entries start at the head of the log and always match.
	if m.PrevLogIndex >= 0 {
		if m.PrevLogIndex >= len(n.log) || n.log[m.PrevLogIndex].Term != m.PrevLogTerm {
			n.sendTo(from, resp)
			return
		}
	}

	// Splice: skip entries we already hold; on a term conflict at an
	// overlapping index, truncate from there and append the remainder.
	// Followers never originate entries, they only copy the leader's.
	insert := m.PrevLogIndex + 1
	for i := range m.Entries {
		idx := insert + i
		if idx < len(n.log) {
			if n.log[idx].Term == m.Entries[i].Term {
				continue
			}
			n.log = n.log[:idx]
		}
		n.log = append(n.log, m.Entries[i:]...)
		break
	}

	if m.LeaderCommit > n.commitIndex {
		n.commitIndex = min(m.LeaderCommit, len(n.log)-1)
		n.applyCommitted()
	}

	resp.Success = true
	resp.MatchIndex = len(n.log) - 1
	n.sendTo(from, resp)
}

// handleAppendEntriesResponse is the leader path: bookkeeping advances on
// success; on failure nextIndex walks back one entry and the send is retried
// immediately. The one-at-a-time walk is a known inefficiency for large logs,
// kept deliberately.
func (n *Node) handleAppendEntriesResponse(from consensus.NodeID, m *consensus.AppendEntriesResponse) {
	// Only meaningful while still leading the term the entries were sent in.
	if n.state != consensus.Leader || m.Term != n.currentTerm {
		return
	}
	if _, ok := n.nextIndex[from]; !ok {
		// Peer was removed after the send.
		return
	}

	if m.Success {
		if m.MatchIndex > n.matchIndex[from] {
			n.matchIndex[from] = m.MatchIndex
		}
		n.nextIndex[from] = n.matchIndex[from] + 1
		if peer, ok := n.peers[from]; ok {
			peer.Term = m.Term
			peer.LastHeartbeat = time.Now()
		}
		n.advanceCommitIndex()
		return
	}

	if n.nextIndex[from] > 0 {
		n.nextIndex[from]--
	}
	n.sendAppendEntriesTo(from)
}
