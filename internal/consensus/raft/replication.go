package raft

import (
	"time"

	"github.com/holoscript/consensus/internal/consensus"
	"github.com/holoscript/consensus/internal/pubsub"
)

// startHeartbeats launches the heartbeat goroutine. While leader, a periodic
// AppendEntries (possibly with zero entries) both asserts leadership and
// opportunistically replicates whatever each follower is missing. Callers
// must hold mu.
func (n *Node) startHeartbeats() {
	if n.hbStopCh != nil {
		return
	}
	stop := make(chan struct{})
	n.hbStopCh = stop
	n.wg.Add(1)
	go n.runHeartbeats(stop)
}

// stopHeartbeats cancels the heartbeat goroutine. Callers must hold mu.
func (n *Node) stopHeartbeats() {
	if n.hbStopCh != nil {
		close(n.hbStopCh)
		n.hbStopCh = nil
	}
}

func (n *Node) runHeartbeats(stop <-chan struct{}) {
	defer n.wg.Done()

	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.mu.Lock()
			if n.running && n.state == consensus.Leader {
				n.broadcastAppendEntries()
			}
			n.mu.Unlock()
		case <-stop:
			return
		}
	}
}

// broadcastAppendEntries fans replication out to every peer. Callers must hold mu.
func (n *Node) broadcastAppendEntries() {
	for peerID := range n.peers {
		n.sendAppendEntriesTo(peerID)
	}
}

// sendAppendEntriesTo sends one peer everything from its nextIndex onward,
// with the preceding (index, term) pair for the follower's consistency check.
// Callers must hold mu.
func (n *Node) sendAppendEntriesTo(peerID consensus.NodeID) {
	next := n.nextIndex[peerID]
	if next < 0 {
		next = 0
	}

	prevIndex := next - 1
	var prevTerm uint64
	if prevIndex >= 0 && prevIndex < len(n.log) {
		prevTerm = n.log[prevIndex].Term
	}

	var entries []consensus.LogEntry
	if next < len(n.log) {
		entries = make([]consensus.LogEntry, len(n.log)-next)
		copy(entries, n.log[next:])
	}

	if n.metrics != nil {
		if len(entries) == 0 {
			n.metrics.RecordHeartbeat()
		} else {
			n.metrics.RecordAppendEntries()
		}
	}

	n.sendTo(peerID, &consensus.AppendEntries{
		Envelope:     n.envelope(),
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: n.commitIndex,
	})
}

// advanceCommitIndex scans from the top of the log down to commitIndex+1 for
// the highest entry of the leader's own term replicated on a quorum. Entries
// from previous terms are never committed by counting replicas (the Figure 8
// rule); they commit implicitly once a current-term entry above them does.
// Callers must hold mu.
func (n *Node) advanceCommitIndex() {
	for idx := len(n.log) - 1; idx > n.commitIndex; idx-- {
		if n.log[idx].Term != n.currentTerm {
			continue
		}
		replicas := 1 // self
		for _, match := range n.matchIndex {
			if match >= idx {
				replicas++
			}
		}
		if replicas >= n.quorumSize() {
			n.commitIndex = idx
			n.logger.Debug("commit index advanced", "commit_index", idx, "replicas", replicas)
			n.applyCommitted()
			return
		}
	}
}

// applyCommitted folds newly committed entries into the state machine in
// strict index order, emits a StateChanged event per entry, and resolves any
// pending proposal registered at the entry's index. Callers must hold mu.
func (n *Node) applyCommitted() {
	for n.lastApplied < n.commitIndex {
		n.lastApplied++
		entry := n.log[n.lastApplied]
		previous, _ := n.machine.Apply(entry)

		n.logger.Debug("applied entry", "index", entry.Index, "term", entry.Term,
			"command", entry.Command.String(), "key", entry.Key)
		pubsub.Publish(n.events, consensus.EventStateChanged, consensus.StateChange{
			Key:      entry.Key,
			Value:    entry.Value,
			Previous: previous,
		})

		n.resolveProposal(n.lastApplied, entry)
	}
}
