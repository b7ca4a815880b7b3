package consensus

// Envelope carries the fields every wire message shares: the sender and the
// term the sender was in when it sent the message. Embed it in a concrete
// message struct to satisfy Message.
type Envelope struct {
	Sender NodeID
	Term   uint64
}

func (e Envelope) SenderID() NodeID { return e.Sender }

func (e Envelope) MessageTerm() uint64 { return e.Term }

// Message is implemented by the closed set of RPC-shaped messages exchanged
// between nodes. Messages are plain tagged data structures; the protocol core
// never serializes them. Each protocol dispatches with an exhaustive type
// switch and rejects concrete types it does not understand.
type Message interface {
	SenderID() NodeID
	MessageTerm() uint64
}

// AppendEntries is sent by a leader to replicate log entries and, with zero
// entries, to assert leadership (heartbeat). Section 5.3 of the
// [Raft paper](https://raft.github.io/raft.pdf).
type AppendEntries struct {
	Envelope
	// PrevLogIndex/PrevLogTerm identify the entry immediately preceding the
	// new ones; the follower rejects the entries if its log disagrees there.
	// PrevLogIndex is -1 when the entries start at the head of the log.
	PrevLogIndex int
	PrevLogTerm  uint64
	Entries      []LogEntry
	// LeaderCommit is the leader's commitIndex, so followers learn what is
	// safe to apply.
	LeaderCommit int
}

// AppendEntriesResponse answers an AppendEntries message. On success,
// MatchIndex is the highest index the follower's log now shares with the
// leader. On failure it is the follower's last log index, a hint the leader
// may use to retry at a different offset.
type AppendEntriesResponse struct {
	Envelope
	Success    bool
	MatchIndex int
}

// RequestVote is sent by a candidate soliciting votes. LastLogIndex and
// LastLogTerm describe the candidate's log so voters can refuse candidates
// with stale logs (Section 5.4.1).
type RequestVote struct {
	Envelope
	LastLogIndex int
	LastLogTerm  uint64
}

// RequestVoteResponse answers a RequestVote message.
type RequestVoteResponse struct {
	Envelope
	VoteGranted bool
}

// BallotRequest opens a ballot in the simple-majority protocol. There is no
// log and no leader; the Term field of the envelope is always zero.
type BallotRequest struct {
	Envelope
	ProposalID string
	Command    Command
	Key        string
	Value      any
}

// BallotResponse is a single node's vote on a ballot.
type BallotResponse struct {
	Envelope
	ProposalID string
	Accept     bool
}

// BallotCommit tells all nodes a ballot reached quorum; receivers apply the
// command to their local state.
type BallotCommit struct {
	Envelope
	ProposalID string
	Command    Command
	Key        string
	Value      any
}
