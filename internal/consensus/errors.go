package consensus

import "errors"

// Sentinel errors carried inside ProposalResult.Err. They are results, not
// panics: the protocol core never throws on a rejected proposal.
var (
	// ErrNotLeader is returned when Propose is called on a node that is not
	// the leader. When the local node knows the leader, the wrapped error
	// names it so the client can redirect.
	ErrNotLeader = errors.New("not the leader")

	// ErrNoLeader is returned when Propose is called and no leader is known,
	// e.g. before any election has completed.
	ErrNoLeader = errors.New("no leader elected")

	// ErrProposalTimeout is returned when an entry never reached a quorum
	// commit within the configured proposal timeout.
	ErrProposalTimeout = errors.New("proposal timed out")

	// ErrStopped is returned for proposals still pending when the node is
	// stopped, and for proposals issued against a stopped node.
	ErrStopped = errors.New("node is stopped")
)
