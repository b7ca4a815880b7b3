// Package provider constructs a consensus.Protocol from a Config, so hosts
// pick a mechanism by name instead of importing protocol packages directly.
package provider

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/holoscript/consensus/internal/consensus"
	"github.com/holoscript/consensus/internal/consensus/majority"
	"github.com/holoscript/consensus/internal/consensus/metrics"
	"github.com/holoscript/consensus/internal/consensus/raft"
)

// New builds the protocol instance named by cfg.Mechanism. The returned node
// is not started; inject a transport with SetSendFunc and call Start.
func New(id consensus.NodeID, cfg consensus.Config, peers []consensus.Node, logger hclog.Logger, collector metrics.Collector) (consensus.Protocol, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch cfg.Mechanism {
	case consensus.MechanismRaft:
		return raft.NewNode(id, cfg, peers, logger, collector), nil
	case consensus.MechanismSimpleMajority:
		return majority.NewNode(id, cfg, peers, logger, collector), nil
	case consensus.MechanismPBFT:
		return nil, fmt.Errorf("consensus mechanism %q is not implemented", cfg.Mechanism)
	default:
		return nil, fmt.Errorf("unknown consensus mechanism %q", cfg.Mechanism)
	}
}
