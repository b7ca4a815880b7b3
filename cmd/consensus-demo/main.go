// Command consensus-demo boots a three-node Raft cluster over the in-process
// simnet transport, waits for a leader, drives a few proposals through it,
// and prints each node's committed state.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/holoscript/consensus/internal/consensus"
	"github.com/holoscript/consensus/internal/consensus/metrics"
	"github.com/holoscript/consensus/internal/consensus/provider"
	"github.com/holoscript/consensus/internal/consensus/simnet"
)

const clusterSize = 3

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "consensus-demo",
		Level: hclog.Info,
		Color: hclog.AutoColor,
	})

	cfg := consensus.DefaultConfig()
	if len(os.Args) > 1 {
		var err error
		cfg, err = consensus.LoadConfigFile(os.Args[1])
		if err != nil {
			logger.Error("failed to load config", "path", os.Args[1], "err", err)
			os.Exit(1)
		}
	}
	collector := metrics.New()

	cluster, ids, err := buildCluster(cfg, logger, collector)
	if err != nil {
		logger.Error("failed to build cluster", "err", err)
		os.Exit(1)
	}
	if err := cluster.Start(); err != nil {
		logger.Error("failed to start cluster", "err", err)
		os.Exit(1)
	}

	// Stop cleanly on Ctrl-C too, not just at the end of the script.
	go listenForShutdown(cluster, logger)

	leaderID, err := cluster.WaitForLeader(5 * time.Second)
	if err != nil {
		logger.Error("no leader", "err", err)
		cluster.Stop()
		os.Exit(1)
	}
	logger.Info("leader elected", "leader_id", leaderID)

	leader := cluster.Node(leaderID)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		key := fmt.Sprintf("key-%d", i)
		res := leader.Propose(ctx, key, fmt.Sprintf("value-%d", i))
		if res.Err != nil {
			logger.Error("proposal failed", "key", key, "err", res.Err)
			continue
		}
		logger.Info("proposal committed", "key", key,
			"votes_for", res.Votes.For, "votes_total", res.Votes.Total)
	}

	// A follower refuses proposals and names the leader instead.
	for _, id := range ids {
		if id == leaderID {
			continue
		}
		res := cluster.Node(id).Propose(ctx, "rejected", "value")
		logger.Info("follower rejected proposal", "node_id", id, "err", res.Err)
		break
	}

	if res := leader.ProposeDelete(ctx, "key-2"); res.Err != nil {
		logger.Error("delete failed", "err", res.Err)
	}

	// Heartbeats carry the final commit index to the followers.
	time.Sleep(2 * cfg.HeartbeatInterval)

	for _, id := range ids {
		logger.Info("node state", "node_id", id, "snapshot", cluster.Node(id).Snapshot())
	}

	report := collector.GetReport()
	logger.Info("cluster metrics",
		"proposals", report.Proposals,
		"committed", report.ProposalsCommitted,
		"timeouts", report.ProposalTimeouts,
		"elections", report.ElectionCount,
		"heartbeats", report.HeartbeatCount,
		"commit_p50_ms", report.CommitLatency.P50)

	cluster.Stop()
}

// buildCluster creates the nodes and wires them into one simnet transport.
// Every node knows the full membership up front.
func buildCluster(cfg consensus.Config, logger hclog.Logger, collector *metrics.Metrics) (*simnet.Cluster, []consensus.NodeID, error) {
	ids := make([]consensus.NodeID, clusterSize)
	members := make([]consensus.Node, clusterSize)
	for i := range ids {
		ids[i] = consensus.NodeID(fmt.Sprintf("node-%d", i+1))
		members[i] = consensus.Node{ID: ids[i]}
	}

	cluster := simnet.New(logger)
	for _, id := range ids {
		node, err := provider.New(id, cfg, members, logger, collector)
		if err != nil {
			return nil, nil, err
		}
		cluster.Add(id, node)
	}
	return cluster, ids, nil
}

func listenForShutdown(cluster *simnet.Cluster, logger hclog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cluster.Stop()
	os.Exit(0)
}
