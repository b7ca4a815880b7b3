package simnet_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holoscript/consensus/internal/consensus"
	"github.com/holoscript/consensus/internal/consensus/majority"
	"github.com/holoscript/consensus/internal/consensus/raft"
	"github.com/holoscript/consensus/internal/consensus/simnet"
	"github.com/holoscript/consensus/internal/pubsub"
)

// newRaftCluster builds a three-node cluster where node-1 carries a much
// shorter election timeout than the others, so it predictably wins the first
// election and the tests stay deterministic.
func newRaftCluster(t *testing.T) (*simnet.Cluster, []consensus.NodeID) {
	t.Helper()

	ids := []consensus.NodeID{"node-1", "node-2", "node-3"}
	members := make([]consensus.Node, len(ids))
	for i, id := range ids {
		members[i] = consensus.Node{ID: id}
	}

	cluster := simnet.New(nil)
	for i, id := range ids {
		cfg := consensus.Config{
			ProposalTimeout:    2 * time.Second,
			HeartbeatInterval:  50 * time.Millisecond,
			ElectionTimeoutMin: 500 * time.Millisecond,
			ElectionTimeoutMax: 1000 * time.Millisecond,
		}
		if i == 0 {
			cfg.ElectionTimeoutMin = 15 * time.Millisecond
			cfg.ElectionTimeoutMax = 30 * time.Millisecond
		}
		cluster.Add(id, raft.NewNode(id, cfg, members, nil, nil))
	}

	require.NoError(t, cluster.Start())
	t.Cleanup(cluster.Stop)
	return cluster, ids
}

func TestCluster_ElectsExactlyOneLeader(t *testing.T) {
	cluster, _ := newRaftCluster(t)

	leaderID, err := cluster.WaitForLeader(2 * time.Second)

	require.NoError(t, err)
	assert.Equal(t, consensus.NodeID("node-1"), leaderID)
	assert.Len(t, cluster.Leaders(), 1)

	// Heartbeats keep the followers from starting rival elections.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, []consensus.NodeID{"node-1"}, cluster.Leaders())
}

func TestCluster_ProposalReplicatesToAllNodes(t *testing.T) {
	cluster, ids := newRaftCluster(t)
	leaderID, err := cluster.WaitForLeader(2 * time.Second)
	require.NoError(t, err)

	leader := cluster.Node(leaderID)
	res := leader.Propose(context.Background(), "color", "blue")

	require.NoError(t, res.Err)
	assert.True(t, res.Accepted)
	assert.GreaterOrEqual(t, res.Votes.For, 2)
	assert.Equal(t, 3, res.Votes.Total)

	// Followers learn the commit index from the next heartbeat.
	for _, id := range ids {
		node := cluster.Node(id)
		assert.Eventually(t, func() bool {
			v, ok := node.Get("color")
			return ok && v == "blue"
		}, 2*time.Second, 10*time.Millisecond, "node %s never applied the entry", id)
	}
}

func TestCluster_CommitEmitsExactlyOneStateChange(t *testing.T) {
	cluster, _ := newRaftCluster(t)
	leaderID, err := cluster.WaitForLeader(2 * time.Second)
	require.NoError(t, err)

	leader := cluster.Node(leaderID).(*raft.Node)
	changes := make(chan pubsub.Event[consensus.StateChange], 8)
	pubsub.Subscribe(leader.Events(), consensus.EventStateChanged, changes, pubsub.SubscriptionOptions{})

	res := leader.Propose(context.Background(), "once", 1)
	require.True(t, res.Accepted)

	select {
	case ev := <-changes:
		assert.Equal(t, "once", ev.Payload.Key)
	case <-time.After(time.Second):
		t.Fatal("no StateChanged event")
	}

	select {
	case ev := <-changes:
		t.Fatalf("unexpected second StateChanged event for key %q", ev.Payload.Key)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCluster_FollowerRejectsProposal(t *testing.T) {
	cluster, ids := newRaftCluster(t)
	leaderID, err := cluster.WaitForLeader(2 * time.Second)
	require.NoError(t, err)

	for _, id := range ids {
		if id == leaderID {
			continue
		}
		res := cluster.Node(id).Propose(context.Background(), "a", 1)
		assert.False(t, res.Accepted)
		assert.ErrorIs(t, res.Err, consensus.ErrNotLeader)
	}
}

func TestCluster_CommitsWithOneFollowerIsolated(t *testing.T) {
	cluster, _ := newRaftCluster(t)
	leaderID, err := cluster.WaitForLeader(2 * time.Second)
	require.NoError(t, err)

	cluster.Isolate("node-3", true)

	res := cluster.Node(leaderID).Propose(context.Background(), "a", 1)

	require.NoError(t, res.Err)
	assert.True(t, res.Accepted)

	// The isolated node never saw the entry.
	_, ok := cluster.Node("node-3").Get("a")
	assert.False(t, ok)
}

func TestCluster_SequentialProposalsStayOrdered(t *testing.T) {
	cluster, _ := newRaftCluster(t)
	leaderID, err := cluster.WaitForLeader(2 * time.Second)
	require.NoError(t, err)
	leader := cluster.Node(leaderID).(*raft.Node)

	for i := 0; i < 5; i++ {
		res := leader.Propose(context.Background(), fmt.Sprintf("key-%d", i), i)
		require.True(t, res.Accepted, "proposal %d", i)
	}

	log := leader.LogEntries()
	require.Len(t, log, 5)
	for i, entry := range log {
		assert.Equal(t, i, entry.Index)
		assert.Equal(t, fmt.Sprintf("key-%d", i), entry.Key)
	}

	follower := cluster.Node("node-2").(*raft.Node)
	assert.Eventually(t, func() bool {
		return len(follower.LogEntries()) == 5 && follower.CommitIndex() == 4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCluster_SimpleMajorityCommits(t *testing.T) {
	ids := []consensus.NodeID{"m1", "m2", "m3"}
	members := make([]consensus.Node, len(ids))
	for i, id := range ids {
		members[i] = consensus.Node{ID: id}
	}

	cfg := consensus.DefaultConfig()
	cfg.Mechanism = consensus.MechanismSimpleMajority
	cfg.ProposalTimeout = 2 * time.Second

	cluster := simnet.New(nil)
	for _, id := range ids {
		cluster.Add(id, majority.NewNode(id, cfg, members, nil, nil))
	}
	require.NoError(t, cluster.Start())
	t.Cleanup(cluster.Stop)

	// Any node may propose; there is no leader to find first.
	res := cluster.Node("m2").Propose(context.Background(), "a", 1)

	require.NoError(t, res.Err)
	assert.True(t, res.Accepted)
	assert.GreaterOrEqual(t, res.Votes.For, 2)

	for _, id := range ids {
		node := cluster.Node(id)
		assert.Eventually(t, func() bool {
			v, ok := node.Get("a")
			return ok && v == 1
		}, 2*time.Second, 10*time.Millisecond, "node %s never applied the ballot", id)
	}
}

func TestCluster_WaitForLeader_TimesOutWithNoNodes(t *testing.T) {
	cluster := simnet.New(nil)
	require.NoError(t, cluster.Start())
	t.Cleanup(cluster.Stop)

	_, err := cluster.WaitForLeader(50 * time.Millisecond)

	assert.Error(t, err)
}
