// Package simnet is an in-process cluster harness. It wires protocol nodes
// together with a queue-and-pump transport so multi-node behavior (elections,
// replication, partitions) can be exercised in a single process without
// sockets. Delivery is asynchronous, matching the injected-send contract:
// a node's send never calls back into another node on the sending goroutine.
package simnet

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/holoscript/consensus/internal/consensus"
)

type delivery struct {
	from consensus.NodeID
	to   consensus.NodeID
	msg  consensus.Message
}

// Cluster owns a set of protocol nodes and the simulated network between
// them. Add every node before Start.
type Cluster struct {
	mu       sync.Mutex
	nodes    map[consensus.NodeID]consensus.Protocol
	isolated map[consensus.NodeID]bool
	dropRate float64

	queue   chan delivery
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	stopped bool

	logger hclog.Logger
}

// New creates an empty cluster. logger may be nil.
func New(logger hclog.Logger) *Cluster {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Cluster{
		nodes:    make(map[consensus.NodeID]consensus.Protocol),
		isolated: make(map[consensus.NodeID]bool),
		queue:    make(chan delivery, 1024),
		stopCh:   make(chan struct{}),
		logger:   logger.Named("simnet"),
	}
}

// Add registers a node under id and injects the cluster's transport into it.
func (c *Cluster) Add(id consensus.NodeID, node consensus.Protocol) {
	c.mu.Lock()
	c.nodes[id] = node
	c.mu.Unlock()

	node.SetSendFunc(func(to consensus.NodeID, msg consensus.Message) {
		c.enqueue(id, to, msg)
	})
}

// Node returns the protocol instance registered under id.
func (c *Cluster) Node(id consensus.NodeID) consensus.Protocol {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[id]
}

// Start launches the delivery pump and starts every node. Nodes added after
// Start still get traffic but are not started by the cluster.
func (c *Cluster) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("cluster already started")
	}
	c.started = true
	nodes := make([]consensus.Protocol, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go c.pump()

	for _, n := range nodes {
		if err := n.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every node, then shuts the delivery pump down. Idempotent.
func (c *Cluster) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	nodes := make([]consensus.Protocol, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	c.mu.Unlock()

	for _, n := range nodes {
		n.Stop()
	}
	close(c.stopCh)
	c.wg.Wait()
}

// Isolate cuts a node off from the network in both directions, simulating a
// partition. Pass false to heal it.
func (c *Cluster) Isolate(id consensus.NodeID, cut bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cut {
		c.isolated[id] = true
	} else {
		delete(c.isolated, id)
	}
}

// SetDropRate makes the network lose the given fraction of messages at
// random, 0 (lossless) to 1 (blackhole).
func (c *Cluster) SetDropRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropRate = rate
}

// Leaders returns the ids of every node currently claiming leadership. A
// healthy settled cluster reports exactly one.
func (c *Cluster) Leaders() []consensus.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []consensus.NodeID
	for id, n := range c.nodes {
		if n.IsLeader() {
			out = append(out, id)
		}
	}
	return out
}

// WaitForLeader polls until exactly one node claims leadership or the
// timeout elapses.
func (c *Cluster) WaitForLeader(timeout time.Duration) (consensus.NodeID, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if leaders := c.Leaders(); len(leaders) == 1 {
			return leaders[0], nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return "", fmt.Errorf("no single leader emerged within %v", timeout)
}

func (c *Cluster) enqueue(from, to consensus.NodeID, msg consensus.Message) {
	c.mu.Lock()
	drop := c.isolated[from] || c.isolated[to] ||
		(c.dropRate > 0 && rand.Float64() < c.dropRate)
	c.mu.Unlock()
	if drop {
		return
	}

	select {
	case c.queue <- delivery{from: from, to: to, msg: msg}:
	default:
		// A full queue loses the message, like a congested network would.
		c.logger.Warn("delivery queue full, dropping message", "from", from, "to", to)
	}
}

// pump is the single delivery goroutine: it hands each queued message to the
// destination's HandleMessage, in the order they were sent.
func (c *Cluster) pump() {
	defer c.wg.Done()

	for {
		select {
		case d := <-c.queue:
			c.mu.Lock()
			dst := c.nodes[d.to]
			c.mu.Unlock()
			if dst != nil {
				dst.HandleMessage(d.from, d.msg)
			}
		case <-c.stopCh:
			return
		}
	}
}
