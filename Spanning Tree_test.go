/*
File Name:  Spanning Tree_test.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	"sort"
	"testing"
	"time"

	"github.com/PeernetOfficial/overlay/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kruskal computes the minimum spanning tree with the same edge order as the nodes use.
func kruskal(edges []TreeEdge) (tree []TreeEdge) {
	sorted := append([]TreeEdge{}, edges...)
	sort.Slice(sorted, func(i, j int) bool {
		return protocol.NewEdgeWeight(sorted[i].Cost, sorted[i].A, sorted[i].B).Less(protocol.NewEdgeWeight(sorted[j].Cost, sorted[j].A, sorted[j].B))
	})

	parent := make(map[int64]int64)
	var find func(id int64) int64
	find = func(id int64) int64 {
		if p, ok := parent[id]; ok && p != id {
			root := find(p)
			parent[id] = root
			return root
		}
		return id
	}

	for _, edge := range sorted {
		a, b := find(edge.A), find(edge.B)
		if a == b {
			continue
		}
		parent[a] = b
		tree = append(tree, edge)
	}
	return tree
}

func checkSpanningTree(t *testing.T, simulation *Simulation) {
	nodes := simulation.Nodes()
	require.True(t, simulation.RunUntilConverged(5*time.Minute), "spanning tree did not converge")

	leader := nodes[0].Tree.FragmentID
	leaders := 0
	for _, node := range nodes {
		assert.Equal(t, leader, node.Tree.FragmentID)
		assert.Equal(t, FragmentDone, node.Tree.State)
		if node.Tree.IsLeader() {
			leaders++
		} else {
			_, valid := node.Tree.ParentEdge()
			assert.True(t, valid, "node %d has no parent", node.ID)
		}
	}
	assert.Equal(t, 1, leaders)

	// tree edges are known to both endpoints
	for _, node := range nodes {
		for _, edge := range node.Tree.Edges() {
			remote := simulation.Node(edge.PeerID)
			require.NotNil(t, remote)
			found := false
			for _, back := range remote.Tree.Edges() {
				found = found || back.PeerID == node.ID
			}
			assert.True(t, found, "edge %d-%d is one-sided", node.ID, edge.PeerID)
		}
	}

	edges := simulation.TreeEdges()
	assert.Len(t, edges, len(nodes)-1)
	assert.Equal(t, kruskal(simulation.GraphEdges()), edges)
}

func TestSpanningTreeMatchesKruskal(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 8)
	linkFixture(t, simulation)
	simulation.StartSpanningTree()

	checkSpanningTree(t, simulation)
}

func TestSpanningTreeEqualCosts(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 6)

	// complete graph, all ties are broken by the peer IDs
	var edges [][3]float64
	for a := 0; a < 6; a++ {
		for b := a + 1; b < 6; b++ {
			edges = append(edges, [3]float64{float64(a), float64(b), 1})
		}
	}
	linkAll(t, simulation, edges)
	simulation.StartSpanningTree()

	checkSpanningTree(t, simulation)
}

func TestSpanningTreeOverlay(t *testing.T) {
	config := DefaultConfig()
	config.NodeCount = 20
	simulation := newTestSimulation(t, config, config.NodeCount)
	simulation.Bootstrap(config.BootstrapPeers)
	simulation.Run(30 * time.Second)

	// pending connections settle before the protocol starts
	simulation.FreezeTopology()
	simulation.Run(10 * time.Second)
	simulation.StartSpanningTree()

	// the overlay may consist of several components, only a connected one converges
	if !connectedGraph(simulation) {
		t.Skip("overlay is not connected")
	}
	checkSpanningTree(t, simulation)
}

// linkFixture links the nodes of the weighted test graph.
func linkFixture(t *testing.T, simulation *Simulation) {
	linkAll(t, simulation, [][3]float64{
		{0, 1, 4}, {0, 2, 1}, {1, 2, 3}, {1, 3, 2}, {2, 3, 5}, {3, 4, 7}, {2, 4, 8},
		{4, 5, 6}, {5, 6, 9}, {4, 6, 2.5}, {6, 7, 1.5}, {5, 7, 11}, {0, 7, 10},
	})
}

func TestSpanningTreeEdgeExpiry(t *testing.T) {
	// every minimum outgoing edge is expired by the time it is acted upon
	config := testConfig()
	config.FragmentExpiration = time.Nanosecond
	simulation := newTestSimulation(t, config, 8)
	linkFixture(t, simulation)
	simulation.StartSpanningTree()

	checkSpanningTree(t, simulation)

	var refreshes uint64
	for _, node := range simulation.Nodes() {
		refreshes += node.Tree.Refreshes
	}
	assert.NotZero(t, refreshes)
}

func TestSpanningTreeSlowLink(t *testing.T) {
	config := testConfig()
	config.FragmentTestTimeout = 700 * time.Millisecond
	config.PingInterval = time.Hour
	simulation := newTestSimulation(t, config, 3)
	nodes := simulation.Nodes()
	linkAll(t, simulation, [][3]float64{{0, 1, 1}, {1, 2, 2}, {0, 2, 3}})

	// the round trip of the cheapest edge exceeds the initial timeout
	simulation.network.SetLinkLatency(nodes[0].Address, nodes[1].Address, 500*time.Millisecond)
	simulation.StartSpanningTree()

	checkSpanningTree(t, simulation)

	assert.NotZero(t, nodes[0].Tree.Timeouts+nodes[1].Tree.Timeouts)
	raised := nodes[0].Tree.testTimeout(nodes[1].Address) > config.FragmentTestTimeout || nodes[1].Tree.testTimeout(nodes[0].Address) > config.FragmentTestTimeout
	assert.True(t, raised)
	assert.LessOrEqual(t, int64(nodes[0].Tree.testTimeout(nodes[1].Address)), int64(fragmentTestBackoffLimit*config.FragmentTestTimeout))
}

func TestSpanningTreeLatencyNearTimeout(t *testing.T) {
	config := testConfig()
	config.LatencyMin = 300 * time.Millisecond
	config.LatencyMax = 345 * time.Millisecond
	config.FragmentTestTimeout = 700 * time.Millisecond
	config.PingInterval = time.Hour
	require.NoError(t, config.Validate())

	simulation := newTestSimulation(t, config, 8)
	linkFixture(t, simulation)
	simulation.StartSpanningTree()

	checkSpanningTree(t, simulation)
}

func TestSpanningTreeLowerLevelAnswerRetried(t *testing.T) {
	config := testConfig()
	config.PingInterval = time.Hour
	simulation := newTestSimulation(t, config, 2)
	simulation.FreezeTopology()
	nodes := simulation.Nodes()
	linkAll(t, simulation, [][3]float64{{0, 1, 1}})

	// nothing arrives at the remote peer during the test
	simulation.network.SetLinkLatency(nodes[0].Address, nodes[1].Address, time.Hour)

	simulation.Lock()
	tree := nodes[0].Tree
	tree.Start()
	require.Equal(t, nodes[1].Address, tree.testing)
	require.Equal(t, uint64(1), tree.Tests)

	// an answer of another fragment with a lower level may be outdated
	tree.Level = 2
	tree.onTestResponse(tree.searchID, nodes[1].Address, protocol.NewFragmentTestResponse(nodes[1].ID, 1))

	assert.Equal(t, uint64(1), tree.Stale)
	assert.Nil(t, tree.MinimumOutgoingEdge())
	assert.False(t, tree.localDone)
	assert.Empty(t, tree.testing)
	assert.Equal(t, nodes[1].Address, tree.retryAddress)
	assert.Equal(t, FragmentFind, tree.State)
	simulation.Unlock()

	simulation.Run(config.FragmentRetry + config.TickInterval)

	simulation.Lock()
	defer simulation.Unlock()
	assert.Equal(t, uint64(2), tree.Tests)
	assert.Equal(t, nodes[1].Address, tree.testing)
	assert.Nil(t, tree.MinimumOutgoingEdge())
}

func TestSpanningTreeSingleNode(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 1)
	simulation.StartSpanningTree()

	require.True(t, simulation.RunUntilConverged(10*time.Second))
	node := simulation.Nodes()[0]
	assert.True(t, node.Tree.IsLeader())
	assert.Empty(t, node.Tree.Edges())
}

func TestFragmentStateString(t *testing.T) {
	assert.Equal(t, "Sleeping", FragmentSleeping.String())
	assert.Equal(t, "Done", FragmentDone.String())
}

func connectedGraph(simulation *Simulation) bool {
	nodes := simulation.Nodes()
	visited := map[int64]bool{nodes[0].ID: true}
	queue := []*Node{nodes[0]}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, peer := range node.Connections() {
			if !visited[peer.ID] {
				visited[peer.ID] = true
				queue = append(queue, simulation.Node(peer.ID))
			}
		}
	}
	return len(visited) == len(nodes)
}
