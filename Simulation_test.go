/*
File Name:  Simulation_test.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConfig returns the default config with generous table sizes so that fixed topologies fit.
func testConfig() *Config {
	config := DefaultConfig()
	config.TargetListeners = 8
	config.TargetCallers = 8
	config.LatencyMin = 10 * time.Millisecond
	config.LatencyMax = 40 * time.Millisecond
	return config
}

func newTestSimulation(t *testing.T, config *Config, count int) *Simulation {
	filters := &Filters{
		LogError: func(function, format string, v ...interface{}) {
			t.Logf("["+function+"] "+format, v...)
		},
	}

	simulation, err := NewSimulation(config, filters)
	require.NoError(t, err)
	require.NoError(t, simulation.AddNodes(count))

	t.Cleanup(func() { simulation.Close() })
	return simulation
}

// linkAll connects the nodes by index with the given edges {a, b, cost}.
func linkAll(t *testing.T, simulation *Simulation, edges [][3]float64) {
	nodes := simulation.Nodes()
	for _, edge := range edges {
		require.NoError(t, simulation.Link(nodes[int(edge[0])].ID, nodes[int(edge[1])].ID, edge[2]))
	}
}

// checkTables verifies the connection table invariants of all nodes.
func checkTables(t *testing.T, simulation *Simulation) {
	byAddress := make(map[string]*Node)
	for _, node := range simulation.Nodes() {
		byAddress[node.Address] = node
	}

	for _, node := range simulation.Nodes() {
		assert.LessOrEqual(t, node.callers.Len(), node.config.TargetCallers)
		assert.LessOrEqual(t, node.listeners.Len(), node.config.TargetListeners)

		for _, peer := range node.Callers() {
			assert.Nil(t, node.listeners.Get(peer.Address), "address in both tables")

			remote := byAddress[peer.Address]
			require.NotNil(t, remote)
			assert.NotNil(t, remote.listeners.Get(node.Address), "caller %d of %d does not list it as listener", peer.ID, node.ID)
		}
		for _, peer := range node.Listeners() {
			remote := byAddress[peer.Address]
			require.NotNil(t, remote)
			assert.NotNil(t, remote.callers.Get(node.Address), "listener %d of %d does not list it as caller", peer.ID, node.ID)
		}
	}
}

func TestSimulationOverlayFormation(t *testing.T) {
	config := DefaultConfig()
	simulation := newTestSimulation(t, config, 16)
	simulation.Bootstrap(config.BootstrapPeers)

	simulation.Run(30 * time.Second)

	// let in-flight attempts settle
	simulation.FreezeTopology()
	simulation.Run(10 * time.Second)

	for _, node := range simulation.Nodes() {
		assert.NotEmpty(t, node.Connections(), "node %d has no connection", node.ID)
	}
	checkTables(t, simulation)
}

func TestSimulationLink(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 3)
	nodes := simulation.Nodes()

	require.NoError(t, simulation.Link(nodes[0].ID, nodes[1].ID, 2.5))
	assert.Error(t, simulation.Link(nodes[1].ID, nodes[0].ID, 1))
	assert.Equal(t, ErrUnknownNode, simulation.Link(nodes[0].ID, 12345, 1))

	peer, caller := nodes[0].GetConnection(nodes[1].Address)
	require.NotNil(t, peer)
	assert.False(t, caller)
	assert.Equal(t, 2.5, peer.LinkCost)

	peer, caller = nodes[1].GetConnection(nodes[0].Address)
	require.NotNil(t, peer)
	assert.True(t, caller)

	edges := simulation.GraphEdges()
	require.Len(t, edges, 1)
	assert.Equal(t, 2.5, edges[0].Cost)
}

func TestSimulationEvents(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 2)
	id, events := simulation.SubscribeEvents(16)

	nodes := simulation.Nodes()
	require.NoError(t, simulation.Link(nodes[0].ID, nodes[1].ID, 1))

	received := <-events
	assert.Equal(t, EventNewPeer, received.Type)
	assert.Equal(t, nodes[0].ID, received.NodeID)
	assert.Equal(t, nodes[1].ID, received.PeerID)

	simulation.UnsubscribeEvents(id)
	_, open := <-events
	for open {
		_, open = <-events
	}
}

func TestSimulationRemoveNode(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 3)
	simulation.FreezeTopology()
	nodes := simulation.Nodes()
	linkAll(t, simulation, [][3]float64{{0, 1, 1}, {1, 2, 1}})

	require.NoError(t, simulation.RemoveNode(nodes[1].ID))
	assert.Nil(t, simulation.Node(nodes[1].ID))
	assert.Len(t, simulation.Nodes(), 2)

	// the remaining nodes learn about the disconnect
	simulation.Run(time.Second)
	assert.Empty(t, nodes[0].Connections())
	assert.Empty(t, nodes[2].Connections())
}

func TestSimulationDeterministic(t *testing.T) {
	build := func() (ids []int64, links int) {
		config := DefaultConfig()
		config.Seed = 7
		simulation := newTestSimulation(t, config, 8)
		simulation.Bootstrap(config.BootstrapPeers)
		simulation.Run(10 * time.Second)

		for _, node := range simulation.Nodes() {
			ids = append(ids, node.ID)
			links += len(node.Listeners())
		}
		return ids, links
	}

	ids1, links1 := build()
	ids2, links2 := build()
	assert.Equal(t, ids1, ids2)
	assert.Equal(t, links1, links2)
}
