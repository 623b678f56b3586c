/*
File Name:  Gossip_test.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	"testing"
	"time"

	"github.com/PeernetOfficial/overlay/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGossipGeneration(t *testing.T) {
	config := testConfig()
	config.GossipGenerationCap = 3
	simulation := newTestSimulation(t, config, 1)
	gossip := simulation.Nodes()[0].Gossip

	packet := protocol.NewHighestPeer(protocol.PeerRecord{ID: 1})
	packet.BroadcastID = 55

	require.True(t, gossip.BufferAdd(packet))
	assert.Equal(t, int32(1), packet.GossipGeneration)
	assert.NotZero(t, packet.GossipID)
	assert.Zero(t, packet.BroadcastID)

	gossipID := packet.GossipID
	clone := packet.Clone().(*protocol.HighestPeerPacket)
	require.True(t, gossip.BufferAdd(clone))
	assert.Equal(t, int32(2), clone.GossipGeneration)
	assert.Equal(t, gossipID, clone.GossipID)

	require.True(t, gossip.BufferAdd(clone))
	assert.Equal(t, int32(3), clone.GossipGeneration)

	assert.False(t, gossip.BufferAdd(clone))
	assert.Equal(t, uint64(1), gossip.Capped)
	assert.Equal(t, 3, gossip.Buffered())
}

func TestGossipRoundWithoutConnections(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 1)
	node := simulation.Nodes()[0]

	errors := 0
	node.filters.LogError = func(function, format string, v ...interface{}) { errors++ }

	require.True(t, node.Gossip.BufferAdd(protocol.NewHighestPeer(protocol.PeerRecord{ID: 1})))
	node.Gossip.round()

	assert.Equal(t, uint64(1), node.Gossip.Rounds)
	assert.Zero(t, node.Gossip.PacketsSent)
	assert.Zero(t, node.Gossip.Buffered())
	assert.Zero(t, errors)
}

func TestGossipRound(t *testing.T) {
	config := testConfig()
	config.GossipInterval = time.Second
	config.GossipJitter = 0
	simulation := newTestSimulation(t, config, 2)
	simulation.FreezeTopology()
	nodes := simulation.Nodes()
	linkAll(t, simulation, [][3]float64{{0, 1, 1}})

	var rounds []int
	nodes[0].filters.GossipRound = func(node *Node, packets int) {
		if node == nodes[0] {
			rounds = append(rounds, packets)
		}
	}

	called := 0
	nodes[0].Gossip.RegisterPreRoundCallback(func() { called++ })

	simulation.Run(3500 * time.Millisecond)

	assert.Equal(t, 3, called)
	assert.Len(t, rounds, 3)
	assert.Equal(t, 0, nodes[0].Gossip.Buffered())
	assert.Equal(t, uint64(3), nodes[0].Gossip.Rounds)
}

func TestHighestPeerConvergence(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 10)
	simulation.FreezeTopology()
	nodes := simulation.Nodes()

	// line topology, the worst case for propagation
	var edges [][3]float64
	for n := 0; n+1 < len(nodes); n++ {
		edges = append(edges, [3]float64{float64(n), float64(n + 1), 1})
	}
	linkAll(t, simulation, edges)

	var highest int64
	for _, node := range nodes {
		if node.ID > highest {
			highest = node.ID
		}
	}

	converged := func() bool {
		for _, node := range nodes {
			if peer, known := node.Highest.CurrentHighestKnownPeer(); !known || peer.ID != highest {
				return false
			}
		}
		return true
	}

	require.True(t, simulation.RunUntil(converged, time.Minute))

	// never decreases
	simulation.Run(5 * time.Second)
	assert.True(t, converged())
}
