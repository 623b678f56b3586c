/*
File Name:  Connecting_test.go
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

func TestAcceptConnectionEviction(t *testing.T) {
	config := testConfig()
	config.TargetListeners = 3
	simulation := newTestSimulation(t, config, 6)
	simulation.FreezeTopology()
	nodes := simulation.Nodes()
	node := nodes[0]

	for n, score := range []float64{10, 20, 30} {
		peer := nodes[n+1]
		require.True(t, node.addConnection(&PeerInfo{ID: peer.ID, Address: peer.Address, Score: score}, false))
	}
	require.True(t, node.listeners.IsFull())

	// lower than all listeners
	low := &PeerInfo{ID: nodes[4].ID, Address: nodes[4].Address, Score: 5}
	assert.False(t, node.Connector().AcceptConnection(low))
	assert.Equal(t, 3, node.listeners.Len())

	// the listener with score 10 is replaced
	high := &PeerInfo{ID: nodes[5].ID, Address: nodes[5].Address, Score: 25}
	assert.True(t, node.Connector().AcceptConnection(high))
	assert.Nil(t, node.listeners.Get(nodes[1].Address))
	assert.Equal(t, 2, node.listeners.Len())
	assert.Equal(t, uint64(1), node.Connector().Evictions)
}

func TestAcceptConnectionBelowCapacity(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 2)
	simulation.FreezeTopology()
	node := simulation.Nodes()[0]

	assert.True(t, node.Connector().AcceptConnection(&PeerInfo{Score: -1000}))
}

func TestConnectHandshake(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 2)
	nodes := simulation.Nodes()

	nodes[0].AddCandidate(protocol.PeerRecord{ID: nodes[1].ID, Address: nodes[1].Address})

	connected := func() bool {
		return nodes[0].listeners.Get(nodes[1].Address) != nil && nodes[1].callers.Get(nodes[0].Address) != nil
	}
	require.True(t, simulation.RunUntil(connected, 10*time.Second))

	listener := nodes[0].listeners.Get(nodes[1].Address)
	caller := nodes[1].callers.Get(nodes[0].Address)
	assert.Equal(t, listener.LinkCost, caller.LinkCost)
	assert.Greater(t, listener.LinkCost, 0.0)
	assert.Greater(t, listener.Score, 0.0)

	simulation.FreezeTopology()
	simulation.Run(5 * time.Second)
	checkTables(t, simulation)
}

func TestConnectRejectsWithoutCapacity(t *testing.T) {
	config := testConfig()
	config.TargetCallers = 1
	simulation := newTestSimulation(t, config, 3)
	nodes := simulation.Nodes()

	nodes[0].AddCandidate(protocol.PeerRecord{ID: nodes[2].ID, Address: nodes[2].Address})
	nodes[1].AddCandidate(protocol.PeerRecord{ID: nodes[2].ID, Address: nodes[2].Address})

	simulation.Run(20 * time.Second)
	simulation.FreezeTopology()
	simulation.Run(5 * time.Second)

	assert.Equal(t, 1, nodes[2].callers.Len())
	checkTables(t, simulation)
}

func TestReservationExpires(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 2)
	nodes := simulation.Nodes()
	connector := nodes[1].Connector()

	request := protocol.NewConnect(1)
	request.SenderID = nodes[0].ID
	request.SenderAddress = nodes[0].Address

	require.True(t, connector.admitCaller(request))
	assert.False(t, connector.admitCaller(request), "second reservation for the same peer")

	simulation.Run(nodes[1].config.ReservationTimeout + time.Second)
	assert.Empty(t, connector.reservations)

	// a late confirm is answered with a disconnect and does not add the caller
	confirm := protocol.NewConnectConfirm()
	confirm.SenderID = nodes[0].ID
	confirm.SenderAddress = nodes[0].Address
	nodes[1].Router.Deliver(confirm)
	assert.Equal(t, 0, nodes[1].callers.Len())
}

func TestBlacklistedPeerNotAdmitted(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 2)
	nodes := simulation.Nodes()

	require.NoError(t, nodes[1].Blacklist.Add(nodes[0].ID, "test"))
	assert.True(t, nodes[1].Blacklist.Contains(nodes[0].ID))
	assert.False(t, nodes[0].Blacklist.Contains(nodes[0].ID))

	request := protocol.NewConnect(1)
	request.SenderID = nodes[0].ID
	request.SenderAddress = nodes[0].Address
	assert.False(t, nodes[1].Connector().admitCaller(request))

	entries := nodes[1].Blacklist.List()
	require.Len(t, entries, 1)
	assert.Equal(t, BlacklistEntry{PeerID: nodes[0].ID, Reason: "test"}, entries[0])

	nodes[1].Blacklist.Remove(nodes[0].ID)
	assert.True(t, nodes[1].Connector().admitCaller(request))
}

func TestTrustExhaustedBlacklists(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 2)
	simulation.FreezeTopology()
	nodes := simulation.Nodes()
	linkAll(t, simulation, [][3]float64{{0, 1, 1}})

	peer := nodes[0].listeners.Get(nodes[1].Address)
	for n := 0; n < 10; n++ {
		nodes[0].adjustTrust(peer, trustTimeout)
	}
	assert.Equal(t, float64(trustMin), peer.Trust)
	assert.True(t, nodes[0].Blacklist.Contains(nodes[1].ID))
	assert.False(t, nodes[0].IsConnected(nodes[1].Address))
}

func TestScorePeer(t *testing.T) {
	fast := ScorePeer(1000, 10, 10*time.Millisecond, 0, 8)
	slow := ScorePeer(1000, 10, 200*time.Millisecond, 0, 8)
	busy := ScorePeer(1000, 10, 10*time.Millisecond, 8, 8)

	assert.Greater(t, fast, slow)
	assert.Greater(t, fast, busy)
	assert.InDelta(t, 1000.0/11+80, fast, 1e-9)

	assert.Equal(t, 12.346, linkCost(12345678*time.Nanosecond))
}

func TestEvictionWaitsForAccept(t *testing.T) {
	config := testConfig()
	config.TargetListeners = 3
	config.PingInterval = time.Hour
	simulation := newTestSimulation(t, config, 5)
	nodes := simulation.Nodes()
	linkAll(t, simulation, [][3]float64{{0, 1, 1}, {0, 2, 1}, {0, 3, 1}})

	for n, score := range []float64{1, 2, 3} {
		nodes[0].listeners.Get(nodes[n+1].Address).Score = score
	}
	for _, node := range nodes[1:] {
		node.Connector().Frozen = true
	}

	// the candidate scores higher than all listeners but rejects the connect
	nodes[0].AddCandidate(protocol.PeerRecord{ID: nodes[4].ID, Address: nodes[4].Address})
	simulation.Run(3 * time.Second)

	assert.Equal(t, 3, nodes[0].listeners.Len())
	assert.NotNil(t, nodes[0].listeners.Get(nodes[1].Address))
	assert.Zero(t, nodes[0].Connector().Evictions)
	assert.GreaterOrEqual(t, nodes[0].Connector().Rejected, uint64(1))

	// once the candidate accepts, the lowest listener is replaced
	nodes[4].Connector().Frozen = false
	nodes[4].connector.nextAttempt = simulation.Now().Add(time.Hour)

	connected := func() bool { return nodes[0].listeners.Get(nodes[4].Address) != nil }
	require.True(t, simulation.RunUntil(connected, 20*time.Second))

	assert.Equal(t, 3, nodes[0].listeners.Len())
	assert.Nil(t, nodes[0].listeners.Get(nodes[1].Address))
	assert.Equal(t, uint64(1), nodes[0].Connector().Evictions)
}
