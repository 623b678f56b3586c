/*
File Name:  Router_test.go
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

func TestRouterResolvesOnce(t *testing.T) {
	config := testConfig()
	config.LatencyMin = 100 * time.Millisecond
	config.LatencyMax = 100 * time.Millisecond
	simulation := newTestSimulation(t, config, 2)
	simulation.FreezeTopology()
	nodes := simulation.Nodes()

	calls := 0
	var rtt time.Duration
	err := nodes[0].Router.SendRequest(nodes[1].Address, protocol.NewPing(), func(response protocol.Response, elapsed time.Duration) {
		calls++
		assert.NotNil(t, response)
		rtt = elapsed
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, nodes[0].Router.Outstanding())

	simulation.Run(5 * time.Second)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 200*time.Millisecond, rtt)
	assert.Equal(t, 0, nodes[0].Router.Outstanding())
}

func TestRouterLateResponse(t *testing.T) {
	config := testConfig()
	config.LatencyMin = time.Second
	config.LatencyMax = time.Second
	config.ReplyTimeout = 500 * time.Millisecond
	simulation := newTestSimulation(t, config, 2)
	simulation.FreezeTopology()
	nodes := simulation.Nodes()

	calls := 0
	err := nodes[0].Router.SendRequest(nodes[1].Address, protocol.NewPing(), func(response protocol.Response, rtt time.Duration) {
		calls++
		assert.Nil(t, response)
	}, 0)
	require.NoError(t, err)

	simulation.Run(5 * time.Second)

	// the timeout resolved it, the pong arriving after 2 seconds is dropped
	assert.Equal(t, 1, calls)
	assert.GreaterOrEqual(t, nodes[0].Router.DroppedResponses, uint64(1))
	assert.GreaterOrEqual(t, nodes[0].Router.Timeouts, uint64(1))
}

func TestRouterUnknownAddress(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 1)
	node := simulation.Nodes()[0]

	called := false
	err := node.Router.SendRequest("192.0.2.1:112", protocol.NewPing(), func(response protocol.Response, rtt time.Duration) {
		called = true
	}, 0)
	assert.Equal(t, ErrUnknownAddress, err)
	assert.Equal(t, 0, node.Router.Outstanding())

	simulation.Run(5 * time.Second)
	assert.False(t, called)
}

func TestRouterDuplicateHandler(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 1)
	node := simulation.Nodes()[0]

	assert.PanicsWithValue(t, ErrHandlerExists, func() {
		node.Router.RegisterHandler(protocol.CommandPing, func(packet protocol.Packet) {})
	})
}

func TestRouterUnsolicitedResponse(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 2)
	simulation.FreezeTopology()
	nodes := simulation.Nodes()

	pong := protocol.NewPong()
	pong.CallerUniqueID = 999
	require.NoError(t, nodes[1].Router.Send(nodes[0].Address, pong))

	simulation.Run(time.Second)
	assert.Equal(t, uint64(1), nodes[0].Router.DroppedResponses)
}

func TestRouterIgnoresForeignResponse(t *testing.T) {
	config := testConfig()
	config.LatencyMin = 100 * time.Millisecond
	config.LatencyMax = 100 * time.Millisecond
	simulation := newTestSimulation(t, config, 3)
	simulation.FreezeTopology()
	nodes := simulation.Nodes()

	var responses []protocol.Response
	ping := protocol.NewPing()
	require.NoError(t, nodes[0].Router.SendRequest(nodes[1].Address, ping, func(response protocol.Response, rtt time.Duration) {
		responses = append(responses, response)
		assert.Equal(t, 200*time.Millisecond, rtt)
	}, 0))

	// a third peer and a response of the wrong type arrive before the pong
	forged := protocol.NewPong()
	forged.CallerUniqueID = ping.UniqueID
	require.NoError(t, nodes[2].Router.Send(nodes[0].Address, forged))

	wrong := protocol.NewConnectResponse(true)
	wrong.CallerUniqueID = ping.UniqueID
	require.NoError(t, nodes[1].Router.Send(nodes[0].Address, wrong))

	simulation.Run(time.Second)

	require.Len(t, responses, 1)
	pong, ok := responses[0].(*protocol.PongPacket)
	require.True(t, ok)
	assert.Equal(t, nodes[1].ID, pong.SenderID)
	assert.Equal(t, uint64(2), nodes[0].Router.DroppedResponses)
}
