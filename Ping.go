/*
File Name:  Ping.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	"time"

	"github.com/PeernetOfficial/overlay/protocol"
)

// Liveness sends regular ping messages to all connections. This allows to detect dead connections and eventually drop them.
type Liveness struct {
	node *Node

	PingsSent uint64
	Timeouts  uint64
}

func newLiveness(node *Node) *Liveness {
	return &Liveness{node: node}
}

// OnInitialize registers the ping handler.
func (liveness *Liveness) OnInitialize() {
	liveness.node.Router.RegisterHandler(protocol.CommandPing, liveness.cmdPing)
}

// OnUpdate pings every connection that was not pinged within the ping interval.
func (liveness *Liveness) OnUpdate(dt time.Duration) {
	threshold := liveness.node.now().Add(-liveness.node.config.PingInterval)

	for _, peer := range liveness.node.Connections() {
		if peer.pingOutstanding || peer.lastPingOut.After(threshold) {
			continue
		}
		liveness.ping(peer)
	}
}

func (liveness *Liveness) ping(peer *PeerInfo) {
	node := liveness.node
	peer.pingOutstanding = true
	peer.lastPingOut = node.now()
	liveness.PingsSent++

	err := node.Router.SendRequest(peer.Address, protocol.NewPing(), func(response protocol.Response, rtt time.Duration) {
		peer.pingOutstanding = false

		// The peer may have been disconnected in the meantime.
		if current, _ := node.GetConnection(peer.Address); current != peer {
			return
		}

		if response == nil {
			liveness.Timeouts++
			peer.pingFailures++
			node.adjustTrust(peer, trustTimeout)

			if peer.pingFailures >= node.config.PingFailLimit && node.IsConnected(peer.Address) {
				node.Disconnect(peer.Address, "ping timeout")
			}
			return
		}

		peer.pingFailures = 0
		peer.Ping = rtt
		node.adjustTrust(peer, trustSuccess)
		peer.Score = node.scorePeer(peer, node.config.TargetCallers)
	}, 0)

	if err != nil {
		peer.pingOutstanding = false
		node.filters.LogError("Liveness.ping", "pinging peer %d: %v\n", peer.ID, err)
		node.Disconnect(peer.Address, "unreachable")
	}
}

// cmdPing answers a ping.
func (liveness *Liveness) cmdPing(packet protocol.Packet) {
	if err := liveness.node.Router.SendResponse(packet, protocol.NewPong()); err != nil {
		liveness.node.filters.LogError("Liveness.cmdPing", "responding to peer %d: %v\n", packet.Header().SenderID, err)
	}
}
