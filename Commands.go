/*
File Name:  Commands.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Handlers of the connection management commands.
*/

package core

import (
	"github.com/PeernetOfficial/overlay/protocol"
)

// cmdHandshake answers a handshake with the own load and a few known peers.
func (connector *Connector) cmdHandshake(packet protocol.Packet) {
	handshake, ok := packet.(*protocol.HandshakePacket)
	if !ok {
		return
	}
	node := connector.node

	// the requester itself is a candidate
	connector.AddCandidate(protocol.PeerRecord{ID: handshake.SenderID, Address: handshake.SenderAddress})

	var peers []protocol.PeerRecord
	connections := node.Connections()
	node.rand.Shuffle(len(connections), func(i, j int) { connections[i], connections[j] = connections[j], connections[i] })
	for _, peer := range connections {
		if len(peers) >= node.config.HandshakePeers {
			break
		}
		if peer.Address != handshake.SenderAddress {
			peers = append(peers, peer.Record())
		}
	}

	response := protocol.NewHandshakeResponse(node.callers.Len(), node.listeners.Len(), node.callers.Capacity, peers)
	if err := node.Router.SendResponse(handshake, response); err != nil {
		node.filters.LogError("cmdHandshake", "responding to peer %d: %v\n", handshake.SenderID, err)
	}
}

// cmdConnect accepts or rejects a connect request.
func (connector *Connector) cmdConnect(packet protocol.Packet) {
	request, ok := packet.(*protocol.ConnectPacket)
	if !ok {
		return
	}

	accepted := connector.admitCaller(request)
	if err := connector.node.Router.SendResponse(request, protocol.NewConnectResponse(accepted)); err != nil {
		delete(connector.reservations, request.SenderAddress)
		connector.node.filters.LogError("cmdConnect", "responding to peer %d: %v\n", request.SenderID, err)
	}
}

// cmdConnectConfirm turns the reservation into a caller. Without reservation the peer is told to disconnect.
func (connector *Connector) cmdConnectConfirm(packet protocol.Packet) {
	node := connector.node
	address := packet.Header().SenderAddress

	reserved := connector.reservations[address]
	delete(connector.reservations, address)

	if reserved == nil || !node.addConnection(reserved.peer, true) {
		node.Router.Send(address, protocol.NewDisconnect("reservation expired"))
	}
}

// cmdDisconnect removes the connection. No response is sent.
func (connector *Connector) cmdDisconnect(packet protocol.Packet) {
	disconnect, ok := packet.(*protocol.DisconnectPacket)
	if !ok {
		return
	}

	delete(connector.reservations, disconnect.SenderAddress)
	connector.node.removeConnection(disconnect.SenderAddress, "remote: "+disconnect.Reason)
}
