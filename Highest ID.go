/*
File Name:  Highest ID.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Gossip search for the highest peer ID in the network. Every node re-announces the highest peer it knows each round and
adopts received announcements only if they are strictly higher.
*/

package core

import (
	"github.com/PeernetOfficial/overlay/protocol"
)

// HighestPeerSearch gossips the highest known peer ID.
type HighestPeerSearch struct {
	node    *Node
	current *protocol.PeerRecord // nil if not known yet

	Adopted uint64 // Count of received announcements that were higher
}

func newHighestPeerSearch(node *Node) *HighestPeerSearch {
	return &HighestPeerSearch{node: node}
}

// OnInitialize registers the gossip handler and the re-announcement.
func (search *HighestPeerSearch) OnInitialize() {
	search.node.Gossip.RegisterHandler(protocol.CommandGossipHighestPeer, search.handle)
	search.node.Gossip.RegisterPreRoundCallback(search.announce)
}

// CurrentHighestKnownPeer returns the highest known peer.
func (search *HighestPeerSearch) CurrentHighestKnownPeer() (peer protocol.PeerRecord, known bool) {
	if search.current == nil {
		return peer, false
	}
	return *search.current, true
}

// seed initializes the highest peer from the node itself and its connections.
func (search *HighestPeerSearch) seed() {
	highest := protocol.PeerRecord{ID: search.node.ID, Address: search.node.Address}

	for _, peer := range search.node.Connections() {
		if peer.ID > highest.ID {
			highest = peer.Record()
		}
	}

	search.current = &highest
}

// announce buffers the highest known peer. Nodes without any connection have nothing to say yet.
func (search *HighestPeerSearch) announce() {
	if search.current == nil {
		if len(search.node.Connections()) == 0 {
			return
		}
		search.seed()
	}

	search.node.Gossip.BufferAdd(protocol.NewHighestPeer(*search.current))
}

func (search *HighestPeerSearch) handle(packet protocol.Gossipable) {
	announcement, ok := packet.(*protocol.HighestPeerPacket)
	if !ok {
		return
	}

	if search.current == nil {
		search.seed()
	}

	if announcement.Peer.ID <= search.current.ID {
		return
	}

	peer := announcement.Peer
	search.current = &peer
	search.Adopted++

	search.node.Gossip.BufferAdd(announcement.Clone().(*protocol.HighestPeerPacket))
}
