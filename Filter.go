/*
File Name:  Filter.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Filters allow the caller to intercept events to log or observe.
*/

package core

import (
	"log"

	"github.com/PeernetOfficial/overlay/protocol"
)

// Filters contains all functions to install the hook. Use nil for unused.
// The functions are called sequentially from within the tick of the node and block execution; they must not call back into the simulation.
type Filters struct {
	// NewPeer is called every time a connection is established. Caller is true if the peer connected to the node, false if the node connected to the peer.
	NewPeer func(node *Node, peer *PeerInfo, caller bool)

	// PeerDisconnect is called every time a connection is removed.
	PeerDisconnect func(node *Node, peer *PeerInfo, reason string)

	// BroadcastDuplicate is called for every broadcast that was received again. Count is how often the broadcast was seen so far.
	BroadcastDuplicate func(node *Node, packet protocol.Broadcastable, count int)

	// GossipRound is called after every gossip round with the count of packets that were sent out.
	GossipRound func(node *Node, packets int)

	// ConsensusDecided is called once per consensus round when the node decides.
	ConsensusDecided func(node *Node, consensusID int64, choice int, votes int)

	// FragmentChange is called when the fragment ID, level or state of the node changes.
	FragmentChange func(node *Node, fragmentID int64, level int32, state FragmentState)

	// TreeConverged is called when the node learns that the spanning tree is complete.
	TreeConverged func(node *Node, fragmentID int64)

	// LogError is called for any error. If this function is overwritten by the caller, the caller must write errors into the log file if desired, or call DefaultLogError.
	LogError func(function, format string, v ...interface{})
}

// init sets default filters to blank functions so they can be safely called without constant nil checks.
func (filters *Filters) init() {
	if filters.NewPeer == nil {
		filters.NewPeer = func(node *Node, peer *PeerInfo, caller bool) {}
	}
	if filters.PeerDisconnect == nil {
		filters.PeerDisconnect = func(node *Node, peer *PeerInfo, reason string) {}
	}
	if filters.BroadcastDuplicate == nil {
		filters.BroadcastDuplicate = func(node *Node, packet protocol.Broadcastable, count int) {}
	}
	if filters.GossipRound == nil {
		filters.GossipRound = func(node *Node, packets int) {}
	}
	if filters.ConsensusDecided == nil {
		filters.ConsensusDecided = func(node *Node, consensusID int64, choice int, votes int) {}
	}
	if filters.FragmentChange == nil {
		filters.FragmentChange = func(node *Node, fragmentID int64, level int32, state FragmentState) {}
	}
	if filters.TreeConverged == nil {
		filters.TreeConverged = func(node *Node, fragmentID int64) {}
	}
	if filters.LogError == nil {
		filters.LogError = DefaultLogError
	}
}

// DefaultLogError is the default error logging function
func DefaultLogError(function, format string, v ...interface{}) {
	log.Printf("["+function+"] "+format, v...)
}
