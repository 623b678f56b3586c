/*
File Name:  Scoring.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	"math"
	"time"
)

// Trust limits and changes. A peer reaching the minimum trust is blacklisted.
const (
	trustMax     = 100
	trustMin     = -100
	trustSuccess = 1
	trustTimeout = -10
)

// ScorePeer scores a peer for admission. Low pings and spare caller capacity of the peer score higher.
func ScorePeer(pingWeight, capacityWeight float64, ping time.Duration, callerCount, targetCallers int) (score float64) {
	pingMs := float64(ping) / float64(time.Millisecond)
	score = pingWeight / (1 + pingMs)

	if spare := targetCallers - callerCount; spare > 0 {
		score += capacityWeight * float64(spare)
	}

	return score
}

// scorePeer scores the peer with the weights of the config.
func (node *Node) scorePeer(peer *PeerInfo, targetCallers int) float64 {
	return ScorePeer(node.config.ScorePingWeight, node.config.ScoreCapacityWeight, peer.Ping, peer.CallerCount, targetCallers)
}

// linkCost returns the cost of an edge measured by the round-trip time in milliseconds.
func linkCost(rtt time.Duration) float64 {
	return math.Round(float64(rtt)/float64(time.Microsecond)) / 1000
}

// adjustTrust changes the trust into the peer. At the minimum trust the peer is blacklisted and disconnected.
func (node *Node) adjustTrust(peer *PeerInfo, delta float64) {
	peer.Trust = math.Max(trustMin, math.Min(trustMax, peer.Trust+delta))

	if peer.Trust > trustMin {
		return
	}

	if err := node.Blacklist.Add(peer.ID, "trust exhausted"); err != nil {
		node.filters.LogError("adjustTrust", "blacklisting peer %d: %v\n", peer.ID, err)
	}
	node.Disconnect(peer.Address, "blacklisted")
}
