/*
File Name:  Peer Count.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Peer counting floods a broadcast through the network. Every node receiving it for the first time relays it and replies
directly to the caster. The count of distinct replies plus the caster itself estimates the network size.
*/

package core

import (
	"sort"
	"time"

	"github.com/PeernetOfficial/overlay/protocol"
)

// PeerCountRound is a single peer count started by the node.
type PeerCountRound struct {
	BroadcastID int64
	Started     time.Time
	Replies     map[int64]int // Peer ID -> hop distance
}

// Estimate returns the network size estimate of the round.
func (round *PeerCountRound) Estimate() int {
	return len(round.Replies) + 1
}

// PeerCounter counts the reachable peers.
type PeerCounter struct {
	node   *Node
	rounds map[int64]*PeerCountRound // Broadcast ID -> round
	latest *PeerCountRound
}

func newPeerCounter(node *Node) *PeerCounter {
	return &PeerCounter{node: node, rounds: make(map[int64]*PeerCountRound)}
}

// OnInitialize registers the handlers.
func (counter *PeerCounter) OnInitialize() {
	counter.node.Broadcaster.RegisterHandlerWithMiddleware(protocol.CommandPeerCount, counter.handleCount)
	counter.node.Router.RegisterHandler(protocol.CommandPeerCountReply, counter.handleReply)
}

// OnUpdate removes old rounds except the latest one.
func (counter *PeerCounter) OnUpdate(dt time.Duration) {
	threshold := counter.node.now().Add(-counter.node.config.BroadcastCacheAge)
	for id, round := range counter.rounds {
		if round != counter.latest && round.Started.Before(threshold) {
			delete(counter.rounds, id)
		}
	}
}

// Start floods a new peer count.
func (counter *PeerCounter) Start() (broadcastID int64, err error) {
	if broadcastID, err = counter.node.Broadcaster.SendBroadcast(protocol.NewPeerCount()); err != nil {
		return 0, err
	}

	round := &PeerCountRound{BroadcastID: broadcastID, Started: counter.node.now(), Replies: make(map[int64]int)}
	counter.rounds[broadcastID] = round
	counter.latest = round

	return broadcastID, nil
}

// Estimate returns the network size estimate of the latest round.
func (counter *PeerCounter) Estimate() (estimate int, valid bool) {
	if counter.latest == nil {
		return 0, false
	}
	return counter.latest.Estimate(), true
}

// Round returns the round of the broadcast ID, or nil if unknown.
func (counter *PeerCounter) Round(broadcastID int64) *PeerCountRound {
	return counter.rounds[broadcastID]
}

// Latest returns the latest round, or nil.
func (counter *PeerCounter) Latest() *PeerCountRound {
	return counter.latest
}

// Rounds returns all rounds sorted by start time.
func (counter *PeerCounter) Rounds() (rounds []*PeerCountRound) {
	for _, round := range counter.rounds {
		rounds = append(rounds, round)
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].Started.Before(rounds[j].Started) })
	return rounds
}

func (counter *PeerCounter) handleCount(packet protocol.Broadcastable) {
	count, ok := packet.(*protocol.PeerCountPacket)
	if !ok {
		return
	}

	reply := protocol.NewPeerCountReply(count.BroadcastID)
	reply.Hops = count.Hops + 1
	if err := counter.node.Router.Send(count.CasterAddress, reply); err != nil {
		counter.node.filters.LogError("PeerCounter", "replying to caster %d: %v\n", count.CasterID, err)
	}

	count.Hops++
	counter.node.Broadcaster.RelayBroadcast(count)
}

func (counter *PeerCounter) handleReply(packet protocol.Packet) {
	reply, ok := packet.(*protocol.PeerCountReplyPacket)
	if !ok {
		return
	}

	round := counter.rounds[reply.BroadcastID]
	if round == nil {
		return
	}

	if _, ok := round.Replies[reply.SenderID]; !ok {
		round.Replies[reply.SenderID] = reply.Hops
	}
}
