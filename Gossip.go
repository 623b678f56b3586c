/*
File Name:  Gossip.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The gossip engine buffers outgoing gossip packets of all subsystems and flushes them through the broadcaster on every gossip round.
Rounds are periodic with a random jitter so that not all nodes send at the same time.
Handlers decide on their own whether a received packet is relevant and whether to buffer a clone for the next round.
*/

package core

import (
	"time"

	"github.com/PeernetOfficial/overlay/protocol"
)

// GossipHandler processes a received gossip packet.
type GossipHandler func(packet protocol.Gossipable)

// Gossip is the gossip engine of a node.
type Gossip struct {
	node      *Node
	buffer    []protocol.Gossipable
	handlers  map[protocol.Command]GossipHandler
	preRound  []func()
	nextRound time.Time

	// statistics
	Rounds      uint64
	PacketsSent uint64
	Capped      uint64 // Packets dropped because of the generation cap
}

func newGossip(node *Node) *Gossip {
	return &Gossip{node: node, handlers: make(map[protocol.Command]GossipHandler)}
}

// OnInitialize schedules the first round.
func (gossip *Gossip) OnInitialize() {
	gossip.scheduleRound()
}

// OnUpdate runs the gossip round when due.
func (gossip *Gossip) OnUpdate(dt time.Duration) {
	if gossip.node.now().Before(gossip.nextRound) {
		return
	}

	gossip.round()
	gossip.scheduleRound()
}

func (gossip *Gossip) scheduleRound() {
	interval := gossip.node.config.GossipInterval
	if jitter := gossip.node.config.GossipJitter; jitter > 0 {
		interval += time.Duration(gossip.node.rand.Int63n(int64(2*jitter)+1)) - jitter
	}
	if interval <= 0 {
		interval = gossip.node.config.TickInterval
	}

	gossip.nextRound = gossip.node.now().Add(interval)
}

// round invokes the pre-round callbacks, then broadcasts every buffered packet and clears the buffer.
func (gossip *Gossip) round() {
	for _, callback := range gossip.preRound {
		callback()
	}

	packets := gossip.buffer
	gossip.buffer = nil
	gossip.Rounds++

	for _, packet := range packets {
		if _, err := gossip.node.Broadcaster.SendBroadcast(packet); err != nil {
			if err != ErrNoConnection {
				gossip.node.filters.LogError("Gossip.round", "broadcasting %s: %v\n", packet.Header().Command, err)
			}
			continue
		}
		gossip.PacketsSent++
	}

	gossip.node.filters.GossipRound(gossip.node, len(packets))
}

// BufferAdd adds the packet to the outgoing buffer. The generation is incremented by exactly 1. New gossip gets its gossip ID assigned.
// The broadcast ID is reset so that every round is a new broadcast. It returns false if the packet exceeds the generation cap.
func (gossip *Gossip) BufferAdd(packet protocol.Gossipable) (added bool) {
	info := packet.GossipInfo()
	if info.GossipID == 0 {
		info.GossipID = gossip.node.newRandomID()
		info.GossipStartedAt = gossip.node.now()
	}
	info.GossipGeneration++

	if limit := gossip.node.config.GossipGenerationCap; limit > 0 && info.GossipGeneration > limit {
		gossip.Capped++
		return false
	}

	packet.BroadcastInfo().BroadcastID = 0
	gossip.buffer = append(gossip.buffer, packet)
	return true
}

// Buffered returns the count of packets waiting for the next round.
func (gossip *Gossip) Buffered() int {
	return len(gossip.buffer)
}

// RegisterHandler registers the handler for gossip packets of the command. There is exactly one handler per command.
func (gossip *Gossip) RegisterHandler(command protocol.Command, handler GossipHandler) {
	if _, ok := gossip.handlers[command]; ok {
		panic(ErrHandlerExists)
	}
	gossip.handlers[command] = handler

	gossip.node.Broadcaster.RegisterHandlerWithMiddleware(command, func(packet protocol.Broadcastable) {
		gossipPacket, ok := packet.(protocol.Gossipable)
		if !ok {
			gossip.node.filters.LogError("Gossip", "packet %s from peer %d is not a gossip packet\n", packet.Header().Command, packet.Header().SenderID)
			return
		}

		handler(gossipPacket)
	})
}

// RegisterPreRoundCallback registers a callback that is invoked at the start of every round, before the buffer is sent.
func (gossip *Gossip) RegisterPreRoundCallback(callback func()) {
	gossip.preRound = append(gossip.preRound, callback)
}
