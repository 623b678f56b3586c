/*
File Name:  Broadcast.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The broadcaster floods packets to a random sample of connected peers.
Received broadcasts pass the reception middlewares first, then they are deduplicated by broadcast ID.
A broadcast is handled at most once and relayed at most once per node.
*/

package core

import (
	"time"

	"github.com/PeernetOfficial/overlay/protocol"
	lru "github.com/hashicorp/golang-lru"
)

// ReceptionMiddleware inspects a received broadcast before deduplication. Returning false stops further processing.
type ReceptionMiddleware func(packet protocol.Broadcastable) bool

// BroadcastHandler processes a novel broadcast.
type BroadcastHandler func(packet protocol.Broadcastable)

// broadcastRecord is the dedup metadata of a broadcast ID.
type broadcastRecord struct {
	firstSeen time.Time
	count     int  // How often the broadcast was received
	relayed   bool // Whether the broadcast was relayed
}

// Broadcaster floods packets through the overlay.
type Broadcaster struct {
	node        *Node
	middlewares []ReceptionMiddleware
	seen        *lru.Cache // Broadcast ID -> *broadcastRecord. Entries are never promoted, the oldest is evicted first.
	maxAge      time.Duration

	// statistics
	BroadcastsSent     uint64
	BroadcastsReceived uint64 // Novel broadcasts
	Duplicates         uint64
	Relayed            uint64
	Vetoed             uint64
}

func newBroadcaster(node *Node) (broadcaster *Broadcaster, err error) {
	size := node.config.BroadcastCacheSize
	if size <= 0 {
		size = 1024
	}

	seen, err := lru.New(size)
	if err != nil {
		return nil, err
	}

	return &Broadcaster{node: node, seen: seen, maxAge: node.config.BroadcastCacheAge}, nil
}

// OnInitialize installs the passive peer discovery middleware.
func (broadcaster *Broadcaster) OnInitialize() {
	broadcaster.RegisterReceptionMiddleware(broadcaster.node.connector.discoveryMiddleware)
}

// OnUpdate removes expired dedup entries.
func (broadcaster *Broadcaster) OnUpdate(dt time.Duration) {
	if broadcaster.maxAge <= 0 {
		return
	}

	threshold := broadcaster.node.now().Add(-broadcaster.maxAge)

	// Records are never promoted, so the first non-expired one ends the sweep.
	for {
		_, value, ok := broadcaster.seen.GetOldest()
		if !ok || !value.(*broadcastRecord).firstSeen.Before(threshold) {
			return
		}
		broadcaster.seen.RemoveOldest()
	}
}

// RegisterReceptionMiddleware adds a middleware to the end of the chain.
func (broadcaster *Broadcaster) RegisterReceptionMiddleware(middleware ReceptionMiddleware) {
	broadcaster.middlewares = append(broadcaster.middlewares, middleware)
}

// RegisterHandlerWithMiddleware registers the handler for broadcasts of the command. The handler is called only for novel broadcasts that passed all middlewares.
func (broadcaster *Broadcaster) RegisterHandlerWithMiddleware(command protocol.Command, handler BroadcastHandler) {
	broadcaster.node.Router.RegisterHandler(command, func(packet protocol.Packet) {
		broadcast, ok := packet.(protocol.Broadcastable)
		if !ok {
			broadcaster.node.filters.LogError("Broadcaster", "packet %s from peer %d is not broadcastable\n", packet.Header().Command, packet.Header().SenderID)
			return
		}

		broadcaster.receive(broadcast, handler)
	})
}

func (broadcaster *Broadcaster) receive(packet protocol.Broadcastable, handler BroadcastHandler) {
	for _, middleware := range broadcaster.middlewares {
		if !middleware(packet) {
			broadcaster.Vetoed++
			return
		}
	}

	if record := broadcaster.remember(packet.BroadcastInfo().BroadcastID); record.count > 1 {
		broadcaster.Duplicates++
		broadcaster.node.filters.BroadcastDuplicate(broadcaster.node, packet, record.count)
		return
	}

	broadcaster.BroadcastsReceived++
	handler(packet)
}

// remember records the reception of the broadcast ID and returns the dedup record.
func (broadcaster *Broadcaster) remember(broadcastID int64) (record *broadcastRecord) {
	record = broadcaster.record(broadcastID)
	record.count++
	return record
}

// record returns the dedup record of the broadcast ID. It is created if not present.
func (broadcaster *Broadcaster) record(broadcastID int64) (record *broadcastRecord) {
	if value, ok := broadcaster.seen.Peek(broadcastID); ok {
		return value.(*broadcastRecord)
	}

	record = &broadcastRecord{firstSeen: broadcaster.node.now()}
	broadcaster.seen.Add(broadcastID, record)
	return record
}

// HasSeen checks if the broadcast ID is in the dedup cache.
func (broadcaster *Broadcaster) HasSeen(broadcastID int64) bool {
	return broadcaster.seen.Contains(broadcastID)
}

// SendBroadcast sends the packet to a random sample of connected peers. It assigns the broadcast ID if not set.
// The node remembers its own broadcast so that echoes are dropped as duplicates.
func (broadcaster *Broadcaster) SendBroadcast(packet protocol.Broadcastable) (broadcastID int64, err error) {
	info := packet.BroadcastInfo()
	if info.BroadcastID == 0 {
		info.BroadcastID = broadcaster.node.newRandomID()
	}
	info.CasterID = broadcaster.node.ID
	info.CasterAddress = broadcaster.node.Address
	info.BroadcasterID = broadcaster.node.ID

	record := broadcaster.remember(info.BroadcastID)
	record.relayed = true

	targets := broadcaster.sample(broadcaster.node.config.fanout())
	if len(targets) == 0 {
		return info.BroadcastID, ErrNoConnection
	}

	for _, target := range targets {
		if err := broadcaster.node.Router.Send(target.Address, packet.Clone()); err != nil {
			broadcaster.node.filters.LogError("SendBroadcast", "sending %s to peer %d: %v\n", packet.Header().Command, target.ID, err)
		}
	}

	broadcaster.BroadcastsSent++
	return info.BroadcastID, nil
}

// RelayBroadcast re-sends a received broadcast to a fresh sample of connected peers, excluding the immediate sender and the caster.
// The broadcast ID and caster are kept. It returns false if the broadcast was already relayed.
func (broadcaster *Broadcaster) RelayBroadcast(packet protocol.Broadcastable) (relayed bool) {
	info := packet.BroadcastInfo()

	record := broadcaster.record(info.BroadcastID)
	if record.relayed {
		return false
	}
	record.relayed = true

	clone := packet.Clone().(protocol.Broadcastable)
	clone.BroadcastInfo().BroadcasterID = broadcaster.node.ID

	targets := broadcaster.sample(broadcaster.node.config.fanout(), packet.Header().SenderAddress, info.CasterAddress)
	for _, target := range targets {
		if err := broadcaster.node.Router.Send(target.Address, clone.Clone()); err != nil {
			broadcaster.node.filters.LogError("RelayBroadcast", "sending %s to peer %d: %v\n", packet.Header().Command, target.ID, err)
		}
	}

	broadcaster.Relayed++
	return true
}

// sample returns a random subset of the connected peers. Callers are included if configured.
func (broadcaster *Broadcaster) sample(size int, exclude ...string) (peers []*PeerInfo) {
	candidates := broadcaster.node.listeners.List()
	if broadcaster.node.config.BroadcastIncludeCallers {
		candidates = broadcaster.node.Connections()
	}

	for n := 0; n < len(candidates); n++ {
		excluded := false
		for _, address := range exclude {
			if candidates[n].Address == address {
				excluded = true
				break
			}
		}
		if !excluded {
			peers = append(peers, candidates[n])
		}
	}

	broadcaster.node.rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	if size > 0 && len(peers) > size {
		peers = peers[:size]
	}
	return peers
}
