/*
File Name:  Connection.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	"sort"
	"time"

	"github.com/PeernetOfficial/overlay/protocol"
)

// PeerInfo stores information about a single remote peer connected to the node.
// Ping and score are computed locally and never sent to other peers.
type PeerInfo struct {
	ID            int64         // Peer ID
	Address       string        // Address of the peer
	Ping          time.Duration // Round-trip time of the last successful ping
	Score         float64       // Admission score, see ScorePeer
	Trust         float64       // Trust in the range [-100, 100]
	LastUpdated   time.Time     // Last time a packet was received from the peer
	LinkCost      float64       // Cost of the edge. Agreed by both endpoints when the connection was established.
	CallerCount   int           // Count of callers the peer reported in the handshake
	ListenerCount int           // Count of listeners the peer reported in the handshake
	Connected     time.Time     // When the connection was established

	pingOutstanding bool      // Whether a ping is in flight
	pingFailures    int       // Consecutive ping timeouts
	lastPingOut     time.Time // Last ping sent
}

// Record returns the identity of the peer as shared with other peers.
func (peer *PeerInfo) Record() protocol.PeerRecord {
	return protocol.PeerRecord{ID: peer.ID, Address: peer.Address}
}

// Copy returns a copy of the peer info.
func (peer *PeerInfo) Copy() *PeerInfo {
	copied := *peer
	return &copied
}

// PeerTable is a bounded connection table. Key = address.
type PeerTable struct {
	Capacity int
	peers    map[string]*PeerInfo
}

// NewPeerTable creates a new connection table with the given capacity.
func NewPeerTable(capacity int) *PeerTable {
	return &PeerTable{Capacity: capacity, peers: make(map[string]*PeerInfo)}
}

// Get returns the peer with the address, or nil if not in the table.
func (table *PeerTable) Get(address string) *PeerInfo {
	return table.peers[address]
}

// Add adds the peer to the table. It fails if the table is full or the address is already present.
func (table *PeerTable) Add(peer *PeerInfo) (added bool) {
	if _, ok := table.peers[peer.Address]; ok || table.IsFull() {
		return false
	}
	table.peers[peer.Address] = peer
	return true
}

// Remove removes the peer with the address and returns it, if it was present.
func (table *PeerTable) Remove(address string) (peer *PeerInfo) {
	peer = table.peers[address]
	delete(table.peers, address)
	return peer
}

// Len returns the count of peers in the table.
func (table *PeerTable) Len() int {
	return len(table.peers)
}

// IsFull checks if the table reached its capacity.
func (table *PeerTable) IsFull() bool {
	return len(table.peers) >= table.Capacity
}

// List returns all peers sorted by address. The order is stable so that seeded simulations are reproducible.
func (table *PeerTable) List() (peers []*PeerInfo) {
	peers = make([]*PeerInfo, 0, len(table.peers))
	for _, peer := range table.peers {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Address < peers[j].Address })
	return peers
}

// GetConnection returns the connected peer with the address from either table. Caller is true if the peer is a caller.
func (node *Node) GetConnection(address string) (peer *PeerInfo, caller bool) {
	if peer = node.callers.Get(address); peer != nil {
		return peer, true
	}
	return node.listeners.Get(address), false
}

// IsConnected checks if the address is a caller or listener.
func (node *Node) IsConnected(address string) bool {
	peer, _ := node.GetConnection(address)
	return peer != nil
}

// Connections returns all callers and listeners sorted by address.
func (node *Node) Connections() (peers []*PeerInfo) {
	peers = append(node.callers.List(), node.listeners.List()...)
	sort.Slice(peers, func(i, j int) bool { return peers[i].Address < peers[j].Address })
	return peers
}

// Callers returns all peers that connected to the node.
func (node *Node) Callers() []*PeerInfo {
	return node.callers.List()
}

// Listeners returns all peers the node connected to.
func (node *Node) Listeners() []*PeerInfo {
	return node.listeners.List()
}

// addConnection adds the peer into the callers or listeners table. An address is never in both tables.
func (node *Node) addConnection(peer *PeerInfo, caller bool) (added bool) {
	if node.IsConnected(peer.Address) || peer.Address == node.Address {
		return false
	}

	peer.Connected = node.now()
	peer.LastUpdated = peer.Connected

	if caller {
		added = node.callers.Add(peer)
	} else {
		added = node.listeners.Add(peer)
	}

	if added {
		node.filters.NewPeer(node, peer, caller)
	}
	return added
}

// removeConnection removes the peer from the connection tables without notifying it.
func (node *Node) removeConnection(address string, reason string) (peer *PeerInfo) {
	if peer = node.callers.Remove(address); peer == nil {
		peer = node.listeners.Remove(address)
	}
	if peer != nil {
		node.filters.PeerDisconnect(node, peer, reason)
	}
	return peer
}

// Disconnect removes the connection on both sides. The remote peer is notified with a disconnect packet.
func (node *Node) Disconnect(address string, reason string) (peer *PeerInfo) {
	if peer = node.removeConnection(address, reason); peer == nil {
		return nil
	}

	if err := node.Router.Send(address, protocol.NewDisconnect(reason)); err != nil {
		node.filters.LogError("Disconnect", "notifying peer %d at '%s': %v\n", peer.ID, address, err)
	}
	return peer
}

// touch updates the last update time of a connected peer.
func (node *Node) touch(address string) {
	if peer, _ := node.GetConnection(address); peer != nil {
		peer.LastUpdated = node.now()
	}
}
