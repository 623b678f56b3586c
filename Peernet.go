/*
File Name:  Peernet.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	"errors"
	"math/rand"
	"time"

	"github.com/PeernetOfficial/overlay/protocol"
	"github.com/PeernetOfficial/overlay/store"
)

// ErrNoConnection is returned when a packet cannot be sent because the node has no connection.
var ErrNoConnection = errors.New("no connection")

// Component is part of a node. Components are created together with the node and may implement OnInitialize and OnUpdate.
type Component interface{}

// Initializer is implemented by components that need to be initialized once all components of the node exist.
type Initializer interface {
	OnInitialize()
}

// Updater is implemented by components that are ticked.
type Updater interface {
	OnUpdate(dt time.Duration)
}

// Node is a single peer of the overlay. All of its state is only accessed from within its tick.
type Node struct {
	ID      int64  // Peer ID derived from the public key
	Address string // Network address

	identity *Identity
	config   *Config
	filters  *Filters
	network  *Network
	rand     *rand.Rand
	clock    func() time.Time

	callers   *PeerTable // Peers that connected to this node
	listeners *PeerTable // Peers this node connected to

	inbox      []protocol.Packet
	components []Component

	Router      *Router
	Broadcaster *Broadcaster
	Gossip      *Gossip
	Highest     *HighestPeerSearch
	PeerCount   *PeerCounter
	Consensus   *Consensus
	Tree        *SpanningTree
	Liveness    *Liveness
	Blacklist   *Blacklist
	connector   *Connector
	seeds       *seedList

	initialized bool
}

// NewNode creates a new node and attaches it to the network. The clock provides the simulated time.
// Filters must be initialized by the caller; they are shared by all nodes of a simulation.
func NewNode(identity *Identity, address string, config *Config, filters *Filters, network *Network, blacklist store.Store, clock func() time.Time, seed int64) (node *Node, err error) {
	node = &Node{
		ID:        identity.PeerID,
		Address:   address,
		identity:  identity,
		config:    config,
		filters:   filters,
		network:   network,
		rand:      rand.New(rand.NewSource(seed)),
		clock:     clock,
		callers:   NewPeerTable(config.TargetCallers),
		listeners: NewPeerTable(config.TargetListeners),
	}

	node.Router = newRouter(node)
	if node.Broadcaster, err = newBroadcaster(node); err != nil {
		return nil, err
	}
	node.connector = newConnector(node)
	node.seeds = newSeedList(node)
	node.Liveness = newLiveness(node)
	node.Gossip = newGossip(node)
	node.PeerCount = newPeerCounter(node)
	node.Highest = newHighestPeerSearch(node)
	node.Consensus = newConsensus(node)
	node.Tree = newSpanningTree(node)
	node.Blacklist = NewBlacklist(blacklist, node.ID)

	// The router runs first so that expired requests are resolved before components act on the tick.
	node.components = []Component{node.Router, node.Broadcaster, node.seeds, node.connector, node.Liveness, node.Gossip, node.PeerCount, node.Highest, node.Consensus, node.Tree}

	network.Attach(address, node)

	return node, nil
}

// Identity returns the key pair of the node.
func (node *Node) Identity() *Identity {
	return node.identity
}

// Config returns the configuration the node runs with.
func (node *Node) Config() *Config {
	return node.config
}

// Connector returns the connection manager of the node.
func (node *Node) Connector() *Connector {
	return node.connector
}

func (node *Node) now() time.Time {
	return node.clock()
}

// newRandomID returns a random positive non-zero ID.
func (node *Node) newRandomID() int64 {
	for {
		if id := node.rand.Int63(); id != 0 {
			return id
		}
	}
}

// Receive queues a packet from the network. It is processed on the next tick.
func (node *Node) Receive(packet protocol.Packet) {
	node.inbox = append(node.inbox, packet)
}

// OnInitialize initializes all components. It has no effect when called again.
func (node *Node) OnInitialize() {
	if node.initialized {
		return
	}
	node.initialized = true

	for _, component := range node.components {
		if initializer, ok := component.(Initializer); ok {
			initializer.OnInitialize()
		}
	}
}

// OnUpdate processes all received packets and then ticks the components in order.
func (node *Node) OnUpdate(dt time.Duration) {
	inbox := node.inbox
	node.inbox = nil

	for _, packet := range inbox {
		node.Router.Deliver(packet)
	}

	for _, component := range node.components {
		if updater, ok := component.(Updater); ok {
			updater.OnUpdate(dt)
		}
	}
}

// AddCandidate adds a peer as connection candidate, for example as bootstrap peer.
func (node *Node) AddCandidate(record protocol.PeerRecord) {
	node.connector.AddCandidate(record)
}

// Shutdown disconnects all peers and detaches the node from the network.
func (node *Node) Shutdown() {
	for _, peer := range node.Connections() {
		node.Disconnect(peer.Address, "shutdown")
	}
	node.network.Detach(node.Address)
}
