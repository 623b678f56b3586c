/*
File Name:  Simulation.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The simulation owns the clock, the network and all nodes. Each step first delivers all packets that arrived
and then ticks every node. Nodes are ticked in the order they were added.
*/

package core

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/PeernetOfficial/overlay/protocol"
	"github.com/PeernetOfficial/overlay/store"
	"github.com/google/uuid"
)

// ErrUnknownNode is returned when a node is not part of the simulation.
var ErrUnknownNode = errors.New("unknown node")

// simulationEpoch is the start of the simulated clock.
var simulationEpoch = time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)

// Event is an observation reported by a node.
type Event struct {
	Type   string                 `json:"type"` // Type of event, see constants below.
	Time   time.Time              `json:"time"` // Simulated time.
	NodeID int64                  `json:"node"` // Node reporting the event.
	PeerID int64                  `json:"peer"` // Remote peer if applicable.
	Data   map[string]interface{} `json:"data"` // Event specific data.
}

// Event types
const (
	EventNewPeer          = "new_peer"
	EventPeerDisconnect   = "peer_disconnect"
	EventConsensusDecided = "consensus_decided"
	EventFragmentChange   = "fragment_change"
	EventTreeConverged    = "tree_converged"
)

// TreeEdge is an edge of the spanning tree. A is always the lower peer ID.
type TreeEdge struct {
	A    int64   `json:"a"`
	B    int64   `json:"b"`
	Cost float64 `json:"cost"`
}

// Simulation is a set of nodes connected through a simulated network.
// All exported functions are safe for concurrent use.
type Simulation struct {
	RunID   uuid.UUID
	Config  *Config
	Filters *Filters // Filters installed by the caller. Events are derived from them.

	sync.Mutex
	filters  *Filters // Filters passed to the nodes
	network  *Network
	nodes    []*Node
	nodeByID map[int64]*Node
	now      time.Time
	rand     *rand.Rand
	database store.Store
	counter  int // Count of nodes ever added, used for addresses

	monitors      map[int]chan Event
	monitorNext   int
	EventsDropped uint64
}

// NewSimulation creates a new empty simulation. The filters may be nil.
func NewSimulation(config *Config, filters *Filters) (simulation *Simulation, err error) {
	if filters == nil {
		filters = &Filters{}
	}
	filters.init()

	simulation = &Simulation{
		RunID:    uuid.New(),
		Config:   config,
		Filters:  filters,
		nodeByID: make(map[int64]*Node),
		now:      simulationEpoch,
		rand:     rand.New(rand.NewSource(config.Seed)),
		monitors: make(map[int]chan Event),
	}

	if config.BlacklistDatabase != "" {
		if simulation.database, err = store.NewPogrebStore(config.BlacklistDatabase); err != nil {
			return nil, fmt.Errorf("opening blacklist database: %w", err)
		}
	} else {
		simulation.database = store.NewMemoryStore()
	}

	simulation.network = NewNetwork(config.LatencyMin, config.LatencyMax, rand.New(rand.NewSource(config.Seed+1)))
	simulation.filters = simulation.wrapFilters(filters)

	return simulation, nil
}

// wrapFilters returns filters that call the caller's filters and emit events to the monitors.
func (simulation *Simulation) wrapFilters(user *Filters) *Filters {
	return &Filters{
		NewPeer: func(node *Node, peer *PeerInfo, caller bool) {
			user.NewPeer(node, peer, caller)
			simulation.emit(EventNewPeer, node, peer.ID, map[string]interface{}{"caller": caller, "cost": peer.LinkCost})
		},
		PeerDisconnect: func(node *Node, peer *PeerInfo, reason string) {
			user.PeerDisconnect(node, peer, reason)
			simulation.emit(EventPeerDisconnect, node, peer.ID, map[string]interface{}{"reason": reason})
		},
		BroadcastDuplicate: user.BroadcastDuplicate,
		GossipRound:        user.GossipRound,
		ConsensusDecided: func(node *Node, consensusID int64, choice int, votes int) {
			user.ConsensusDecided(node, consensusID, choice, votes)
			simulation.emit(EventConsensusDecided, node, 0, map[string]interface{}{"consensus": consensusID, "choice": choice, "votes": votes})
		},
		FragmentChange: func(node *Node, fragmentID int64, level int32, state FragmentState) {
			user.FragmentChange(node, fragmentID, level, state)
			simulation.emit(EventFragmentChange, node, 0, map[string]interface{}{"fragment": fragmentID, "level": level, "state": state.String()})
		},
		TreeConverged: func(node *Node, fragmentID int64) {
			user.TreeConverged(node, fragmentID)
			simulation.emit(EventTreeConverged, node, 0, map[string]interface{}{"fragment": fragmentID})
		},
		LogError: user.LogError,
	}
}

// emit sends the event to all monitors. Slow monitors lose events. The lock is held by the caller.
func (simulation *Simulation) emit(eventType string, node *Node, peerID int64, data map[string]interface{}) {
	if len(simulation.monitors) == 0 {
		return
	}

	event := Event{Type: eventType, Time: simulation.now, NodeID: node.ID, PeerID: peerID, Data: data}
	for _, monitor := range simulation.monitors {
		select {
		case monitor <- event:
		default:
			simulation.EventsDropped++
		}
	}
}

// SubscribeEvents registers a new event monitor. The channel is closed by UnsubscribeEvents or Close.
func (simulation *Simulation) SubscribeEvents(buffer int) (id int, events <-chan Event) {
	simulation.Lock()
	defer simulation.Unlock()

	monitor := make(chan Event, buffer)
	id = simulation.monitorNext
	simulation.monitorNext++
	simulation.monitors[id] = monitor
	return id, monitor
}

// UnsubscribeEvents removes the event monitor.
func (simulation *Simulation) UnsubscribeEvents(id int) {
	simulation.Lock()
	defer simulation.Unlock()

	if monitor, ok := simulation.monitors[id]; ok {
		close(monitor)
		delete(simulation.monitors, id)
	}
}

func (simulation *Simulation) clock() time.Time {
	return simulation.now
}

// Now returns the simulated time.
func (simulation *Simulation) Now() time.Time {
	simulation.Lock()
	defer simulation.Unlock()
	return simulation.now
}

// Elapsed returns the simulated time since the start.
func (simulation *Simulation) Elapsed() time.Duration {
	simulation.Lock()
	defer simulation.Unlock()
	return simulation.now.Sub(simulationEpoch)
}

// AddNode creates a new node with a fresh identity and initializes it.
func (simulation *Simulation) AddNode() (node *Node, err error) {
	simulation.Lock()
	defer simulation.Unlock()

	return simulation.addNode()
}

func (simulation *Simulation) addNode() (node *Node, err error) {
	identity, err := NewIdentity(simulation.rand)
	if err != nil {
		return nil, err
	}
	if simulation.nodeByID[identity.PeerID] != nil {
		return nil, fmt.Errorf("duplicate peer ID %d", identity.PeerID)
	}

	simulation.counter++
	address := fmt.Sprintf("10.0.%d.%d:112", simulation.counter/256, simulation.counter%256)

	if node, err = NewNode(identity, address, simulation.Config, simulation.filters, simulation.network, simulation.database, simulation.clock, simulation.rand.Int63()); err != nil {
		return nil, err
	}

	simulation.nodes = append(simulation.nodes, node)
	simulation.nodeByID[node.ID] = node
	node.OnInitialize()

	return node, nil
}

// AddNodes adds count nodes.
func (simulation *Simulation) AddNodes(count int) (err error) {
	simulation.Lock()
	defer simulation.Unlock()

	for n := 0; n < count; n++ {
		if _, err = simulation.addNode(); err != nil {
			return err
		}
	}
	return nil
}

// Link connects the two nodes directly with the given link cost, bypassing the connection handshake. Node a becomes the caller of b.
func (simulation *Simulation) Link(a, b int64, cost float64) (err error) {
	simulation.Lock()
	defer simulation.Unlock()

	nodeA, nodeB := simulation.nodeByID[a], simulation.nodeByID[b]
	if nodeA == nil || nodeB == nil {
		return ErrUnknownNode
	}
	if nodeA.IsConnected(nodeB.Address) || nodeB.IsConnected(nodeA.Address) {
		return fmt.Errorf("nodes %d and %d are already connected", a, b)
	}

	if !nodeA.addConnection(&PeerInfo{ID: nodeB.ID, Address: nodeB.Address, LinkCost: cost}, false) {
		return fmt.Errorf("node %d has no listener capacity", a)
	}
	if !nodeB.addConnection(&PeerInfo{ID: nodeA.ID, Address: nodeA.Address, LinkCost: cost}, true) {
		nodeA.removeConnection(nodeB.Address, "link failed")
		return fmt.Errorf("node %d has no caller capacity", b)
	}
	return nil
}

// Step advances the simulated time by dt, delivers due packets and ticks all nodes.
func (simulation *Simulation) Step(dt time.Duration) {
	simulation.Lock()
	defer simulation.Unlock()

	simulation.step(dt)
}

func (simulation *Simulation) step(dt time.Duration) {
	simulation.now = simulation.now.Add(dt)
	simulation.network.DeliverDue(simulation.now)

	for _, node := range simulation.nodes {
		node.OnUpdate(dt)
	}
}

// Run runs the simulation for the given duration in steps of the tick interval.
func (simulation *Simulation) Run(duration time.Duration) {
	simulation.RunUntil(func() bool { return false }, duration)
}

// RunUntil runs the simulation until the condition is true or the timeout elapsed. The condition is checked
// after every step while the simulation is locked; it may inspect nodes but must not call other functions of the simulation.
func (simulation *Simulation) RunUntil(condition func() bool, timeout time.Duration) (reached bool) {
	simulation.Lock()
	defer simulation.Unlock()

	tick := simulation.Config.TickInterval
	if tick <= 0 {
		tick = 50 * time.Millisecond
	}

	for elapsed := time.Duration(0); elapsed < timeout; elapsed += tick {
		simulation.step(tick)
		if condition() {
			return true
		}
	}
	return false
}

// FreezeTopology stops all nodes from creating new connections.
func (simulation *Simulation) FreezeTopology() {
	simulation.Lock()
	defer simulation.Unlock()

	for _, node := range simulation.nodes {
		node.connector.Frozen = true
	}
}

// StartSpanningTree freezes the topology and wakes up the spanning tree protocol on all nodes.
func (simulation *Simulation) StartSpanningTree() {
	simulation.Lock()
	defer simulation.Unlock()

	for _, node := range simulation.nodes {
		node.connector.Frozen = true
	}
	for _, node := range simulation.nodes {
		node.Tree.Start()
	}
}

// Converged checks if all nodes finished the spanning tree in the same fragment.
func (simulation *Simulation) Converged() bool {
	simulation.Lock()
	defer simulation.Unlock()

	return simulation.converged()
}

func (simulation *Simulation) converged() bool {
	if len(simulation.nodes) == 0 {
		return false
	}

	fragment := simulation.nodes[0].Tree.FragmentID
	for _, node := range simulation.nodes {
		if !node.Tree.Converged() || node.Tree.FragmentID != fragment {
			return false
		}
	}
	return true
}

// RunUntilConverged runs the simulation until the spanning tree converged or the timeout elapsed.
func (simulation *Simulation) RunUntilConverged(timeout time.Duration) bool {
	return simulation.RunUntil(simulation.converged, timeout)
}

// TreeEdges returns all edges of the spanning tree as seen by the nodes, deduplicated and sorted by cost.
func (simulation *Simulation) TreeEdges() (edges []TreeEdge) {
	simulation.Lock()
	defer simulation.Unlock()

	seen := make(map[[2]int64]bool)
	for _, node := range simulation.nodes {
		for _, edge := range node.Tree.Edges() {
			a, b := node.ID, edge.PeerID
			if a > b {
				a, b = b, a
			}
			if seen[[2]int64{a, b}] {
				continue
			}
			seen[[2]int64{a, b}] = true

			cost := 0.0
			if peer, _ := node.GetConnection(edge.Address); peer != nil {
				cost = peer.LinkCost
			}
			edges = append(edges, TreeEdge{A: a, B: b, Cost: cost})
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		return protocol.NewEdgeWeight(edges[i].Cost, edges[i].A, edges[i].B).Less(protocol.NewEdgeWeight(edges[j].Cost, edges[j].A, edges[j].B))
	})
	return edges
}

// GraphEdges returns all connections between nodes as undirected edges, sorted by weight.
func (simulation *Simulation) GraphEdges() (edges []TreeEdge) {
	simulation.Lock()
	defer simulation.Unlock()

	for _, node := range simulation.nodes {
		for _, peer := range node.Listeners() {
			a, b := node.ID, peer.ID
			if a > b {
				a, b = b, a
			}
			edges = append(edges, TreeEdge{A: a, B: b, Cost: peer.LinkCost})
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		return protocol.NewEdgeWeight(edges[i].Cost, edges[i].A, edges[i].B).Less(protocol.NewEdgeWeight(edges[j].Cost, edges[j].A, edges[j].B))
	})
	return edges
}

// RemoveNode shuts the node down and removes it from the simulation.
func (simulation *Simulation) RemoveNode(id int64) (err error) {
	simulation.Lock()
	defer simulation.Unlock()

	node := simulation.nodeByID[id]
	if node == nil {
		return ErrUnknownNode
	}

	node.Shutdown()
	delete(simulation.nodeByID, id)
	for n := range simulation.nodes {
		if simulation.nodes[n] == node {
			simulation.nodes = append(simulation.nodes[:n], simulation.nodes[n+1:]...)
			break
		}
	}
	return nil
}

// Node returns the node with the peer ID, or nil if not found.
func (simulation *Simulation) Node(id int64) *Node {
	simulation.Lock()
	defer simulation.Unlock()

	return simulation.nodeByID[id]
}

// Nodes returns all nodes in the order they were added.
func (simulation *Simulation) Nodes() (nodes []*Node) {
	simulation.Lock()
	defer simulation.Unlock()

	return append(nodes, simulation.nodes...)
}

// Network returns the simulated network.
func (simulation *Simulation) Network() *Network {
	return simulation.network
}

// Close closes the blacklist database and all event monitors.
func (simulation *Simulation) Close() (err error) {
	simulation.Lock()
	defer simulation.Unlock()

	for id, monitor := range simulation.monitors {
		close(monitor)
		delete(simulation.monitors, id)
	}

	return simulation.database.Close()
}

// WithNode calls the function with the node while the simulation is locked.
func (simulation *Simulation) WithNode(id int64, callback func(node *Node)) (err error) {
	simulation.Lock()
	defer simulation.Unlock()

	node := simulation.nodeByID[id]
	if node == nil {
		return ErrUnknownNode
	}

	callback(node)
	return nil
}

// WithNodes calls the function with all nodes while the simulation is locked.
func (simulation *Simulation) WithNodes(callback func(nodes []*Node)) {
	simulation.Lock()
	defer simulation.Unlock()

	callback(simulation.nodes)
}
