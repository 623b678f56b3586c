/*
File Name:  Spanning Tree.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Distributed minimum spanning tree over the connection graph, following the fragment merge protocol of Gallager, Humblet and Spira.

Every node starts as its own fragment. The fragment ID is the peer ID of the fragment leader. The leader starts a search phase,
every node of the fragment tests its non-tree edges in ascending weight order and the cheapest outgoing edge is reported up to
the leader. The inner node of the minimum outgoing edge then sends a connect over it:
* A fragment with a lower level is absorbed without level change.
* Two fragments of the same level that chose the same edge merge. The new level is the old one + 1, the higher fragment ID survives.
  Both endpoints compute the same result, so the merge is symmetric.
* A connect from a fragment of the same level over another edge is deferred until the level of the receiver rises.

A test response with a different fragment ID and a lower level may be stale, the test is repeated later.
A minimum outgoing edge expires; before it is acted upon it is tested again and either refreshed or the phase is restarted.
The algorithm terminates once the leader learns that no outgoing edge is left.
*/

package core

import (
	"sort"
	"time"

	"github.com/PeernetOfficial/overlay/protocol"
)

// fragmentTestBackoffLimit caps the test timeout of an edge at this multiple of FragmentTestTimeout.
const fragmentTestBackoffLimit = 16

// FragmentState is the state of a node in the spanning tree protocol.
type FragmentState int

// States of the spanning tree protocol
const (
	FragmentSleeping FragmentState = iota // Not started
	FragmentFind                          // Searching the minimum outgoing edge
	FragmentFound                         // Search finished and reported, waiting for the decision of the leader
	FragmentMerging                       // Connect sent or merged, waiting for the next phase
	FragmentDone                          // Spanning tree complete
)

func (state FragmentState) String() string {
	switch state {
	case FragmentSleeping:
		return "Sleeping"
	case FragmentFind:
		return "Find"
	case FragmentFound:
		return "Found"
	case FragmentMerging:
		return "Merging"
	case FragmentDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// fragmentObservation is the last known fragment of a neighbor.
type fragmentObservation struct {
	FragmentID int64
	Level      int32
	Converged  bool
	Seen       time.Time
}

// SpanningTree is the spanning tree engine of a node.
type SpanningTree struct {
	node *Node

	State      FragmentState
	FragmentID int64
	Level      int32
	Phase      int64

	parent   string                         // Address of the parent, empty for the leader
	branches map[string]*protocol.GraphEdge // Tree edges. Key = address.
	rejected map[string]bool                // Edges within the fragment

	// search of the current phase
	searchID       uint64 // Identifies the current search. Test responses of previous searches are ignored.
	testing        string // Address of the outstanding test
	retryAddress   string // Address to test again at retryAt
	retryAt        time.Time
	localDone      bool                          // Whether the local search finished
	pendingReports int                           // Count of children that have not reported
	best           *protocol.MinimumOutgoingEdge // Best known outgoing edge of the subtree
	bestVia        string                        // Branch that reported the best edge. Empty = local edge.

	connectSentTo   string                                     // Outer node of the connect sent in this phase
	pendingConnects map[string]*protocol.FragmentConnectPacket // Deferred connects. Key = address.
	observations    map[string]*fragmentObservation            // Fragments of neighbors. Key = address.
	testTimeouts    map[string]time.Duration                   // Test timeouts raised after a timeout. Key = address.
	phaseCounter    int64

	notified struct {
		id    int64
		level int32
		state FragmentState
	}

	// statistics
	Tests     uint64
	Absorbs   uint64
	Merges    uint64
	Refreshes uint64
	Restarts  uint64
	Timeouts  uint64
	Stale     uint64 // Test answers of a lower level that were retried
}

func newSpanningTree(node *Node) *SpanningTree {
	return &SpanningTree{
		node:            node,
		branches:        make(map[string]*protocol.GraphEdge),
		rejected:        make(map[string]bool),
		pendingConnects: make(map[string]*protocol.FragmentConnectPacket),
		observations:    make(map[string]*fragmentObservation),
		testTimeouts:    make(map[string]time.Duration),
	}
}

// Start makes the node its own fragment and starts the first search phase. It has no effect if already started.
func (tree *SpanningTree) Start() {
	if tree.State != FragmentSleeping {
		return
	}

	tree.FragmentID = tree.node.ID
	tree.Level = 0
	tree.parent = ""
	tree.startPhase()
}

// OnUpdate repeats tests of stale neighbors when due.
func (tree *SpanningTree) OnUpdate(dt time.Duration) {
	if tree.retryAddress != "" && !tree.node.now().Before(tree.retryAt) {
		tree.retryAddress = ""
		tree.testNext()
	}
}

// IsLeader checks if the node is the leader of its fragment.
func (tree *SpanningTree) IsLeader() bool {
	return tree.State != FragmentSleeping && tree.FragmentID == tree.node.ID
}

// ParentEdge returns the tree edge towards the leader. The leader has none.
func (tree *SpanningTree) ParentEdge() (edge protocol.GraphEdge, valid bool) {
	if tree.parent == "" {
		return edge, false
	}
	if branch := tree.branches[tree.parent]; branch != nil {
		return *branch, true
	}
	return edge, false
}

// Edges returns all tree edges of the node sorted by peer ID.
func (tree *SpanningTree) Edges() (edges []protocol.GraphEdge) {
	for _, edge := range tree.branches {
		edges = append(edges, *edge)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].PeerID < edges[j].PeerID })
	return edges
}

// MinimumOutgoingEdge returns a copy of the best known outgoing edge of the current phase, or nil.
func (tree *SpanningTree) MinimumOutgoingEdge() *protocol.MinimumOutgoingEdge {
	return tree.best.Copy()
}

// weight returns the weight of the edge to the peer.
func (tree *SpanningTree) weight(peer *PeerInfo) protocol.EdgeWeight {
	return protocol.NewEdgeWeight(peer.LinkCost, tree.node.ID, peer.ID)
}

// neighbors returns all connections sorted by ascending edge weight.
func (tree *SpanningTree) neighbors() (peers []*PeerInfo) {
	peers = tree.node.Connections()
	sort.Slice(peers, func(i, j int) bool { return tree.weight(peers[i]).Less(tree.weight(peers[j])) })
	return peers
}

func (tree *SpanningTree) sortedBranches() (addresses []string) {
	for address := range tree.branches {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	return addresses
}

// addBranch marks the edge to the connected peer as tree edge.
func (tree *SpanningTree) addBranch(address string) bool {
	peer, _ := tree.node.GetConnection(address)
	if peer == nil {
		tree.node.filters.LogError("SpanningTree.addBranch", "peer '%s' is not connected\n", address)
		return false
	}

	tree.branches[address] = &protocol.GraphEdge{PeerID: peer.ID, Address: address}
	delete(tree.rejected, address)
	return true
}

func (tree *SpanningTree) send(address string, packet protocol.Packet) {
	if err := tree.node.Router.Send(address, packet); err != nil {
		tree.node.filters.LogError("SpanningTree", "sending %s to '%s': %v\n", packet.Header().Command, address, err)
	}
}

// setState changes the state and calls the FragmentChange filter if anything changed.
func (tree *SpanningTree) setState(state FragmentState) {
	tree.State = state

	if tree.notified.id == tree.FragmentID && tree.notified.level == tree.Level && tree.notified.state == state {
		return
	}
	tree.notified.id, tree.notified.level, tree.notified.state = tree.FragmentID, tree.Level, state
	tree.node.filters.FragmentChange(tree.node, tree.FragmentID, tree.Level, state)
}

func (tree *SpanningTree) resetSearch() {
	tree.searchID++
	tree.testing = ""
	tree.retryAddress = ""
	tree.localDone = false
	tree.pendingReports = 0
	tree.best = nil
	tree.bestVia = ""
	tree.connectSentTo = ""
}

// startPhase starts a new search phase. Only the leader calls it.
func (tree *SpanningTree) startPhase() {
	tree.phaseCounter++
	tree.Phase = tree.phaseCounter

	tree.resetSearch()
	tree.setState(FragmentFind)
	tree.pendingReports = len(tree.branches)

	for _, address := range tree.sortedBranches() {
		tree.send(address, protocol.NewFragmentInitiate(tree.FragmentID, tree.Level, tree.Phase, true))
	}

	tree.evaluatePending()
	tree.testNext()
}

// testNext tests the cheapest edge that is neither a tree edge nor known to be internal.
func (tree *SpanningTree) testNext() {
	if tree.State != FragmentFind || tree.localDone || tree.testing != "" || tree.retryAddress != "" {
		return
	}

	for _, peer := range tree.neighbors() {
		if tree.branches[peer.Address] != nil || tree.rejected[peer.Address] {
			continue
		}

		// A neighbor that announced the same fragment is part of it.
		if observation := tree.observations[peer.Address]; observation != nil && observation.FragmentID == tree.FragmentID {
			tree.rejected[peer.Address] = true
			continue
		}

		tree.sendTest(peer)
		return
	}

	tree.localDone = true
	tree.checkReport()
}

// sendTest sends a fragment test to the peer. Timeouts re-issue the test.
func (tree *SpanningTree) sendTest(peer *PeerInfo) {
	searchID := tree.searchID
	address := peer.Address
	tree.testing = address
	tree.Tests++

	err := tree.node.Router.SendRequest(address, protocol.NewFragmentTest(tree.FragmentID, tree.Level), func(response protocol.Response, rtt time.Duration) {
		tree.onTestResponse(searchID, address, response)
	}, tree.testTimeout(address))

	if err != nil {
		tree.testing = ""
		tree.retryAddress = address
		tree.retryAt = tree.node.now().Add(tree.node.config.FragmentRetry)
	}
}

func (tree *SpanningTree) onTestResponse(searchID uint64, address string, response protocol.Response) {
	if searchID != tree.searchID || tree.testing != address {
		return
	}
	tree.testing = ""

	result, ok := response.(*protocol.FragmentTestResponsePacket)
	if !ok || result == nil {
		tree.backoff(address)
		tree.testNext()
		return
	}

	tree.observe(address, result.FragmentID, result.FragmentLevel, false)

	peer, _ := tree.node.GetConnection(address)
	switch {
	case peer == nil || tree.branches[address] != nil:
		tree.testNext()

	case result.FragmentID == tree.FragmentID:
		tree.rejected[address] = true
		tree.testNext()

	case result.FragmentLevel >= tree.Level:
		edge := protocol.NewMinimumOutgoingEdge(tree.node.ID, peer.Record(), result.FragmentID, result.FragmentLevel, tree.weight(peer), tree.node.now(), tree.node.config.FragmentExpiration)
		if edge.Less(tree.best) {
			tree.best = edge
			tree.bestVia = ""
		}
		tree.localDone = true
		tree.checkReport()

	default:
		// The peer may already belong to this fragment without knowing it yet.
		tree.Stale++
		tree.retryAddress = address
		tree.retryAt = tree.node.now().Add(tree.node.config.FragmentRetry)
	}
}

// testTimeout returns the test timeout of the edge to the peer.
func (tree *SpanningTree) testTimeout(address string) time.Duration {
	if timeout, ok := tree.testTimeouts[address]; ok {
		return timeout
	}
	return tree.node.config.FragmentTestTimeout
}

// backoff doubles the test timeout of the edge after a timeout. A slow link keeps its raised timeout.
func (tree *SpanningTree) backoff(address string) {
	tree.Timeouts++

	timeout := 2 * tree.testTimeout(address)
	if limit := fragmentTestBackoffLimit * tree.node.config.FragmentTestTimeout; timeout > limit {
		timeout = limit
	}
	tree.testTimeouts[address] = timeout
}

// observe records the fragment of a neighbor. Observations with a lower level than a previous one are stale.
func (tree *SpanningTree) observe(address string, fragmentID int64, level int32, converged bool) {
	if observation := tree.observations[address]; observation != nil && level < observation.Level {
		return
	}

	tree.observations[address] = &fragmentObservation{FragmentID: fragmentID, Level: level, Converged: converged, Seen: tree.node.now()}
}

// checkReport reports the best edge of the subtree to the parent once the local search and all children finished.
func (tree *SpanningTree) checkReport() {
	if tree.State != FragmentFind || !tree.localDone || tree.pendingReports > 0 {
		return
	}

	tree.setState(FragmentFound)

	if tree.IsLeader() {
		tree.decide()
		return
	}

	tree.send(tree.parent, protocol.NewFragmentReport(tree.FragmentID, tree.Phase, tree.best))
}

// decide is called on the leader once all reports are in.
func (tree *SpanningTree) decide() {
	switch {
	case tree.best == nil:
		tree.halt("")
	case tree.bestVia == "":
		tree.changeRoot()
	default:
		tree.send(tree.bestVia, protocol.NewFragmentChangeRoot(tree.FragmentID, tree.Phase))
	}
}

// halt finishes the protocol on this node and forwards the halt down the tree.
func (tree *SpanningTree) halt(from string) {
	tree.resetSearch()
	tree.setState(FragmentDone)

	for _, address := range tree.sortedBranches() {
		if address != from {
			tree.send(address, protocol.NewFragmentHalt(tree.FragmentID))
		}
	}

	tree.node.filters.TreeConverged(tree.node, tree.FragmentID)
}

// changeRoot acts on the minimum outgoing edge. The node is its inner node.
func (tree *SpanningTree) changeRoot() {
	edge := tree.best
	tree.setState(FragmentMerging)

	if edge.HasExpired(tree.node.now()) {
		tree.retest(edge)
		return
	}

	tree.sendConnect(edge)
}

// retest confirms an expired minimum outgoing edge. If it still leaves the fragment it is refreshed, otherwise the phase restarts.
func (tree *SpanningTree) retest(edge *protocol.MinimumOutgoingEdge) {
	searchID := tree.searchID
	tree.Tests++

	err := tree.node.Router.SendRequest(edge.OuterAddress, protocol.NewFragmentTest(tree.FragmentID, tree.Level), func(response protocol.Response, rtt time.Duration) {
		if searchID != tree.searchID {
			return
		}

		result, ok := response.(*protocol.FragmentTestResponsePacket)
		if !ok || result == nil {
			tree.backoff(edge.OuterAddress)
			tree.retest(edge)
			return
		}

		tree.observe(edge.OuterAddress, result.FragmentID, result.FragmentLevel, false)

		if result.FragmentID != tree.FragmentID && result.FragmentLevel >= tree.Level {
			edge.OuterFragmentID = result.FragmentID
			edge.OuterFragmentLevel = result.FragmentLevel
			edge.Refresh(tree.node.now())
			tree.Refreshes++
			tree.sendConnect(edge)
			return
		}

		tree.requestRestart()
	}, tree.testTimeout(edge.OuterAddress))

	if err != nil {
		tree.requestRestart()
	}
}

// requestRestart asks the leader to start a new phase at the same level.
func (tree *SpanningTree) requestRestart() {
	tree.Restarts++

	if tree.IsLeader() {
		tree.startPhase()
		return
	}

	tree.send(tree.parent, protocol.NewFragmentRestart(tree.FragmentID, tree.Phase))
}

// sendConnect sends the connect over the minimum outgoing edge. If the other side already sent a connect at the same level over the same edge, both fragments merge.
func (tree *SpanningTree) sendConnect(edge *protocol.MinimumOutgoingEdge) {
	tree.connectSentTo = edge.OuterAddress
	tree.send(edge.OuterAddress, protocol.NewFragmentConnect(tree.FragmentID, tree.Level))

	if pending := tree.pendingConnects[edge.OuterAddress]; pending != nil && pending.FragmentLevel == tree.Level {
		tree.merge(edge.OuterAddress, pending)
	}
}

// absorb adds the fragment of a lower level connecting over the edge. It joins the current phase if the search is still running.
func (tree *SpanningTree) absorb(address string) {
	delete(tree.pendingConnects, address)
	if !tree.addBranch(address) {
		return
	}

	find := tree.State == FragmentFind
	if find {
		tree.pendingReports++
	}

	tree.Absorbs++
	tree.send(address, protocol.NewFragmentInitiate(tree.FragmentID, tree.Level, tree.Phase, find))
}

// merge unites two fragments of the same level over the edge both chose. The higher fragment ID survives.
func (tree *SpanningTree) merge(address string, connect *protocol.FragmentConnectPacket) {
	delete(tree.pendingConnects, address)
	if !tree.addBranch(address) {
		return
	}

	tree.connectSentTo = ""
	tree.Merges++
	tree.Level++

	if connect.FragmentID < tree.FragmentID {
		// this side survives, the leader starts the next phase
		if tree.IsLeader() {
			tree.startPhase()
			return
		}
		tree.setState(FragmentMerging)
		tree.send(tree.parent, protocol.NewFragmentMerged(tree.FragmentID, tree.Level))
	} else {
		// this side is absorbed and waits for the initiate of the new leader
		tree.FragmentID = connect.FragmentID
		tree.parent = address
		tree.Phase = 0
		tree.setState(FragmentMerging)
	}

	tree.evaluatePending()
}

// evaluatePending absorbs deferred connects of fragments that now have a lower level.
func (tree *SpanningTree) evaluatePending() {
	var addresses []string
	for address := range tree.pendingConnects {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)

	for _, address := range addresses {
		connect := tree.pendingConnects[address]
		switch {
		case connect.FragmentID == tree.FragmentID:
			delete(tree.pendingConnects, address)
		case connect.FragmentLevel < tree.Level:
			tree.absorb(address)
		}
	}
}

// Converged checks if the protocol terminated on this node.
func (tree *SpanningTree) Converged() bool {
	return tree.State == FragmentDone
}
