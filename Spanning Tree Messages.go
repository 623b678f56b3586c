/*
File Name:  Spanning Tree Messages.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	"github.com/PeernetOfficial/overlay/protocol"
)

// OnInitialize registers all packet handlers of the spanning tree protocol and the fragment announcement.
func (tree *SpanningTree) OnInitialize() {
	router := tree.node.Router
	router.RegisterHandler(protocol.CommandFragmentTest, tree.handleTest)
	router.RegisterHandler(protocol.CommandFragmentInitiate, tree.handleInitiate)
	router.RegisterHandler(protocol.CommandFragmentReport, tree.handleReport)
	router.RegisterHandler(protocol.CommandFragmentChangeRoot, tree.handleChangeRoot)
	router.RegisterHandler(protocol.CommandFragmentConnect, tree.handleConnect)
	router.RegisterHandler(protocol.CommandFragmentMerged, tree.handleMerged)
	router.RegisterHandler(protocol.CommandFragmentRestart, tree.handleRestart)
	router.RegisterHandler(protocol.CommandFragmentHalt, tree.handleHalt)

	tree.node.Gossip.RegisterHandler(protocol.CommandFragmentGossip, tree.handleGossip)
	tree.node.Gossip.RegisterPreRoundCallback(tree.announce)
}

// announce gossips the own fragment to the neighbors.
func (tree *SpanningTree) announce() {
	if tree.State == FragmentSleeping {
		return
	}

	tree.node.Gossip.BufferAdd(protocol.NewFragmentGossip(tree.node.ID, tree.FragmentID, tree.Level, tree.State == FragmentDone))
}

// handleGossip records fragment announcements of neighbors. They are not relayed.
func (tree *SpanningTree) handleGossip(packet protocol.Gossipable) {
	announcement, ok := packet.(*protocol.FragmentGossipPacket)
	if !ok || !tree.node.IsConnected(announcement.CasterAddress) {
		return
	}

	tree.observe(announcement.CasterAddress, announcement.FragmentID, announcement.FragmentLevel, announcement.Converged)
}

// handleTest answers a fragment test with the own fragment. A sleeping node wakes up first.
func (tree *SpanningTree) handleTest(packet protocol.Packet) {
	test, ok := packet.(*protocol.FragmentTestPacket)
	if !ok {
		return
	}

	tree.Start()
	tree.observe(test.SenderAddress, test.FragmentID, test.FragmentLevel, false)

	if err := tree.node.Router.SendResponse(test, protocol.NewFragmentTestResponse(tree.FragmentID, tree.Level)); err != nil {
		tree.node.filters.LogError("SpanningTree.handleTest", "responding to '%s': %v\n", test.SenderAddress, err)
	}
}

// handleInitiate adopts the fragment of the sender, which becomes the parent, and forwards the initiate down the tree.
func (tree *SpanningTree) handleInitiate(packet protocol.Packet) {
	initiate, ok := packet.(*protocol.FragmentInitiatePacket)
	if !ok || tree.State == FragmentDone {
		return
	}

	from := initiate.SenderAddress
	if tree.branches[from] == nil && !tree.addBranch(from) {
		return
	}

	tree.parent = from
	tree.FragmentID = initiate.FragmentID
	tree.Level = initiate.FragmentLevel
	tree.Phase = initiate.Phase
	tree.resetSearch()

	for _, address := range tree.sortedBranches() {
		if address != from {
			tree.send(address, protocol.NewFragmentInitiate(tree.FragmentID, tree.Level, tree.Phase, initiate.Find))
		}
	}

	if !initiate.Find {
		tree.setState(FragmentFound)
		tree.evaluatePending()
		return
	}

	tree.setState(FragmentFind)
	tree.pendingReports = len(tree.branches) - 1
	tree.evaluatePending()
	tree.testNext()
}

// handleReport folds the best edge of a child into the own best edge.
func (tree *SpanningTree) handleReport(packet protocol.Packet) {
	report, ok := packet.(*protocol.FragmentReportPacket)
	if !ok {
		return
	}

	from := report.SenderAddress
	if report.FragmentID != tree.FragmentID || report.Phase != tree.Phase || tree.State != FragmentFind || tree.branches[from] == nil || from == tree.parent {
		return
	}

	if report.Edge.Less(tree.best) {
		tree.best = report.Edge.Copy()
		tree.bestVia = from
	}

	tree.pendingReports--
	tree.checkReport()
}

// handleChangeRoot routes the decision of the leader towards the inner node of the minimum outgoing edge.
func (tree *SpanningTree) handleChangeRoot(packet protocol.Packet) {
	changeRoot, ok := packet.(*protocol.FragmentChangeRootPacket)
	if !ok || changeRoot.FragmentID != tree.FragmentID || changeRoot.Phase != tree.Phase || tree.best == nil {
		return
	}

	if tree.bestVia == "" {
		tree.changeRoot()
		return
	}

	tree.send(tree.bestVia, protocol.NewFragmentChangeRoot(tree.FragmentID, tree.Phase))
}

// handleConnect absorbs, merges or defers a connect from another fragment.
func (tree *SpanningTree) handleConnect(packet protocol.Packet) {
	connect, ok := packet.(*protocol.FragmentConnectPacket)
	if !ok {
		return
	}

	tree.Start()

	from := connect.SenderAddress
	switch {
	case connect.FragmentID == tree.FragmentID:
		// stale, already in the same fragment
	case connect.FragmentLevel < tree.Level:
		tree.absorb(from)
	case connect.FragmentLevel == tree.Level && tree.connectSentTo == from:
		tree.merge(from, connect)
	default:
		tree.pendingConnects[from] = connect
	}
}

// handleMerged forwards the merge notification to the leader, which starts the next phase.
func (tree *SpanningTree) handleMerged(packet protocol.Packet) {
	merged, ok := packet.(*protocol.FragmentMergedPacket)
	if !ok || merged.FragmentID != tree.FragmentID {
		return
	}

	if !tree.IsLeader() {
		tree.send(tree.parent, protocol.NewFragmentMerged(merged.FragmentID, merged.FragmentLevel))
		return
	}

	if merged.FragmentLevel > tree.Level {
		tree.Level = merged.FragmentLevel
		tree.startPhase()
	}
}

// handleRestart forwards the restart request to the leader, which starts a new phase at the same level.
func (tree *SpanningTree) handleRestart(packet protocol.Packet) {
	restart, ok := packet.(*protocol.FragmentRestartPacket)
	if !ok || restart.FragmentID != tree.FragmentID || restart.Phase != tree.Phase {
		return
	}

	if !tree.IsLeader() {
		tree.send(tree.parent, protocol.NewFragmentRestart(restart.FragmentID, restart.Phase))
		return
	}

	tree.startPhase()
}

// handleHalt finishes the protocol.
func (tree *SpanningTree) handleHalt(packet protocol.Packet) {
	halt, ok := packet.(*protocol.FragmentHaltPacket)
	if !ok || halt.FragmentID != tree.FragmentID || tree.State == FragmentDone {
		return
	}

	tree.halt(halt.SenderAddress)
}
