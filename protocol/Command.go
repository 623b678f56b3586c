/*
File Name:  Command.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package protocol

import "strconv"

// Command identifies the packet type. It is the discriminator used to dispatch incoming packets to their handler.
type Command int16

// Commands between peers
const (
	// Connection management
	CommandPing              Command = 0 // Keep-alive message (no payload).
	CommandPong              Command = 1 // Response to ping (no payload).
	CommandHandshake         Command = 2 // Handshake: Measures the round-trip time, exchanges load and known peers.
	CommandHandshakeResponse Command = 3 // Response to handshake.
	CommandConnect           Command = 4 // Request to become a caller of the remote peer.
	CommandConnectResponse   Command = 5 // Accept or reject of a connect request.
	CommandConnectConfirm    Command = 6 // Confirms an accepted connect request.
	CommandDisconnect        Command = 7 // Removes the connection on both sides.

	// Flooding
	CommandPeerCount      Command = 10 // Broadcast to count all reachable peers.
	CommandPeerCountReply Command = 11 // Direct reply to the caster of a peer count.

	// Gossip
	CommandGossipHighestPeer Command = 20 // Highest known peer ID.
	CommandConsensus         Command = 21 // Consensus votes.
	CommandFragmentGossip    Command = 22 // Fragment membership announcement of the spanning tree.

	// Spanning tree
	CommandFragmentTest         Command = 30 // Test whether an edge leaves the fragment.
	CommandFragmentTestResponse Command = 31 // Fragment identity of the tested peer.
	CommandFragmentInitiate     Command = 32 // Starts a search phase, flows from the leader down the tree.
	CommandFragmentReport       Command = 33 // Best outgoing edge of a subtree, flows up to the leader.
	CommandFragmentChangeRoot   Command = 34 // Routes the merge decision to the inner node of the minimum outgoing edge.
	CommandFragmentConnect      Command = 35 // Merge or absorb request over the minimum outgoing edge.
	CommandFragmentMerged       Command = 36 // Notifies the leader about a merge to the next level.
	CommandFragmentRestart      Command = 37 // Asks the leader to restart the search phase.
	CommandFragmentHalt         Command = 38 // No outgoing edge is left, the tree is complete.
)

var commandNames = map[Command]string{
	CommandPing:                 "Ping",
	CommandPong:                 "Pong",
	CommandHandshake:            "Handshake",
	CommandHandshakeResponse:    "HandshakeResponse",
	CommandConnect:              "Connect",
	CommandConnectResponse:      "ConnectResponse",
	CommandConnectConfirm:       "ConnectConfirm",
	CommandDisconnect:           "Disconnect",
	CommandPeerCount:            "PeerCount",
	CommandPeerCountReply:       "PeerCountReply",
	CommandGossipHighestPeer:    "GossipHighestPeer",
	CommandConsensus:            "Consensus",
	CommandFragmentGossip:       "FragmentGossip",
	CommandFragmentTest:         "FragmentTest",
	CommandFragmentTestResponse: "FragmentTestResponse",
	CommandFragmentInitiate:     "FragmentInitiate",
	CommandFragmentReport:       "FragmentReport",
	CommandFragmentChangeRoot:   "FragmentChangeRoot",
	CommandFragmentConnect:      "FragmentConnect",
	CommandFragmentMerged:       "FragmentMerged",
	CommandFragmentRestart:      "FragmentRestart",
	CommandFragmentHalt:         "FragmentHalt",
}

func (command Command) String() string {
	if name, ok := commandNames[command]; ok {
		return name
	}
	return "Command(" + strconv.Itoa(int(command)) + ")"
}
