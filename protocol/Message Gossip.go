/*
File Name:  Message Gossip.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Gossip packets. They are buffered by the gossip engine and sent out via broadcast on every gossip round.
*/

package protocol

import (
	"time"
)

// HighestPeerPacket announces the highest peer ID known to the sender.
type HighestPeerPacket struct {
	Envelope
	BroadcastHeader
	GossipHeader
	Peer PeerRecord
}

// NewHighestPeer creates a new highest peer announcement.
func NewHighestPeer(peer PeerRecord) *HighestPeerPacket {
	return &HighestPeerPacket{Envelope: NewEnvelope(CommandGossipHighestPeer), Peer: peer}
}

// Clone returns a deep copy.
func (packet *HighestPeerPacket) Clone() Packet {
	clone := *packet
	return &clone
}

// ConsensusPacket carries the votes of a consensus round.
// Votes maps the originating peer ID to its choice. It is the seen-voters set: AggregatedSelections[k] is the count of voters in Votes that selected k.
type ConsensusPacket struct {
	Envelope
	BroadcastHeader
	GossipHeader
	ConsensusID          int64         // Identifies the consensus round
	ConsensusStartedAt   time.Time     // When the initiator started the round
	ConsensusVersion     int32         // Incremented at every hop
	Options              int           // Count of choices. Choices are 0 to Options-1.
	VoterID              int64         // Peer that created this version of the packet
	LocalSelection       int           // Choice of VoterID
	AggregatedSelections []int         // Count of distinct voters per choice
	Votes                map[int64]int // Voter peer ID -> choice
}

// NewConsensus creates a new consensus packet.
func NewConsensus(consensusID int64, startedAt time.Time, options int) *ConsensusPacket {
	return &ConsensusPacket{
		Envelope:             NewEnvelope(CommandConsensus),
		ConsensusID:          consensusID,
		ConsensusStartedAt:   startedAt,
		Options:              options,
		AggregatedSelections: make([]int, options),
		Votes:                make(map[int64]int),
	}
}

// Clone returns a deep copy.
func (packet *ConsensusPacket) Clone() Packet {
	clone := *packet
	clone.AggregatedSelections = append([]int(nil), packet.AggregatedSelections...)
	clone.Votes = make(map[int64]int, len(packet.Votes))
	for voter, choice := range packet.Votes {
		clone.Votes[voter] = choice
	}
	return &clone
}

// FragmentGossipPacket announces the fragment membership of the sender to its neighbors.
type FragmentGossipPacket struct {
	Envelope
	BroadcastHeader
	GossipHeader
	PeerID        int64
	FragmentID    int64
	FragmentLevel int32
	Converged     bool // The spanning tree is complete
}

// NewFragmentGossip creates a new fragment announcement.
func NewFragmentGossip(peerID, fragmentID int64, level int32, converged bool) *FragmentGossipPacket {
	return &FragmentGossipPacket{Envelope: NewEnvelope(CommandFragmentGossip), PeerID: peerID, FragmentID: fragmentID, FragmentLevel: level, Converged: converged}
}

// Clone returns a deep copy.
func (packet *FragmentGossipPacket) Clone() Packet {
	clone := *packet
	return &clone
}
