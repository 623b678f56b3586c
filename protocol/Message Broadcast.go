/*
File Name:  Message Broadcast.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package protocol

// PeerCountPacket is flooded through the network. Every peer seeing it for the first time relays it and replies to the caster.
type PeerCountPacket struct {
	Envelope
	BroadcastHeader
	Hops int // Incremented by every relay
}

// NewPeerCount creates a new peer count broadcast.
func NewPeerCount() *PeerCountPacket {
	return &PeerCountPacket{Envelope: NewEnvelope(CommandPeerCount)}
}

// Clone returns a deep copy.
func (packet *PeerCountPacket) Clone() Packet {
	clone := *packet
	return &clone
}

// PeerCountReplyPacket is sent directly to the caster of a peer count broadcast.
type PeerCountReplyPacket struct {
	Envelope
	BroadcastID int64 // Broadcast ID of the peer count this reply belongs to
	Hops        int   // Count of relays the broadcast took to reach the replying peer. Informational.
}

// NewPeerCountReply creates a new reply to a peer count.
func NewPeerCountReply(broadcastID int64) *PeerCountReplyPacket {
	return &PeerCountReplyPacket{Envelope: NewEnvelope(CommandPeerCountReply), BroadcastID: broadcastID}
}

// Clone returns a deep copy.
func (packet *PeerCountReplyPacket) Clone() Packet {
	clone := *packet
	return &clone
}
