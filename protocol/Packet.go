/*
File Name:  Packet.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Packets are opaque structured records. There is no wire format, the simulated network hands over clones.
Every packet embeds the Envelope. Broadcasts additionally embed the BroadcastHeader, gossip packets the GossipHeader.
Responses embed Reply which binds them to the request they answer.
*/

package protocol

import (
	"time"
)

// Packet is implemented by all packets.
type Packet interface {
	Header() *Envelope // Header returns the envelope, which is shared by all packets.
	Clone() Packet     // Clone returns a deep copy.
}

// Envelope is the header of every packet. It is stamped by the router when sending.
type Envelope struct {
	Command       Command   // Type of the packet
	UniqueID      int64     // Assigned once at send time. Unique per sender.
	SenderID      int64     // Peer ID of the sender
	SenderAddress string    // Address of the sender. Responses are sent there.
	SentAt        time.Time // When the packet was sent
}

// Header returns the envelope.
func (envelope *Envelope) Header() *Envelope {
	return envelope
}

// Respondable is implemented by request packets that expect exactly one response.
type Respondable interface {
	Packet
	ResponseCommand() Command // ResponseCommand is the command of the expected response packet.
}

// Reply is embedded into response packets.
type Reply struct {
	CallerUniqueID int64 // Unique ID of the request this packet responds to
}

// ReplyTo returns the reply header.
func (reply *Reply) ReplyTo() *Reply {
	return reply
}

// Response is implemented by all response packets.
type Response interface {
	Packet
	ReplyTo() *Reply
}

// BroadcastHeader is embedded into packets that are flooded through the network.
type BroadcastHeader struct {
	BroadcasterID int64  // Peer ID of the immediate relayer. Changes at every hop.
	BroadcastID   int64  // Assigned once by the caster. Stable across all relays.
	CasterID      int64  // Peer ID of the original caster
	CasterAddress string // Address of the original caster
}

// BroadcastInfo returns the broadcast header.
func (header *BroadcastHeader) BroadcastInfo() *BroadcastHeader {
	return header
}

// Broadcastable is implemented by all packets that can be broadcast.
type Broadcastable interface {
	Packet
	BroadcastInfo() *BroadcastHeader
}

// GossipHeader is embedded into gossip packets.
type GossipHeader struct {
	GossipStartedAt  time.Time // When the gossip was created
	GossipID         int64     // Identifies the gossip across all generations
	GossipGeneration int32     // Incremented by 1 every time the packet enters a gossip buffer
}

// GossipInfo returns the gossip header.
func (header *GossipHeader) GossipInfo() *GossipHeader {
	return header
}

// Gossipable is implemented by all gossip packets.
type Gossipable interface {
	Broadcastable
	GossipInfo() *GossipHeader
}

// NewEnvelope returns an envelope for the command. The remaining fields are set by the router.
func NewEnvelope(command Command) Envelope {
	return Envelope{Command: command}
}
