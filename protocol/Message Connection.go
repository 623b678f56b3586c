/*
File Name:  Message Connection.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Packets for connection management: liveness, handshake, admission and disconnect.
*/

package protocol

// PeerRecord identifies a peer. It is shared with other peers, therefore it never contains locally measured metrics like the ping.
type PeerRecord struct {
	ID      int64
	Address string
}

// PingPacket is a liveness check.
type PingPacket struct {
	Envelope
}

// NewPing creates a new ping packet.
func NewPing() *PingPacket {
	return &PingPacket{Envelope: NewEnvelope(CommandPing)}
}

// ResponseCommand returns the command of the response.
func (packet *PingPacket) ResponseCommand() Command { return CommandPong }

// Clone returns a deep copy.
func (packet *PingPacket) Clone() Packet {
	clone := *packet
	return &clone
}

// PongPacket is the response to a ping.
type PongPacket struct {
	Envelope
	Reply
}

// NewPong creates a new pong packet.
func NewPong() *PongPacket {
	return &PongPacket{Envelope: NewEnvelope(CommandPong)}
}

// Clone returns a deep copy.
func (packet *PongPacket) Clone() Packet {
	clone := *packet
	return &clone
}

// HandshakePacket asks the remote peer for its load and known peers. The round-trip time is measured by the router.
type HandshakePacket struct {
	Envelope
	CallerCount   int // Count of callers of the sender
	ListenerCount int // Count of listeners of the sender
}

// NewHandshake creates a new handshake packet.
func NewHandshake(callerCount, listenerCount int) *HandshakePacket {
	return &HandshakePacket{Envelope: NewEnvelope(CommandHandshake), CallerCount: callerCount, ListenerCount: listenerCount}
}

// ResponseCommand returns the command of the response.
func (packet *HandshakePacket) ResponseCommand() Command { return CommandHandshakeResponse }

// Clone returns a deep copy.
func (packet *HandshakePacket) Clone() Packet {
	clone := *packet
	return &clone
}

// HandshakeResponsePacket is the response to a handshake.
type HandshakeResponsePacket struct {
	Envelope
	Reply
	CallerCount   int          // Count of callers of the responder
	ListenerCount int          // Count of listeners of the responder
	TargetCallers int          // Caller capacity of the responder
	Peers         []PeerRecord // Some peers known to the responder
}

// NewHandshakeResponse creates a new handshake response.
func NewHandshakeResponse(callerCount, listenerCount, targetCallers int, peers []PeerRecord) *HandshakeResponsePacket {
	return &HandshakeResponsePacket{Envelope: NewEnvelope(CommandHandshakeResponse), CallerCount: callerCount, ListenerCount: listenerCount, TargetCallers: targetCallers, Peers: peers}
}

// Clone returns a deep copy.
func (packet *HandshakeResponsePacket) Clone() Packet {
	clone := *packet
	clone.Peers = append([]PeerRecord(nil), packet.Peers...)
	return &clone
}

// ConnectPacket asks the remote peer to accept the sender as caller. The link cost becomes the weight of the edge on both sides.
type ConnectPacket struct {
	Envelope
	LinkCost float64
}

// NewConnect creates a new connect request.
func NewConnect(linkCost float64) *ConnectPacket {
	return &ConnectPacket{Envelope: NewEnvelope(CommandConnect), LinkCost: linkCost}
}

// ResponseCommand returns the command of the response.
func (packet *ConnectPacket) ResponseCommand() Command { return CommandConnectResponse }

// Clone returns a deep copy.
func (packet *ConnectPacket) Clone() Packet {
	clone := *packet
	return &clone
}

// ConnectResponsePacket accepts or rejects a connect request. If accepted, the caller slot is reserved until confirmed.
type ConnectResponsePacket struct {
	Envelope
	Reply
	Accepted bool
}

// NewConnectResponse creates a new connect response.
func NewConnectResponse(accepted bool) *ConnectResponsePacket {
	return &ConnectResponsePacket{Envelope: NewEnvelope(CommandConnectResponse), Accepted: accepted}
}

// Clone returns a deep copy.
func (packet *ConnectResponsePacket) Clone() Packet {
	clone := *packet
	return &clone
}

// ConnectConfirmPacket confirms an accepted connect request.
type ConnectConfirmPacket struct {
	Envelope
}

// NewConnectConfirm creates a new connect confirmation.
func NewConnectConfirm() *ConnectConfirmPacket {
	return &ConnectConfirmPacket{Envelope: NewEnvelope(CommandConnectConfirm)}
}

// Clone returns a deep copy.
func (packet *ConnectConfirmPacket) Clone() Packet {
	clone := *packet
	return &clone
}

// DisconnectPacket removes the sender from all connection tables of the receiver.
type DisconnectPacket struct {
	Envelope
	Reason string
}

// NewDisconnect creates a new disconnect packet.
func NewDisconnect(reason string) *DisconnectPacket {
	return &DisconnectPacket{Envelope: NewEnvelope(CommandDisconnect), Reason: reason}
}

// Clone returns a deep copy.
func (packet *DisconnectPacket) Clone() Packet {
	clone := *packet
	return &clone
}
