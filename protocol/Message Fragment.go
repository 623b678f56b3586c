/*
File Name:  Message Fragment.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Packets of the spanning tree (fragment merge) protocol. They are sent directly between neighbors.
Fragment ID and phase identify the search phase a packet belongs to, packets of older phases are dropped.
*/

package protocol

// FragmentTestPacket tests whether the edge to the receiver leaves the fragment of the sender.
type FragmentTestPacket struct {
	Envelope
	FragmentID    int64
	FragmentLevel int32
}

// NewFragmentTest creates a new fragment test.
func NewFragmentTest(fragmentID int64, level int32) *FragmentTestPacket {
	return &FragmentTestPacket{Envelope: NewEnvelope(CommandFragmentTest), FragmentID: fragmentID, FragmentLevel: level}
}

// ResponseCommand returns the command of the response.
func (packet *FragmentTestPacket) ResponseCommand() Command { return CommandFragmentTestResponse }

// Clone returns a deep copy.
func (packet *FragmentTestPacket) Clone() Packet {
	clone := *packet
	return &clone
}

// FragmentTestResponsePacket returns the current fragment of the tested peer.
type FragmentTestResponsePacket struct {
	Envelope
	Reply
	FragmentID    int64
	FragmentLevel int32
}

// NewFragmentTestResponse creates a new response to a fragment test.
func NewFragmentTestResponse(fragmentID int64, level int32) *FragmentTestResponsePacket {
	return &FragmentTestResponsePacket{Envelope: NewEnvelope(CommandFragmentTestResponse), FragmentID: fragmentID, FragmentLevel: level}
}

// Clone returns a deep copy.
func (packet *FragmentTestResponsePacket) Clone() Packet {
	clone := *packet
	return &clone
}

// FragmentInitiatePacket starts a new phase. It is sent by the leader and forwarded down the tree.
// If Find is set the receivers search for their minimum outgoing edge and report it.
type FragmentInitiatePacket struct {
	Envelope
	FragmentID    int64
	FragmentLevel int32
	Phase         int64
	Find          bool
}

// NewFragmentInitiate creates a new initiate packet.
func NewFragmentInitiate(fragmentID int64, level int32, phase int64, find bool) *FragmentInitiatePacket {
	return &FragmentInitiatePacket{Envelope: NewEnvelope(CommandFragmentInitiate), FragmentID: fragmentID, FragmentLevel: level, Phase: phase, Find: find}
}

// Clone returns a deep copy.
func (packet *FragmentInitiatePacket) Clone() Packet {
	clone := *packet
	return &clone
}

// FragmentReportPacket reports the minimum outgoing edge of a subtree to the parent. Edge is nil if there is none.
type FragmentReportPacket struct {
	Envelope
	FragmentID int64
	Phase      int64
	Edge       *MinimumOutgoingEdge
}

// NewFragmentReport creates a new report.
func NewFragmentReport(fragmentID, phase int64, edge *MinimumOutgoingEdge) *FragmentReportPacket {
	return &FragmentReportPacket{Envelope: NewEnvelope(CommandFragmentReport), FragmentID: fragmentID, Phase: phase, Edge: edge.Copy()}
}

// Clone returns a deep copy.
func (packet *FragmentReportPacket) Clone() Packet {
	clone := *packet
	clone.Edge = packet.Edge.Copy()
	return &clone
}

// FragmentChangeRootPacket is routed from the leader to the inner node of the minimum outgoing edge.
type FragmentChangeRootPacket struct {
	Envelope
	FragmentID int64
	Phase      int64
}

// NewFragmentChangeRoot creates a new change root packet.
func NewFragmentChangeRoot(fragmentID, phase int64) *FragmentChangeRootPacket {
	return &FragmentChangeRootPacket{Envelope: NewEnvelope(CommandFragmentChangeRoot), FragmentID: fragmentID, Phase: phase}
}

// Clone returns a deep copy.
func (packet *FragmentChangeRootPacket) Clone() Packet {
	clone := *packet
	return &clone
}

// FragmentConnectPacket asks the receiver's fragment to merge with or absorb the sender's fragment.
type FragmentConnectPacket struct {
	Envelope
	FragmentID    int64
	FragmentLevel int32
}

// NewFragmentConnect creates a new connect packet.
func NewFragmentConnect(fragmentID int64, level int32) *FragmentConnectPacket {
	return &FragmentConnectPacket{Envelope: NewEnvelope(CommandFragmentConnect), FragmentID: fragmentID, FragmentLevel: level}
}

// Clone returns a deep copy.
func (packet *FragmentConnectPacket) Clone() Packet {
	clone := *packet
	return &clone
}

// FragmentMergedPacket travels up to the leader after two fragments of the same level merged.
type FragmentMergedPacket struct {
	Envelope
	FragmentID    int64 // Surviving fragment
	FragmentLevel int32 // New level
}

// NewFragmentMerged creates a new merged notification.
func NewFragmentMerged(fragmentID int64, level int32) *FragmentMergedPacket {
	return &FragmentMergedPacket{Envelope: NewEnvelope(CommandFragmentMerged), FragmentID: fragmentID, FragmentLevel: level}
}

// Clone returns a deep copy.
func (packet *FragmentMergedPacket) Clone() Packet {
	clone := *packet
	return &clone
}

// FragmentRestartPacket asks the leader to restart the search phase because the minimum outgoing edge became invalid.
type FragmentRestartPacket struct {
	Envelope
	FragmentID int64
	Phase      int64
}

// NewFragmentRestart creates a new restart request.
func NewFragmentRestart(fragmentID, phase int64) *FragmentRestartPacket {
	return &FragmentRestartPacket{Envelope: NewEnvelope(CommandFragmentRestart), FragmentID: fragmentID, Phase: phase}
}

// Clone returns a deep copy.
func (packet *FragmentRestartPacket) Clone() Packet {
	clone := *packet
	return &clone
}

// FragmentHaltPacket is forwarded down the tree once no outgoing edge is left.
type FragmentHaltPacket struct {
	Envelope
	FragmentID int64
}

// NewFragmentHalt creates a new halt packet.
func NewFragmentHalt(fragmentID int64) *FragmentHaltPacket {
	return &FragmentHaltPacket{Envelope: NewEnvelope(CommandFragmentHalt), FragmentID: fragmentID}
}

// Clone returns a deep copy.
func (packet *FragmentHaltPacket) Clone() Packet {
	clone := *packet
	return &clone
}
