/*
File Name:  Connecting.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The connector fills the listener table. Candidates are learned from bootstrap, handshakes and passively from broadcasts.
A connection is established in three steps so that both sides agree on it:
1. Connect request with the link cost. The remote peer reserves a caller slot and accepts or rejects.
2. Connect response. On accept the node adds the listener.
3. Connect confirm. The remote peer turns the reservation into a caller.
A missing response cancels the attempt with a disconnect. An unconfirmed reservation expires.
*/

package core

import (
	"sort"
	"time"

	"github.com/PeernetOfficial/overlay/protocol"
)

// maxCandidateFailures is the count of failed handshakes after which a candidate is forgotten.
const maxCandidateFailures = 3

// candidate is a known peer that is not connected.
type candidate struct {
	Record      protocol.PeerRecord
	lastAttempt time.Time
	failures    int
}

// reservation is an accepted but not yet confirmed caller.
type reservation struct {
	peer    *PeerInfo
	expires time.Time
}

// Connector establishes connections and decides on admission.
type Connector struct {
	node         *Node
	candidates   map[string]*candidate   // Key = address
	reservations map[string]*reservation // Key = address
	inFlight     string                  // Address of the outgoing attempt
	nextAttempt  time.Time

	// Frozen stops new connections. Existing connections are kept. The spanning tree requires a stable topology.
	Frozen bool

	// statistics
	Attempts  uint64
	Accepted  uint64
	Rejected  uint64
	Evictions uint64
}

func newConnector(node *Node) *Connector {
	return &Connector{
		node:         node,
		candidates:   make(map[string]*candidate),
		reservations: make(map[string]*reservation),
	}
}

// OnInitialize registers the connection handlers.
func (connector *Connector) OnInitialize() {
	router := connector.node.Router
	router.RegisterHandler(protocol.CommandHandshake, connector.cmdHandshake)
	router.RegisterHandler(protocol.CommandConnect, connector.cmdConnect)
	router.RegisterHandler(protocol.CommandConnectConfirm, connector.cmdConnectConfirm)
	router.RegisterHandler(protocol.CommandDisconnect, connector.cmdDisconnect)
}

// OnUpdate expires reservations and starts the next connection attempt when due.
func (connector *Connector) OnUpdate(dt time.Duration) {
	node := connector.node
	now := node.now()

	for _, address := range sortedKeysReservation(connector.reservations) {
		if connector.reservations[address].expires.Before(now) {
			delete(connector.reservations, address)
		}
	}

	if connector.Frozen || connector.inFlight != "" || now.Before(connector.nextAttempt) {
		return
	}

	interval := node.config.ConnectInterval
	if interval > 0 {
		interval += time.Duration(node.rand.Int63n(int64(interval)/2 + 1))
	}
	connector.nextAttempt = now.Add(interval)

	if next := connector.pickCandidate(); next != nil {
		connector.attempt(next)
	}
}

// AddCandidate adds a peer as connection candidate.
func (connector *Connector) AddCandidate(record protocol.PeerRecord) {
	if record.Address == "" || record.Address == connector.node.Address || record.ID == connector.node.ID {
		return
	}
	if _, ok := connector.candidates[record.Address]; ok {
		return
	}

	connector.candidates[record.Address] = &candidate{Record: record}
}

// Candidates returns the count of known candidates.
func (connector *Connector) Candidates() int {
	return len(connector.candidates)
}

// discoveryMiddleware learns the caster and the relayer of every broadcast as candidates. It never vetoes.
func (connector *Connector) discoveryMiddleware(packet protocol.Broadcastable) bool {
	info := packet.BroadcastInfo()
	connector.AddCandidate(protocol.PeerRecord{ID: info.CasterID, Address: info.CasterAddress})
	connector.AddCandidate(protocol.PeerRecord{ID: packet.Header().SenderID, Address: packet.Header().SenderAddress})
	return true
}

// pickCandidate returns a random candidate that is eligible for a connection attempt.
func (connector *Connector) pickCandidate() *candidate {
	node := connector.node
	backoff := node.now().Add(-4 * node.config.ConnectInterval)

	var eligible []*candidate
	for _, address := range sortedKeysCandidate(connector.candidates) {
		next := connector.candidates[address]

		if node.IsConnected(address) || connector.reservations[address] != nil || node.Blacklist.Contains(next.Record.ID) {
			continue
		}
		if !next.lastAttempt.IsZero() && next.lastAttempt.After(backoff) {
			continue
		}
		eligible = append(eligible, next)
	}

	if len(eligible) == 0 {
		return nil
	}
	return eligible[node.rand.Intn(len(eligible))]
}

// attempt starts the handshake with the candidate.
func (connector *Connector) attempt(next *candidate) {
	node := connector.node
	address := next.Record.Address

	next.lastAttempt = node.now()
	connector.inFlight = address
	connector.Attempts++

	err := node.Router.SendRequest(address, protocol.NewHandshake(node.callers.Len(), node.listeners.Len()), func(response protocol.Response, rtt time.Duration) {
		connector.onHandshake(next, response, rtt)
	}, 0)

	if err != nil {
		connector.inFlight = ""
		delete(connector.candidates, address)
	}
}

func (connector *Connector) onHandshake(next *candidate, response protocol.Response, rtt time.Duration) {
	node := connector.node
	address := next.Record.Address

	handshake, ok := response.(*protocol.HandshakeResponsePacket)
	if !ok || handshake == nil {
		connector.inFlight = ""
		if next.failures++; next.failures >= maxCandidateFailures {
			delete(connector.candidates, address)
		}
		return
	}
	next.failures = 0

	for _, record := range handshake.Peers {
		connector.AddCandidate(record)
	}

	peer := &PeerInfo{
		ID:            handshake.SenderID,
		Address:       address,
		Ping:          rtt,
		CallerCount:   handshake.CallerCount,
		ListenerCount: handshake.ListenerCount,
		LinkCost:      linkCost(rtt),
	}
	peer.Score = node.scorePeer(peer, handshake.TargetCallers)

	// The remote peer has no caller slot left, or is connected in the meantime.
	if connector.Frozen || node.IsConnected(address) || handshake.CallerCount >= handshake.TargetCallers || node.Blacklist.Contains(peer.ID) {
		connector.inFlight = ""
		return
	}

	// The eviction happens only once the remote peer accepted.
	if _, valid := connector.evictionCandidate(peer); !valid {
		connector.inFlight = ""
		connector.Rejected++
		return
	}

	err := node.Router.SendRequest(address, protocol.NewConnect(peer.LinkCost), func(response protocol.Response, rtt time.Duration) {
		connector.onConnectResponse(peer, response)
	}, 0)

	if err != nil {
		connector.inFlight = ""
	}
}

func (connector *Connector) onConnectResponse(peer *PeerInfo, response protocol.Response) {
	node := connector.node
	connector.inFlight = ""

	result, ok := response.(*protocol.ConnectResponsePacket)
	if !ok || result == nil {
		// cancel a reservation the remote peer might have made
		node.Router.Send(peer.Address, protocol.NewDisconnect("connect timeout"))
		return
	}

	if !result.Accepted {
		connector.Rejected++
		return
	}

	if connector.Frozen {
		node.Router.Send(peer.Address, protocol.NewDisconnect("topology frozen"))
		return
	}

	// Capacity may have changed while waiting for the response. A replaced listener is disconnected before the new one is added.
	if !connector.AcceptConnection(peer) || !node.addConnection(peer, false) {
		node.Router.Send(peer.Address, protocol.NewDisconnect("no capacity"))
		return
	}

	connector.Accepted++
	delete(connector.candidates, peer.Address)

	if err := node.Router.Send(peer.Address, protocol.NewConnectConfirm()); err != nil {
		node.removeConnection(peer.Address, "confirm failed")
	}
}

// AcceptConnection decides whether the candidate is admitted as listener.
// Without any listener the candidate is always accepted. Below capacity it is accepted as well.
// At capacity the listener with the lowest score below the candidate's score is disconnected and replaced, otherwise the candidate is rejected.
func (connector *Connector) AcceptConnection(candidate *PeerInfo) bool {
	victim, valid := connector.evictionCandidate(candidate)
	if !valid {
		return false
	}

	if victim != nil {
		connector.node.Disconnect(victim.Address, "replaced")
		connector.Evictions++
	}
	return true
}

// evictionCandidate returns the listener the candidate would replace, nil if there is free capacity. Valid is false if the candidate would be rejected.
func (connector *Connector) evictionCandidate(candidate *PeerInfo) (victim *PeerInfo, valid bool) {
	node := connector.node

	if node.listeners.Len() == 0 || !node.listeners.IsFull() {
		return nil, true
	}

	for _, listener := range node.listeners.List() {
		if listener.Score < candidate.Score && (victim == nil || listener.Score < victim.Score) {
			victim = listener
		}
	}

	return victim, victim != nil
}

// admitCaller reserves a caller slot for the sender of the connect request.
func (connector *Connector) admitCaller(request *protocol.ConnectPacket) bool {
	node := connector.node
	address := request.SenderAddress

	switch {
	case connector.Frozen:
	case node.Blacklist.Contains(request.SenderID):
	case node.IsConnected(address), connector.reservations[address] != nil, connector.inFlight == address:
	case node.callers.Len()+len(connector.reservations) >= node.callers.Capacity:
	default:
		connector.reservations[address] = &reservation{
			peer:    &PeerInfo{ID: request.SenderID, Address: address, LinkCost: request.LinkCost},
			expires: node.now().Add(node.config.ReservationTimeout),
		}
		return true
	}

	return false
}

func sortedKeysCandidate(m map[string]*candidate) (keys []string) {
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysReservation(m map[string]*reservation) (keys []string) {
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
