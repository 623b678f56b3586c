/*
File Name:  Network.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The simulated network transports packets between nodes in memory.
Packets are cloned when sent, so sender and receiver never share state.
Every link has a fixed latency in the configured range. Delivery is reliable and order-preserving per directed link.
*/

package core

import (
	"container/heap"
	"errors"
	"math/rand"
	"time"

	"github.com/PeernetOfficial/overlay/protocol"
)

// ErrUnknownAddress is returned when sending to an address that is not attached to the network.
var ErrUnknownAddress = errors.New("unknown address")

// Endpoint receives packets from the network.
type Endpoint interface {
	Receive(packet protocol.Packet)
}

// Network is the simulated transport. It is not safe for concurrent use; the simulation serializes access.
type Network struct {
	LatencyMin time.Duration
	LatencyMax time.Duration

	rand        *rand.Rand
	endpoints   map[string]Endpoint
	latency     map[linkKey]time.Duration // Latency per undirected link
	lastArrival map[linkKey]time.Time     // Last scheduled arrival per directed link
	queue       deliveryQueue
	sequence    uint64

	// statistics
	PacketsSent      uint64
	PacketsDelivered uint64
	PacketsDropped   uint64
}

type linkKey struct {
	from, to string
}

type delivery struct {
	at       time.Time
	sequence uint64 // tie breaker to keep the send order for the same arrival time
	to       string
	packet   protocol.Packet
}

// NewNetwork creates a new simulated network.
func NewNetwork(latencyMin, latencyMax time.Duration, random *rand.Rand) *Network {
	if latencyMax < latencyMin {
		latencyMax = latencyMin
	}

	return &Network{
		LatencyMin:  latencyMin,
		LatencyMax:  latencyMax,
		rand:        random,
		endpoints:   make(map[string]Endpoint),
		latency:     make(map[linkKey]time.Duration),
		lastArrival: make(map[linkKey]time.Time),
	}
}

// Attach registers the endpoint for the address.
func (network *Network) Attach(address string, endpoint Endpoint) {
	network.endpoints[address] = endpoint
}

// Detach removes the endpoint. Packets in flight to the address are dropped on arrival.
func (network *Network) Detach(address string) {
	delete(network.endpoints, address)
}

// IsAttached checks if an endpoint is attached at the address.
func (network *Network) IsAttached(address string) bool {
	_, ok := network.endpoints[address]
	return ok
}

// LinkLatency returns the one-way latency between the two addresses. It is assigned randomly on first use and stays fixed.
func (network *Network) LinkLatency(a, b string) time.Duration {
	if a > b {
		a, b = b, a
	}
	key := linkKey{from: a, to: b}

	latency, ok := network.latency[key]
	if !ok {
		latency = network.LatencyMin
		if spread := network.LatencyMax - network.LatencyMin; spread > 0 {
			latency += time.Duration(network.rand.Int63n(int64(spread) + 1))
		}
		network.latency[key] = latency
	}

	return latency
}

// SetLinkLatency fixes the one-way latency between the two addresses.
func (network *Network) SetLinkLatency(a, b string, latency time.Duration) {
	if a > b {
		a, b = b, a
	}
	network.latency[linkKey{from: a, to: b}] = latency
}

// Send schedules a clone of the packet for delivery.
func (network *Network) Send(from, to string, packet protocol.Packet, now time.Time) (err error) {
	if _, ok := network.endpoints[to]; !ok {
		network.PacketsDropped++
		return ErrUnknownAddress
	}

	at := now.Add(network.LinkLatency(from, to))

	// order-preserving per directed link
	key := linkKey{from: from, to: to}
	if last := network.lastArrival[key]; at.Before(last) {
		at = last
	}
	network.lastArrival[key] = at

	network.sequence++
	heap.Push(&network.queue, &delivery{at: at, sequence: network.sequence, to: to, packet: packet.Clone()})
	network.PacketsSent++

	return nil
}

// DeliverDue hands all packets that arrived until now to their endpoints.
func (network *Network) DeliverDue(now time.Time) (delivered int) {
	for len(network.queue) > 0 && !network.queue[0].at.After(now) {
		next := heap.Pop(&network.queue).(*delivery)

		endpoint, ok := network.endpoints[next.to]
		if !ok {
			network.PacketsDropped++
			continue
		}

		endpoint.Receive(next.packet)
		network.PacketsDelivered++
		delivered++
	}

	return delivered
}

// InFlight returns the count of packets not yet delivered.
func (network *Network) InFlight() int {
	return len(network.queue)
}

// deliveryQueue is a min-heap ordered by arrival time, then send order.
type deliveryQueue []*delivery

func (queue deliveryQueue) Len() int { return len(queue) }

func (queue deliveryQueue) Less(i, j int) bool {
	if !queue[i].at.Equal(queue[j].at) {
		return queue[i].at.Before(queue[j].at)
	}
	return queue[i].sequence < queue[j].sequence
}

func (queue deliveryQueue) Swap(i, j int) { queue[i], queue[j] = queue[j], queue[i] }

func (queue *deliveryQueue) Push(x interface{}) { *queue = append(*queue, x.(*delivery)) }

func (queue *deliveryQueue) Pop() interface{} {
	old := *queue
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*queue = old[:n-1]
	return item
}
