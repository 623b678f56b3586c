/*
File Name:  Edge.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Edges of the connection graph as used by the spanning tree.
*/

package protocol

import (
	"time"
)

// EdgeWeight is the weight of an undirected edge. The cost is agreed by both endpoints when the connection is established.
// Ties are broken by the peer IDs, so that two different edges never have the same weight.
type EdgeWeight struct {
	Cost   float64
	LowID  int64 // Lower peer ID of both endpoints
	HighID int64 // Higher peer ID of both endpoints
}

// NewEdgeWeight returns the weight of the edge between the peers a and b.
func NewEdgeWeight(cost float64, a, b int64) EdgeWeight {
	if a > b {
		a, b = b, a
	}
	return EdgeWeight{Cost: cost, LowID: a, HighID: b}
}

// Less reports whether the weight is lower than the other one.
func (weight EdgeWeight) Less(other EdgeWeight) bool {
	if weight.Cost != other.Cost {
		return weight.Cost < other.Cost
	}
	if weight.LowID != other.LowID {
		return weight.LowID < other.LowID
	}
	return weight.HighID < other.HighID
}

// GraphEdge is an edge of the spanning tree as seen from one endpoint.
type GraphEdge struct {
	PeerID  int64  // Remote endpoint
	Address string // Address of the remote endpoint
}

// MinimumOutgoingEdge is the cheapest known edge leaving a fragment. It is only valid until the expiration deadline.
type MinimumOutgoingEdge struct {
	InnerNode          int64         // Endpoint inside the fragment
	OuterNode          int64         // Endpoint outside the fragment
	OuterAddress       string        // Address of the outer node
	OuterFragmentID    int64         // Fragment of the outer node at the time of the last test
	OuterFragmentLevel int32         // Level of the outer fragment at the time of the last test
	Weight             EdgeWeight    // Weight of the edge
	ExpirationDelay    time.Duration // Validity after creation or refresh
	ExpirationDeadline time.Time     // Expiration deadline
}

// NewMinimumOutgoingEdge creates a new minimum outgoing edge that expires after the delay.
func NewMinimumOutgoingEdge(inner int64, outer PeerRecord, outerFragmentID int64, outerFragmentLevel int32, weight EdgeWeight, now time.Time, expirationDelay time.Duration) *MinimumOutgoingEdge {
	return &MinimumOutgoingEdge{
		InnerNode:          inner,
		OuterNode:          outer.ID,
		OuterAddress:       outer.Address,
		OuterFragmentID:    outerFragmentID,
		OuterFragmentLevel: outerFragmentLevel,
		Weight:             weight,
		ExpirationDelay:    expirationDelay,
		ExpirationDeadline: now.Add(expirationDelay),
	}
}

// HasExpired checks if the expiration deadline has passed. An expired edge must not be used as merge candidate.
func (edge *MinimumOutgoingEdge) HasExpired(now time.Time) bool {
	return edge.ExpirationDeadline.Before(now)
}

// Refresh extends the expiration deadline from the current time.
func (edge *MinimumOutgoingEdge) Refresh(now time.Time) {
	edge.ExpirationDeadline = now.Add(edge.ExpirationDelay)
}

// Less reports whether the edge is cheaper than the other one. Nil represents no edge and is more expensive than any edge.
func (edge *MinimumOutgoingEdge) Less(other *MinimumOutgoingEdge) bool {
	if edge == nil {
		return false
	}
	if other == nil {
		return true
	}
	return edge.Weight.Less(other.Weight)
}

// Copy returns a copy. Nil safe.
func (edge *MinimumOutgoingEdge) Copy() *MinimumOutgoingEdge {
	if edge == nil {
		return nil
	}
	copied := *edge
	return &copied
}
