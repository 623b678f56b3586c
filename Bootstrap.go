/*
File Name:  Bootstrap.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Strategy for contacting the seed peers:
* During bootstrap: Immediately at the beginning, then every BootstrapInterval until there is at least 1 connection.
* Each time the node lost all connections and has no other candidate left.
*/

package core

import (
	"time"

	"github.com/PeernetOfficial/overlay/protocol"
)

// seedList is the list of peers a node knows at startup.
type seedList struct {
	node        *Node
	seeds       []protocol.PeerRecord
	nextContact time.Time

	Contacts uint64 // Count of times the seed peers were added as candidates again
}

func newSeedList(node *Node) *seedList {
	return &seedList{node: node}
}

// add adds a seed peer and immediately makes it a connection candidate.
func (list *seedList) add(record protocol.PeerRecord) {
	for _, seed := range list.seeds {
		if seed.Address == record.Address {
			return
		}
	}

	list.seeds = append(list.seeds, record)
	list.node.connector.AddCandidate(record)
}

// OnUpdate contacts the seed peers again if the node is isolated.
func (list *seedList) OnUpdate(dt time.Duration) {
	node := list.node
	now := node.now()

	if len(list.seeds) == 0 || now.Before(list.nextContact) {
		return
	}
	list.nextContact = now.Add(node.config.BootstrapInterval)

	if len(node.Connections()) > 0 || node.connector.Candidates() > 0 {
		return
	}

	for _, seed := range list.seeds {
		node.connector.AddCandidate(seed)
	}
	list.Contacts++
}

// AddSeed adds a peer to the seed list of the node.
func (node *Node) AddSeed(record protocol.PeerRecord) {
	node.seeds.add(record)
}

// Seeds returns the seed list of the node.
func (node *Node) Seeds() (seeds []protocol.PeerRecord) {
	return append(seeds, node.seeds.seeds...)
}

// Bootstrap gives every node up to count random other nodes as seed peers.
func (simulation *Simulation) Bootstrap(count int) {
	simulation.Lock()
	defer simulation.Unlock()

	if len(simulation.nodes) < 2 {
		return
	}

	for _, node := range simulation.nodes {
		for _, n := range simulation.rand.Perm(len(simulation.nodes)) {
			if count <= 0 || len(node.seeds.seeds) >= count {
				break
			}
			if other := simulation.nodes[n]; other != node {
				node.AddSeed(protocol.PeerRecord{ID: other.ID, Address: other.Address})
			}
		}
	}
}
