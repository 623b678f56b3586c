/*
File Name:  Bootstrap_test.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	"testing"
	"time"

	"github.com/PeernetOfficial/overlay/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedContactedWhileIsolated(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 2)
	simulation.FreezeTopology()
	nodes := simulation.Nodes()
	seed := protocol.PeerRecord{ID: nodes[1].ID, Address: nodes[1].Address}

	nodes[0].AddSeed(seed)
	nodes[0].AddSeed(seed)
	assert.Equal(t, []protocol.PeerRecord{seed}, nodes[0].Seeds())
	assert.Equal(t, 1, nodes[0].Connector().Candidates())

	// the candidate was given up, the seed is added again
	delete(nodes[0].connector.candidates, seed.Address)
	simulation.Run(nodes[0].config.BootstrapInterval + time.Second)

	assert.Equal(t, 1, nodes[0].Connector().Candidates())
	assert.GreaterOrEqual(t, nodes[0].seeds.Contacts, uint64(1))
}

func TestSeedNotContactedWhileConnected(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 3)
	simulation.FreezeTopology()
	nodes := simulation.Nodes()
	linkAll(t, simulation, [][3]float64{{0, 1, 1}})

	nodes[0].AddSeed(protocol.PeerRecord{ID: nodes[2].ID, Address: nodes[2].Address})
	delete(nodes[0].connector.candidates, nodes[2].Address)

	simulation.Run(2 * nodes[0].config.BootstrapInterval)
	_, known := nodes[0].connector.candidates[nodes[2].Address]
	assert.False(t, known)
	assert.Zero(t, nodes[0].seeds.Contacts)
}

func TestBootstrapSeeds(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 6)
	simulation.Bootstrap(3)

	for _, node := range simulation.Nodes() {
		seeds := node.Seeds()
		require.Len(t, seeds, 3)
		for _, seed := range seeds {
			assert.NotEqual(t, node.ID, seed.ID)
		}
	}
}
