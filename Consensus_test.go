/*
File Name:  Consensus_test.go
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

func TestConsensusVoteCountedOnce(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 1)
	consensus := simulation.Nodes()[0].Consensus

	round := consensus.newRound(100, time.Time{}, 3)

	assert.True(t, consensus.countVote(round, 7, 2))
	assert.False(t, consensus.countVote(round, 7, 2))
	assert.False(t, consensus.countVote(round, 7, 0))
	assert.False(t, consensus.countVote(round, 8, 3))
	assert.False(t, consensus.countVote(round, 8, -1))

	assert.Equal(t, []int{0, 0, 1}, round.Tally)
	assert.Len(t, round.Votes, 1)

	// the same voter in a packet is folded only once
	packet := protocol.NewConsensus(100, time.Time{}, 3)
	packet.VoterID = 9
	packet.LocalSelection = 1
	packet.Votes = map[int64]int{7: 2, 9: 1, 10: 0}

	assert.True(t, consensus.aggregate(round, packet))
	assert.False(t, consensus.aggregate(round, packet))
	assert.Equal(t, []int{1, 1, 1}, round.Tally)
}

func TestConsensusDecide(t *testing.T) {
	simulation := newTestSimulation(t, testConfig(), 1)
	consensus := simulation.Nodes()[0].Consensus

	decisions := 0
	simulation.Nodes()[0].filters.ConsensusDecided = func(node *Node, consensusID int64, choice int, votes int) { decisions++ }

	round := consensus.newRound(5, time.Time{}, 3)
	consensus.countVote(round, 1, 2)
	consensus.countVote(round, 2, 1)

	_, decided := consensus.Decide(5, 0.66, 4)
	assert.False(t, decided)

	consensus.countVote(round, 3, 1)
	consensus.countVote(round, 4, 2)

	// tie between 1 and 2 is broken by the lowest choice
	choice, decided := consensus.Decide(5, 0.66, 4)
	require.True(t, decided)
	assert.Equal(t, 1, choice)

	choice, decided = consensus.Decide(5, 0.66, 4)
	assert.True(t, decided)
	assert.Equal(t, 1, choice)
	assert.Equal(t, 1, decisions)

	_, err := consensus.StartConsensus(0)
	assert.Equal(t, ErrInvalidOptions, err)
}

func TestConsensusAgreement(t *testing.T) {
	// with full quorum nobody decides before all votes are known
	config := testConfig()
	config.ConsensusQuorum = 1
	simulation := newTestSimulation(t, config, 7)
	simulation.FreezeTopology()
	nodes := simulation.Nodes()
	linkAll(t, simulation, [][3]float64{{0, 1, 1}, {1, 2, 1}, {2, 3, 1}, {3, 4, 1}, {4, 5, 1}, {5, 6, 1}, {6, 0, 1}, {1, 4, 1}})

	// every node knows the network size before voting
	for _, node := range nodes {
		_, err := node.PeerCount.Start()
		require.NoError(t, err)
	}
	simulation.Run(3 * time.Second)

	id, err := nodes[0].Consensus.StartConsensus(4)
	require.NoError(t, err)

	allVoted := func() bool {
		for _, node := range nodes {
			round := node.Consensus.Round(id)
			if round == nil || len(round.Votes) != len(nodes) {
				return false
			}
		}
		return true
	}
	require.True(t, simulation.RunUntil(allVoted, time.Minute))

	expected := nodes[0].Consensus.Round(id)
	for _, node := range nodes {
		round := node.Consensus.Round(id)
		assert.Equal(t, expected.Votes, round.Votes)
		assert.Equal(t, expected.Tally, round.Tally)
		assert.True(t, round.Decided)
		assert.Equal(t, expected.Decision, round.Decision)

		sum := 0
		for _, count := range round.Tally {
			sum += count
		}
		assert.Equal(t, len(nodes), sum)
	}
}

func TestConsensusRoundExpiry(t *testing.T) {
	config := testConfig()
	config.ConsensusRoundAge = 30 * time.Second
	simulation := newTestSimulation(t, config, 2)
	simulation.FreezeTopology()
	nodes := simulation.Nodes()
	linkAll(t, simulation, [][3]float64{{0, 1, 1}})

	id, err := nodes[0].Consensus.StartConsensus(2)
	require.NoError(t, err)
	require.NotNil(t, nodes[0].Consensus.Round(id).pending)

	// once both votes are known nothing new is buffered and sent packets are released
	simulation.Run(8 * time.Second)
	for _, node := range nodes {
		round := node.Consensus.Round(id)
		require.NotNil(t, round)
		assert.Len(t, round.Votes, 2)
		assert.Nil(t, round.pending)
	}

	simulation.Run(30 * time.Second)
	for _, node := range nodes {
		assert.Nil(t, node.Consensus.Round(id))
		assert.Empty(t, node.Consensus.Rounds())
		assert.Equal(t, uint64(1), node.Consensus.RoundsExpired)
	}

	// a late packet of the forgotten round is ignored
	packet := protocol.NewConsensus(id, simulation.Now().Add(-time.Minute), 2)
	packet.VoterID = nodes[0].ID
	packet.LocalSelection = 1
	packet.Votes = map[int64]int{nodes[0].ID: 1}

	simulation.Lock()
	nodes[1].Consensus.handle(packet)
	simulation.Unlock()

	assert.Nil(t, nodes[1].Consensus.Round(id))
	assert.Equal(t, uint64(2), nodes[1].Consensus.RoundsExpired)
}
