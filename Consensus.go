/*
File Name:  Consensus.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Consensus rounds are gossiped. Every packet carries the votes known to its sender (voter peer ID -> choice).
A node joins a round when it sees it for the first time and votes once. Received votes are folded into the local tally at most
once per voter. Only if the node learned something new it buffers an updated clone for the next gossip round.

The decision is the plurality choice once enough of the population has voted. Ties are broken by the lowest choice.
*/

package core

import (
	"errors"
	"sort"
	"time"

	"github.com/PeernetOfficial/overlay/protocol"
)

// ErrInvalidOptions is returned when a consensus is started with less than one option.
var ErrInvalidOptions = errors.New("consensus needs at least one option")

// ConsensusRound is the local state of a consensus round.
type ConsensusRound struct {
	ID             int64
	StartedAt      time.Time
	Options        int
	Version        int32         // Highest version seen or sent
	LocalSelection int           // Own choice
	Votes          map[int64]int // Voter peer ID -> choice. Every voter is counted once.
	Tally          []int         // Count of voters per choice
	Decided        bool
	Decision       int

	pending      *protocol.ConsensusPacket // Packet in the gossip buffer, if not sent yet
	pendingRound uint64                    // Gossip round counter when the packet was buffered
}

// Consensus is the consensus engine of a node.
type Consensus struct {
	node   *Node
	rounds map[int64]*ConsensusRound

	VotesCounted  uint64
	VotesIgnored  uint64 // Votes that were already counted or invalid
	RoundsExpired uint64 // Rounds forgotten or packets ignored because of their age
}

func newConsensus(node *Node) *Consensus {
	return &Consensus{node: node, rounds: make(map[int64]*ConsensusRound)}
}

// OnInitialize registers the gossip handler.
func (consensus *Consensus) OnInitialize() {
	consensus.node.Gossip.RegisterHandler(protocol.CommandConsensus, consensus.handle)
}

// OnUpdate forgets old rounds and releases packets that left the gossip buffer.
func (consensus *Consensus) OnUpdate(dt time.Duration) {
	for id, round := range consensus.rounds {
		if consensus.expired(round.StartedAt) {
			delete(consensus.rounds, id)
			consensus.RoundsExpired++
			continue
		}
		if round.pending != nil && round.pendingRound != consensus.node.Gossip.Rounds {
			round.pending = nil
		}
	}
}

// expired checks if a round started at the given time is too old.
func (consensus *Consensus) expired(startedAt time.Time) bool {
	maxAge := consensus.node.config.ConsensusRoundAge
	return maxAge > 0 && startedAt.Before(consensus.node.now().Add(-maxAge))
}

// StartConsensus starts a new consensus round with choices 0 to options-1. The node votes immediately.
func (consensus *Consensus) StartConsensus(options int) (consensusID int64, err error) {
	if options < 1 {
		return 0, ErrInvalidOptions
	}

	round := consensus.newRound(consensus.node.newRandomID(), consensus.node.now(), options)
	consensus.selectChoice(round)
	consensus.publish(round, protocol.NewConsensus(round.ID, round.StartedAt, round.Options))

	return round.ID, nil
}

func (consensus *Consensus) newRound(id int64, startedAt time.Time, options int) (round *ConsensusRound) {
	round = &ConsensusRound{
		ID:        id,
		StartedAt: startedAt,
		Options:   options,
		Votes:     make(map[int64]int),
		Tally:     make([]int, options),
		Decision:  -1,
	}
	consensus.rounds[id] = round
	return round
}

// selectChoice picks the own choice uniformly at random and counts it as own vote.
func (consensus *Consensus) selectChoice(round *ConsensusRound) {
	round.LocalSelection = consensus.node.rand.Intn(round.Options)
	consensus.countVote(round, consensus.node.ID, round.LocalSelection)
}

// countVote counts the vote if the voter was not counted before.
func (consensus *Consensus) countVote(round *ConsensusRound, voter int64, choice int) (counted bool) {
	if choice < 0 || choice >= round.Options {
		consensus.VotesIgnored++
		return false
	}
	if _, seen := round.Votes[voter]; seen {
		consensus.VotesIgnored++
		return false
	}

	round.Votes[voter] = choice
	round.Tally[choice]++
	consensus.VotesCounted++
	return true
}

// aggregate folds all votes of the packet into the round. It returns true if at least one vote was new.
func (consensus *Consensus) aggregate(round *ConsensusRound, packet *protocol.ConsensusPacket) (learned bool) {
	if packet.VoterID != 0 && consensus.countVote(round, packet.VoterID, packet.LocalSelection) {
		learned = true
	}

	for voter, choice := range packet.Votes {
		if consensus.countVote(round, voter, choice) {
			learned = true
		}
	}

	return learned
}

// publish buffers the current state of the round. A packet that is still waiting in the buffer is updated instead.
func (consensus *Consensus) publish(round *ConsensusRound, packet *protocol.ConsensusPacket) {
	if round.pending != nil && round.pendingRound == consensus.node.Gossip.Rounds {
		packet = round.pending
	} else {
		round.Version++
		packet.ConsensusVersion = round.Version

		if !consensus.node.Gossip.BufferAdd(packet) {
			return
		}
		round.pending = packet
		round.pendingRound = consensus.node.Gossip.Rounds
	}

	packet.VoterID = consensus.node.ID
	packet.LocalSelection = round.LocalSelection
	packet.AggregatedSelections = append([]int(nil), round.Tally...)
	packet.Votes = make(map[int64]int, len(round.Votes))
	for voter, choice := range round.Votes {
		packet.Votes[voter] = choice
	}
}

func (consensus *Consensus) handle(packet protocol.Gossipable) {
	received, ok := packet.(*protocol.ConsensusPacket)
	if !ok || received.Options < 1 || received.ConsensusID == 0 {
		return
	}

	// A forgotten round must not be joined again.
	if consensus.expired(received.ConsensusStartedAt) {
		consensus.RoundsExpired++
		return
	}

	round, joined := consensus.rounds[received.ConsensusID], false
	if round == nil {
		round = consensus.newRound(received.ConsensusID, received.ConsensusStartedAt, received.Options)
		consensus.selectChoice(round)
		joined = true
	} else if round.Options != received.Options {
		consensus.node.filters.LogError("Consensus", "round %d with mismatching options %d (expected %d) from peer %d\n", round.ID, received.Options, round.Options, received.SenderID)
		return
	}

	if received.ConsensusVersion > round.Version {
		round.Version = received.ConsensusVersion
	}

	if learned := consensus.aggregate(round, received); joined || learned {
		consensus.publish(round, received.Clone().(*protocol.ConsensusPacket))
	}

	if population, valid := consensus.node.PeerCount.Estimate(); valid {
		consensus.Decide(round.ID, consensus.node.config.ConsensusQuorum, population)
	}
}

// Decide returns the plurality choice once at least quorum * population voters were counted. Ties are broken by the lowest choice.
// The ConsensusDecided filter is called once per round.
func (consensus *Consensus) Decide(consensusID int64, quorum float64, population int) (choice int, decided bool) {
	round := consensus.rounds[consensusID]
	if round == nil {
		return -1, false
	}
	if round.Decided {
		return round.Decision, true
	}

	if float64(len(round.Votes)) < quorum*float64(population) {
		return -1, false
	}

	choice = 0
	for n := 1; n < len(round.Tally); n++ {
		if round.Tally[n] > round.Tally[choice] {
			choice = n
		}
	}

	round.Decided = true
	round.Decision = choice
	consensus.node.filters.ConsensusDecided(consensus.node, round.ID, choice, len(round.Votes))

	return choice, true
}

// Round returns the round, or nil if unknown.
func (consensus *Consensus) Round(consensusID int64) *ConsensusRound {
	return consensus.rounds[consensusID]
}

// Rounds returns the IDs of all known rounds.
func (consensus *Consensus) Rounds() (ids []int64) {
	for id := range consensus.rounds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
