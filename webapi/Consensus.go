/*
File Name:  Consensus.go
Copyright:  2021 Peernet Foundation s.r.o.
Author:     Peter Kleissner
*/

package webapi

import (
	"net/http"
	"strconv"

	core "github.com/PeernetOfficial/overlay"
)

type apiRequestConsensusStart struct {
	NodeID  int64 `json:"node"`    // Node starting the consensus.
	Options int   `json:"options"` // Count of choices.
}

type apiResponseConsensusStart struct {
	Status      int    `json:"status"` // 0 = Success, 1 = Unknown node, 2 = Invalid options
	ConsensusID string `json:"id"`     // ID of the consensus round. Encoded as string since it exceeds the JSON number precision.
}

/*
apiConsensusStart starts a new consensus round on a node
Request:    POST /consensus/start with JSON structure apiRequestConsensusStart
Result:     200 with JSON structure apiResponseConsensusStart
*/
func (api *WebapiInstance) apiConsensusStart(w http.ResponseWriter, r *http.Request) {
	var input apiRequestConsensusStart
	if err := DecodeJSON(w, r, &input); err != nil {
		return
	}

	var response apiResponseConsensusStart

	err := api.Simulation.WithNode(input.NodeID, func(node *core.Node) {
		id, err := node.Consensus.StartConsensus(input.Options)
		if err != nil {
			response.Status = 2
			return
		}
		response.ConsensusID = strconv.FormatInt(id, 10)
	})
	if err != nil {
		response.Status = 1
	}

	api.EncodeJSON(w, r, response)
}

type apiResponseConsensusStatus struct {
	Status   int   `json:"status"`   // 0 = Success, 1 = Unknown node, 2 = Unknown round
	Options  int   `json:"options"`  // Count of choices.
	Version  int32 `json:"version"`  // Highest version seen.
	Selected int   `json:"selected"` // Own choice.
	Voters   int   `json:"voters"`   // Count of distinct voters known to the node.
	Tally    []int `json:"tally"`    // Votes per choice.
	Decided  bool  `json:"decided"`  // Whether the node decided.
	Decision int   `json:"decision"` // The decision, only valid if decided.
}

/*
apiConsensusStatus returns the state of a consensus round as seen by a node
Request:    GET /consensus/status?node=[peer ID]&id=[consensus ID]
Result:     200 with JSON structure apiResponseConsensusStatus
*/
func (api *WebapiInstance) apiConsensusStatus(w http.ResponseWriter, r *http.Request) {
	nodeID, valid := parseNodeID(w, r)
	if !valid {
		return
	}
	consensusID, err := strconv.ParseInt(r.Form.Get("id"), 10, 64)
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	response := apiResponseConsensusStatus{Status: 2}

	err = api.Simulation.WithNode(nodeID, func(node *core.Node) {
		round := node.Consensus.Round(consensusID)
		if round == nil {
			return
		}

		response = apiResponseConsensusStatus{
			Options:  round.Options,
			Version:  round.Version,
			Selected: round.LocalSelection,
			Voters:   len(round.Votes),
			Tally:    append([]int{}, round.Tally...),
			Decided:  round.Decided,
			Decision: round.Decision,
		}
	})
	if err != nil {
		response.Status = 1
	}

	api.EncodeJSON(w, r, response)
}

type apiResponsePeerCount struct {
	Status   int    `json:"status"`   // 0 = Success, 1 = Unknown node, 2 = No connection or no round
	RoundID  string `json:"id"`       // Broadcast ID of the round.
	Estimate int    `json:"estimate"` // Estimated count of peers in the network including the node.
}

/*
apiPeerCountStart starts a new peer count on a node
Request:    POST /peercount/start?node=[peer ID]
Result:     200 with JSON structure apiResponsePeerCount
*/
func (api *WebapiInstance) apiPeerCountStart(w http.ResponseWriter, r *http.Request) {
	nodeID, valid := parseNodeID(w, r)
	if !valid {
		return
	}

	var response apiResponsePeerCount

	err := api.Simulation.WithNode(nodeID, func(node *core.Node) {
		id, err := node.PeerCount.Start()
		if err != nil {
			response.Status = 2
			return
		}
		response.RoundID = strconv.FormatInt(id, 10)
		response.Estimate = 1
	})
	if err != nil {
		response.Status = 1
	}

	api.EncodeJSON(w, r, response)
}

/*
apiPeerCount returns the result of the latest peer count of a node
Request:    GET /peercount?node=[peer ID]
Result:     200 with JSON structure apiResponsePeerCount
*/
func (api *WebapiInstance) apiPeerCount(w http.ResponseWriter, r *http.Request) {
	nodeID, valid := parseNodeID(w, r)
	if !valid {
		return
	}

	var response apiResponsePeerCount

	err := api.Simulation.WithNode(nodeID, func(node *core.Node) {
		latest := node.PeerCount.Latest()
		if latest == nil {
			response.Status = 2
			return
		}
		response.RoundID = strconv.FormatInt(latest.BroadcastID, 10)
		response.Estimate = latest.Estimate()
	})
	if err != nil {
		response.Status = 1
	}

	api.EncodeJSON(w, r, response)
}
