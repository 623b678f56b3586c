/*
File Name:  Node.go
Copyright:  2021 Peernet Foundation s.r.o.
Author:     Peter Kleissner
*/

package webapi

import (
	"net/http"

	core "github.com/PeernetOfficial/overlay"
)

type apiNode struct {
	ID             int64  `json:"id"`           // Peer ID.
	Address        string `json:"address"`      // Network address.
	CountCallers   int    `json:"callers"`      // Count of peers connected to the node.
	CountListeners int    `json:"listeners"`    // Count of peers the node connected to.
	HighestKnown   int64  `json:"highest"`      // Highest peer ID known to the node. 0 if unknown.
	FragmentID     int64  `json:"fragment"`     // Spanning tree fragment.
	FragmentLevel  int32  `json:"level"`        // Spanning tree fragment level.
	FragmentState  string `json:"state"`        // Spanning tree state.
	Candidates     int    `json:"candidates"`   // Count of known connection candidates.
	Outstanding    int    `json:"outstanding"`  // Requests waiting for a response.
	Broadcasts     uint64 `json:"broadcasts"`   // Broadcasts received.
	Duplicates     uint64 `json:"duplicates"`   // Duplicate broadcasts dropped.
	GossipRounds   uint64 `json:"gossiprounds"` // Gossip rounds executed.
	PacketsIn      uint64 `json:"packetsin"`    // Packets received.
	PacketsOut     uint64 `json:"packetsout"`   // Packets sent.
}

func nodeToAPI(node *core.Node) (result apiNode) {
	result = apiNode{
		ID:             node.ID,
		Address:        node.Address,
		CountCallers:   len(node.Callers()),
		CountListeners: len(node.Listeners()),
		FragmentID:     node.Tree.FragmentID,
		FragmentLevel:  node.Tree.Level,
		FragmentState:  node.Tree.State.String(),
		Candidates:     node.Connector().Candidates(),
		Outstanding:    node.Router.Outstanding(),
		Broadcasts:     node.Broadcaster.BroadcastsReceived,
		Duplicates:     node.Broadcaster.Duplicates,
		GossipRounds:   node.Gossip.Rounds,
		PacketsIn:      node.Router.PacketsIn,
		PacketsOut:     node.Router.PacketsOut,
	}

	if highest, known := node.Highest.CurrentHighestKnownPeer(); known {
		result.HighestKnown = highest.ID
	}
	return result
}

/*
apiNodeList returns all nodes of the simulation
Request:    GET /node/list
Result:     200 with JSON array of apiNode
*/
func (api *WebapiInstance) apiNodeList(w http.ResponseWriter, r *http.Request) {
	list := []apiNode{}

	api.Simulation.WithNodes(func(nodes []*core.Node) {
		for _, node := range nodes {
			list = append(list, nodeToAPI(node))
		}
	})

	api.EncodeJSON(w, r, list)
}

type apiPeer struct {
	ID       int64   `json:"id"`       // Peer ID.
	Address  string  `json:"address"`  // Network address.
	Caller   bool    `json:"caller"`   // True if the peer connected to the node.
	PingMs   float64 `json:"ping"`     // Round-trip time in milliseconds.
	Score    float64 `json:"score"`    // Admission score.
	Trust    float64 `json:"trust"`    // Trust in the range [-100, 100].
	LinkCost float64 `json:"linkcost"` // Edge cost used by the spanning tree.
}

type apiResponsePeers struct {
	Node  apiNode   `json:"node"`
	Peers []apiPeer `json:"peers"`
}

/*
apiNodePeers returns the connections of a node
Request:    GET /node/peers?node=[peer ID]
Result:     200 with JSON structure apiResponsePeers
            404 if the node is unknown
*/
func (api *WebapiInstance) apiNodePeers(w http.ResponseWriter, r *http.Request) {
	nodeID, valid := parseNodeID(w, r)
	if !valid {
		return
	}

	response := apiResponsePeers{Peers: []apiPeer{}}

	err := api.Simulation.WithNode(nodeID, func(node *core.Node) {
		response.Node = nodeToAPI(node)
		for _, peer := range node.Connections() {
			_, caller := node.GetConnection(peer.Address)
			response.Peers = append(response.Peers, apiPeer{
				ID:       peer.ID,
				Address:  peer.Address,
				Caller:   caller,
				PingMs:   float64(peer.Ping.Microseconds()) / 1000,
				Score:    peer.Score,
				Trust:    peer.Trust,
				LinkCost: peer.LinkCost,
			})
		}
	})
	if err != nil {
		http.Error(w, "", http.StatusNotFound)
		return
	}

	api.EncodeJSON(w, r, response)
}
