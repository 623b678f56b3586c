/*
File Name:  Tree.go
Copyright:  2021 Peernet Foundation s.r.o.
Author:     Peter Kleissner
*/

package webapi

import (
	"net/http"

	core "github.com/PeernetOfficial/overlay"
)

type apiResponseTree struct {
	Converged bool            `json:"converged"` // Whether all nodes finished in the same fragment.
	Edges     []core.TreeEdge `json:"edges"`     // Tree edges sorted by weight.
	TotalCost float64         `json:"totalcost"` // Sum of the cost of all tree edges.
}

/*
apiTree returns the current spanning tree
Request:    GET /tree
Result:     200 with JSON structure apiResponseTree
*/
func (api *WebapiInstance) apiTree(w http.ResponseWriter, r *http.Request) {
	response := apiResponseTree{
		Converged: api.Simulation.Converged(),
		Edges:     api.Simulation.TreeEdges(),
	}
	if response.Edges == nil {
		response.Edges = []core.TreeEdge{}
	}
	for _, edge := range response.Edges {
		response.TotalCost += edge.Cost
	}

	api.EncodeJSON(w, r, response)
}

/*
apiTreeStart freezes the topology and starts the spanning tree protocol on all nodes
Request:    POST /tree/start
Result:     204 on success
*/
func (api *WebapiInstance) apiTreeStart(w http.ResponseWriter, r *http.Request) {
	api.Simulation.StartSpanningTree()
	w.WriteHeader(http.StatusNoContent)
}
