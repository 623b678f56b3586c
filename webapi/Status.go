/*
File Name:  Status.go
Copyright:  2021 Peernet Foundation s.r.o.
Author:     Peter Kleissner
*/

package webapi

import (
	"net/http"
	"time"

	core "github.com/PeernetOfficial/overlay"
	"github.com/google/uuid"
)

func apiTest(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type apiResponseStatus struct {
	Status        int       `json:"status"`        // Status code: 0 = Ok.
	RunID         uuid.UUID `json:"runid"`         // ID of the simulation run.
	Version       string    `json:"version"`       // Version of the simulator.
	Elapsed       string    `json:"elapsed"`       // Simulated time since start.
	CountNodes    int       `json:"countnodes"`    // Count of nodes.
	CountLinks    int       `json:"countlinks"`    // Count of connections. Each connection is counted once.
	InFlight      int       `json:"inflight"`      // Count of packets currently in transit.
	Converged     bool      `json:"converged"`     // Whether the spanning tree converged.
	EventsDropped uint64    `json:"eventsdropped"` // Events not delivered to slow monitors.
}

/*
apiStatus returns the current status of the simulation
Request:    GET /status
Result:     200 with JSON structure apiResponseStatus
*/
func (api *WebapiInstance) apiStatus(w http.ResponseWriter, r *http.Request) {
	status := apiResponseStatus{
		RunID:     api.Simulation.RunID,
		Version:   core.Version,
		Elapsed:   api.Simulation.Elapsed().String(),
		Converged: api.Simulation.Converged(),
	}

	api.Simulation.WithNodes(func(nodes []*core.Node) {
		status.CountNodes = len(nodes)
		for _, node := range nodes {
			status.CountLinks += len(node.Listeners())
		}
		status.InFlight = api.Simulation.Network().InFlight()
		status.EventsDropped = api.Simulation.EventsDropped
	})

	api.EncodeJSON(w, r, status)
}

type apiRequestStep struct {
	Duration string `json:"duration"` // Duration to run, for example "5s".
}

/*
apiSimulationStep advances the simulation. This is only useful if the simulation is not running in the background.
Request:    POST /simulation/step with JSON structure apiRequestStep
Result:     200 with JSON structure apiResponseStatus
*/
func (api *WebapiInstance) apiSimulationStep(w http.ResponseWriter, r *http.Request) {
	var input apiRequestStep
	if err := DecodeJSON(w, r, &input); err != nil {
		return
	}

	duration, err := time.ParseDuration(input.Duration)
	if err != nil || duration <= 0 {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	api.Simulation.Run(duration)
	api.apiStatus(w, r)
}
