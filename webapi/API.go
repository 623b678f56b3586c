/*
File Name:  API.go
Copyright:  2021 Peernet Foundation s.r.o.
Author:     Peter Kleissner
*/

package webapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	core "github.com/PeernetOfficial/overlay"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// WebapiInstance serves the API of a single simulation.
type WebapiInstance struct {
	Simulation *core.Simulation

	// Router can be used to register additional API functions
	Router *mux.Router
}

// WSUpgrader is used for websocket functionality. It allows all requests.
var WSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// allow all connections by default
		return true
	},
}

// New creates the API and registers all routes. The API key may be uuid.Nil to disable it.
func New(simulation *core.Simulation, APIKey uuid.UUID) (api *WebapiInstance) {
	api = &WebapiInstance{
		Simulation: simulation,
		Router:     mux.NewRouter(),
	}

	if APIKey != uuid.Nil {
		api.Router.Use(api.authenticateMiddleware(APIKey))
	}

	api.Router.HandleFunc("/test", apiTest).Methods("GET")
	api.Router.HandleFunc("/status", api.apiStatus).Methods("GET")
	api.Router.HandleFunc("/simulation/step", api.apiSimulationStep).Methods("POST")
	api.Router.HandleFunc("/node/list", api.apiNodeList).Methods("GET")
	api.Router.HandleFunc("/node/peers", api.apiNodePeers).Methods("GET")
	api.Router.HandleFunc("/tree", api.apiTree).Methods("GET")
	api.Router.HandleFunc("/tree/start", api.apiTreeStart).Methods("POST")
	api.Router.HandleFunc("/consensus/start", api.apiConsensusStart).Methods("POST")
	api.Router.HandleFunc("/consensus/status", api.apiConsensusStatus).Methods("GET")
	api.Router.HandleFunc("/peercount/start", api.apiPeerCountStart).Methods("POST")
	api.Router.HandleFunc("/peercount", api.apiPeerCount).Methods("GET")
	api.Router.HandleFunc("/events", api.apiEvents).Methods("GET")

	return api
}

// Start starts the API on all listen addresses (IP:Port). The read and write timeout may be 0 for no timeout.
func Start(simulation *core.Simulation, ListenAddresses []string, TimeoutRead, TimeoutWrite time.Duration, APIKey uuid.UUID) (api *WebapiInstance) {
	if len(ListenAddresses) == 0 {
		return nil
	}

	api = New(simulation, APIKey)

	for _, listen := range ListenAddresses {
		go api.startWebAPI(listen, TimeoutRead, TimeoutWrite)
	}

	return api
}

// startWebAPI starts a web-server with given parameters and logs the status. It blocks forever and only returns if there is an error.
func (api *WebapiInstance) startWebAPI(WebListen string, ReadTimeout, WriteTimeout time.Duration) {
	api.Simulation.Filters.LogError("startWebAPI", "Start API at '%s'\n", WebListen)

	server := &http.Server{
		Addr:         WebListen,
		Handler:      api.Router,
		ReadTimeout:  ReadTimeout,  // ReadTimeout is the maximum duration for reading the entire request, including the body.
		WriteTimeout: WriteTimeout, // WriteTimeout is the maximum duration before timing out writes of the response.
	}

	if err := server.ListenAndServe(); err != nil {
		api.Simulation.Filters.LogError("startWebAPI", "Error listening on '%s': %v\n", WebListen, err)
	}
}

// EncodeJSON encodes the data as JSON
func (api *WebapiInstance) EncodeJSON(w http.ResponseWriter, r *http.Request, data interface{}) (err error) {
	w.Header().Set("Content-Type", "application/json")

	err = json.NewEncoder(w).Encode(data)
	if err != nil {
		api.Simulation.Filters.LogError("EncodeJSON", "Error writing data for route '%s': %v\n", r.URL.Path, err)
	}

	return err
}

// DecodeJSON decodes input JSON data server side sent via POST. It does not limit the maximum amount to read.
// In case of error it will automatically send an error to the client.
func DecodeJSON(w http.ResponseWriter, r *http.Request, data interface{}) (err error) {
	if r.Body == nil {
		http.Error(w, "", http.StatusBadRequest)
		return errors.New("no data")
	}

	err = json.NewDecoder(r.Body).Decode(data)
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return err
	}

	return nil
}

// parseNodeID reads the node ID from the form parameter "node". In case of error it sends an error to the client.
func parseNodeID(w http.ResponseWriter, r *http.Request) (nodeID int64, valid bool) {
	r.ParseForm()
	nodeID, err := strconv.ParseInt(r.Form.Get("node"), 10, 64)
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return 0, false
	}
	return nodeID, true
}

// authenticateMiddleware returns a middleware function to be used with mux.Router.Use(). The key is read from the header x-api-key.
// Websocket clients cannot set headers, they may provide the key as &k= parameter instead.
func (api *WebapiInstance) authenticateMiddleware(APIKey uuid.UUID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID, err := uuid.Parse(r.Header.Get("x-api-key"))
			if err != nil && r.URL.Path == "/events" {
				keyID, err = uuid.Parse(r.URL.Query().Get("k"))
			}
			if err != nil { // Invalid key format
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			if keyID != APIKey {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
