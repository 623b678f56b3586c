/*
File Name:  Events.go
Copyright:  2021 Peernet Foundation s.r.o.
Author:     Peter Kleissner
*/

package webapi

import (
	"net/http"
)

// eventBuffer is the count of events buffered per websocket client. If the client is slower, events are dropped.
const eventBuffer = 1024

/*
apiEvents streams all simulation events via websocket. Each message is a JSON encoded core.Event.
Request:    GET /events
Result:     Upgrade to websocket
*/
func (api *WebapiInstance) apiEvents(w http.ResponseWriter, r *http.Request) {
	c, err := WSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// May happen if request is not a websocket request.
		return
	}
	defer c.Close()

	id, events := api.Simulation.SubscribeEvents(eventBuffer)
	defer api.Simulation.UnsubscribeEvents(id)

	// The reader detects when the client closes the connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteJSON(event); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
