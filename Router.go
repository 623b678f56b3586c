/*
File Name:  Router.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The router stamps outgoing packets, correlates responses to requests and dispatches incoming packets to the registered handler.
Every request is resolved exactly once: By the first valid response or by timeout. Timeouts are detected on tick.
*/

package core

import (
	"errors"
	"sort"
	"time"

	"github.com/PeernetOfficial/overlay/protocol"
)

// ErrHandlerExists is the panic value when a handler is registered twice for the same command.
var ErrHandlerExists = errors.New("handler already registered")

// PacketHandler processes an incoming packet.
type PacketHandler func(packet protocol.Packet)

// ResponseCallback is called exactly once per request. In case of timeout the response is nil.
type ResponseCallback func(response protocol.Response, rtt time.Duration)

// Router is the packet router of a node.
type Router struct {
	node      *Node
	sequences *protocol.SequenceManager
	handlers  map[protocol.Command]PacketHandler
	uniqueID  int64 // counter for unique IDs of outgoing packets

	// statistics
	PacketsIn        uint64
	PacketsOut       uint64
	DroppedResponses uint64 // Responses without outstanding request, including late ones
	UnknownCommands  uint64
	Timeouts         uint64
}

func newRouter(node *Node) *Router {
	return &Router{
		node:      node,
		sequences: protocol.NewSequenceManager(node.config.ReplyTimeout),
		handlers:  make(map[protocol.Command]PacketHandler),
	}
}

// RegisterHandler registers the handler for incoming packets of the command. Registering a command twice is a programming error and panics.
func (router *Router) RegisterHandler(command protocol.Command, handler PacketHandler) {
	if _, ok := router.handlers[command]; ok {
		panic(ErrHandlerExists)
	}
	router.handlers[command] = handler
}

// stamp assigns the packet identity.
func (router *Router) stamp(packet protocol.Packet) {
	router.uniqueID++

	header := packet.Header()
	header.UniqueID = router.uniqueID
	header.SenderID = router.node.ID
	header.SenderAddress = router.node.Address
	header.SentAt = router.node.now()
}

// Send sends the packet to the address.
func (router *Router) Send(address string, packet protocol.Packet) (err error) {
	router.stamp(packet)

	if err = router.node.network.Send(router.node.Address, address, packet, router.node.now()); err != nil {
		return err
	}

	router.PacketsOut++
	return nil
}

// SendRequest sends the request and calls onResponse with the first response or nil after the timeout. A timeout of 0 uses the default reply timeout.
// If an error is returned the callback is never called.
func (router *Router) SendRequest(address string, request protocol.Respondable, onResponse ResponseCallback, timeout time.Duration) (err error) {
	if onResponse == nil {
		onResponse = func(response protocol.Response, rtt time.Duration) {}
	}

	router.stamp(request)
	header := request.Header()

	router.sequences.NewSequence(header.UniqueID, address, request.ResponseCommand(), router.node.now(), timeout, onResponse)

	if err = router.node.network.Send(router.node.Address, address, request, router.node.now()); err != nil {
		router.sequences.InvalidateSequence(header.UniqueID)
		return err
	}

	router.PacketsOut++
	return nil
}

// SendResponse sends the response to the sender of the request.
func (router *Router) SendResponse(request protocol.Packet, response protocol.Response) (err error) {
	if respondable, ok := request.(protocol.Respondable); ok && respondable.ResponseCommand() != response.Header().Command {
		router.node.filters.LogError("Router.SendResponse", "response command %s does not match request %s\n", response.Header().Command, request.Header().Command)
	}

	response.ReplyTo().CallerUniqueID = request.Header().UniqueID
	return router.Send(request.Header().SenderAddress, response)
}

// Deliver processes an incoming packet.
func (router *Router) Deliver(packet protocol.Packet) {
	header := packet.Header()

	// Packets from self are discarded.
	if header.SenderID == router.node.ID {
		return
	}

	router.PacketsIn++
	router.node.touch(header.SenderAddress)

	if response, ok := packet.(protocol.Response); ok {
		router.resolve(response)
		return
	}

	handler, ok := router.handlers[header.Command]
	if !ok {
		router.UnknownCommands++
		router.node.filters.LogError("Router.Deliver", "unknown command %s from peer %d\n", header.Command, header.SenderID)
		return
	}

	handler(packet)
}

// resolve resolves the outstanding request the response belongs to.
func (router *Router) resolve(response protocol.Response) {
	header := response.Header()
	sequence, valid, rtt := router.sequences.ValidateSequence(response.ReplyTo().CallerUniqueID, header.SenderAddress, header.Command, router.node.now())
	if sequence == nil {
		router.DroppedResponses++
		return
	}

	if !sequence.MarkResolved() {
		router.node.filters.LogError("Router.resolve", "bug: request %d resolved twice\n", sequence.UniqueID)
		return
	}

	callback := sequence.Data.(ResponseCallback)

	// expired but not yet swept: it is a timeout, the response is dropped
	if !valid {
		router.Timeouts++
		router.DroppedResponses++
		callback(nil, 0)
		return
	}

	callback(response, rtt)
}

// OnUpdate resolves all expired requests as timeout.
func (router *Router) OnUpdate(dt time.Duration) {
	expired := router.sequences.ExpireSequences(router.node.now())

	// deterministic order
	sort.Slice(expired, func(i, j int) bool { return expired[i].UniqueID < expired[j].UniqueID })

	for _, sequence := range expired {
		if !sequence.MarkResolved() {
			router.node.filters.LogError("Router.OnUpdate", "bug: request %d resolved twice\n", sequence.UniqueID)
			continue
		}

		router.Timeouts++
		sequence.Data.(ResponseCallback)(nil, 0)
	}
}

// Outstanding returns the count of requests waiting for a response.
func (router *Router) Outstanding() int {
	return router.sequences.Count()
}
