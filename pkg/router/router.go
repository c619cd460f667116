// Package router implements the core of a BACnet Layer-3 router: NPDU
// decoding, the network-layer control-message state machine, routing-table
// management, and routed-APDU forwarding (ASHRAE 135 clause 6). It is
// single-threaded and cooperative — see the package-level note on
// concurrency below — and has no opinion on transport; callers supply
// Port implementations for BACnet/IP, MS/TP, or an in-memory test double.
//
// Concurrency: a Router is not safe for concurrent use. A frame is decoded,
// dispatched, and every emission it causes completes before Dispatch
// returns. A caller that reads frames from more than one goroutine must
// serialize calls to Dispatch with a single mutex held for the duration of
// one frame's processing.
package router

import (
	"github.com/sirupsen/logrus"

	"github.com/shigmas/bacnet-router/pkg/apdu"
	"github.com/shigmas/bacnet-router/pkg/npdu"
)

// APDUHandler receives application-layer payloads the router has decided
// are addressed to this device, directly or via the broadcast network.
// The router does not interpret apdu; it only applies the NPCI-level
// delivery rules of §6 before handing it off.
type APDUHandler interface {
	HandleAPDU(src npdu.Address, apdu []byte)
}

// nopAPDUHandler discards everything. It lets a Router run with no
// collaborator wired up yet (e.g. a router that only forwards, and never
// terminates traffic locally).
type nopAPDUHandler struct{}

func (nopAPDUHandler) HandleAPDU(npdu.Address, []byte) {}

// Router ties together the routing table (Component B), the network-
// control handler (Component C), and the forwarder (Component D) behind a
// single Dispatch entry point. Construct one with NewRouter, register every
// directly connected Port with AddPort, then feed it received frames.
type Router struct {
	table *Table
	apdu  APDUHandler
	log   *logrus.Logger
}

// NewRouter returns a Router with an empty routing table and the given
// logger. A nil logger falls back to logrus.StandardLogger(). Use
// SetAPDUHandler to wire a collaborator before the first Dispatch call;
// until then APDUs addressed locally are silently discarded.
func NewRouter(log *logrus.Logger) *Router {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Router{
		table: NewTable(),
		apdu:  nopAPDUHandler{},
		log:   log,
	}
}

// AddPort registers a directly connected port. See Table.AddPort for the
// uniqueness and idempotency rules.
func (r *Router) AddPort(p Port) {
	r.table.AddPort(p)
}

// SetAPDUHandler installs the collaborator that receives locally destined
// APDUs (§6, "APDU delivery"). A nil handler restores the no-op default.
func (r *Router) SetAPDUHandler(h APDUHandler) {
	if h == nil {
		h = nopAPDUHandler{}
	}
	r.apdu = h
}

// Table exposes the routing table for inspection (tests, diagnostics,
// administrative tooling). Mutating it outside the single-threaded
// Dispatch path is the caller's responsibility to serialize.
func (r *Router) Table() *Table {
	return r.table
}

// Dispatch is the entry point a Port's receive loop calls for every frame
// read off the wire. srcPort identifies which directly connected network
// the frame arrived on; frame is the raw bytes starting at the NPCI
// version octet (the BVLC/MS/TP framing has already been stripped by the
// caller). Decode errors are logged and the frame is silently discarded,
// per §7 DecodeError.
func (r *Router) Dispatch(srcPort Port, frame []byte) {
	msg, offset, err := npdu.Decode(frame)
	if err != nil {
		r.log.WithError(err).WithField("port", srcPort.NetNumber()).Debug("discarding undecodable frame")
		return
	}
	body := frame[offset:]

	if msg.Control.NetworkLayerMessage {
		var msgType uint8
		if msg.MessageType != nil {
			msgType = *msg.MessageType
		}
		r.handleControl(srcPort, msg.Source, msgType, body)
		return
	}

	r.handleAPDU(srcPort, msg, body)
}

// handleAPDU implements the local-delivery and forwarding split of §4.D
// and §6: a frame with a destination present and not equal to 0xFFFF is
// forwarded, even when the destination is the arriving port's own network;
// a frame with no destination, or with destination 0xFFFF (which is also
// relayed outward), is a candidate for local delivery, subject to the
// confirmed-broadcast drop rule (P7).
func (r *Router) handleAPDU(srcPort Port, msg *npdu.Message, body []byte) {
	dest := msg.Destination
	if dest != nil && dest.Net != npdu.BroadcastNetwork {
		r.forwardAPDU(srcPort, msg, body)
		return
	}

	if dest != nil && dest.Net == npdu.BroadcastNetwork {
		if apdu.IsConfirmedRequest(body) {
			r.log.WithField("port", srcPort.NetNumber()).Debug("dropping confirmed-service broadcast (P7)")
			return
		}
		// Global broadcast is both delivered locally and relayed outward.
		r.forwardAPDU(srcPort, msg, body)
	}

	src := r.routedSource(srcPort, msg.Source)
	r.apdu.HandleAPDU(src, body)
}
