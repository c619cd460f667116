package router

import (
	"bytes"

	"github.com/sirupsen/logrus"

	"github.com/shigmas/bacnet-router/pkg/npdu"
)

// rejectReason names the seven defined Reject-Message-To-Network reasons,
// ASHRAE 135 6.6.3.5. Values 7 and above are valid on the wire but have no
// name; they are logged numerically.
var rejectReason = map[uint8]string{
	0: "other",
	1: "unreachable network",
	2: "network busy",
	3: "unknown network message type",
	4: "message too long",
	5: "security error",
	6: "invalid address length",
}

// handleControl dispatches a decoded network-layer control message. srcPort
// is the port the frame arrived on; src is the NPCI source triple (nil if
// the frame carried none); body is the bytes following the message-type
// octet. Any emission this produces happens before handleControl returns,
// per the single-threaded cooperative execution model (§5).
func (r *Router) handleControl(srcPort Port, src *npdu.Address, msgType uint8, body []byte) {
	log := r.log.WithFields(logrus.Fields{
		"port":     srcPort.NetNumber(),
		"msg_type": msgType,
	})

	switch msgType {
	case npdu.MsgWhoIsRouterToNetwork:
		r.handleWhoIsRouterToNetwork(srcPort, src, body, log)
	case npdu.MsgIAmRouterToNetwork:
		r.handleIAmRouterToNetwork(srcPort, src, body, log)
	case npdu.MsgICouldBeRouterToNetwork:
		log.Debug("I-Could-Be-Router-To-Network received, ignored (no PTP support)")
	case npdu.MsgRejectMessageToNetwork:
		r.handleRejectMessageToNetwork(body, log)
	case npdu.MsgRouterBusyToNetwork, npdu.MsgRouterAvailableToNetwork:
		log.Debug("router busy/available received, ignored (no upstream congestion control)")
	case npdu.MsgInitializeRoutingTable:
		r.handleInitializeRoutingTable(srcPort, src, body, log)
	case npdu.MsgInitializeRoutingTableAck:
		log.Debug("initialize-routing-table-ack received, ignored")
	case npdu.MsgEstablishConnectionToNet, npdu.MsgDisconnectConnectionToNet:
		log.Debug("establish/disconnect-connection received, ignored (no PTP support)")
	default:
		log.WithField("reason", 3).Warn("unrecognized network message type, rejecting")
		r.emitRejectMessageToNetwork(srcPort, src, 3, 0)
	}
}

func (r *Router) handleWhoIsRouterToNetwork(srcPort Port, src *npdu.Address, body []byte, log *logrus.Entry) {
	if len(body) < 2 {
		// No DNET: the requester wants everything we can reach except
		// what's reachable back through them.
		r.emitIAmRouterToNetworkAll(srcPort)
		return
	}
	dnet, _, err := npdu.ReadUint16(body, 0)
	if err != nil {
		log.WithError(err).Warn("malformed who-is-router-to-network body")
		return
	}
	port, _, ok := r.table.Find(dnet)
	if ok {
		if port.NetNumber() != srcPort.NetNumber() {
			r.emitIAmRouterToNetworkOne(srcPort, dnet)
		}
		// else: reachable through the very port the question arrived on;
		// the asker is already on that segment, no reply needed.
		return
	}
	log.WithField("dnet", dnet).Debug("network unknown, rebroadcasting who-is-router-to-network")
	for _, p := range r.table.Ports() {
		if p.NetNumber() == srcPort.NetNumber() {
			continue
		}
		r.emitWhoIsRouterToNetworkFrom(p, dnet, src)
	}
}

func (r *Router) handleIAmRouterToNetwork(srcPort Port, src *npdu.Address, body []byte, log *logrus.Entry) {
	var nextHop []byte
	if src != nil {
		nextHop = src.Mac
	}
	offset := 0
	for offset+2 <= len(body) {
		net, next, err := npdu.ReadUint16(body, offset)
		if err != nil {
			log.WithError(err).Warn("malformed i-am-router-to-network body")
			return
		}
		offset = next
		r.table.AddRemote(srcPort.NetNumber(), net, nextHop)
		log.WithField("net", net).Debug("learned route")
	}
}

func (r *Router) handleRejectMessageToNetwork(body []byte, log *logrus.Entry) {
	if len(body) < 1 {
		return
	}
	reason := body[0]
	entry := log.WithField("reason_code", reason)
	name, known := rejectReason[reason]
	if !known {
		name = "unknown"
	}
	entry = entry.WithField("reason", name)
	if len(body) >= 3 {
		dnet, _, err := npdu.ReadUint16(body, 1)
		if err == nil {
			entry = entry.WithField("dnet", dnet)
		}
	}
	entry.Warn("reject-message-to-network received")
}

func (r *Router) handleInitializeRoutingTable(srcPort Port, src *npdu.Address, body []byte, log *logrus.Entry) {
	if len(body) == 0 {
		return
	}
	count := int(body[0])
	if count == 0 {
		r.emitInitializeRoutingTableAck(srcPort)
		return
	}

	var nextHop []byte
	if src != nil {
		nextHop = src.Mac
	}

	// Intended layout per entry: 2-octet DNET, 1-octet port ID, 1-octet
	// info length, info-length octets. Advance by (4 + info-length) per
	// entry, resolving the open question about the reference's cursor
	// re-initialization bug (see SPEC_FULL.md).
	offset := 1
	for i := 0; i < count; i++ {
		if offset+4 > len(body) {
			log.Warn("initialize-routing-table entry truncated")
			break
		}
		dnet, _, err := npdu.ReadUint16(body, offset)
		if err != nil {
			break
		}
		infoLen := int(body[offset+3])
		if offset+4+infoLen > len(body) {
			log.Warn("initialize-routing-table entry info truncated")
			break
		}
		r.table.AddRemote(srcPort.NetNumber(), dnet, nextHop)
		offset += 4 + infoLen
	}
	r.emitInitializeRoutingTableAck(srcPort)
}

// --- emitters ---
//
// Every emitter targets the global broadcast destination unless a unicast
// destination is supplied explicitly.

func (r *Router) emitIAmRouterToNetworkOne(onPort Port, net uint16) {
	buf := bytes.NewBuffer(nil)
	npdu.WriteUint16(buf, net)
	r.sendNetworkMessage(onPort, GlobalBroadcast, npdu.MsgIAmRouterToNetwork, buf.Bytes())
}

// emitIAmRouterToNetworkAll answers a DNET-less Who-Is-Router-To-Network:
// every network reachable except through onPort (P4, loop-free advertisement).
func (r *Router) emitIAmRouterToNetworkAll(onPort Port) {
	buf := bytes.NewBuffer(nil)
	for _, p := range r.table.Ports() {
		if p.NetNumber() == onPort.NetNumber() {
			continue
		}
		npdu.WriteUint16(buf, p.NetNumber())
		for _, net := range r.table.RemoteNetworks(p.NetNumber()) {
			npdu.WriteUint16(buf, net)
		}
	}
	r.sendNetworkMessage(onPort, GlobalBroadcast, npdu.MsgIAmRouterToNetwork, buf.Bytes())
}

func (r *Router) emitWhoIsRouterToNetwork(onPort Port, dnet uint16) {
	r.emitWhoIsRouterToNetworkFrom(onPort, dnet, nil)
}

// emitWhoIsRouterToNetworkFrom rebroadcasts Who-Is-Router-To-Network(dnet),
// carrying the original requester's SNET/SADR unchanged when src is
// non-nil. ASHRAE 135 6.6.3.2 preserves this so an I-Could-Be-Router-To-
// Network can later be directed back to the originating device; this
// implementation parses but ignores I-Could-Be-Router (no PTP support), so
// the forwarded source triple is otherwise inert.
func (r *Router) emitWhoIsRouterToNetworkFrom(onPort Port, dnet uint16, src *npdu.Address) {
	buf := bytes.NewBuffer(nil)
	if dnet != 0 {
		npdu.WriteUint16(buf, dnet)
	}
	if src == nil {
		r.sendNetworkMessage(onPort, GlobalBroadcast, npdu.MsgWhoIsRouterToNetwork, buf.Bytes())
		return
	}
	r.sendNetworkMessageWithSource(onPort, GlobalBroadcast, src, npdu.MsgWhoIsRouterToNetwork, buf.Bytes())
}

// emitInitializeRoutingTableAck enumerates every port network in
// insertion order: 1-octet count, then per port (2-octet NET, 1-octet
// synthetic port ID starting at 1, 1-octet info length 0). It is
// broadcast on onPort, the port the triggering request arrived on.
func (r *Router) emitInitializeRoutingTableAck(onPort Port) {
	ports := r.table.Ports()
	buf := bytes.NewBuffer(nil)
	buf.WriteByte(byte(len(ports)))
	portID := byte(1)
	for _, p := range ports {
		npdu.WriteUint16(buf, p.NetNumber())
		buf.WriteByte(portID)
		buf.WriteByte(0)
		portID++
	}
	r.sendNetworkMessage(onPort, GlobalBroadcast, npdu.MsgInitializeRoutingTableAck, buf.Bytes())
}

// emitRejectMessageToNetwork sends a reject back toward the frame's source
// (ASHRAE 135 6.6.3.5). Per original_source/apps/fuzz-afl/main.c's
// send_reject_message_to_network, a present src is used as the unicast
// destination; only a frame with no source triple falls back to broadcast.
func (r *Router) emitRejectMessageToNetwork(onPort Port, src *npdu.Address, reason uint8, dnet uint16) {
	buf := bytes.NewBuffer(nil)
	buf.WriteByte(reason)
	if dnet != 0 {
		npdu.WriteUint16(buf, dnet)
	}
	dest := GlobalBroadcast
	if src != nil {
		dest = *src
	}
	r.sendNetworkMessage(onPort, dest, npdu.MsgRejectMessageToNetwork, buf.Bytes())
}

// sendNetworkMessage encodes and sends a single network-layer control
// message on exactly one port.
func (r *Router) sendNetworkMessage(onPort Port, dest npdu.Address, msgType uint8, body []byte) {
	msg := &npdu.Message{
		ProtocolVersion: npdu.DefaultProtocolVersion,
		Control:         npdu.Control{NetworkLayerMessage: true},
		MessageType:     &msgType,
	}
	header, err := npdu.Encode(msg)
	if err != nil {
		r.log.WithError(err).Error("failed to encode outbound network message")
		return
	}
	if _, err := onPort.Send(dest, header, body); err != nil {
		r.log.WithError(err).WithField("port", onPort.NetNumber()).Warn("send failed")
	}
}

// sendNetworkMessageWithSource is sendNetworkMessage plus an explicit SNET/
// SADR triple, used when a control message must carry forward a requester's
// source address rather than omit it.
func (r *Router) sendNetworkMessageWithSource(onPort Port, dest npdu.Address, src *npdu.Address, msgType uint8, body []byte) {
	msg := &npdu.Message{
		ProtocolVersion: npdu.DefaultProtocolVersion,
		Control:         npdu.Control{NetworkLayerMessage: true, SourcePresent: true},
		Source:          src,
		MessageType:     &msgType,
	}
	header, err := npdu.Encode(msg)
	if err != nil {
		r.log.WithError(err).Error("failed to encode outbound network message")
		return
	}
	if _, err := onPort.Send(dest, header, body); err != nil {
		r.log.WithError(err).WithField("port", onPort.NetNumber()).Warn("send failed")
	}
}
