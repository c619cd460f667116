package router

import (
	"github.com/sirupsen/logrus"

	"github.com/shigmas/bacnet-router/pkg/npdu"
)

// forwardAPDU applies the forwarding rules of ASHRAE 135 §6.5/§6.6 to an
// APDU-bearing frame. srcPort is the port the frame arrived on; msg is the
// decoded NPCI (already known to be a non-network-layer message, i.e. an
// APDU), whose Source is the NPCI source triple, possibly nil; apdu is the
// byte range after the NPCI header.
func (r *Router) forwardAPDU(srcPort Port, msg *npdu.Message, apdu []byte) {
	dest := msg.Destination
	if dest == nil {
		// No DNET at all: this is a frame for the local network. The
		// caller (Dispatch) already handles local APDU delivery; nothing
		// to forward.
		return
	}

	hop, ok := decrementHopCount(msg.HopCount)
	if !ok {
		r.log.WithField("port", srcPort.NetNumber()).Debug("hop count exhausted, discarding")
		return
	}

	log := r.log.WithFields(logrus.Fields{
		"port": srcPort.NetNumber(),
		"dnet": dest.Net,
	})

	if dest.Net == npdu.BroadcastNetwork {
		r.forwardGlobalBroadcast(srcPort, msg, hop, apdu, log)
		return
	}

	port, nextHop, ok := r.table.Find(dest.Net)
	if !ok {
		r.forwardUnknownNetwork(srcPort, msg, dest, hop, apdu, log)
		return
	}

	if port.NetNumber() == dest.Net {
		r.forwardDirect(srcPort, port, msg, dest, hop, apdu, log)
	} else {
		r.forwardToNextHop(srcPort, port, msg, dest, nextHop, hop, apdu, log)
	}
}

// decrementHopCount applies the hop-count policy: decrement once, discard
// (return ok=false) exactly when the post-decrement count is zero and
// forwarding must still happen. A nil hop count (shouldn't occur once a
// destination is present, but defends against a malformed frame) is
// treated as already exhausted.
func decrementHopCount(hopCount *uint8) (uint8, bool) {
	if hopCount == nil {
		return 0, false
	}
	if *hopCount <= 1 {
		return 0, false
	}
	return *hopCount - 1, true
}

// routedSource synthesizes the outbound NPCI source triple (§4.D). If the
// received source already carries a nonzero network, the frame was already
// routed upstream: preserve it verbatim and learn the route it reveals.
// Otherwise the frame originated on srcPort's own network: stamp the
// source with srcPort's network number and the received MAC.
func (r *Router) routedSource(srcPort Port, src *npdu.Address) npdu.Address {
	if src != nil && src.Net != 0 {
		r.table.AddRemote(srcPort.NetNumber(), src.Net, src.Mac)
		return *src
	}
	var mac []byte
	if src != nil {
		mac = src.Mac
	}
	return npdu.Address{Net: srcPort.NetNumber(), Mac: mac}
}

func (r *Router) forwardGlobalBroadcast(srcPort Port, msg *npdu.Message, hop uint8, apdu []byte, log *logrus.Entry) {
	routedSrc := r.routedSource(srcPort, msg.Source)
	out := &npdu.Message{
		ProtocolVersion: npdu.DefaultProtocolVersion,
		Control: npdu.Control{
			DestinationPresent: true,
			SourcePresent:      true,
			Priority:           msg.Control.Priority,
		},
		Destination: &npdu.Address{Net: 0},
		Source:      &routedSrc,
		HopCount:    &hop,
	}
	header, err := npdu.Encode(out)
	if err != nil {
		log.WithError(err).Error("failed to encode broadcast forward")
		return
	}
	log.Debug("forwarding global broadcast")
	for _, p := range r.table.Ports() {
		if p.NetNumber() == srcPort.NetNumber() {
			continue
		}
		if _, err := p.Send(p.BroadcastAddr(), header, apdu); err != nil {
			log.WithError(err).WithField("out_port", p.NetNumber()).Warn("broadcast send failed")
		}
	}
}

func (r *Router) forwardDirect(srcPort, destPort Port, msg *npdu.Message, dest *npdu.Address, hop uint8, apdu []byte, log *logrus.Entry) {
	routedSrc := r.routedSource(srcPort, msg.Source)
	out := &npdu.Message{
		ProtocolVersion: npdu.DefaultProtocolVersion,
		Control: npdu.Control{
			SourcePresent: true,
			Priority:      msg.Control.Priority,
		},
		Source: &routedSrc,
	}
	header, err := npdu.Encode(out)
	if err != nil {
		log.WithError(err).Error("failed to encode direct delivery")
		return
	}
	log.Debug("direct delivery")
	destAddr := npdu.Address{Net: destPort.NetNumber(), Mac: dest.Mac}
	if _, err := destPort.Send(destAddr, header, apdu); err != nil {
		log.WithError(err).Warn("direct delivery send failed")
	}
}

func (r *Router) forwardToNextHop(srcPort, destPort Port, msg *npdu.Message, dest *npdu.Address, nextHop []byte, hop uint8, apdu []byte, log *logrus.Entry) {
	routedSrc := r.routedSource(srcPort, msg.Source)
	out := &npdu.Message{
		ProtocolVersion: npdu.DefaultProtocolVersion,
		Control: npdu.Control{
			DestinationPresent: true,
			SourcePresent:      true,
			Priority:           msg.Control.Priority,
		},
		Destination: &npdu.Address{Net: dest.Net, Mac: dest.Mac},
		Source:      &routedSrc,
		HopCount:    &hop,
	}
	header, err := npdu.Encode(out)
	if err != nil {
		log.WithError(err).Error("failed to encode intermediate forward")
		return
	}
	log.Debug("forwarding to next-hop router")
	destAddr := npdu.Address{Net: destPort.NetNumber(), Mac: nextHop}
	if _, err := destPort.Send(destAddr, header, apdu); err != nil {
		log.WithError(err).Warn("forward send failed")
	}
}

// forwardUnknownNetwork handles a DNET the routing table can't resolve:
// speculative broadcast on every other port, plus a Who-Is-Router-To-Network
// discovery broadcast on every port, per §6.5 case 3.
func (r *Router) forwardUnknownNetwork(srcPort Port, msg *npdu.Message, dest *npdu.Address, hop uint8, apdu []byte, log *logrus.Entry) {
	routedSrc := r.routedSource(srcPort, msg.Source)
	out := &npdu.Message{
		ProtocolVersion: npdu.DefaultProtocolVersion,
		Control: npdu.Control{
			DestinationPresent: true,
			SourcePresent:      true,
			Priority:           msg.Control.Priority,
		},
		Destination: &npdu.Address{Net: dest.Net},
		Source:      &routedSrc,
		HopCount:    &hop,
	}
	header, err := npdu.Encode(out)
	if err != nil {
		log.WithError(err).Error("failed to encode speculative forward")
		return
	}
	log.Debug("unknown network, speculative broadcast and discovery")
	for _, p := range r.table.Ports() {
		if p.NetNumber() == srcPort.NetNumber() {
			continue
		}
		if _, err := p.Send(p.BroadcastAddr(), header, apdu); err != nil {
			log.WithError(err).WithField("out_port", p.NetNumber()).Warn("speculative broadcast send failed")
		}
	}
	// The discovery Who-Is goes out on every port, including the one the
	// frame arrived on — unlike the speculative APDU broadcast above, a
	// router reachable back through the source segment must still see it.
	for _, p := range r.table.Ports() {
		r.emitWhoIsRouterToNetwork(p, dest.Net)
	}
}
