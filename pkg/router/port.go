package router

import "github.com/shigmas/bacnet-router/pkg/npdu"

// Port is the transport-agnostic façade over a directly connected datalink
// (BACnet/IP or MS/TP). The router never touches socket or UART details;
// it only calls Send with a fully encoded NPCI+body and reads the three
// identity accessors at startup and during forwarding.
type Port interface {
	// Send transmits npci||body to dest and returns the number of bytes
	// written. dest.Mac is the MAC-level destination on this port's
	// network; dest.Net is informational only (ports are single-network).
	Send(dest npdu.Address, npci, body []byte) (int, error)
	// LocalAddr is this port's own MAC address, wrapped as an Address
	// whose Net is this port's network number.
	LocalAddr() npdu.Address
	// BroadcastAddr is the broadcast destination for this port's network:
	// Net 0xFFFF, empty Mac.
	BroadcastAddr() npdu.Address
	// NetNumber is the 16-bit network number of the network this port is
	// directly connected to.
	NetNumber() uint16
}

// GlobalBroadcast is the destination every emitter targets unless a
// specific unicast destination is supplied: net 0xFFFF, zero-length MAC.
var GlobalBroadcast = npdu.Address{Net: npdu.BroadcastNetwork}
