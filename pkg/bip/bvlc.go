// Package bip implements a router.Port for BACnet/IP (ASHRAE 135 Annex J):
// BVLC framing over UDP, adapted from the teacher's channel-oriented BVLC
// codec into the single-threaded router's Port façade.
package bip

import (
	"fmt"

	"github.com/shigmas/bacnet-router/pkg/apdu"
)

// bvlcType is the one defined BVLC type octet.
const bvlcType = 0x81

// bvlcHeaderLength is the fixed BVLC header size: type, function, 2-octet
// total length (header included).
const bvlcHeaderLength = 4

// bvlcFunction names the subset of Annex J function codes this port
// issues and accepts. BDT/FDT distribution-table management is not
// implemented; every frame this port emits is one of these two.
type bvlcFunction uint8

const (
	bvlcFunctionUnicast   bvlcFunction = 0x0a
	bvlcFunctionBroadcast bvlcFunction = 0x0b
)

// encodeBVLC wraps npdu (the already-encoded NPCI+APDU or NPCI+network-
// message bytes) in a BVLC header.
func encodeBVLC(fn bvlcFunction, npdu []byte) []byte {
	total := bvlcHeaderLength + len(npdu)
	out := make([]byte, 0, total)
	out = append(out, bvlcType, byte(fn))
	out = append(out, apdu.EncodeUint(uint(total), 2)...)
	return append(out, npdu...)
}

// decodeBVLC strips the BVLC header from a received UDP datagram and
// returns the function code and the enclosed NPDU bytes.
func decodeBVLC(data []byte) (bvlcFunction, []byte, error) {
	if len(data) < bvlcHeaderLength {
		return 0, nil, fmt.Errorf("bip: datagram shorter than BVLC header (%d bytes)", len(data))
	}
	if data[0] != bvlcType {
		return 0, nil, fmt.Errorf("bip: unrecognized BVLC type 0x%02x", data[0])
	}
	total := int(apdu.DecodeUint(data[2:4]))
	if total != len(data) {
		return 0, nil, fmt.Errorf("bip: BVLC length %d does not match datagram length %d", total, len(data))
	}
	return bvlcFunction(data[1]), data[bvlcHeaderLength:], nil
}
