// Package npdu decodes and encodes the BACnet Network Protocol Data Unit
// header (the NPCI, ASHRAE 135 clause 6.2) carried by every frame a router
// receives. It only understands the header: the bytes following
// BodyOffset (a network-layer message body, or an APDU) are opaque to this
// package.
package npdu

import (
	"bytes"
	"encoding/binary"
)

const (
	// DefaultProtocolVersion is the only NPCI version this router understands.
	DefaultProtocolVersion uint8 = 1

	// BroadcastNetwork is the global-broadcast sentinel network number.
	BroadcastNetwork uint16 = 0xFFFF

	// control octet bit masks, ASHRAE 135 6.2.2
	ctrlNetworkLayerMessage = 0b1000_0000
	ctrlDestinationPresent  = 0b0010_0000
	ctrlSourcePresent       = 0b0000_1000
	ctrlExpectingReply      = 0b0000_0100
	ctrlPriorityMask        = 0b0000_0011
)

type (
	// Priority is the 2-bit network message priority in the control octet.
	Priority uint8

	// Control is the second NPCI octet, decoded into named fields.
	Control struct {
		NetworkLayerMessage bool
		DestinationPresent  bool
		SourcePresent       bool
		ExpectingReply      bool
		Priority            Priority
	}

	// Address is the (net, mac) pair carried in an NPCI destination or
	// source triple, and the value a Port reports as its local/broadcast
	// address. Net 0 means "this network" when used outside a DNET/SNET
	// triple; 0xFFFF is the global-broadcast sentinel. An empty Mac means
	// broadcast on whatever network Net identifies.
	Address struct {
		Net uint16
		Mac []byte
	}

	// Message is the decoded NPCI: protocol version, control flags, the
	// optional destination/source triples, hop count, and — when
	// Control.NetworkLayerMessage is set — the network-message type tag.
	// It does not include the bytes after the header; callers slice those
	// out of the original buffer using the offset Decode returns.
	Message struct {
		ProtocolVersion uint8
		Control         Control
		Destination     *Address
		Source          *Address
		HopCount        *uint8
		MessageType     *uint8
	}
)

// Priority values, ASHRAE 135 6.2.2.
const (
	PriorityNormal Priority = iota
	PriorityUrgent
	PriorityCritical
	PriorityLifeSafety
)

// Network-layer message type tags, ASHRAE 135 6.6.
const (
	MsgWhoIsRouterToNetwork      uint8 = 0x00
	MsgIAmRouterToNetwork        uint8 = 0x01
	MsgICouldBeRouterToNetwork   uint8 = 0x02
	MsgRejectMessageToNetwork    uint8 = 0x03
	MsgRouterBusyToNetwork       uint8 = 0x04
	MsgRouterAvailableToNetwork  uint8 = 0x05
	MsgInitializeRoutingTable    uint8 = 0x06
	MsgInitializeRoutingTableAck uint8 = 0x07
	MsgEstablishConnectionToNet  uint8 = 0x08
	MsgDisconnectConnectionToNet uint8 = 0x09
	MsgWhatIsNetworkNumber       uint8 = 0x12
	MsgNetworkNumberIs           uint8 = 0x13
)

// Decode reads the NPCI preamble from data and returns the decoded message
// and the offset of the first byte past the header (the body: either the
// network-message payload or an APDU). It never reads beyond len(data); any
// field whose declared length would run past the buffer yields a
// *DecodeError with Kind Truncated.
func Decode(data []byte) (*Message, int, error) {
	if len(data) < 2 {
		return nil, 0, newDecodeError(Truncated, "need at least 2 bytes for version+control, got %d", len(data))
	}

	version := data[0]
	if version != DefaultProtocolVersion {
		return nil, 0, newDecodeError(UnsupportedVersion, "got %d", version)
	}

	ctrl := decodeControl(data[1])
	offset := 2
	msg := &Message{ProtocolVersion: version, Control: ctrl}

	if ctrl.DestinationPresent {
		dest, next, err := readTriple(data, offset)
		if err != nil {
			return nil, 0, err
		}
		msg.Destination = dest
		offset = next
	}

	if ctrl.SourcePresent {
		src, next, err := readTriple(data, offset)
		if err != nil {
			return nil, 0, err
		}
		msg.Source = src
		offset = next
	}

	if ctrl.DestinationPresent {
		if offset >= len(data) {
			return nil, 0, newDecodeError(Truncated, "missing hop count byte")
		}
		hop := data[offset]
		msg.HopCount = &hop
		offset++
	}

	if ctrl.NetworkLayerMessage {
		if offset >= len(data) {
			return nil, 0, newDecodeError(Truncated, "missing network-message type byte")
		}
		mtype := data[offset]
		msg.MessageType = &mtype
		offset++
	}

	return msg, offset, nil
}

// readTriple reads a (NET, LEN, ADR[LEN]) triple starting at offset.
func readTriple(data []byte, offset int) (*Address, int, error) {
	if offset+3 > len(data) {
		return nil, 0, newDecodeError(Truncated, "need 3 bytes for NET+LEN, have %d from offset %d", len(data)-offset, offset)
	}
	net := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	length := int(data[offset])
	offset++
	if offset+length > len(data) {
		return nil, 0, newDecodeError(Truncated, "address claims %d bytes, only %d remain", length, len(data)-offset)
	}
	var mac []byte
	if length > 0 {
		mac = make([]byte, length)
		copy(mac, data[offset:offset+length])
	}
	offset += length
	return &Address{Net: net, Mac: mac}, offset, nil
}

// Encode writes msg back to wire format. Encode(Decode(b)) round-trips for
// every well-formed NPCI (P2).
func Encode(msg *Message) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 8))
	version := msg.ProtocolVersion
	if version == 0 {
		version = DefaultProtocolVersion
	}
	buf.WriteByte(version)
	buf.WriteByte(encodeControl(msg.Control))

	if msg.Control.DestinationPresent {
		if err := writeTriple(buf, msg.Destination); err != nil {
			return nil, err
		}
	}
	if msg.Control.SourcePresent {
		if err := writeTriple(buf, msg.Source); err != nil {
			return nil, err
		}
	}
	if msg.Control.DestinationPresent {
		var hop uint8
		if msg.HopCount != nil {
			hop = *msg.HopCount
		}
		buf.WriteByte(hop)
	}
	if msg.Control.NetworkLayerMessage {
		var mtype uint8
		if msg.MessageType != nil {
			mtype = *msg.MessageType
		}
		buf.WriteByte(mtype)
	}

	return buf.Bytes(), nil
}

func writeTriple(buf *bytes.Buffer, addr *Address) error {
	if addr == nil {
		addr = &Address{}
	}
	var netBytes [2]byte
	binary.BigEndian.PutUint16(netBytes[:], addr.Net)
	buf.Write(netBytes[:])
	if len(addr.Mac) > 0xFF {
		return newDecodeError(InvalidLength, "mac length %d exceeds one octet", len(addr.Mac))
	}
	buf.WriteByte(byte(len(addr.Mac)))
	buf.Write(addr.Mac)
	return nil
}

func encodeControl(c Control) byte {
	var b byte
	if c.NetworkLayerMessage {
		b |= ctrlNetworkLayerMessage
	}
	if c.DestinationPresent {
		b |= ctrlDestinationPresent
	}
	if c.SourcePresent {
		b |= ctrlSourcePresent
	}
	if c.ExpectingReply {
		b |= ctrlExpectingReply
	}
	b |= byte(c.Priority) & ctrlPriorityMask
	return b
}

func decodeControl(b byte) Control {
	return Control{
		NetworkLayerMessage: b&ctrlNetworkLayerMessage != 0,
		DestinationPresent:  b&ctrlDestinationPresent != 0,
		SourcePresent:       b&ctrlSourcePresent != 0,
		ExpectingReply:      b&ctrlExpectingReply != 0,
		Priority:            Priority(b & ctrlPriorityMask),
	}
}

// ReadUint16 reads a big-endian uint16 at offset, returning the offset past it.
func ReadUint16(data []byte, offset int) (uint16, int, error) {
	if offset+2 > len(data) {
		return 0, 0, newDecodeError(Truncated, "need 2 bytes at offset %d, have %d", offset, len(data)-offset)
	}
	return binary.BigEndian.Uint16(data[offset : offset+2]), offset + 2, nil
}

// WriteUint16 appends a big-endian uint16 to buf.
func WriteUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}
