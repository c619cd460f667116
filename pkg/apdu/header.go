// Package apdu classifies the leading octets of an application-layer PDU
// without decoding any service. Full APDU service decoding is out of
// scope for the router core; this package exists to let a Port or a
// router.APDUHandler collaborator make the one distinction the router
// itself needs to make (ASHRAE 135 clause 20.1.2): is this PDU type a
// confirmed service request.
package apdu

// PDUType is the high nibble of an APDU's first octet (20.1.2.1).
type PDUType uint8

const (
	PDUTypeConfirmedRequest PDUType = iota
	PDUTypeUnconfirmedRequest
	PDUTypeSimpleAck
	PDUTypeComplexAck
	PDUTypeSegmentAck
	PDUTypeError
	PDUTypeReject
	PDUTypeAbort
)

func (t PDUType) String() string {
	switch t {
	case PDUTypeConfirmedRequest:
		return "confirmed-request"
	case PDUTypeUnconfirmedRequest:
		return "unconfirmed-request"
	case PDUTypeSimpleAck:
		return "simple-ack"
	case PDUTypeComplexAck:
		return "complex-ack"
	case PDUTypeSegmentAck:
		return "segment-ack"
	case PDUTypeError:
		return "error"
	case PDUTypeReject:
		return "reject"
	case PDUTypeAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// ServiceUnconfirmed is the service-choice octet of an
// Unconfirmed-Request-PDU (20.1.2.12, table in clause 21).
type ServiceUnconfirmed uint8

const (
	ServiceUnconfirmedIAm ServiceUnconfirmed = iota
	ServiceUnconfirmedIHave
	ServiceUnconfirmedCOVNotification
	ServiceUnconfirmedEventNotification
	ServiceUnconfirmedPrivateTransfer
	ServiceUnconfirmedTextMessage
	ServiceUnconfirmedTimeSync
	ServiceUnconfirmedWhoHas
	ServiceUnconfirmedWhoIs
	ServiceUnconfirmedUTCTimeSync
	ServiceUnconfirmedWriteGroup
)

// Header is the result of peeking at an APDU's leading octets: enough to
// log or route by shape, never enough to decode a service's parameters.
type Header struct {
	PDUType PDUType
	// Service is valid only when PDUType == PDUTypeUnconfirmedRequest.
	Service       ServiceUnconfirmed
	HasService    bool
	InvokeIDKnown bool
	InvokeID      uint8
}

// PeekHeader classifies the first one or two octets of apdu. It never
// reads past what PDUType requires, and never touches service parameters.
func PeekHeader(apdu []byte) (Header, error) {
	if len(apdu) == 0 {
		return Header{}, ErrInsufficientData
	}
	h := Header{PDUType: PDUType(apdu[0] >> 4)}

	switch h.PDUType {
	case PDUTypeUnconfirmedRequest:
		if len(apdu) < 2 {
			return Header{}, ErrInsufficientData
		}
		h.Service = ServiceUnconfirmed(apdu[1])
		h.HasService = true
	case PDUTypeSimpleAck, PDUTypeComplexAck, PDUTypeError, PDUTypeReject, PDUTypeAbort, PDUTypeSegmentAck:
		if len(apdu) < 2 {
			return Header{}, ErrInsufficientData
		}
		h.InvokeID = apdu[1]
		h.InvokeIDKnown = true
	}
	return h, nil
}

// IsConfirmedRequest reports whether apdu's PDU type is
// confirmed-request, the case the router drops when addressed to the
// broadcast network (BACnet §5.4.5.1 "ConfirmedBroadcastReceived in
// IDLE"). A malformed (empty) apdu is never treated as confirmed.
func IsConfirmedRequest(apdu []byte) bool {
	if len(apdu) == 0 {
		return false
	}
	return PDUType(apdu[0]>>4) == PDUTypeConfirmedRequest
}
