package router

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shigmas/bacnet-router/pkg/npdu"
)

// recordingAPDUHandler captures every delivered APDU for assertion.
type recordingAPDUHandler struct {
	calls []struct {
		src  npdu.Address
		apdu []byte
	}
}

func (h *recordingAPDUHandler) HandleAPDU(src npdu.Address, apdu []byte) {
	h.calls = append(h.calls, struct {
		src  npdu.Address
		apdu []byte
	}{src, append([]byte(nil), apdu...)})
}

func encodeFrame(t *testing.T, msg *npdu.Message, body []byte) []byte {
	t.Helper()
	header, err := npdu.Encode(msg)
	require.NoError(t, err)
	return append(header, body...)
}

func TestDispatchDiscardsUndecodableFrame(t *testing.T) {
	r := newTestRouter()
	p1 := newFakePort(1, nil)
	r.AddPort(p1)

	handler := &recordingAPDUHandler{}
	r.SetAPDUHandler(handler)

	r.Dispatch(p1, []byte{0x02}) // one octet, no control octet: truncated

	assert.Empty(t, p1.sent)
	assert.Empty(t, handler.calls)
}

func TestDispatchRoutesNetworkLayerMessage(t *testing.T) {
	r := newTestRouter()
	p1 := newFakePort(1, nil)
	p2 := newFakePort(2, nil)
	r.AddPort(p1)
	r.AddPort(p2)

	msgType := npdu.MsgWhoIsRouterToNetwork
	msg := &npdu.Message{
		ProtocolVersion: npdu.DefaultProtocolVersion,
		Control:         npdu.Control{NetworkLayerMessage: true},
		MessageType:     &msgType,
	}
	r.Dispatch(p1, encodeFrame(t, msg, nil))

	require.Len(t, p1.sent, 1, "who-is with no body answers on the source port")
}

func TestDispatchDeliversLocalAPDU(t *testing.T) {
	r := newTestRouter()
	p1 := newFakePort(1, nil)
	r.AddPort(p1)
	handler := &recordingAPDUHandler{}
	r.SetAPDUHandler(handler)

	msg := &npdu.Message{
		ProtocolVersion: npdu.DefaultProtocolVersion,
		Control:         npdu.Control{SourcePresent: true},
		Source:          &npdu.Address{Net: 0, Mac: []byte{0x05}},
	}
	apdu := []byte{0x10, 0x01} // unconfirmed request, not dropped
	r.Dispatch(p1, encodeFrame(t, msg, apdu))

	require.Len(t, handler.calls, 1)
	assert.Equal(t, uint16(1), handler.calls[0].src.Net)
	assert.True(t, bytes.Equal(apdu, handler.calls[0].apdu))
}

// TestDispatchDropsConfirmedBroadcast covers P7.
func TestDispatchDropsConfirmedBroadcast(t *testing.T) {
	r := newTestRouter()
	p1 := newFakePort(1, nil)
	p2 := newFakePort(2, nil)
	r.AddPort(p1)
	r.AddPort(p2)
	handler := &recordingAPDUHandler{}
	r.SetAPDUHandler(handler)

	msg := &npdu.Message{
		ProtocolVersion: npdu.DefaultProtocolVersion,
		Control:         npdu.Control{DestinationPresent: true},
		Destination:     &npdu.Address{Net: npdu.BroadcastNetwork},
	}
	confirmed := []byte{0x00, 0x01} // high nibble 0 = confirmed-request
	r.Dispatch(p1, encodeFrame(t, msg, confirmed))

	assert.Empty(t, handler.calls, "a confirmed-service broadcast must never reach the APDU collaborator")
	assert.Empty(t, p2.sent, "it must not be relayed either")
}

func TestDispatchForwardsToOtherNetwork(t *testing.T) {
	r := newTestRouter()
	p1 := newFakePort(1, nil)
	p2 := newFakePort(2, nil)
	r.AddPort(p1)
	r.AddPort(p2)

	msg := &npdu.Message{
		ProtocolVersion: npdu.DefaultProtocolVersion,
		Control:         npdu.Control{DestinationPresent: true},
		Destination:     &npdu.Address{Net: 2, Mac: []byte{0x09}},
		HopCount:        hop(4),
	}
	r.Dispatch(p1, encodeFrame(t, msg, []byte{0x10, 0x01}))

	require.Len(t, p2.sent, 1)
}
