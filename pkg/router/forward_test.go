package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shigmas/bacnet-router/pkg/npdu"
)

func hop(v uint8) *uint8 { return &v }

// TestForwardToKnownRemote covers scenario 3.
func TestForwardToKnownRemote(t *testing.T) {
	r := newTestRouter()
	p1 := newFakePort(1, nil)
	p2 := newFakePort(2, nil)
	r.AddPort(p1)
	r.AddPort(p2)
	r.table.AddRemote(1, 5, []byte{0xaa, 0xbb})

	msg := &npdu.Message{
		ProtocolVersion: npdu.DefaultProtocolVersion,
		Control:         npdu.Control{DestinationPresent: true},
		Destination:     &npdu.Address{Net: 5, Mac: []byte{0xcc}},
		HopCount:        hop(10),
	}
	r.forwardAPDU(p2, msg, []byte{0x10, 0x01})

	require.Len(t, p1.sent, 1)
	require.Empty(t, p2.sent)

	frame := p1.sent[0]
	out, _, err := npdu.Decode(frame.npci)
	require.NoError(t, err)
	require.NotNil(t, out.Destination)
	assert.Equal(t, uint16(5), out.Destination.Net, "DNET must be preserved for an intermediate forward")
	assert.Equal(t, []byte{0xcc}, out.Destination.Mac)
	assert.Equal(t, uint16(1), frame.dest.Net, "outbound MAC-level dest rides on the next-hop Port's network")
	assert.Equal(t, []byte{0xaa, 0xbb}, frame.dest.Mac, "next-hop MAC from the routing entry")
	require.NotNil(t, out.HopCount)
	assert.Equal(t, uint8(9), *out.HopCount, "P5: hop count decremented by exactly one")
	assert.Equal(t, []byte{0x10, 0x01}, frame.body)
}

// TestForwardDirectDelivery covers scenario 4.
func TestForwardDirectDelivery(t *testing.T) {
	r := newTestRouter()
	p1 := newFakePort(1, nil)
	p2 := newFakePort(2, nil)
	r.AddPort(p1)
	r.AddPort(p2)

	msg := &npdu.Message{
		ProtocolVersion: npdu.DefaultProtocolVersion,
		Control:         npdu.Control{DestinationPresent: true},
		Destination:     &npdu.Address{Net: 1, Mac: []byte{0xcc}},
		HopCount:        hop(10),
	}
	r.forwardAPDU(p2, msg, []byte{0x10, 0x01})

	require.Len(t, p1.sent, 1)
	frame := p1.sent[0]
	out, _, err := npdu.Decode(frame.npci)
	require.NoError(t, err)
	assert.False(t, out.Control.DestinationPresent, "direct delivery strips the destination triple")
	assert.Equal(t, []byte{0xcc}, frame.dest.Mac)
	require.NotNil(t, out.HopCount)
	assert.Equal(t, uint8(9), *out.HopCount)
}

// TestForwardUnknownDNETTriggersDiscovery covers scenario 5.
func TestForwardUnknownDNETTriggersDiscovery(t *testing.T) {
	r := newTestRouter()
	p1 := newFakePort(1, nil)
	p2 := newFakePort(2, nil)
	r.AddPort(p1)
	r.AddPort(p2)

	msg := &npdu.Message{
		ProtocolVersion: npdu.DefaultProtocolVersion,
		Control:         npdu.Control{DestinationPresent: true},
		Destination:     &npdu.Address{Net: 99},
		HopCount:        hop(5),
	}
	r.forwardAPDU(p1, msg, []byte{0x10, 0x01})

	require.Len(t, p1.sent, 1, "source port excluded from the speculative APDU broadcast, but not from who-is-router-to-network discovery")
	require.Len(t, p2.sent, 2, "a speculative broadcast of the APDU and a who-is-router-to-network discovery")

	apduFrame := p2.sent[0]
	out, _, err := npdu.Decode(apduFrame.npci)
	require.NoError(t, err)
	require.NotNil(t, out.Destination)
	assert.Equal(t, uint16(99), out.Destination.Net)
	assert.Equal(t, []byte{0x10, 0x01}, apduFrame.body)

	discoveryFrame := p2.sent[1]
	discOut, _, err := npdu.Decode(discoveryFrame.npci)
	require.NoError(t, err)
	require.NotNil(t, discOut.MessageType)
	assert.Equal(t, npdu.MsgWhoIsRouterToNetwork, *discOut.MessageType)
	assert.Equal(t, []byte{0x00, 0x63}, discoveryFrame.body, "net 99 = 0x0063")

	srcDiscoveryFrame := p1.sent[0]
	srcDiscOut, _, err := npdu.Decode(srcDiscoveryFrame.npci)
	require.NoError(t, err)
	require.NotNil(t, srcDiscOut.MessageType)
	assert.Equal(t, npdu.MsgWhoIsRouterToNetwork, *srcDiscOut.MessageType,
		"who-is-router-to-network discovery must reach the source port too")
}

func TestForwardGlobalBroadcastExcludesSourcePort(t *testing.T) {
	r := newTestRouter()
	p1 := newFakePort(1, nil)
	p2 := newFakePort(2, nil)
	p3 := newFakePort(3, nil)
	r.AddPort(p1)
	r.AddPort(p2)
	r.AddPort(p3)

	msg := &npdu.Message{
		ProtocolVersion: npdu.DefaultProtocolVersion,
		Control:         npdu.Control{DestinationPresent: true},
		Destination:     &npdu.Address{Net: npdu.BroadcastNetwork},
		HopCount:        hop(3),
	}
	r.forwardAPDU(p1, msg, []byte{0x20})

	assert.Empty(t, p1.sent)
	require.Len(t, p2.sent, 1)
	require.Len(t, p3.sent, 1)
	assert.Equal(t, GlobalBroadcast, p2.sent[0].dest)
}

func TestForwardHopCountExhaustedDiscards(t *testing.T) {
	r := newTestRouter()
	p1 := newFakePort(1, nil)
	p2 := newFakePort(2, nil)
	r.AddPort(p1)
	r.AddPort(p2)

	msg := &npdu.Message{
		ProtocolVersion: npdu.DefaultProtocolVersion,
		Control:         npdu.Control{DestinationPresent: true},
		Destination:     &npdu.Address{Net: npdu.BroadcastNetwork},
		HopCount:        hop(0),
	}
	r.forwardAPDU(p1, msg, []byte{0x20})

	assert.Empty(t, p2.sent, "hop count already zero on arrival; nothing may be emitted")
}

// TestRoutedSourceRewriting covers P6: an unrouted source (net == 0) is
// stamped with the source port's own network number.
func TestRoutedSourceRewriting(t *testing.T) {
	r := newTestRouter()
	p1 := newFakePort(1, nil)
	p2 := newFakePort(2, nil)
	r.AddPort(p1)
	r.AddPort(p2)

	msg := &npdu.Message{
		ProtocolVersion: npdu.DefaultProtocolVersion,
		Control:         npdu.Control{DestinationPresent: true, SourcePresent: true},
		Destination:     &npdu.Address{Net: 1, Mac: []byte{0xcc}},
		Source:          &npdu.Address{Net: 0, Mac: []byte{0x77}},
		HopCount:        hop(10),
	}
	r.forwardAPDU(p2, msg, []byte{0x01})

	require.Len(t, p1.sent, 1)
	out, _, err := npdu.Decode(p1.sent[0].npci)
	require.NoError(t, err)
	require.NotNil(t, out.Source)
	assert.Equal(t, uint16(2), out.Source.Net, "source net rewritten to the arriving port's own network")
	assert.Equal(t, []byte{0x77}, out.Source.Mac)
}

// TestRoutedSourceAlreadyRoutedLearnsRoute covers the "preserve and learn"
// branch of routed-source synthesis.
func TestRoutedSourceAlreadyRoutedLearnsRoute(t *testing.T) {
	r := newTestRouter()
	p1 := newFakePort(1, nil)
	p2 := newFakePort(2, nil)
	r.AddPort(p1)
	r.AddPort(p2)

	msg := &npdu.Message{
		ProtocolVersion: npdu.DefaultProtocolVersion,
		Control:         npdu.Control{DestinationPresent: true, SourcePresent: true},
		Destination:     &npdu.Address{Net: 1, Mac: []byte{0xcc}},
		Source:          &npdu.Address{Net: 77, Mac: []byte{0x77}},
		HopCount:        hop(10),
	}
	r.forwardAPDU(p2, msg, []byte{0x01})

	out, _, err := npdu.Decode(p1.sent[0].npci)
	require.NoError(t, err)
	require.NotNil(t, out.Source)
	assert.Equal(t, uint16(77), out.Source.Net, "an already-routed source is preserved verbatim")

	port, nextHop, ok := r.table.Find(77)
	require.True(t, ok, "the routed source network must be learned")
	assert.Equal(t, p2, port)
	assert.Equal(t, []byte{0x77}, nextHop)
}
