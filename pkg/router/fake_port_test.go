package router

import "github.com/shigmas/bacnet-router/pkg/npdu"

// sentFrame records one Send call observed by a fakePort.
type sentFrame struct {
	dest npdu.Address
	npci []byte
	body []byte
}

// fakePort is an in-memory Port double: it records every Send and never
// touches a socket. Tests construct one per simulated network.
type fakePort struct {
	net  uint16
	mac  []byte
	sent []sentFrame
}

func newFakePort(net uint16, mac []byte) *fakePort {
	return &fakePort{net: net, mac: mac}
}

func (p *fakePort) Send(dest npdu.Address, npci, body []byte) (int, error) {
	frame := sentFrame{dest: dest, npci: append([]byte(nil), npci...), body: append([]byte(nil), body...)}
	p.sent = append(p.sent, frame)
	return len(npci) + len(body), nil
}

func (p *fakePort) LocalAddr() npdu.Address {
	return npdu.Address{Net: p.net, Mac: p.mac}
}

func (p *fakePort) BroadcastAddr() npdu.Address {
	return npdu.Address{Net: npdu.BroadcastNetwork}
}

func (p *fakePort) NetNumber() uint16 {
	return p.net
}

var _ Port = (*fakePort)(nil)
