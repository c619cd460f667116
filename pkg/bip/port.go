package bip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/shigmas/bacnet-router/pkg/npdu"
	"github.com/shigmas/bacnet-router/pkg/router"
)

// DefaultUDPPort is the registered BACnet/IP UDP port (Annex J.1).
const DefaultUDPPort = 0xBAC0

const udpNetwork = "udp4"

// Port is a router.Port backed by a UDP socket on one BACnet/IP network.
// Its MAC address is the 6-octet (IPv4, UDP port) pair Annex J.2.7
// specifies: the router never interprets the MAC beyond carrying it
// through routing-table entries and outbound datagrams.
type Port struct {
	net     uint16
	conn    *net.UDPConn
	local   net.IP
	bcast   net.IP
	udpPort int
	log     *logrus.Entry
}

var _ router.Port = (*Port)(nil)

// NewPort binds a UDP socket on ip (with the given CIDR mask, used to
// derive the subnet broadcast address) and returns a Port for the given
// BACnet network number. udpPort is typically DefaultUDPPort.
func NewPort(netNumber uint16, ip net.IP, maskBits int, udpPort int, log *logrus.Logger) (*Port, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("bip: %s is not an IPv4 address", ip)
	}
	mask := net.CIDRMask(maskBits, 32)
	bcast := make(net.IP, 4)
	for i := range ip4 {
		bcast[i] = ip4[i] | ^mask[i]
	}

	addr := &net.UDPAddr{IP: net.IPv4zero, Port: udpPort}
	conn, err := net.ListenUDP(udpNetwork, addr)
	if err != nil {
		return nil, fmt.Errorf("bip: listen on UDP port %d: %w", udpPort, err)
	}
	// A requested port of 0 lets the OS assign one; read back whatever it
	// picked so the MAC address this port reports is actually dialable.
	boundPort := conn.LocalAddr().(*net.UDPAddr).Port

	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Port{
		net:     netNumber,
		conn:    conn,
		local:   ip4,
		bcast:   bcast,
		udpPort: boundPort,
		log:     log.WithField("bip_net", netNumber),
	}, nil
}

// Close releases the underlying UDP socket.
func (p *Port) Close() error {
	return p.conn.Close()
}

// NetNumber implements router.Port.
func (p *Port) NetNumber() uint16 {
	return p.net
}

// LocalAddr implements router.Port.
func (p *Port) LocalAddr() npdu.Address {
	return npdu.Address{Net: p.net, Mac: macFromUDP(p.local, p.udpPort)}
}

// BroadcastAddr implements router.Port.
func (p *Port) BroadcastAddr() npdu.Address {
	return npdu.Address{Net: npdu.BroadcastNetwork}
}

// Send implements router.Port: it frames npci||body in a BVLC header and
// writes it to the UDP address encoded in dest.Mac, or to the subnet
// broadcast address when dest.Mac is empty. The returned count is the
// number of NPDU octets sent (len(npci)+len(body)), BVLC header excluded.
func (p *Port) Send(dest npdu.Address, npci, body []byte) (int, error) {
	payload := make([]byte, 0, len(npci)+len(body))
	payload = append(payload, npci...)
	payload = append(payload, body...)

	udpAddr, fn, err := p.resolveDest(dest)
	if err != nil {
		return 0, err
	}
	frame := encodeBVLC(fn, payload)
	if _, err := p.conn.WriteToUDP(frame, udpAddr); err != nil {
		return 0, fmt.Errorf("bip: write to %s: %w", udpAddr, err)
	}
	return len(payload), nil
}

func (p *Port) resolveDest(dest npdu.Address) (*net.UDPAddr, bvlcFunction, error) {
	if len(dest.Mac) == 0 {
		return &net.UDPAddr{IP: p.bcast, Port: p.udpPort}, bvlcFunctionBroadcast, nil
	}
	ip, port, err := udpFromMAC(dest.Mac)
	if err != nil {
		return nil, 0, err
	}
	return &net.UDPAddr{IP: ip, Port: port}, bvlcFunctionUnicast, nil
}

// Serve reads datagrams until the socket is closed (see Close),
// decoding each into a BVLC payload and handing it to
// dispatch (normally router.Dispatch with this Port as the source).
// It blocks the calling goroutine; callers typically run it with `go`.
func (p *Port) Serve(dispatch func(router.Port, []byte)) error {
	buf := make([]byte, 2048)
	for {
		n, _, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			p.log.WithError(err).Warn("udp read failed")
			continue
		}
		fn, npduBytes, err := decodeBVLC(buf[:n])
		if err != nil {
			p.log.WithError(err).Debug("discarding malformed BVLC datagram")
			continue
		}
		if fn != bvlcFunctionUnicast && fn != bvlcFunctionBroadcast {
			p.log.WithField("bvlc_function", fn).Debug("ignoring unsupported BVLC function")
			continue
		}
		dispatch(p, npduBytes)
	}
}

// macFromUDP encodes an IPv4 address and UDP port into the 6-octet MAC
// Annex J.2.7 specifies for BACnet/IP.
func macFromUDP(ip net.IP, port int) []byte {
	mac := make([]byte, 6)
	copy(mac, ip.To4())
	binary.BigEndian.PutUint16(mac[4:6], uint16(port))
	return mac
}

// udpFromMAC is the inverse of macFromUDP.
func udpFromMAC(mac []byte) (net.IP, int, error) {
	if len(mac) != 6 {
		return nil, 0, fmt.Errorf("bip: MAC must be 6 octets (IPv4+port), got %d", len(mac))
	}
	ip := net.IPv4(mac[0], mac[1], mac[2], mac[3])
	port := int(binary.BigEndian.Uint16(mac[4:6]))
	return ip, port, nil
}
