package router

import (
	"github.com/shigmas/bacnet-router/pkg/npdu"
)

// remoteNetwork is a routing-table entry: a network reachable through a
// Port's owning port, along with the MAC of the next-hop router.
type remoteNetwork struct {
	net     uint16
	nextHop []byte
	enabled bool
}

// portEntry is a directly connected network and the remote networks reached
// through it. Insertion order of both ports and remote networks is
// preserved, which P4 (loop-free advertisement) and the deterministic
// I-Am-Router-To-Network emitter depend on.
type portEntry struct {
	port    Port
	remotes []*remoteNetwork
}

// Table holds the set of directly connected ports and, per port, the set of
// remote networks reachable through it. It enforces global network-number
// uniqueness (P1) and is not safe for concurrent use — see the package doc
// on the single-threaded cooperative execution model.
type Table struct {
	entries []*portEntry
}

// NewTable returns an empty routing table.
func NewTable() *Table {
	return &Table{}
}

// netInUse reports whether net is already present as a port network or as
// any port's remote network.
func (t *Table) netInUse(net uint16) bool {
	for _, e := range t.entries {
		if e.port.NetNumber() == net {
			return true
		}
		for _, r := range e.remotes {
			if r.net == net {
				return true
			}
		}
	}
	return false
}

// AddPort registers p as a directly connected port, keyed by p.NetNumber().
// It is idempotent: if the network number is already present anywhere in
// the table (as a port or a remote network), the call is a silent no-op.
// Network number 0 and 0xFFFF are never stored.
func (t *Table) AddPort(p Port) {
	net := p.NetNumber()
	if net == 0 || net == npdu.BroadcastNetwork {
		return
	}
	if t.netInUse(net) {
		return
	}
	t.entries = append(t.entries, &portEntry{port: p})
}

// AddRemote adds remoteNet as reachable via the port whose own network
// number is viaPortNet, with next-hop MAC nextHop. It is a silent no-op if
// remoteNet is already present anywhere, if viaPortNet does not name a
// known port, or if remoteNet equals viaPortNet (a port's own network never
// appears in its own remote-network set).
func (t *Table) AddRemote(viaPortNet, remoteNet uint16, nextHop []byte) {
	if remoteNet == 0 || remoteNet == npdu.BroadcastNetwork {
		return
	}
	if remoteNet == viaPortNet {
		return
	}
	if t.netInUse(remoteNet) {
		return
	}
	entry := t.findEntry(viaPortNet)
	if entry == nil {
		return
	}
	mac := make([]byte, len(nextHop))
	copy(mac, nextHop)
	entry.remotes = append(entry.remotes, &remoteNetwork{
		net:     remoteNet,
		nextHop: mac,
		enabled: true,
	})
}

func (t *Table) findEntry(portNet uint16) *portEntry {
	for _, e := range t.entries {
		if e.port.NetNumber() == portNet {
			return e
		}
	}
	return nil
}

// Find searches for net, first among directly connected port networks, then
// among every port's remote networks. It returns the owning Port and,
// for a remote match, the next-hop MAC; for a direct match the next-hop
// return is nil, letting the forwarder tell "direct delivery" from
// "forward to next hop" by comparing port.NetNumber() to the queried net.
func (t *Table) Find(net uint16) (port Port, nextHop []byte, ok bool) {
	for _, e := range t.entries {
		if e.port.NetNumber() == net {
			return e.port, nil, true
		}
	}
	for _, e := range t.entries {
		for _, r := range e.remotes {
			if r.net == net {
				return e.port, r.nextHop, true
			}
		}
	}
	return nil, nil, false
}

// FindPort returns the Port whose own network number is net.
func (t *Table) FindPort(net uint16) (Port, bool) {
	e := t.findEntry(net)
	if e == nil {
		return nil, false
	}
	return e.port, true
}

// Ports returns every registered port in insertion order.
func (t *Table) Ports() []Port {
	ports := make([]Port, 0, len(t.entries))
	for _, e := range t.entries {
		ports = append(ports, e.port)
	}
	return ports
}

// RemoteNetworks returns the remote network numbers reachable through the
// port whose own network number is portNet, in insertion order. It is used
// by the I-Am-Router-To-Network(0) emitter and by tests.
func (t *Table) RemoteNetworks(portNet uint16) []uint16 {
	e := t.findEntry(portNet)
	if e == nil {
		return nil
	}
	nets := make([]uint16, 0, len(e.remotes))
	for _, r := range e.remotes {
		nets = append(nets, r.net)
	}
	return nets
}
