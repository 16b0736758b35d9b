// Package discovery finds LXI-compatible instruments on the local
// network: mDNS/DNS-SD service browsing (RFC 6762/6763), a VXI-11
// portmapper probe, and a Prologix controller scan. Grounded on the
// reference TNC's dns_sd.go for "what mDNS looks like in this
// codebase" even though the direction inverts here (query/browse
// instead of announce — this module has no server-side role, see
// DESIGN.md), and on original_source/src/msl/equipment/dns_service_discovery.py
// for the exact service names and address-derivation rules.
package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// RFC 6762, Section 5.1.
const (
	mdnsAddr = "224.0.0.251"
	mdnsPort = 5353
)

// mdnsServiceNames is the PTR-query question list, taken from
// KnownServices plus _vxi-11._tcp.local. and _hislip._tcp.local. (both
// already present there).
func mdnsServiceNames() []string {
	names := make([]string, 0, len(KnownServices))
	for _, s := range KnownServices {
		names = append(names, s.Name)
	}
	return names
}

// Device is one instrument found by Discover.
type Device struct {
	Address     string // the host IP that answered
	Addresses   []string // VISA-style resource strings this device accepts
	Description string
	Webserver   string
}

// Options controls Discover's behavior.
type Options struct {
	// Interfaces limits the query to these local interface names. Nil
	// means "every multicast-capable IPv4 interface".
	Interfaces []string
	// Timeout bounds how long each interface listens for replies.
	Timeout time.Duration
	Logger  labwire.Logger
}

// Discover broadcasts an mDNS PTR query for every known LXI service
// name on each matching network interface concurrently, and collects
// replies into per-host Device records, following find_lxi's
// one-query-socket-per-interface fan-out (there implemented with
// threading.Thread, here with errgroup).
func Discover(ctx context.Context, opts Options) (map[string]Device, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}

	ifaces, err := multicastInterfaces(opts.Interfaces)
	if err != nil {
		return nil, labwire.NewError(labwire.KindConnection, "discovery.Discover", err)
	}

	query := buildQuery(mdnsServiceNames())

	results := make(chan map[string]Device, len(ifaces))
	g, gctx := errgroup.WithContext(ctx)
	for _, iface := range ifaces {
		iface := iface
		g.Go(func() error {
			devices, err := queryInterface(gctx, iface, query, timeout, opts.Logger)
			if err != nil {
				labwire.Warnf(opts.Logger, "discovery: interface %s: %v", iface.Name, err)
				return nil // one bad interface shouldn't fail the whole scan
			}
			results <- devices
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, labwire.NewError(labwire.KindConnection, "discovery.Discover", err)
	}
	close(results)

	merged := map[string]Device{}
	for devices := range results {
		for host, d := range devices {
			merged[host] = d
		}
	}
	return merged, nil
}

func multicastInterfaces(names []string) ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	wanted := map[string]bool{}
	for _, n := range names {
		wanted[n] = true
	}

	var out []net.Interface
	for _, i := range all {
		if i.Flags&net.FlagMulticast == 0 || i.Flags&net.FlagUp == 0 {
			continue
		}
		if len(wanted) > 0 && !wanted[i.Name] {
			continue
		}
		out = append(out, i)
	}
	return out, nil
}

// buildQuery builds an RFC 1035 query message asking for a PTR record
// for each service name, all in one message, matching find_lxi's
// single multi-question packet.
func buildQuery(names []string) *dns.Msg {
	m := new(dns.Msg)
	m.Id = 0
	m.RecursionDesired = false
	m.Question = make([]dns.Question, 0, len(names))
	for _, name := range names {
		m.Question = append(m.Question, dns.Question{
			Name:   name,
			Qtype:  dns.TypePTR,
			Qclass: dns.ClassINET,
		})
	}
	return m
}

func queryInterface(ctx context.Context, iface net.Interface, query *dns.Msg, timeout time.Duration, log labwire.Logger) (map[string]Device, error) {
	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	pconn := ipv4.NewPacketConn(conn)
	group := net.ParseIP(mdnsAddr)
	if err := pconn.JoinGroup(&iface, &net.UDPAddr{IP: group}); err != nil {
		return nil, err
	}
	_ = pconn.SetMulticastTTL(255)
	_ = pconn.SetMulticastLoopback(true)

	packed, err := query.Pack()
	if err != nil {
		return nil, err
	}
	dst := &net.UDPAddr{IP: group, Port: mdnsPort}
	if _, err := conn.WriteTo(packed, dst); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	_ = conn.SetReadDeadline(deadline)

	devices := map[string]Device{}
	buf := make([]byte, 8192)
	for {
		select {
		case <-ctx.Done():
			return devices, nil
		default:
		}
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			return devices, nil // timeout ends the collection window, not an error
		}
		reply := new(dns.Msg)
		if err := reply.Unpack(buf[:n]); err != nil {
			labwire.Debugf(log, "discovery: malformed mDNS reply from %s: %v", peer, err)
			continue
		}
		host, _, _ := net.SplitHostPort(peer.String())
		if host == "" {
			host = peer.String()
		}
		mergeReplyInto(devices, host, reply)
	}
}

// mergeReplyInto folds one mDNS reply's SRV records into the per-host
// Device record, deriving VISA-style addresses the way find_lxi's
// discover() closure does. TXT and A records are not read, and
// Description and Webserver are left unset.
func mergeReplyInto(devices map[string]Device, host string, reply *dns.Msg) {
	d := devices[host]
	d.Address = host

	for _, rr := range append(append([]dns.RR{}, reply.Answer...), reply.Extra...) {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		addr := deriveAddress(rr.Header().Name, host, srv.Port)
		if addr != "" {
			d.Addresses = append(d.Addresses, addr)
		}
	}
	devices[host] = d
}

// deriveAddress maps an mDNS service instance name and port to the
// VISA resource string a client would dial, per RFC-1035 SRV parsing
// rules in find_lxi.
func deriveAddress(serviceName, host string, port uint16) string {
	switch {
	case hasServiceSuffix(serviceName, "_scpi-raw._tcp.local."):
		return fmt.Sprintf("TCPIP::%s::%d::SOCKET", host, port)
	case hasServiceSuffix(serviceName, "_scpi-telnet._tcp.local."):
		return fmt.Sprintf("TCPIP::%s::%d::SOCKET", host, port)
	case hasServiceSuffix(serviceName, "_vxi-11._tcp.local."):
		if port == 111 {
			return fmt.Sprintf("TCPIP::%s::inst0::INSTR", host)
		}
		return fmt.Sprintf("TCPIP::%s::inst0,%d::INSTR", host, port)
	case hasServiceSuffix(serviceName, "_hislip._tcp.local."):
		if port == 4880 {
			return fmt.Sprintf("TCPIP::%s::hislip0::INSTR", host)
		}
		return fmt.Sprintf("TCPIP::%s::hislip0,%d::INSTR", host, port)
	default:
		return ""
	}
}

func hasServiceSuffix(name, suffix string) bool {
	return len(name) >= len(suffix) && name[len(name)-len(suffix):] == suffix
}
