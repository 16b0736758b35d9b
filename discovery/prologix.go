package discovery

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// PrologixDevice is one Prologix ENET-GPIB controller found on the
// network by ScanPrologix.
type PrologixDevice struct {
	Address     string
	Description string
	MACAddress  string
}

// ScanPrologix probes every host on the given IPv4 /24 subnets'
// broadcast domain for a Prologix ENET-GPIB controller by opening a
// TCP connection on port and sending "++ver\n", matching find_single
// in original_source/src/msl/equipment/interfaces/prologix.py. MAC
// address enrichment shells out to the platform `arp` utility the same
// way the reference client does, and is skipped (not an error) if arp
// isn't available or a host's entry isn't in the ARP cache yet.
func ScanPrologix(ctx context.Context, subnets []string, port int, timeout time.Duration) (map[string]PrologixDevice, error) {
	if port == 0 {
		port = 1234
	}
	if timeout <= 0 {
		timeout = time.Second
	}

	hosts, err := subnetHosts(subnets)
	if err != nil {
		return nil, labwire.NewError(labwire.KindConnection, "discovery.ScanPrologix", err)
	}

	results := make(chan PrologixDevice, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(64)
	for _, host := range hosts {
		host := host
		g.Go(func() error {
			d, found, err := probePrologix(gctx, host, port, timeout)
			if err == nil && found {
				results <- d
			}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	devices := map[string]PrologixDevice{}
	for d := range results {
		devices[d.Address] = d
	}

	arpTable, err := readARPTable()
	if err == nil {
		for addr, d := range devices {
			if mac, ok := arpTable[addr]; ok {
				d.MACAddress = mac
				devices[addr] = d
			}
		}
	}
	return devices, nil
}

func probePrologix(ctx context.Context, host string, port int, timeout time.Duration) (PrologixDevice, bool, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return PrologixDevice{}, false, nil
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write([]byte("++ver\n")); err != nil {
		return PrologixDevice{}, false, nil
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return PrologixDevice{}, false, nil
	}
	if !strings.HasPrefix(line, "Prologix") {
		return PrologixDevice{}, false, nil
	}
	return PrologixDevice{Address: host, Description: strings.TrimSpace(line)}, true, nil
}

// subnetHosts expands each CIDR in subnets into its usable host
// addresses. A non-CIDR "a.b.c.d" entry is treated as /24.
func subnetHosts(subnets []string) ([]string, error) {
	var hosts []string
	for _, s := range subnets {
		if !strings.Contains(s, "/") {
			s += "/24"
		}
		ip, ipNet, err := net.ParseCIDR(s)
		if err != nil {
			return nil, err
		}
		start := ip.Mask(ipNet.Mask)
		broadcast := make(net.IP, len(start))
		for i := range start {
			broadcast[i] = start[i] | ^ipNet.Mask[i]
		}
		cur := make(net.IP, len(start))
		copy(cur, start)
		for ; ipNet.Contains(cur); incIP(cur) {
			if !cur.Equal(start) && !cur.Equal(broadcast) {
				hosts = append(hosts, cur.String())
			}
		}
	}
	return hosts, nil
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			break
		}
	}
}

var (
	macRegexUnix    = regexp.MustCompile(`([0-9a-fA-F]{2}(?::[0-9a-fA-F]{2}){5})`)
	macRegexWindows = regexp.MustCompile(`([0-9a-fA-F]{2}(?:-[0-9a-fA-F]{2}){5})`)
	ipRegex         = regexp.MustCompile(`\(?(\d{1,3}(?:\.\d{1,3}){3})\)?`)
)

// readARPTable shells out to the platform arp utility and returns a
// best-effort IP-to-MAC map. The MAC regex is platform-specific; arp is
// run with -a on every platform.
func readARPTable() (map[string]string, error) {
	args := []string{"-a"}
	macRegex := macRegexUnix
	if runtime.GOOS == "windows" {
		macRegex = macRegexWindows
	}

	out, err := exec.Command("arp", args...).Output()
	if err != nil {
		return nil, err
	}

	table := map[string]string{}
	for _, line := range strings.Split(string(out), "\n") {
		ipMatch := ipRegex.FindStringSubmatch(line)
		macMatch := macRegex.FindStringSubmatch(line)
		if ipMatch == nil || macMatch == nil {
			continue
		}
		table[ipMatch[1]] = normalizeMAC(macMatch[1])
	}
	return table, nil
}

func normalizeMAC(mac string) string {
	parts := strings.FieldsFunc(mac, func(r rune) bool { return r == ':' || r == '-' })
	for i, p := range parts {
		if len(p) == 1 {
			parts[i] = "0" + p
		}
	}
	return strings.Join(parts, ":")
}
