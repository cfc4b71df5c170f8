package ids

import (
	"errors"
	"math/rand/v2"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultResourcePrefix identifies this client implementation on the bus.
const DefaultResourcePrefix = "go"

var errNoHostAddress = errors.New("no usable local host address")

// ResourceGenerator builds the resource string a connection announces to the
// bus: <prefix>_<host address>_<random>_t<execution context>.
//
// The host address is best effort. When it cannot be resolved the segment is
// left empty and generation carries on.
type ResourceGenerator struct {
	// Prefix defaults to DefaultResourcePrefix when empty.
	Prefix string
	// HostAddress resolves the local address. Defaults to LocalHostAddress.
	HostAddress func() (string, error)
	// Now seeds the random component. Defaults to time.Now.
	Now func() time.Time
	// OnHostAddressError is called when HostAddress fails.
	OnHostAddressError func(error)
}

// NewResourceGenerator returns a generator using the given prefix and the
// default host lookup.
func NewResourceGenerator(prefix string) *ResourceGenerator {
	return &ResourceGenerator{Prefix: prefix}
}

// Generate returns a new resource string for the execution context
// contextID. Each call draws a fresh random component.
func (g *ResourceGenerator) Generate(contextID string) string {
	prefix := DefaultResourcePrefix
	lookup := LocalHostAddress
	now := time.Now
	var onErr func(error)
	if g != nil {
		if g.Prefix != "" {
			prefix = g.Prefix
		}
		if g.HostAddress != nil {
			lookup = g.HostAddress
		}
		if g.Now != nil {
			now = g.Now
		}
		onErr = g.OnHostAddressError
	}

	addr, err := lookup()
	if err != nil {
		addr = ""
		if onErr != nil {
			onErr(err)
		}
	}

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte('_')
	b.WriteString(addr)
	b.WriteByte('_')
	b.WriteString(strconv.FormatInt(randomComponent(now()), 10))
	b.WriteString("_t")
	b.WriteString(contextID)
	return b.String()
}

// randomComponent draws one non-negative pseudo-random integer from a
// generator seeded with the wall-clock time t.
func randomComponent(t time.Time) int64 {
	nanos := uint64(t.UnixNano())
	r := rand.New(rand.NewPCG(nanos, nanos^0x9e3779b97f4a7c15))
	// Int64 never returns a negative value.
	return r.Int64()
}

// LocalHostAddress returns the address the local host name resolves to,
// falling back to the first non-loopback interface address.
func LocalHostAddress() (string, error) {
	if host, err := os.Hostname(); err == nil {
		if addrs, err := net.LookupIP(host); err == nil {
			if ip := pickAddress(addrs); ip != nil {
				return ip.String(), nil
			}
		}
	}

	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	ips := make([]net.IP, 0, len(ifaceAddrs))
	for _, a := range ifaceAddrs {
		if ipNet, ok := a.(*net.IPNet); ok {
			ips = append(ips, ipNet.IP)
		}
	}
	if ip := pickAddress(ips); ip != nil && !ip.IsLoopback() {
		return ip.String(), nil
	}
	return "", errNoHostAddress
}

// pickAddress prefers a non-loopback IPv4 address, then any non-loopback
// address, then whatever comes first.
func pickAddress(ips []net.IP) net.IP {
	var fallback net.IP
	for _, ip := range ips {
		if ip == nil || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
			continue
		}
		if !ip.IsLoopback() && ip.To4() != nil {
			return ip
		}
		if fallback == nil || (fallback.IsLoopback() && !ip.IsLoopback()) {
			fallback = ip
		}
	}
	return fallback
}
