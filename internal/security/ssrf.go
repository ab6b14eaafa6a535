package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"localagent/internal/domain"
)

// privateRanges lists all private/reserved CIDR blocks to block for SSRF.
var privateRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"100.64.0.0/10",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var parsedRanges []*net.IPNet

func init() {
	for _, cidr := range privateRanges {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", cidr, err))
		}
		parsedRanges = append(parsedRanges, ipnet)
	}
}

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// URLGuard rejects outbound requests that target private or reserved
// addresses, both before the request and again at dial time.
type URLGuard struct {
	resolver Resolver
}

// NewURLGuard creates a guard. A nil resolver uses net.DefaultResolver.
func NewURLGuard(resolver Resolver) *URLGuard {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &URLGuard{resolver: resolver}
}

// ValidateURL checks that rawURL is http(s) and does not resolve to a
// private/reserved IP.
func (g *URLGuard) ValidateURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return domain.NewDomainError("URLGuard.ValidateURL", domain.ErrSSRFBlocked, fmt.Sprintf("invalid URL: %v", err))
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "":
		return domain.NewDomainError("URLGuard.ValidateURL", domain.ErrSSRFBlocked,
			"missing URL scheme, only http/https allowed")
	default:
		return domain.NewDomainError("URLGuard.ValidateURL", domain.ErrSSRFBlocked,
			fmt.Sprintf("scheme %q not allowed, only http/https", u.Scheme))
	}

	host := u.Hostname()
	if host == "" {
		return domain.NewDomainError("URLGuard.ValidateURL", domain.ErrSSRFBlocked, "empty hostname")
	}

	_, err = g.resolvePublic(ctx, host)
	return err
}

// resolvePublic resolves host and fails if any address is private.
func (g *URLGuard) resolvePublic(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if IsPrivateIP(ip) {
			return nil, domain.NewDomainError("URLGuard.resolve", domain.ErrSSRFBlocked,
				fmt.Sprintf("IP %s is private/reserved", ip))
		}
		return []net.IP{ip}, nil
	}

	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, domain.NewDomainError("URLGuard.resolve", domain.ErrSSRFBlocked,
			fmt.Sprintf("DNS lookup failed: %v", err))
	}
	if len(addrs) == 0 {
		return nil, domain.NewDomainError("URLGuard.resolve", domain.ErrSSRFBlocked,
			fmt.Sprintf("no addresses for %s", host))
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if IsPrivateIP(a.IP) {
			return nil, domain.NewDomainError("URLGuard.resolve", domain.ErrSSRFBlocked,
				fmt.Sprintf("host %s resolves to private IP %s", host, a.IP))
		}
		ips = append(ips, a.IP)
	}
	return ips, nil
}

// Transport returns an HTTP transport that re-validates the resolved address
// at dial time and connects to that exact IP, closing the DNS rebinding window.
func (g *URLGuard) Transport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("invalid address: %w", err)
			}
			ips, err := g.resolvePublic(ctx, host)
			if err != nil {
				return nil, err
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// IsPrivateIP checks if an IP falls within any private/reserved range.
func IsPrivateIP(ip net.IP) bool {
	// Normalize IPv4-mapped IPv6 to IPv4
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}

	for _, ipnet := range parsedRanges {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}
