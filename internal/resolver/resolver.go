// Package resolver turns a domain into the ordered list of hosts that may
// accept mail for it.
package resolver

import (
	"context"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"
)

// defaultLookupTimeout bounds each DNS query.
const defaultLookupTimeout = 5 * time.Second

// DNS is the subset of *net.Resolver used for host resolution.
type DNS interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Resolver produces candidate mail hosts for a domain. It performs no
// caching.
type Resolver struct {
	dns     DNS
	timeout time.Duration
}

// New creates a Resolver over dns. A nil dns uses net.DefaultResolver and a
// non-positive timeout uses five seconds.
func New(dns DNS, timeout time.Duration) *Resolver {
	if dns == nil {
		dns = net.DefaultResolver
	}
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	return &Resolver{dns: dns, timeout: timeout}
}

// Resolve returns the hosts to try for domain, most preferred first.
//
// An IP literal resolves to itself. Otherwise MX hosts are returned in
// ascending preference, followed by the domain itself when it has an address
// record. A domain without MX records resolves to itself if it has an
// address record. A null MX (a single "." record) resolves to nothing, even
// when the domain has an address record. An empty result means mail for the
// domain cannot be routed.
func (r *Resolver) Resolve(ctx context.Context, domain string) []string {
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" {
		return nil
	}
	if net.ParseIP(domain) != nil {
		return []string{domain}
	}

	hosts, nullMX := r.mxHosts(ctx, domain)
	if nullMX {
		slog.Debug("domain publishes a null MX", "domain", domain)
		return nil
	}
	if r.hasAddress(ctx, domain) && !contains(hosts, domain) {
		hosts = append(hosts, domain)
	}
	return hosts
}

// mxHosts returns the MX hosts for domain in preference order. nullMX is
// true when the only record is the "." target.
func (r *Resolver) mxHosts(ctx context.Context, domain string) (hosts []string, nullMX bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	records, err := r.dns.LookupMX(ctx, domain)
	if err != nil && len(records) == 0 {
		slog.Debug("mx lookup failed", "domain", domain, "error", err)
		return nil, false
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Pref < records[j].Pref
	})

	hosts = make([]string, 0, len(records))
	for _, mx := range records {
		host := strings.ToLower(strings.TrimSuffix(mx.Host, "."))
		if host == "" || contains(hosts, host) {
			continue
		}
		hosts = append(hosts, host)
	}
	// A lone "." target declares that the domain takes no mail at all.
	nullMX = len(records) == 1 && len(hosts) == 0
	return hosts, nullMX
}

func (r *Resolver) hasAddress(ctx context.Context, domain string) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	addrs, err := r.dns.LookupHost(ctx, domain)
	if err != nil {
		slog.Debug("address lookup failed", "domain", domain, "error", err)
		return false
	}
	return len(addrs) > 0
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
