package resolver

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeDNS serves canned records and records every lookup.
type fakeDNS struct {
	mx      map[string][]*net.MX
	hosts   map[string][]string
	lookups []string
}

func (f *fakeDNS) LookupMX(_ context.Context, name string) ([]*net.MX, error) {
	f.lookups = append(f.lookups, "MX "+name)
	if recs, ok := f.mx[name]; ok {
		return recs, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

func (f *fakeDNS) LookupHost(_ context.Context, host string) ([]string, error) {
	f.lookups = append(f.lookups, "A "+host)
	if addrs, ok := f.hosts[host]; ok {
		return addrs, nil
	}
	return nil, errors.New("no such host")
}

func TestResolve_IPLiteral(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{}
	r := New(dns, 0)

	assert.Equal(t, []string{"192.0.2.1"}, r.Resolve(context.Background(), "192.0.2.1"))
	assert.Equal(t, []string{"2001:db8::1"}, r.Resolve(context.Background(), "2001:db8::1"))
	assert.Empty(t, dns.lookups, "IP literals must not hit DNS")
}

func TestResolve_MXOrderedByPreference(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{
		mx: map[string][]*net.MX{
			"example.com": {
				{Host: "b.mx.", Pref: 20},
				{Host: "a.mx.", Pref: 10},
			},
		},
	}
	r := New(dns, 0)

	assert.Equal(t, []string{"a.mx", "b.mx"}, r.Resolve(context.Background(), "example.com"))
}

func TestResolve_MXWithAddressFallback(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{
		mx: map[string][]*net.MX{
			"example.com": {{Host: "mx1.example.com.", Pref: 5}},
		},
		hosts: map[string][]string{"example.com": {"192.0.2.10"}},
	}
	r := New(dns, 0)

	assert.Equal(t, []string{"mx1.example.com", "example.com"}, r.Resolve(context.Background(), "example.com"))
}

func TestResolve_MXSameAsDomainNotDuplicated(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{
		mx: map[string][]*net.MX{
			"example.com": {
				{Host: "example.com.", Pref: 10},
				{Host: "example.com.", Pref: 20},
			},
		},
		hosts: map[string][]string{"example.com": {"192.0.2.10"}},
	}
	r := New(dns, 0)

	assert.Equal(t, []string{"example.com"}, r.Resolve(context.Background(), "example.com"))
}

func TestResolve_NoMXFallsBackToAddress(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{hosts: map[string][]string{"bare.test": {"192.0.2.20"}}}
	r := New(dns, 0)

	assert.Equal(t, []string{"bare.test"}, r.Resolve(context.Background(), "bare.test"))
}

func TestResolve_NothingResolves(t *testing.T) {
	t.Parallel()

	r := New(&fakeDNS{}, 0)
	assert.Empty(t, r.Resolve(context.Background(), "nowhere.invalid"))
	assert.Empty(t, r.Resolve(context.Background(), ""))
}

func TestResolve_NullMXSkipped(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{
		mx: map[string][]*net.MX{"nomail.test": {{Host: ".", Pref: 0}}},
	}
	r := New(dns, 0)

	assert.Empty(t, r.Resolve(context.Background(), "nomail.test"))
}

func TestResolve_NullMXIgnoresAddressRecord(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{
		mx:    map[string][]*net.MX{"nomail.test": {{Host: ".", Pref: 0}}},
		hosts: map[string][]string{"nomail.test": {"192.0.2.9"}},
	}
	r := New(dns, 0)

	assert.Empty(t, r.Resolve(context.Background(), "nomail.test"))
	assert.Equal(t, []string{"MX nomail.test"}, dns.lookups)
}

func TestResolve_DotAmongOtherMXSkipped(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{
		mx: map[string][]*net.MX{"mixed.test": {
			{Host: ".", Pref: 0},
			{Host: "mx.mixed.test.", Pref: 10},
		}},
	}
	r := New(dns, 0)

	assert.Equal(t, []string{"mx.mixed.test"}, r.Resolve(context.Background(), "mixed.test"))
}

func TestResolve_NoCaching(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{hosts: map[string][]string{"bare.test": {"192.0.2.20"}}}
	r := New(dns, 0)

	r.Resolve(context.Background(), "bare.test")
	r.Resolve(context.Background(), "bare.test")
	assert.Len(t, dns.lookups, 4)
}
