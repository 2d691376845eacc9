// Package address extracts the grouping key of a candidate address and
// provides the syntax predicate applied before domain grouping.
package address

import (
	"net"
	"strings"

	"github.com/badoux/checkmail"
)

// ipv6Tag is the address-literal tag defined for IPv6 domain literals.
const ipv6Tag = "ipv6:"

// literalPlaceholder replaces an address-literal domain when the local part
// is checked by a validator that only understands DNS names.
const literalPlaceholder = "literal.invalid"

// Domain returns the raw domain portion of addr: everything after the last
// '@' that is not escaped by a backslash. It returns "" when addr has no
// unescaped '@'.
func Domain(addr string) string {
	at := lastUnescapedAt(addr)
	if at < 0 {
		return ""
	}
	return addr[at+1:]
}

// Local returns the local part of addr, or addr itself when it has no
// unescaped '@'.
func Local(addr string) string {
	at := lastUnescapedAt(addr)
	if at < 0 {
		return addr
	}
	return addr[:at]
}

// DomainKey returns the normalized domain of addr used for grouping and
// caching. The domain is lower-cased, address-literal brackets are removed
// and an IPv6 tag is dropped, so "[IPv6:::1]" and "[ipv6:::1]" share a key.
func DomainKey(addr string) string {
	d := strings.ToLower(strings.TrimSpace(Domain(addr)))
	d = strings.TrimPrefix(d, "[")
	d = strings.TrimSuffix(d, "]")
	d = strings.TrimPrefix(d, ipv6Tag)
	return d
}

// IsLiteral reports whether a domain key is a bare IP address.
func IsLiteral(key string) bool {
	return net.ParseIP(key) != nil
}

func lastUnescapedAt(addr string) int {
	at := -1
	escaped := false
	for i := 0; i < len(addr); i++ {
		switch {
		case escaped:
			escaped = false
		case addr[i] == '\\':
			escaped = true
		case addr[i] == '@':
			at = i
		}
	}
	return at
}

// Validator decides whether an address is syntactically acceptable.
type Validator interface {
	Valid(addr string) bool
}

// ValidatorFunc adapts a plain predicate to the Validator interface.
type ValidatorFunc func(addr string) bool

// Valid calls f(addr).
func (f ValidatorFunc) Valid(addr string) bool {
	return f(addr)
}

// FormatValidator checks addresses with checkmail's format rules. Domain
// literals such as "user@[192.0.2.1]" are accepted when the bracketed part
// is an IP address and the local part is otherwise well formed.
type FormatValidator struct{}

// Valid implements Validator.
func (FormatValidator) Valid(addr string) bool {
	domain := Domain(addr)
	if domain == "" {
		return false
	}
	if strings.HasPrefix(domain, "[") && strings.HasSuffix(domain, "]") {
		if !IsLiteral(DomainKey(addr)) {
			return false
		}
		addr = Local(addr) + "@" + literalPlaceholder
	}
	return checkmail.ValidateFormat(addr) == nil
}

// Join builds an address from a local part and a domain key, restoring the
// address-literal brackets (and IPv6 tag) when the key is an IP address.
func Join(local, key string) string {
	ip := net.ParseIP(key)
	switch {
	case ip == nil:
		return local + "@" + key
	case ip.To4() != nil:
		return local + "@[" + key + "]"
	default:
		return local + "@[IPv6:" + key + "]"
	}
}
