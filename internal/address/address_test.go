package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		addr string
		want string
	}{
		{"plain", "user@example.com", "example.com"},
		{"mixed case", "User@Example.COM", "example.com"},
		{"ipv4 literal", "user@[192.0.2.1]", "192.0.2.1"},
		{"ipv6 literal", "user@[IPv6:2001:db8::1]", "2001:db8::1"},
		{"ipv6 literal lower tag", "user@[ipv6:2001:DB8::1]", "2001:db8::1"},
		{"last at wins", `"a@b"@example.org`, "example.org"},
		{"escaped at ignored", `a\@b`, ""},
		{"escaped then real", `a\@b@example.net`, "example.net"},
		{"double backslash does not escape", `a\\@example.net`, "example.net"},
		{"no at", "nobody", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DomainKey(tt.addr))
		})
	}
}

func TestDomainKey_LiteralDecorationSharesKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DomainKey("a@[IPv6:::1]"), DomainKey("b@[ipv6:::1]"))
	assert.Equal(t, DomainKey("a@[::1]"), DomainKey("b@[IPv6:::1]"))
}

func TestLocal(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "user", Local("user@example.com"))
	assert.Equal(t, `a\@b`, Local(`a\@b@example.com`))
	assert.Equal(t, "nobody", Local("nobody"))
}

func TestIsLiteral(t *testing.T) {
	t.Parallel()

	assert.True(t, IsLiteral("127.0.0.1"))
	assert.True(t, IsLiteral("::1"))
	assert.False(t, IsLiteral("example.com"))
	assert.False(t, IsLiteral(""))
}

func TestFormatValidator(t *testing.T) {
	t.Parallel()

	v := FormatValidator{}
	tests := []struct {
		addr string
		want bool
	}{
		{"user@example.com", true},
		{"first.last+tag@sub.example.co.uk", true},
		{"user@[192.0.2.1]", true},
		{"user@[IPv6:2001:db8::1]", true},
		{"user@[not-an-ip]", false},
		{"user@", false},
		{"@example.com", false},
		{"user", false},
		{"user@exa mple.com", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, v.Valid(tt.addr), tt.addr)
	}
}

func TestValidatorFunc(t *testing.T) {
	t.Parallel()

	var v Validator = ValidatorFunc(func(addr string) bool { return addr == "ok" })
	assert.True(t, v.Valid("ok"))
	assert.False(t, v.Valid("no"))
}

func TestJoin(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "probe@example.com", Join("probe", "example.com"))
	assert.Equal(t, "probe@[192.0.2.1]", Join("probe", "192.0.2.1"))
	assert.Equal(t, "probe@[IPv6:2001:db8::1]", Join("probe", "2001:db8::1"))
	assert.Equal(t, "2001:db8::1", DomainKey(Join("probe", "2001:db8::1")))
}
