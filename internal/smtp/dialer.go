package smtp

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// ProxyConfig identifies a SOCKS5 proxy for outbound probe connections.
type ProxyConfig struct {
	Address  string
	Username string
	Password string
}

// NewDialer returns a direct dialer, or a SOCKS5 dialer when cfg names a
// proxy address. timeout bounds the connection to the proxy itself.
func NewDialer(cfg ProxyConfig, timeout time.Duration) (Dialer, error) {
	direct := &net.Dialer{Timeout: timeout}
	if cfg.Address == "" {
		return direct, nil
	}

	var auth *proxy.Auth
	if cfg.Username != "" || cfg.Password != "" {
		auth = &proxy.Auth{
			User:     cfg.Username,
			Password: cfg.Password,
		}
	}

	d, err := proxy.SOCKS5("tcp", cfg.Address, auth, direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer for %s: %w", cfg.Address, err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd, nil
	}
	return contextlessDialer{d}, nil
}

// contextlessDialer adapts a proxy.Dialer that lacks DialContext. The dial
// itself cannot be interrupted; only its result is discarded on cancellation.
type contextlessDialer struct {
	d proxy.Dialer
}

func (c contextlessDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := c.d.Dial(network, address)
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
