package smtp

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"
)

func TestNewDialer_Direct(t *testing.T) {
	t.Parallel()

	d, err := NewDialer(ProxyConfig{}, time.Second)
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	if _, ok := d.(*net.Dialer); !ok {
		t.Errorf("expected *net.Dialer, got %T", d)
	}
}

func TestNewDialer_SOCKS5(t *testing.T) {
	t.Parallel()

	d, err := NewDialer(ProxyConfig{Address: "127.0.0.1:1080", Username: "u", Password: "p"}, time.Second)
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	if _, ok := d.(*net.Dialer); ok {
		t.Error("expected a proxy dialer, got a direct one")
	}
}

func TestNewDialer_SOCKS5Unreachable(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	d, err := NewDialer(ProxyConfig{Address: addr}, time.Second)
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	if _, err := d.DialContext(context.Background(), "tcp", "192.0.2.1:25"); err == nil {
		t.Error("expected dial through closed proxy to fail")
	}
}

func TestSlogTranscript(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tr := SlogTranscript(logger)
	tr("mx.example.com", true, "HELO probe.test")

	out := buf.String()
	for _, want := range []string{"smtp transcript", "host=mx.example.com", `line="HELO probe.test"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestTee(t *testing.T) {
	t.Parallel()

	var a, b bytes.Buffer
	tr := Tee(WriterTranscript(&a), nil, WriterTranscript(&b))
	tr("h", false, "250 OK")

	if a.String() != "h < 250 OK\n" || b.String() != a.String() {
		t.Errorf("Tee: got %q and %q", a.String(), b.String())
	}
}
