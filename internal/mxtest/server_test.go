package mxtest

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

func dial(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr(), time.Second)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func send(t *testing.T, conn net.Conn, cmd string) {
	t.Helper()
	if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
		t.Fatalf("failed to write command: %v", err)
	}
}

func TestServer_Conversation(t *testing.T) {
	t.Parallel()

	s, err := NewServer(Config{Mailboxes: []string{"alice@example.com"}})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer s.Close()

	conn, r := dial(t, s)
	if got := readLine(t, r); got != "220 mxtest ESMTP" {
		t.Errorf("greeting: got %q", got)
	}

	steps := []struct {
		cmd  string
		want string
	}{
		{"HELO client.test", "250"},
		{"MAIL FROM: <probe@client.test>", "250"},
		{"RCPT TO: <ALICE@example.com>", "250"},
		{"RCPT TO: <bob@example.com>", "550"},
		{"RCPT nonsense", "501"},
		{"VRFY alice", "500"},
		{"QUIT", "221"},
	}
	for _, step := range steps {
		send(t, conn, step.cmd)
		if got := readLine(t, r); !strings.HasPrefix(got, step.want) {
			t.Errorf("%s: got %q, want prefix %q", step.cmd, got, step.want)
		}
	}

	rcpts := s.Recipients()
	if len(rcpts) != 2 || rcpts[0] != "ALICE@example.com" || rcpts[1] != "bob@example.com" {
		t.Errorf("Recipients(): got %v", rcpts)
	}
	if got := s.Connections(); got != 1 {
		t.Errorf("Connections(): got %d, want 1", got)
	}
}

func TestServer_AcceptAllAndCustomRcpt(t *testing.T) {
	t.Parallel()

	s, err := NewServer(Config{Rcpt: func(addr string) string {
		if strings.HasPrefix(addr, "busy") {
			return Reply(451, "try later")
		}
		return Reply(250, "OK")
	}})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer s.Close()

	conn, r := dial(t, s)
	readLine(t, r)

	send(t, conn, "RCPT TO:<busy@example.com>")
	if got := readLine(t, r); got != "451 try later" {
		t.Errorf("busy: got %q", got)
	}
	send(t, conn, "RCPT TO:<anyone@example.com>")
	if got := readLine(t, r); got != "250 OK" {
		t.Errorf("anyone: got %q", got)
	}
}

func TestServer_DropAfterRcpt(t *testing.T) {
	t.Parallel()

	s, err := NewServer(Config{AcceptAll: true, DropAfterRcpt: 1})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer s.Close()

	conn, r := dial(t, s)
	readLine(t, r)
	send(t, conn, "RCPT TO:<a@example.com>")
	readLine(t, r)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := r.ReadString('\n'); err == nil {
		t.Error("expected connection to be closed after first RCPT")
	}
}
