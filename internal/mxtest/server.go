// Package mxtest provides a scriptable receiving SMTP server for tests that
// need to exercise the probe protocol over a real TCP connection.
package mxtest

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// idleTimeout is the maximum time a connection may stay silent.
const idleTimeout = 10 * time.Second

// Config scripts how the server answers.
type Config struct {
	// Greeting is sent on connect. It may contain CRLF-separated lines to
	// produce a multi-line reply. Defaults to "220 mxtest ESMTP".
	Greeting string

	// Silent makes the server accept connections but never greet.
	Silent bool

	// HeloReply and MailReply answer HELO/EHLO and MAIL. Both default to
	// "250 OK".
	HeloReply string
	MailReply string

	// Mailboxes lists the recipient addresses that exist. Comparison is
	// case-insensitive.
	Mailboxes []string

	// AcceptAll accepts every recipient.
	AcceptAll bool

	// Rcpt, when set, decides the reply to each RCPT and overrides
	// Mailboxes and AcceptAll.
	Rcpt func(addr string) string

	// DropAfterRcpt closes the connection after this many RCPT commands
	// have been answered on it. Zero disables the drop.
	DropAfterRcpt int
}

// Server is a loopback SMTP server driven by a Config.
type Server struct {
	config   Config
	listener net.Listener
	wg       sync.WaitGroup

	mu          sync.Mutex
	commands    []string
	connections int
	conns       map[net.Conn]struct{}
	closed      bool
}

// NewServer starts a Server on 127.0.0.1 with an ephemeral port.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Greeting == "" {
		cfg.Greeting = "220 mxtest ESMTP"
	}
	if cfg.HeloReply == "" {
		cfg.HeloReply = "250 OK"
	}
	if cfg.MailReply == "" {
		cfg.MailReply = "250 OK"
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	s := &Server{
		config:   cfg,
		listener: ln,
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Host returns the listening IP address.
func (s *Server) Host() string {
	return s.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Commands returns every command line received so far, across connections.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Recipients returns the addresses of every RCPT received so far.
func (s *Server) Recipients() []string {
	var rcpts []string
	for _, c := range s.Commands() {
		cmd, arg := parseCommand(c)
		if cmd == "RCPT" && strings.HasPrefix(strings.ToUpper(arg), "TO:") {
			rcpts = append(rcpts, extractAddress(arg[3:]))
		}
	}
	return rcpts
}

// Connections returns the number of accepted connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// Close stops the listener and closes every open connection.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.listener.Close()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.connections++
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)

			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	if s.config.Silent {
		// Hold the connection open until the client gives up.
		io.Copy(io.Discard, reader)
		return
	}

	writeLine(writer, s.config.Greeting)

	rcpts := 0
	for {
		if err := conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		s.mu.Lock()
		s.commands = append(s.commands, line)
		s.mu.Unlock()

		cmd, arg := parseCommand(line)
		switch cmd {
		case "HELO", "EHLO":
			writeLine(writer, s.config.HeloReply)
		case "MAIL":
			writeLine(writer, s.config.MailReply)
		case "RCPT":
			writeLine(writer, s.rcptReply(arg))
			rcpts++
			if s.config.DropAfterRcpt > 0 && rcpts >= s.config.DropAfterRcpt {
				return
			}
		case "RSET", "NOOP":
			writeLine(writer, "250 OK")
		case "QUIT":
			writeLine(writer, "221 Bye")
			return
		default:
			writeLine(writer, "500 Unrecognized command")
		}
	}
}

func (s *Server) rcptReply(arg string) string {
	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		return "501 Syntax: RCPT TO:<address>"
	}
	addr := extractAddress(arg[3:])
	if addr == "" {
		return "501 Syntax: RCPT TO:<address>"
	}

	if s.config.Rcpt != nil {
		return s.config.Rcpt(addr)
	}
	if s.config.AcceptAll {
		return "250 OK"
	}
	for _, mb := range s.config.Mailboxes {
		if strings.EqualFold(mb, addr) {
			return "250 OK"
		}
	}
	return "550 5.1.1 No such user"
}

// writeLine writes a reply followed by CRLF.
func writeLine(w *bufio.Writer, reply string) {
	w.WriteString(reply + "\r\n")
	w.Flush()
}

// parseCommand splits a command line into the upper-cased verb and its argument.
func parseCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	return cmd, arg
}

// extractAddress extracts an address from a MAIL/RCPT parameter, handling
// both angle-bracket and bare formats.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return ""
		}
		return s[1:end]
	}
	return s
}

// Reply formats a reply line from a code and text.
func Reply(code int, text string) string {
	return strconv.Itoa(code) + " " + text
}
