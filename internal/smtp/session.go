// Package smtp implements the client side of the SMTP envelope exchange
// used to probe whether a receiving server accepts a recipient. It speaks
// only HELO, MAIL FROM, RCPT TO and QUIT; no message is ever transferred.
package smtp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the SMTP relay port.
const DefaultPort = 25

// defaultTimeout applies when Options leave a timeout unset.
const defaultTimeout = 10 * time.Second

// maxLineLength is the longest reply line accepted, CRLF included.
const maxLineLength = 512

// quitTimeout bounds the write of QUIT during Close.
const quitTimeout = time.Second

// Session states.
const (
	stateConnected = iota
	stateGreeted
	stateMailFrom
	stateClosed
)

var (
	// ErrNotReady is returned by Greet when the server does not answer 220.
	ErrNotReady = errors.New("smtp: server not ready")

	// ErrClosed is returned by commands issued after Close.
	ErrClosed = errors.New("smtp: session closed")

	// ErrOutOfOrder is returned when a command is issued before the
	// exchange that must precede it.
	ErrOutOfOrder = errors.New("smtp: command out of order")

	// ErrLineTooLong is returned when a reply line exceeds maxLineLength.
	ErrLineTooLong = errors.New("smtp: reply line too long")
)

// ReplyError describes a reply whose code did not indicate success.
type ReplyError struct {
	Command string
	Code    int
	Line    string
}

// Error implements the error interface.
func (e *ReplyError) Error() string {
	return fmt.Sprintf("smtp: %s answered %q", e.Command, e.Line)
}

// Outcome is the classification of a RCPT reply.
type Outcome int

const (
	// Rejected means the reply code was not in the 2xx class.
	Rejected Outcome = iota
	// Accepted means the reply code was in the 2xx class.
	Accepted
)

// String returns "accepted" or "rejected".
func (o Outcome) String() string {
	if o == Accepted {
		return "accepted"
	}
	return "rejected"
}

// Dialer opens network connections. *net.Dialer and the SOCKS5 dialer from
// golang.org/x/net/proxy both satisfy it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configures Open.
type Options struct {
	// Port is the TCP port to connect to. Defaults to 25.
	Port int

	// ConnectTimeout bounds connection establishment. Defaults to 10s.
	ConnectTimeout time.Duration

	// ReadTimeout bounds every wait for a reply. Defaults to ConnectTimeout.
	ReadTimeout time.Duration

	// Transcript, if set, receives every line sent and received.
	Transcript Transcript
}

// Reply is a parsed server reply. Lines holds the raw lines without CRLF.
type Reply struct {
	Code  int
	Lines []string
}

// Class returns the leading digit of the reply code.
func (r Reply) Class() int {
	return r.Code / 100
}

// Session owns one connection to one receiving server. A Session is not
// safe for concurrent use.
type Session struct {
	host        string
	conn        net.Conn
	reader      *bufio.Reader
	writer      *bufio.Writer
	readTimeout time.Duration
	transcript  Transcript
	state       int

	ctx  context.Context
	stop func() bool
}

// Open connects to host. The connection is closed as soon as ctx is done,
// which unblocks any pending read; the caller must still call Close.
func Open(ctx context.Context, d Dialer, host string, opts Options) (*Session, error) {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = opts.ConnectTimeout
	}
	if d == nil {
		d = &net.Dialer{}
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(opts.Port))
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("smtp: failed to connect to %s: %w", addr, err)
	}

	s := &Session{
		host:        host,
		conn:        conn,
		reader:      bufio.NewReaderSize(conn, maxLineLength),
		writer:      bufio.NewWriter(conn),
		readTimeout: opts.ReadTimeout,
		transcript:  opts.Transcript,
		state:       stateConnected,
		ctx:         ctx,
	}
	s.stop = context.AfterFunc(ctx, func() { conn.Close() })
	return s, nil
}

// Host returns the host this session is connected to.
func (s *Session) Host() string {
	return s.host
}

// Greet reads the server greeting. Any reply other than 220, or a failed
// read, is reported as ErrNotReady.
func (s *Session) Greet() error {
	if s.state != stateConnected {
		return s.stateErr()
	}

	reply, err := s.readReply()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	if reply.Code != 220 {
		return fmt.Errorf("%w: %w", ErrNotReady, &ReplyError{Command: "greeting", Code: reply.Code, Line: reply.Lines[0]})
	}

	s.state = stateGreeted
	return nil
}

// Handshake sends HELO and MAIL FROM. A transport failure is returned
// immediately. A non-2xx reply does not stop the exchange: both commands are
// always sent and the first such reply is returned as a *ReplyError, leaving
// the session ready for RCPT.
func (s *Session) Handshake(heloName, from string) error {
	if s.state != stateGreeted {
		return s.stateErr()
	}

	var rejected error
	for _, cmd := range []struct {
		name string
		line string
	}{
		{"HELO", "HELO " + heloName},
		{"MAIL FROM", "MAIL FROM: <" + from + ">"},
	} {
		reply, err := s.cmd(cmd.line)
		if err != nil {
			return err
		}
		if reply.Class() != 2 && rejected == nil {
			rejected = &ReplyError{Command: cmd.name, Code: reply.Code, Line: reply.Lines[0]}
		}
	}

	s.state = stateMailFrom
	return rejected
}

// ProbeRecipient sends RCPT TO for addr and classifies the reply by its
// leading digit. An error means the session is no longer usable.
func (s *Session) ProbeRecipient(addr string) (Outcome, error) {
	if s.state != stateMailFrom {
		return Rejected, s.stateErr()
	}

	reply, err := s.cmd("RCPT TO: <" + addr + ">")
	if err != nil {
		return Rejected, err
	}
	if reply.Class() == 2 {
		return Accepted, nil
	}
	return Rejected, nil
}

// Close sends QUIT without waiting for the reply and closes the connection.
// Only the first call has any effect.
func (s *Session) Close() error {
	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed
	s.stop()

	// The server may already have hung up, so a failed QUIT is ignored.
	s.conn.SetWriteDeadline(time.Now().Add(quitTimeout))
	_ = s.writeLine("QUIT")

	err := s.conn.Close()
	if s.ctx.Err() != nil {
		// The connection was already closed by cancellation.
		return nil
	}
	return err
}

func (s *Session) stateErr() error {
	if s.state == stateClosed {
		return ErrClosed
	}
	return ErrOutOfOrder
}

// cmd writes one command line and reads its reply.
func (s *Session) cmd(line string) (Reply, error) {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return Reply{}, s.wrapErr(err)
	}
	if err := s.writeLine(line); err != nil {
		return Reply{}, s.wrapErr(err)
	}
	return s.readReply()
}

func (s *Session) writeLine(line string) error {
	s.record(true, line)
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return s.writer.Flush()
}

// readReply reads one reply. Continuation lines ("250-...") are consumed up
// to the final line so the next command reads its own reply; the code is
// taken from the first line.
func (s *Session) readReply() (Reply, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return Reply{}, s.wrapErr(err)
	}

	var reply Reply
	for {
		raw, err := s.reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			err = ErrLineTooLong
		}
		if err != nil {
			return Reply{}, s.wrapErr(err)
		}
		line := strings.TrimRight(string(raw), "\r\n")
		s.record(false, line)

		if len(reply.Lines) == 0 {
			reply.Code = parseCode(line)
		}
		reply.Lines = append(reply.Lines, line)

		if len(line) < 4 || line[3] != '-' {
			return reply, nil
		}
	}
}

// wrapErr reports cancellation in preference to the network error it caused.
func (s *Session) wrapErr(err error) error {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return fmt.Errorf("smtp: %s: %w", s.host, ctxErr)
	}
	return fmt.Errorf("smtp: %s: %w", s.host, err)
}

func (s *Session) record(sent bool, line string) {
	if s.transcript != nil {
		s.transcript(s.host, sent, line)
	}
}

// parseCode returns the numeric value of the first three bytes of line, or
// 0 when they are not all digits.
func parseCode(line string) int {
	if len(line) < 3 {
		return 0
	}
	code := 0
	for i := 0; i < 3; i++ {
		c := line[i]
		if c < '0' || c > '9' {
			return 0
		}
		code = code*10 + int(c-'0')
	}
	return code
}
