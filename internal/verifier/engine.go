// Package verifier classifies email addresses without sending mail. It
// groups addresses by domain, resolves each domain's mail hosts, and drives
// an SMTP envelope exchange up to RCPT TO to observe whether the receiving
// server accepts each recipient.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/shineum/mailprobe-lite/internal/address"
	"github.com/shineum/mailprobe-lite/internal/disposable"
	"github.com/shineum/mailprobe-lite/internal/resolver"
	"github.com/shineum/mailprobe-lite/internal/smtp"
)

const (
	defaultHeloName       = "localhost"
	defaultConnectTimeout = 10 * time.Second
)

// HostResolver returns the hosts to try for a domain, most preferred first.
type HostResolver interface {
	Resolve(ctx context.Context, domain string) []string
}

// DisposableChecker reports whether a domain is a throwaway provider.
type DisposableChecker interface {
	IsDisposable(ctx context.Context, domain string) bool
}

// SuppressionChecker reports whether an address is known to hard-bounce.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, addr string) (bool, error)
}

// Checks selects the optional stages. The MX and SMTP probe always runs
// for addresses that pass the enabled stages.
type Checks struct {
	Syntax     bool
	Disposable bool
	AcceptAll  bool
}

// DefaultChecks enables every stage.
func DefaultChecks() Checks {
	return Checks{Syntax: true, Disposable: true, AcceptAll: true}
}

// Options configures an Engine. Zero values select the documented defaults.
type Options struct {
	Checks Checks

	// From is the MAIL FROM address. Defaults to "verify@" + HeloName.
	From string

	// HeloName is announced in HELO. Defaults to "localhost".
	HeloName string

	// Port is the SMTP port to probe. Defaults to 25.
	Port int

	// ConnectTimeout bounds each connection attempt. Defaults to 10s.
	ConnectTimeout time.Duration

	// ReadTimeout bounds each wait for a reply. Defaults to ConnectTimeout.
	ReadTimeout time.Duration

	// Batched checks every address of a domain over one session. By default
	// each address gets its own connection, spaced by PaceDelay.
	Batched bool

	// PaceDelay is the minimum interval between successive connections when
	// not batched.
	PaceDelay time.Duration

	// StrictHandshake fails the domain with smtp_fail when HELO or MAIL
	// FROM is answered with a non-2xx reply.
	StrictHandshake bool

	// Concurrency is the number of domains processed at once. Defaults to 1.
	Concurrency int

	// Validator is the syntax predicate. Defaults to address.FormatValidator.
	Validator address.Validator

	// Disposable defaults to a gate over the embedded list.
	Disposable DisposableChecker

	// Resolver defaults to DNS resolution through net.DefaultResolver.
	Resolver HostResolver

	// Dialer defaults to a direct TCP dialer.
	Dialer smtp.Dialer

	// Suppression, if set, is consulted for every address before probing.
	Suppression SuppressionChecker

	// Transcript, if set, receives every protocol line.
	Transcript smtp.Transcript

	// Metrics, if set, counts engine activity.
	Metrics *Metrics

	// Random is the entropy source for the accept-all probe. Defaults to
	// crypto/rand.
	Random io.Reader
}

// Engine verifies addresses. The resolved-host cache and accept-all probe
// belong to one Engine; an Engine is safe for concurrent use.
type Engine struct {
	opts     Options
	detector *acceptAllDetector
	limiter  *rate.Limiter

	mu    sync.Mutex
	hosts map[string]string
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.HeloName == "" {
		opts.HeloName = defaultHeloName
	}
	if opts.From == "" {
		opts.From = "verify@" + opts.HeloName
	}
	if opts.Port == 0 {
		opts.Port = smtp.DefaultPort
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = opts.ConnectTimeout
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Validator == nil {
		opts.Validator = address.FormatValidator{}
	}
	if opts.Disposable == nil {
		opts.Disposable = disposable.New(disposable.Embedded())
	}
	if opts.Resolver == nil {
		opts.Resolver = resolver.New(nil, 0)
	}

	detector, err := newAcceptAllDetector(opts.Random)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if opts.PaceDelay > 0 {
		limit = rate.Every(opts.PaceDelay)
	}

	return &Engine{
		opts:     opts,
		detector: detector,
		limiter:  rate.NewLimiter(limit, 1),
		hosts:    make(map[string]string),
	}, nil
}

// domainGroup is the set of addresses sharing a domain key, in first-seen
// order.
type domainGroup struct {
	key   string
	addrs []string
}

// Verify classifies every address. The result holds exactly one entry per
// distinct trimmed address, whatever happens on the network. The returned
// error is non-nil only when ctx ended before all probes ran; addresses
// that were not probed are then reported as smtp_fail.
func (e *Engine) Verify(ctx context.Context, addrs []string) (Results, error) {
	results := make(Results, len(addrs))
	groups := e.group(addrs, results)

	var mu sync.Mutex
	merge := func(r map[string]Status) {
		mu.Lock()
		defer mu.Unlock()
		for a, st := range r {
			results[a] = st
		}
	}

	if e.opts.Concurrency == 1 {
		for _, g := range groups {
			merge(e.verifyDomain(ctx, g))
		}
	} else {
		var eg errgroup.Group
		eg.SetLimit(e.opts.Concurrency)
		for _, g := range groups {
			g := g
			eg.Go(func() error {
				merge(e.verifyDomain(ctx, g))
				return nil
			})
		}
		eg.Wait()
	}

	for _, st := range results {
		e.opts.Metrics.result(st)
	}
	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("verification interrupted: %w", err)
	}
	return results, nil
}

// group trims and deduplicates addrs, records syntax failures in results,
// and partitions the rest by domain key.
func (e *Engine) group(addrs []string, results Results) []*domainGroup {
	var groups []*domainGroup
	index := make(map[string]*domainGroup)
	seen := make(map[string]struct{}, len(addrs))

	for _, raw := range addrs {
		a := strings.TrimSpace(raw)
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}

		if e.opts.Checks.Syntax && !e.opts.Validator.Valid(a) {
			results[a] = BadSyntax
			continue
		}

		key := address.DomainKey(a)
		g, ok := index[key]
		if !ok {
			g = &domainGroup{key: key}
			index[key] = g
			groups = append(groups, g)
		}
		g.addrs = append(g.addrs, a)
	}
	return groups
}

func (e *Engine) verifyDomain(ctx context.Context, g *domainGroup) map[string]Status {
	res := make(map[string]Status, len(g.addrs))
	// Anything not classified below was cut short by cancellation.
	defer fill(res, g.addrs, SMTPFail)

	if ctx.Err() != nil {
		return res
	}

	if e.opts.Checks.Disposable && e.opts.Disposable.IsDisposable(ctx, g.key) {
		fill(res, g.addrs, Disposable)
		return res
	}

	pending := e.unsuppressed(ctx, g.addrs, res)
	if len(pending) == 0 {
		return res
	}

	if e.opts.Batched {
		e.probeBatched(ctx, g.key, pending, res)
	} else {
		e.probePaced(ctx, g.key, pending, res)
	}
	return res
}

// unsuppressed marks suppressed addresses invalid and returns the others.
func (e *Engine) unsuppressed(ctx context.Context, addrs []string, res map[string]Status) []string {
	if e.opts.Suppression == nil {
		return addrs
	}

	pending := make([]string, 0, len(addrs))
	for _, a := range addrs {
		suppressed, err := e.opts.Suppression.IsSuppressed(ctx, a)
		if err != nil {
			slog.Warn("suppression lookup failed", "address", a, "error", err)
		}
		if suppressed {
			res[a] = Invalid
			continue
		}
		pending = append(pending, a)
	}
	return pending
}

// probeBatched probes every address over a single session.
func (e *Engine) probeBatched(ctx context.Context, domain string, addrs []string, res map[string]Status) {
	s, st := e.establish(ctx, domain)
	if s == nil {
		fill(res, addrs, st)
		return
	}
	defer s.Close()

	if e.opts.Checks.AcceptAll && e.checkAcceptAll(s, domain, addrs, res) {
		return
	}

	for i, a := range addrs {
		st, err := e.probe(s, a)
		if err != nil {
			slog.Debug("session lost during probe", "domain", domain, "host", s.Host(), "error", err)
			fill(res, addrs[i:], SMTPFail)
			return
		}
		res[a] = st
	}
}

// probePaced opens a fresh connection for each address, spaced by the pace
// limiter. The accept-all check gets its own connection first. Until one
// connection to the domain succeeds, a failure decides the whole group.
func (e *Engine) probePaced(ctx context.Context, domain string, addrs []string, res map[string]Status) {
	reached := false

	if e.opts.Checks.AcceptAll {
		s, st := e.establishPaced(ctx, domain)
		if s == nil {
			fill(res, addrs, st)
			return
		}
		done := e.checkAcceptAll(s, domain, addrs, res)
		s.Close()
		if done {
			return
		}
		reached = true
	}

	for i, a := range addrs {
		s, st := e.establishPaced(ctx, domain)
		if s == nil {
			if !reached || ctx.Err() != nil {
				fill(res, addrs[i:], st)
				return
			}
			res[a] = st
			continue
		}
		reached = true

		st, err := e.probe(s, a)
		s.Close()
		if err != nil {
			slog.Debug("session lost during probe", "domain", domain, "address", a, "error", err)
			st = SMTPFail
		}
		res[a] = st
	}
}

// checkAcceptAll runs the accept-all probe on s. It returns true when the
// outcome decided every address in addrs.
func (e *Engine) checkAcceptAll(s *smtp.Session, domain string, addrs []string, res map[string]Status) bool {
	accepted, err := e.detector.detect(s, domain)
	if err != nil {
		e.opts.Metrics.probe("error")
		slog.Debug("accept-all probe failed", "domain", domain, "host", s.Host(), "error", err)
		fill(res, addrs, SMTPFail)
		return true
	}
	if !accepted {
		e.opts.Metrics.probe(smtp.Rejected.String())
		return false
	}

	e.opts.Metrics.probe(smtp.Accepted.String())
	e.opts.Metrics.acceptAllDomain()
	slog.Info("domain accepts all recipients", "domain", domain, "host", s.Host())
	fill(res, addrs, AcceptAll)
	return true
}

func (e *Engine) probe(s *smtp.Session, addr string) (Status, error) {
	out, err := s.ProbeRecipient(addr)
	if err != nil {
		e.opts.Metrics.probe("error")
		return SMTPFail, err
	}
	e.opts.Metrics.probe(out.String())
	if out == smtp.Accepted {
		return Valid, nil
	}
	return Invalid, nil
}

func (e *Engine) establishPaced(ctx context.Context, domain string) (*smtp.Session, Status) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, SMTPFail
	}
	return e.establish(ctx, domain)
}

// establish connects to the domain and completes greeting and handshake.
// When it returns a nil session, the Status says why.
func (e *Engine) establish(ctx context.Context, domain string) (*smtp.Session, Status) {
	s, st := e.connect(ctx, domain)
	if s == nil {
		return nil, st
	}

	if err := s.Greet(); err != nil {
		slog.Debug("server not ready", "domain", domain, "host", s.Host(), "error", err)
		s.Close()
		return nil, SMTPFail
	}

	if err := s.Handshake(e.opts.HeloName, e.opts.From); err != nil {
		var re *smtp.ReplyError
		if !errors.As(err, &re) || e.opts.StrictHandshake {
			slog.Debug("handshake failed", "domain", domain, "host", s.Host(), "error", err)
			s.Close()
			return nil, SMTPFail
		}
		slog.Debug("handshake reply ignored", "domain", domain, "host", s.Host(), "command", re.Command, "code", re.Code)
	}
	return s, ""
}

// connect tries the cached host for domain, then every resolved host in
// order, and caches the first that accepts a connection.
func (e *Engine) connect(ctx context.Context, domain string) (*smtp.Session, Status) {
	cached, haveCached := e.cachedHost(domain)
	if haveCached {
		if s := e.open(ctx, cached); s != nil {
			return s, ""
		}
	}

	hosts := e.opts.Resolver.Resolve(ctx, domain)
	if ctx.Err() != nil {
		return nil, SMTPFail
	}
	if len(hosts) == 0 {
		return nil, NoMXRecords
	}

	for _, h := range hosts {
		if haveCached && h == cached {
			// Already failed above.
			continue
		}
		if s := e.open(ctx, h); s != nil {
			e.cacheHost(domain, h)
			return s, ""
		}
		if ctx.Err() != nil {
			return nil, SMTPFail
		}
	}
	return nil, InvalidDomain
}

func (e *Engine) open(ctx context.Context, host string) *smtp.Session {
	s, err := smtp.Open(ctx, e.opts.Dialer, host, smtp.Options{
		Port:           e.opts.Port,
		ConnectTimeout: e.opts.ConnectTimeout,
		ReadTimeout:    e.opts.ReadTimeout,
		Transcript:     e.opts.Transcript,
	})
	if err != nil {
		e.opts.Metrics.connect("failed")
		slog.Debug("connect failed", "host", host, "error", err)
		return nil
	}
	e.opts.Metrics.connect("ok")
	return s
}

func (e *Engine) cachedHost(domain string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.hosts[domain]
	return h, ok
}

func (e *Engine) cacheHost(domain, host string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hosts[domain] = host
}

// fill assigns st to every address in addrs that has no status yet.
func fill(res map[string]Status, addrs []string, st Status) {
	for _, a := range addrs {
		if _, done := res[a]; !done {
			res[a] = st
		}
	}
}
