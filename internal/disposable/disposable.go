// Package disposable reports whether a domain belongs to a known
// throwaway-mailbox provider. The domain list is loaded lazily from a
// Source the first time it is needed and kept for the Gate's lifetime.
package disposable

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// loadTimeout bounds the one-time load. The load is detached from the
// caller's cancellation because its result outlives the call.
const loadTimeout = 30 * time.Second

// Source supplies the list of disposable domains.
type Source interface {
	Load(ctx context.Context) ([]string, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]string, error)

// Load calls f(ctx).
func (f SourceFunc) Load(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// Gate answers disposable-domain queries against a lazily loaded list.
// It is safe for concurrent use.
type Gate struct {
	source Source

	once    sync.Once
	domains map[string]struct{}
}

// New creates a Gate backed by src. Nothing is loaded until the first query.
func New(src Source) *Gate {
	return &Gate{source: src}
}

// IsDisposable reports whether domain is on the list. The domain is
// compared lower-cased. If the list could not be loaded the gate behaves as
// if it were empty.
func (g *Gate) IsDisposable(ctx context.Context, domain string) bool {
	g.load(ctx)
	_, ok := g.domains[strings.ToLower(domain)]
	return ok
}

// Len returns the number of loaded domains, loading the list if needed.
func (g *Gate) Len(ctx context.Context) int {
	g.load(ctx)
	return len(g.domains)
}

func (g *Gate) load(ctx context.Context) {
	g.once.Do(func() {
		g.domains = make(map[string]struct{})
		if g.source == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		list, err := g.source.Load(ctx)
		if err != nil {
			slog.Warn("failed to load disposable domain list", "error", err)
			return
		}
		for _, d := range list {
			d = strings.ToLower(strings.TrimSpace(d))
			if d != "" {
				g.domains[d] = struct{}{}
			}
		}
		slog.Debug("disposable domain list loaded", "domains", len(g.domains))
	})
}

// ParseList reads a newline-delimited domain list. Blank lines and lines
// starting with '#' are skipped and entries are lower-cased.
func ParseList(r io.Reader) ([]string, error) {
	var domains []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domains = append(domains, strings.ToLower(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return domains, nil
}
