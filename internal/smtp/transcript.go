package smtp

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Transcript receives each protocol line exchanged with host. sent is true
// for commands written by the client and false for server replies.
type Transcript func(host string, sent bool, line string)

// SlogTranscript emits every line at debug level on logger, or on the
// default logger when logger is nil.
func SlogTranscript(logger *slog.Logger) Transcript {
	return func(host string, sent bool, line string) {
		l := logger
		if l == nil {
			l = slog.Default()
		}
		l.Debug("smtp transcript", "host", host, "dir", direction(sent), "line", line)
	}
}

// WriterTranscript writes "host > line" and "host < line" to w. Writes are
// serialized so one writer can be shared by concurrent sessions.
func WriterTranscript(w io.Writer) Transcript {
	var mu sync.Mutex
	return func(host string, sent bool, line string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "%s %s %s\n", host, direction(sent), line)
	}
}

// Tee sends every line to each non-nil transcript.
func Tee(ts ...Transcript) Transcript {
	return func(host string, sent bool, line string) {
		for _, t := range ts {
			if t != nil {
				t(host, sent, line)
			}
		}
	}
}

func direction(sent bool) string {
	if sent {
		return ">"
	}
	return "<"
}
