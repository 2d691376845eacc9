package verifier

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/shineum/mailprobe-lite/internal/address"
	"github.com/shineum/mailprobe-lite/internal/smtp"
)

// probeLocalLength is the length of the synthetic local part.
const probeLocalLength = 20

// recipientProber is the part of *smtp.Session the detector needs.
type recipientProber interface {
	ProbeRecipient(addr string) (smtp.Outcome, error)
}

// acceptAllDetector probes a domain with a local part that should not exist.
// The local part is chosen once and reused for every domain.
type acceptAllDetector struct {
	local string
}

func newAcceptAllDetector(random io.Reader) (*acceptAllDetector, error) {
	if random == nil {
		random = rand.Reader
	}
	local, err := randomLocal(random, probeLocalLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate accept-all probe: %w", err)
	}
	return &acceptAllDetector{local: local}, nil
}

// address returns the synthetic address for a domain key.
func (d *acceptAllDetector) address(domain string) string {
	return address.Join(d.local, domain)
}

// detect reports whether the server behind s accepted the synthetic
// recipient for domain.
func (d *acceptAllDetector) detect(s recipientProber, domain string) (bool, error) {
	out, err := s.ProbeRecipient(d.address(domain))
	if err != nil {
		return false, err
	}
	return out == smtp.Accepted, nil
}

func randomLocal(random io.Reader, n int) (string, error) {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	max := big.NewInt(int64(len(letters)))

	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(random, max)
		if err != nil {
			return "", err
		}
		b[i] = letters[idx.Int64()]
	}
	return string(b), nil
}
