package verifier

// Status is the verdict for one address.
type Status string

const (
	// BadSyntax means the address failed the syntax check.
	BadSyntax Status = "bad_syntax"
	// Disposable means the domain is a known throwaway provider.
	Disposable Status = "disposable"
	// NoMXRecords means no host could be resolved for the domain.
	NoMXRecords Status = "no_mx_records"
	// InvalidDomain means every resolved host refused the connection.
	InvalidDomain Status = "invalid_domain"
	// SMTPFail means a host was reached but the SMTP exchange failed.
	SMTPFail Status = "smtp_fail"
	// AcceptAll means the domain accepts any recipient.
	AcceptAll Status = "accept_all"
	// Invalid means the server rejected the recipient.
	Invalid Status = "invalid"
	// Valid means the server accepted the recipient.
	Valid Status = "valid"
)

// Statuses lists every Status in a stable order.
var Statuses = []Status{
	BadSyntax, Disposable, NoMXRecords, InvalidDomain,
	SMTPFail, AcceptAll, Invalid, Valid,
}

// Results maps each trimmed input address to its Status.
type Results map[string]Status

// Count returns how many addresses received each Status.
func (r Results) Count() map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	for _, st := range r {
		counts[st]++
	}
	return counts
}
