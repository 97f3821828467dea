// Package deliverability reports the sender-domain DNS posture and the
// configuration checklist shown on the deliverability dashboard.
package deliverability

import (
	"context"
	"errors"
	"net"
	"strings"
)

// CheckStatus is the outcome of one DNS record check
type CheckStatus string

const (
	// CheckVerified means the record was found
	CheckVerified CheckStatus = "verified"
	// CheckAbsent means DNS answered and the record does not exist
	CheckAbsent CheckStatus = "absent"
	// CheckUnavailable means DNS could not be asked. Only this status
	// falls back to the configured flag.
	CheckUnavailable CheckStatus = "unavailable"
)

// Record types
const (
	RecordSPF   = "spf"
	RecordDKIM  = "dkim"
	RecordDMARC = "dmarc"
)

// Resolver looks up TXT records. *net.Resolver satisfies it.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// RecordCheck is the live result for one record type
type RecordCheck struct {
	Record     string      `json:"record"`
	Host       string      `json:"host,omitempty"`
	Status     CheckStatus `json:"status"`
	Value      string      `json:"value,omitempty"`
	Error      string      `json:"error,omitempty"`
	Configured bool        `json:"configured"`
	// Source is "dns" when Configured comes from the lookup and "fallback"
	// when it comes from the operator flag.
	Source string `json:"source"`
}

// recordHost returns the DNS name queried for record
func recordHost(record, domain, selector string) string {
	switch record {
	case RecordDKIM:
		return selector + "._domainkey." + domain
	case RecordDMARC:
		return "_dmarc." + domain
	default:
		return domain
	}
}

func matches(record, txt string) bool {
	v := strings.ToLower(strings.TrimSpace(txt))
	switch record {
	case RecordSPF:
		return strings.HasPrefix(v, "v=spf1")
	case RecordDKIM:
		return strings.HasPrefix(v, "v=dkim1") || strings.Contains(v, "p=")
	case RecordDMARC:
		return strings.HasPrefix(v, "v=dmarc1")
	default:
		return false
	}
}

// lookup queries host and classifies the answer. A NXDOMAIN or an answer
// without a matching TXT is absent; every other error is unavailable.
func lookup(ctx context.Context, resolver Resolver, record, host string) (CheckStatus, string, error) {
	txts, err := resolver.LookupTXT(ctx, host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return CheckAbsent, "", nil
		}
		return CheckUnavailable, "", err
	}

	for _, txt := range txts {
		if matches(record, txt) {
			return CheckVerified, txt, nil
		}
	}
	return CheckAbsent, "", nil
}

// resolve combines the live status with the fallback flag
func resolve(check RecordCheck, fallback bool) RecordCheck {
	switch check.Status {
	case CheckVerified:
		check.Configured, check.Source = true, "dns"
	case CheckAbsent:
		check.Configured, check.Source = false, "dns"
	default:
		check.Configured, check.Source = fallback, "fallback"
	}
	return check
}
