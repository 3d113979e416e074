// Package dnsverify proves that a brand controls a domain before the platform
// serves passport pages from it. Ownership is demonstrated by publishing a
// platform-issued token in a TXT record under the _avelero-verification label;
// the check queries the domain's own authoritative nameservers for a live
// answer, with a public DNS-over-HTTPS endpoint as fallback.
package dnsverify

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// VerificationLabel is the underscore-prefixed subdomain segment the challenge
// record lives under. The underscore keeps it clear of any wildcard records
// the brand may run on its own zone.
const VerificationLabel = "_avelero-verification"

// QueryName returns the fully-qualified name the TXT challenge must be
// published at: "_avelero-verification.<domain>".
func QueryName(domain string) string {
	return VerificationLabel + "." + strings.TrimSuffix(strings.TrimSpace(domain), ".")
}

// Result is the verdict of one verification attempt. Success implies Error is
// empty. FoundRecords holds exactly the decoded TXT values observed at the
// query name — data the brand itself published — and is the only diagnostic
// payload; Error is always one of a small closed set of phrases and never
// echoes upstream exception text.
type Result struct {
	Success      bool     `json:"success"`
	Error        string   `json:"error,omitempty"`
	FoundRecords []string `json:"foundRecords,omitempty"`
}

// The closed set of user-facing failure phrases.
const (
	msgInvalidDomain  = "invalid domain"
	msgNSLookup       = "could not discover the domain's nameservers"
	msgNoNameservers  = "none of the domain's nameservers could be resolved"
	msgNoRecord       = "no TXT record found"
	msgTokenMismatch  = "verification token does not match"
	msgNoMatchingTXT  = "no matching TXT record found"
	msgTimeout        = "dns lookup timed out"
	msgLookupFailed   = "dns lookup failed"
)

// VerifyOption adjusts a single Verify call.
type VerifyOption func(*verifyOptions)

type verifyOptions struct {
	nameserverIPs []string
	lookup        TXTLookup
}

// WithNameserverIPs pins the attempt to an already-resolved set of
// authoritative nameserver addresses, skipping discovery.
func WithNameserverIPs(ips []string) VerifyOption {
	return func(o *verifyOptions) { o.nameserverIPs = ips }
}

// WithLookup substitutes the TXT lookup strategy wholesale. Used by tests and
// by callers that manage their own resolver.
func WithLookup(l TXTLookup) VerifyOption {
	return func(o *verifyOptions) { o.lookup = l }
}

// Verifier runs the ownership check: locate an answer for the challenge name,
// then compare it against the token the platform previously handed out.
//
// Each Verify call is independent and stateless; Verifiers are safe for
// concurrent use. There is no internal retry — a retry against the same
// resolved nameserver IP adds nothing without re-resolving, so backoff
// belongs to the caller across separate attempts.
type Verifier struct {
	ns     *NameserverResolver
	doh    *DoHClient
	logger *zap.Logger

	// newAuthoritative builds the direct lookup for a resolved IP set.
	// Defaults to NewAuthoritativeLookup; tests can override it.
	newAuthoritative func(ips []string) TXTLookup
}

// NewVerifier returns a Verifier that chases the domain's own authoritative
// nameservers. ns may be nil to fall back to DoH-only lookups.
func NewVerifier(ns *NameserverResolver, doh *DoHClient, logger *zap.Logger) *Verifier {
	if doh == nil {
		doh = NewDoHClient("", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		ns:     ns,
		doh:    doh,
		logger: logger,
		newAuthoritative: func(ips []string) TXTLookup {
			return NewAuthoritativeLookup(ips)
		},
	}
}

// Verify checks that the TXT challenge for domain carries expectedToken.
// It never returns an error: every failure mode is folded into the Result
// with a user-safe message.
func (v *Verifier) Verify(ctx context.Context, domain, expectedToken string, opts ...VerifyOption) Result {
	var o verifyOptions
	for _, opt := range opts {
		opt(&o)
	}

	name := QueryName(domain)

	lookup, err := v.selectLookup(ctx, domain, &o)
	if err != nil {
		return v.failure(domain, nil, err)
	}

	records, err := lookup.LookupTXT(ctx, name)
	if err != nil {
		return v.failure(domain, nil, err)
	}
	if len(records) == 0 {
		// Defensive: strategies return ErrNoRecordFound themselves, but an
		// empty success must classify identically.
		return v.failure(domain, nil, ErrNoRecordFound)
	}

	return v.compare(domain, expectedToken, records)
}

// selectLookup picks the strategy for this attempt: an explicit lookup, an
// explicit IP set, the full authoritative chase, or the DoH fallback.
func (v *Verifier) selectLookup(ctx context.Context, domain string, o *verifyOptions) (TXTLookup, error) {
	if o.lookup != nil {
		return o.lookup, nil
	}
	if len(o.nameserverIPs) > 0 {
		return v.newAuthoritative(o.nameserverIPs), nil
	}
	if v.ns != nil {
		hosts, err := v.ns.Discover(ctx, domain)
		if err != nil {
			return nil, err
		}
		ips, err := v.ns.ResolveIPs(ctx, hosts)
		if err != nil {
			return nil, err
		}
		return v.newAuthoritative(ips), nil
	}
	return &DoHLookup{Client: v.doh}, nil
}

// compare scans every record for an exact (trimmed) token match. DNS
// provisioning tools are prone to appending whitespace and newlines, so both
// sides are trimmed; the comparison itself is case-sensitive.
func (v *Verifier) compare(domain, expectedToken string, records []string) Result {
	expected := strings.TrimSpace(expectedToken)

	sawOurs := false
	for _, rec := range records {
		trimmed := strings.TrimSpace(rec)
		if trimmed == expected {
			v.logger.Info("domain ownership verified",
				zap.String("domain", domain),
				zap.Int("records_seen", len(records)),
			)
			return Result{Success: true, FoundRecords: records}
		}
		if strings.Contains(trimmed, TokenPrefix) {
			sawOurs = true
		}
	}

	msg := msgNoMatchingTXT
	if sawOurs {
		msg = msgTokenMismatch
	}
	v.logger.Info("domain verification failed",
		zap.String("domain", domain),
		zap.String("reason", msg),
		zap.Int("records_seen", len(records)),
	)
	return Result{Success: false, Error: msg, FoundRecords: records}
}

// failure classifies err into the closed message set. The raw error goes to
// the log; the Result carries the safe phrase and, when a concrete answer set
// was reached, the published records.
func (v *Verifier) failure(domain string, records []string, err error) Result {
	var msg string
	switch {
	case errors.Is(err, ErrInvalidDomain):
		msg = msgInvalidDomain
	case errors.Is(err, ErrNSLookupFailed):
		msg = msgNSLookup
	case errors.Is(err, ErrNoNameserversResolved):
		msg = msgNoNameservers
	case errors.Is(err, ErrNoRecordFound):
		msg = msgNoRecord
	case isTimeout(err):
		msg = msgTimeout
	default:
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			// An HTTP status code is the one upstream detail safe to show.
			msg = statusErr.Error()
		} else {
			msg = msgLookupFailed
		}
	}

	v.logger.Info("domain verification failed",
		zap.String("domain", domain),
		zap.String("reason", msg),
		zap.Int("records_seen", len(records)),
		zap.Error(err),
	)
	return Result{Success: false, Error: msg, FoundRecords: records}
}
