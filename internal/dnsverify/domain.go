package dnsverify

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// DomainSplitter splits a hostname into its registrable (eTLD+1) domain and
// the subdomain labels to its left. Implementations must be pure: no I/O,
// identical output for identical input.
type DomainSplitter interface {
	Split(domain string) (registrable, subdomain string, err error)
}

// publicSuffixSplitter splits using the embedded public suffix list, so
// multi-label suffixes like co.uk are handled correctly. A naive
// "last two labels" split is not.
type publicSuffixSplitter struct{}

// PublicSuffixSplitter returns the default DomainSplitter backed by
// golang.org/x/net/publicsuffix.
func PublicSuffixSplitter() DomainSplitter {
	return publicSuffixSplitter{}
}

func (publicSuffixSplitter) Split(domain string) (string, string, error) {
	d, err := CanonicalDomain(domain)
	if err != nil {
		return "", "", err
	}

	registrable, err := publicsuffix.EffectiveTLDPlusOne(d)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q has no registrable domain", ErrInvalidDomain, domain)
	}

	if d == registrable {
		return registrable, "", nil
	}
	return registrable, strings.TrimSuffix(d, "."+registrable), nil
}

var validHostnameRE = regexp.MustCompile(`^([a-z0-9_]([a-z0-9-_]*[a-z0-9_])?\.)+[a-z]{2,}$`)

// CanonicalDomain normalizes a caller-supplied domain for lookups and storage:
// lowercase, trimmed, trailing root dot stripped, validated as a bare hostname
// (no scheme, no path, no port).
func CanonicalDomain(domain string) (string, error) {
	d := strings.TrimSpace(domain)
	d = strings.ToLower(d)
	d = strings.TrimSuffix(d, ".")

	switch {
	case d == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidDomain)
	case strings.Contains(d, "://"):
		return "", fmt.Errorf("%w: must not contain a scheme", ErrInvalidDomain)
	case strings.ContainsAny(d, "/ :"):
		return "", fmt.Errorf("%w: must be a bare hostname", ErrInvalidDomain)
	case !validHostnameRE.MatchString(d):
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	return d, nil
}
