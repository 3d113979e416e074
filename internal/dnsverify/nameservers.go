package dnsverify

import (
	"context"
	"net"

	"go.uber.org/zap"
)

// HostResolver is the forward-resolution capability used to turn nameserver
// hostnames into IPv4 addresses. Scoped per call; implementations must be
// safe for concurrent use.
type HostResolver interface {
	LookupIPv4(ctx context.Context, host string) ([]string, error)
}

type netHostResolver struct {
	r *net.Resolver
}

func (n netHostResolver) LookupIPv4(ctx context.Context, host string) ([]string, error) {
	ips, err := n.r.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		out = append(out, ip.String())
	}
	return out, nil
}

// SystemHostResolver returns a HostResolver backed by the default system
// resolver. Forward A resolution of nameserver hosts does not need to dodge
// caches the way the TXT query does.
func SystemHostResolver() HostResolver {
	return netHostResolver{r: net.DefaultResolver}
}

// NameserverResolver discovers which nameservers are authoritative for a
// domain's registrable zone and resolves them to addresses.
type NameserverResolver struct {
	DoH    *DoHClient
	Split  DomainSplitter
	Hosts  HostResolver
	Logger *zap.Logger
}

// NewNameserverResolver wires a NameserverResolver with defaults for any nil
// collaborator.
func NewNameserverResolver(doh *DoHClient, logger *zap.Logger) *NameserverResolver {
	if doh == nil {
		doh = NewDoHClient("", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NameserverResolver{
		DoH:    doh,
		Split:  PublicSuffixSplitter(),
		Hosts:  SystemHostResolver(),
		Logger: logger,
	}
}

// Discover returns the authoritative nameserver hostnames for the registrable
// domain of domain. NS records only exist at the zone apex, so the query is
// issued for the eTLD+1, never for the subdomain itself.
func (r *NameserverResolver) Discover(ctx context.Context, domain string) ([]string, error) {
	registrable, _, err := r.Split.Split(domain)
	if err != nil {
		return nil, err
	}

	hosts, err := r.DoH.QueryNS(ctx, registrable)
	if err != nil {
		r.Logger.Warn("nameserver discovery failed",
			zap.String("registrable_domain", registrable),
			zap.Error(err),
		)
		return nil, err
	}
	return hosts, nil
}

// ResolveIPs resolves each nameserver hostname to IPv4 addresses. A hostname
// that fails to resolve is logged and skipped; only an empty aggregate result
// is an error. The returned list preserves hostname order and drops
// duplicate addresses.
func (r *NameserverResolver) ResolveIPs(ctx context.Context, hosts []string) ([]string, error) {
	var ips []string
	seen := make(map[string]struct{})

	for _, host := range hosts {
		addrs, err := r.Hosts.LookupIPv4(ctx, host)
		if err != nil {
			r.Logger.Warn("nameserver did not resolve, skipping",
				zap.String("nameserver", host),
				zap.Error(err),
			)
			continue
		}
		for _, addr := range addrs {
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			ips = append(ips, addr)
		}
	}

	if len(ips) == 0 {
		return nil, ErrNoNameserversResolved
	}
	return ips, nil
}
