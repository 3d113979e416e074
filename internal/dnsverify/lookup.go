package dnsverify

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// TXTLookup is the single contract both lookup strategies satisfy: an ordered
// list of decoded TXT values at name, or a classified error. An NXDOMAIN or
// empty answer is ErrNoRecordFound, never a bare empty slice.
type TXTLookup interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// exchangeFunc performs one DNS exchange against addr ("ip:port").
// Overridable in tests.
type exchangeFunc func(ctx context.Context, msg *dns.Msg, addr string) (*dns.Msg, error)

// AuthoritativeLookup queries TXT records directly against a fixed set of
// nameserver IPs, bypassing the system resolver and every cache between this
// process and the zone's authority. Each instance is bound to the IPs of a
// single verification attempt and discarded afterwards; there is no pooling.
type AuthoritativeLookup struct {
	serverIPs []string
	exchange  exchangeFunc
}

// NewAuthoritativeLookup returns a lookup bound to the given nameserver IPs.
func NewAuthoritativeLookup(serverIPs []string) *AuthoritativeLookup {
	client := &dns.Client{Timeout: DoHTimeout}
	return &AuthoritativeLookup{
		serverIPs: serverIPs,
		exchange: func(ctx context.Context, msg *dns.Msg, addr string) (*dns.Msg, error) {
			resp, _, err := client.ExchangeContext(ctx, msg, addr)
			return resp, err
		},
	}
}

// LookupTXT asks each bound nameserver in turn and returns the first answer
// that completes. Chunks within one TXT record are concatenated in wire
// order; independent records stay separate entries.
func (a *AuthoritativeLookup) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if len(a.serverIPs) == 0 {
		return nil, fmt.Errorf("%w: no nameserver addresses bound", ErrTransport)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)

	var lastErr error
	for _, ip := range a.serverIPs {
		resp, err := a.exchange(ctx, msg, net.JoinHostPort(ip, "53"))
		if err != nil {
			lastErr = err
			continue
		}

		switch resp.Rcode {
		case dns.RcodeSuccess:
			// fall through to answer decoding
		case dns.RcodeNameError:
			return nil, ErrNoRecordFound
		default:
			lastErr = fmt.Errorf("%w: rcode %s", ErrTransport, dns.RcodeToString[resp.Rcode])
			continue
		}

		var records []string
		for _, ans := range resp.Answer {
			if txt, ok := ans.(*dns.TXT); ok {
				records = append(records, strings.Join(txt.Txt, ""))
			}
		}
		if len(records) == 0 {
			return nil, ErrNoRecordFound
		}
		return records, nil
	}

	if lastErr == nil {
		lastErr = ErrTransport
	}
	return nil, lastErr
}

// DoHLookup is the fallback strategy: the same TXT contract served through a
// public DNS-over-HTTPS JSON endpoint instead of the zone's own nameservers.
type DoHLookup struct {
	Client *DoHClient
}

func (d *DoHLookup) LookupTXT(ctx context.Context, name string) ([]string, error) {
	return d.Client.QueryTXT(ctx, name)
}
