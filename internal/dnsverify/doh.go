package dnsverify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultDoHEndpoint is the public DNS-over-HTTPS JSON API used when no
// endpoint is configured. Queried over HTTPS specifically to dodge any
// recursive-resolver cache between this process and the authority.
const DefaultDoHEndpoint = "https://cloudflare-dns.com/dns-query"

// DoHTimeout bounds every DoH round trip.
const DoHTimeout = 10 * time.Second

// DoH JSON wire constants (RFC 8484 JSON convention as implemented by
// Cloudflare and Google).
const (
	dohStatusNoError  = 0
	dohStatusNXDomain = 3

	rrTypeNS  = 2
	rrTypeTXT = 16
)

type dohAnswer struct {
	Type int    `json:"type"`
	Data string `json:"data"`
}

type dohResponse struct {
	Status int         `json:"Status"`
	Answer []dohAnswer `json:"Answer"`
}

// DoHClient issues DNS queries against a public DNS-over-HTTPS JSON endpoint.
// The zero value is not usable; construct with NewDoHClient.
type DoHClient struct {
	endpoint string
	http     *http.Client
}

// NewDoHClient returns a DoHClient for the given endpoint. An empty endpoint
// selects DefaultDoHEndpoint; a nil httpClient selects a fresh client with
// the package timeout.
func NewDoHClient(endpoint string, httpClient *http.Client) *DoHClient {
	if endpoint == "" {
		endpoint = DefaultDoHEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DoHTimeout}
	}
	return &DoHClient{endpoint: endpoint, http: httpClient}
}

// query performs one DoH JSON round trip. HTTP-level failures carry only the
// numeric status code; transport failures are classified by the caller.
func (c *DoHClient) query(ctx context.Context, name, qtype string) (*dohResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, DoHTimeout)
	defer cancel()

	u := c.endpoint + "?name=" + url.QueryEscape(name) + "&type=" + qtype
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build doh request: %w", err)
	}
	req.Header.Set("accept", "application/dns-json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var body dohResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode doh response: %w", err)
	}
	return &body, nil
}

// QueryNS returns the NS answer data for name, trailing root dots stripped.
// Any nonzero DNS status, HTTP failure, or empty answer set is ErrNSLookupFailed;
// the upstream codes are wrapped for logging but the sentinel is what callers
// should surface.
func (c *DoHClient) QueryNS(ctx context.Context, name string) ([]string, error) {
	body, err := c.query(ctx, name, "NS")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNSLookupFailed, err)
	}
	if body.Status != dohStatusNoError {
		return nil, fmt.Errorf("%w: doh status %d", ErrNSLookupFailed, body.Status)
	}

	var hosts []string
	for _, ans := range body.Answer {
		if ans.Type != rrTypeNS {
			continue
		}
		if h := strings.TrimSuffix(strings.TrimSpace(ans.Data), "."); h != "" {
			hosts = append(hosts, h)
		}
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("%w: empty NS answer", ErrNSLookupFailed)
	}
	return hosts, nil
}

// QueryTXT returns the decoded TXT values at name. DNS status 3 (NXDOMAIN)
// and a structurally empty answer set both yield ErrNoRecordFound — the
// caller cannot tell them apart and must not need to.
func (c *DoHClient) QueryTXT(ctx context.Context, name string) ([]string, error) {
	body, err := c.query(ctx, name, "TXT")
	if err != nil {
		return nil, err
	}

	switch body.Status {
	case dohStatusNoError:
		// fall through to answer decoding
	case dohStatusNXDomain:
		return nil, ErrNoRecordFound
	default:
		return nil, fmt.Errorf("%w: doh status %d", ErrTransport, body.Status)
	}

	var records []string
	for _, ans := range body.Answer {
		if ans.Type != rrTypeTXT {
			continue
		}
		if v := decodeTXTData(ans.Data); v != "" {
			records = append(records, v)
		}
	}
	if len(records) == 0 {
		return nil, ErrNoRecordFound
	}
	return records, nil
}

// decodeTXTData strips the double-quote wrapping the DoH JSON convention puts
// around TXT data. A record split into multiple character-string chunks
// arrives as adjacent quoted segments; the segments are concatenated in order
// and escaped quotes inside them are unescaped.
func decodeTXTData(data string) string {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, `"`) {
		return data
	}

	var b strings.Builder
	inQuotes := false
	for i := 0; i < len(data); i++ {
		switch {
		case inQuotes && data[i] == '\\' && i+1 < len(data):
			b.WriteByte(data[i+1])
			i++
		case data[i] == '"':
			inQuotes = !inQuotes
		case inQuotes:
			b.WriteByte(data[i])
		}
	}
	return b.String()
}
