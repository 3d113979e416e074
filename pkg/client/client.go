// Package client provides the Go SDK for the Avelero control plane: custom
// domain registration, DNS setup instructions, and ownership verification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors surfaced by the SDK.
var (
	// ErrNotFound is returned when the referenced domain record does not exist.
	ErrNotFound = errors.New("domain not found")
	// ErrDomainTaken is returned when another brand already registered the domain.
	ErrDomainTaken = errors.New("domain already registered by another brand")
	// ErrVerificationFailed is returned by Verify when the DNS check did not
	// pass; inspect the returned VerifyResult for the user-safe reason.
	ErrVerificationFailed = errors.New("domain verification failed")
)

// DNSRecord is one record the brand must create at its DNS provider.
type DNSRecord struct {
	Type  string `json:"type"`
	Host  string `json:"host"`
	Value string `json:"value"`
	TTL   int    `json:"ttl"`
}

// Instructions is the pair of setup records for a custom domain.
type Instructions struct {
	TXT   DNSRecord `json:"txt"`
	CNAME DNSRecord `json:"cname"`
}

// Domain is a custom-domain record as returned by the control plane.
type Domain struct {
	ID           uuid.UUID  `json:"id"`
	BrandID      uuid.UUID  `json:"brand_id"`
	Domain       string     `json:"domain"`
	Token        string     `json:"token"`
	Status       string     `json:"status"`
	LastError    string     `json:"last_error,omitempty"`
	FoundRecords []string   `json:"found_records,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
}

// StartResult holds the newly registered record and its setup instructions.
type StartResult struct {
	Domain       Domain       `json:"domain"`
	Instructions Instructions `json:"instructions"`
}

// VerifyResult is the outcome of one ownership check.
type VerifyResult struct {
	Success      bool     `json:"success"`
	Error        string   `json:"error,omitempty"`
	FoundRecords []string `json:"found_records,omitempty"`
	Domain       Domain   `json:"domain"`
}

// Client is the control-plane SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// credentials for the token exchange; empty when a token was set manually
	service  string
	adminKey string

	// token state — guarded by mu
	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time // zero = token was set manually (no auto-refresh)
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBearerToken attaches a pre-obtained service token to every request.
// The token is treated as long-lived and will not be auto-refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.bearerToken = token
		c.tokenExpiry = time.Time{}
	}
}

// WithAdminKey configures the client to exchange the admin key for service
// tokens on demand, refreshing them as they approach expiry.
func WithAdminKey(service, adminKey string) Option {
	return func(c *Client) {
		c.service = service
		c.adminKey = adminKey
	}
}

// New creates a Client connected to baseURL.
//
//	c := client.New("https://api.avelero.com",
//	    client.WithAdminKey("dashboard", adminKey),
//	)
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start registers a domain for a brand and returns the DNS records to publish.
func (c *Client) Start(ctx context.Context, brandID uuid.UUID, domain string) (*StartResult, error) {
	req := map[string]any{"brand_id": brandID, "domain": domain}
	var res StartResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/domains", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// List returns a brand's domain records, newest first.
func (c *Client) List(ctx context.Context, brandID uuid.UUID) ([]Domain, error) {
	var resp struct {
		Domains []Domain `json:"domains"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/domains?brand_id="+brandID.String(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Domains, nil
}

// Get returns the current state of a domain record.
func (c *Client) Get(ctx context.Context, id uuid.UUID) (*Domain, error) {
	var d Domain
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/domains/"+id.String(), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Instructions returns the DNS setup records for an existing registration.
func (c *Client) Instructions(ctx context.Context, id uuid.UUID) (*Instructions, error) {
	var instr Instructions
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/domains/"+id.String()+"/instructions", nil, &instr); err != nil {
		return nil, err
	}
	return &instr, nil
}

// Verify runs one live ownership check. A failed check returns both the
// result (with the user-safe reason and any TXT values found) and
// ErrVerificationFailed.
func (c *Client) Verify(ctx context.Context, id uuid.UUID) (*VerifyResult, error) {
	var res VerifyResult
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/domains/"+id.String()+"/verify", nil, &res)
	if err != nil {
		var se *statusError
		// 422 carries a well-formed result body; surface it alongside the error.
		if errors.As(err, &se) && se.code == http.StatusUnprocessableEntity && se.decoded {
			return &res, ErrVerificationFailed
		}
		return nil, err
	}
	return &res, nil
}

// statusError is a non-2xx response from the control plane.
type statusError struct {
	code    int
	body    string
	decoded bool // body was successfully decoded into the caller's respBody
}

func (e *statusError) Error() string {
	return fmt.Sprintf("control plane returned %d: %s", e.code, e.body)
}

// doJSON performs an authenticated JSON request against the control plane.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		buf, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		se := &statusError{code: resp.StatusCode, body: string(raw)}
		if respBody != nil && json.Unmarshal(raw, respBody) == nil {
			se.decoded = true
		}
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, raw)
		case http.StatusConflict:
			return fmt.Errorf("%w: %s", ErrDomainTaken, raw)
		}
		return se
	}

	if respBody != nil {
		if err := json.Unmarshal(raw, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// ensureToken returns a valid bearer token, exchanging the admin key for a
// fresh one when the cached token is absent or approaching expiry. Returns
// "" when the client has no credentials at all (anonymous mode, used against
// dev servers with auth disabled).
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		return c.bearerToken, nil
	}
	if c.adminKey == "" {
		return "", nil
	}

	buf, _ := json.Marshal(map[string]string{
		"service":   c.service,
		"admin_key": c.adminKey,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/token", bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("token endpoint error %d: %s", resp.StatusCode, raw)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	c.bearerToken = payload.Token
	// Tokens live 8 h server-side; refresh well before that.
	c.tokenExpiry = time.Now().Add(7 * time.Hour)
	return c.bearerToken, nil
}
