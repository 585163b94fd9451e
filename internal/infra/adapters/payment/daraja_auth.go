package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"mpesa-stk-mediator/internal/domain"
	"mpesa-stk-mediator/internal/domain/ports/adapter"
	"mpesa-stk-mediator/internal/infra/metrics"
)

var _ adapter.TokenProvider = (*DarajaTokenProvider)(nil)

const (
	oauthPath = "/oauth/v1/generate?grant_type=client_credentials"
	// tokens are refreshed this long before the gateway says they expire
	tokenSkew = 60 * time.Second
)

// DarajaTokenProvider exchanges consumer credentials for an access token and caches it.
type DarajaTokenProvider struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	client         *http.Client
	now            func() time.Time

	mu     sync.Mutex
	cached adapter.AccessToken
}

func NewDarajaTokenProvider(baseURL, consumerKey, consumerSecret string, client *http.Client) *DarajaTokenProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &DarajaTokenProvider{
		baseURL:        strings.TrimRight(baseURL, "/"),
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		client:         client,
		now:            time.Now,
	}
}

// Token returns the cached token while it is still fresh, otherwise fetches a new one.
// The lock is held across the fetch so concurrent callers share a single exchange.
func (p *DarajaTokenProvider) Token(ctx context.Context) (adapter.AccessToken, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached.Value != "" && p.now().Before(p.cached.ExpiresAt.Add(-tokenSkew)) {
		return p.cached, nil
	}
	tok, err := p.fetch(ctx)
	if err != nil {
		return adapter.AccessToken{}, err
	}
	p.cached = tok
	return tok, nil
}

func (p *DarajaTokenProvider) fetch(ctx context.Context) (tok adapter.AccessToken, err error) {
	defer metrics.ObserveGateway("token", time.Now(), &err)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+oauthPath, nil)
	if err != nil {
		return tok, &domain.UpstreamError{Kind: domain.ErrUpstreamAuth, Err: err}
	}
	req.SetBasicAuth(p.consumerKey, p.consumerSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return tok, &domain.UpstreamError{Kind: domain.ErrUpstreamAuth, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return tok, &domain.UpstreamError{Kind: domain.ErrUpstreamAuth, Err: fmt.Errorf("read token response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tok, &domain.UpstreamError{
			Kind:    domain.ErrUpstreamAuth,
			Message: gatewayMessage(body),
			Err:     fmt.Errorf("token http %d", resp.StatusCode),
		}
	}

	var out struct {
		AccessToken string          `json:"access_token"`
		ExpiresIn   json.RawMessage `json:"expires_in"` // "3599" on Daraja, number elsewhere
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return tok, &domain.UpstreamError{Kind: domain.ErrUpstreamAuth, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if out.AccessToken == "" {
		return tok, &domain.UpstreamError{Kind: domain.ErrUpstreamAuth, Message: gatewayMessage(body), Err: fmt.Errorf("empty access token")}
	}

	ttl := 3599 * time.Second
	if secs, err := strconv.Atoi(strings.Trim(string(out.ExpiresIn), `" `)); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	return adapter.AccessToken{Value: out.AccessToken, ExpiresAt: p.now().Add(ttl)}, nil
}
