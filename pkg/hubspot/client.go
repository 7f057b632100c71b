// Package hubspot provides a client for the HubSpot CRM v3/v4 APIs used by
// the call and deal sync stages.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/outbound-cli/internal/resilience"
)

const vendor = "hubspot"

// Client defines the HubSpot operations used by the sync stages.
type Client interface {
	// SearchCalls returns the calls with hs_timestamp in [q.From, q.To).
	SearchCalls(ctx context.Context, q CallQuery) ([]Call, error)
	// CallParty resolves the first associated contact of a call and its company.
	CallParty(ctx context.Context, callID string) (*Party, error)
	// SearchDeals returns every deal owned by ownerID.
	SearchDeals(ctx context.Context, ownerID string) ([]Deal, error)
	// DealCompanies maps deal ids to their first associated company id.
	DealCompanies(ctx context.Context, dealIDs []string) (map[string]string, error)
	// CompanyName reads the name property of a company.
	CompanyName(ctx context.Context, companyID string) (string, error)
}

// Option configures the HubSpot client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

// WithMaxPages caps search pagination.
func WithMaxPages(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

type httpClient struct {
	token    string
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	retry    resilience.Policy
	breaker  *resilience.Breaker
	maxPages int
}

// NewClient creates a HubSpot client authenticated with a private app token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: "https://api.hubapi.com",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:  rate.NewLimiter(8, 8),
		retry:    resilience.DefaultPolicy(vendor),
		breaker:  resilience.NewBreaker(vendor, 5, time.Minute),
		maxPages: 100,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends one JSON request with rate limiting and retries, decoding the
// response into out.
func (c *httpClient) do(ctx context.Context, op, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return eris.Wrapf(err, "hubspot: marshal %s", op)
		}
		payload = b
	}

	_, err := resilience.Do(ctx, c.retry.WithOp(op), func(ctx context.Context) (struct{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, err
		}
		var rdr io.Reader
		if payload != nil {
			rdr = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
		if err != nil {
			return struct{}{}, eris.Wrap(err, "hubspot: create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close() //nolint:errcheck

		if err := resilience.CheckResponse(vendor, resp); err != nil {
			return struct{}{}, err
		}
		if out == nil {
			return struct{}{}, nil
		}
		return struct{}{}, eris.Wrap(json.NewDecoder(resp.Body).Decode(out), "hubspot: decode response")
	})
	return eris.Wrapf(err, "hubspot: %s", op)
}

type filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type filterGroup struct {
	Filters []filter `json:"filters"`
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties"`
	Limit        int           `json:"limit"`
	After        string        `json:"after,omitempty"`
}

type object struct {
	ID         string             `json:"id"`
	Properties map[string]*string `json:"properties"`
}

func (o object) prop(name string) string {
	if v := o.Properties[name]; v != nil {
		return *v
	}
	return ""
}

type searchResponse struct {
	Results []object `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

// search pages through a CRM object search.
func (c *httpClient) search(ctx context.Context, objectType string, req searchRequest) ([]object, error) {
	req.Limit = 100
	var all []object
	for page := 0; ; page++ {
		if page >= c.maxPages {
			zap.L().Warn("hubspot: search hit page limit",
				zap.String("object", objectType), zap.Int("pages", c.maxPages), zap.Int("results", len(all)))
			return all, nil
		}
		var resp searchResponse
		if err := c.do(ctx, "search "+objectType, http.MethodPost,
			"/crm/v3/objects/"+objectType+"/search", req, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Results...)
		if resp.Paging == nil || resp.Paging.Next == nil || resp.Paging.Next.After == "" {
			return all, nil
		}
		req.After = resp.Paging.Next.After
	}
}
