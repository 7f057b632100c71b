// Package apollo provides a client for Apollo.io email sequence statistics.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/outbound-cli/internal/resilience"
)

const vendor = "apollo"

// Client defines the Apollo operations used by the email sync stage.
type Client interface {
	// Sequences returns campaign-level stats for every sequence.
	Sequences(ctx context.Context) ([]Sequence, error)
}

// Sequence holds the cumulative counters of one emailer campaign.
type Sequence struct {
	ID        string
	Name      string
	Active    bool
	Sent      int
	Delivered int
	Bounced   int
	Opened    int
	Replied   int
	Clicked   int
}

// Option configures the Apollo client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.Policy
}

// NewClient creates an Apollo client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.apollo.io",
		http:    &http.Client{Timeout: 30 * time.Second},
		// Apollo allows roughly 50 requests per minute on this endpoint.
		limiter: rate.NewLimiter(rate.Every(1200*time.Millisecond), 1),
		retry:   resilience.DefaultPolicy(vendor),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// count decodes Apollo counters, which are sometimes strings such as
// "loading" while stats are being computed. Anything unparseable is 0.
type count int

func (n *count) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = count(v)
	return nil
}

type campaign struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	Active                 bool   `json:"active"`
	UniqueDelivered        count  `json:"unique_delivered"`
	UniqueBounced          count  `json:"unique_bounced"`
	UniqueOpenedUnfiltered count  `json:"unique_opened_unfiltered"`
	UniqueReplied          count  `json:"unique_replied"`
	UniqueClicked          count  `json:"unique_clicked"`
}

type searchResponse struct {
	Campaigns  []campaign `json:"emailer_campaigns"`
	Pagination struct {
		Page       int `json:"page"`
		TotalPages int `json:"total_pages"`
	} `json:"pagination"`
}

func (c *httpClient) Sequences(ctx context.Context) ([]Sequence, error) {
	var out []Sequence
	for page := 1; ; page++ {
		resp, err := c.searchPage(ctx, page)
		if err != nil {
			return nil, eris.Wrapf(err, "apollo: search sequences page %d", page)
		}
		for _, cp := range resp.Campaigns {
			name := cp.Name
			if name == "" {
				name = "Unknown"
			}
			out = append(out, Sequence{
				ID:        cp.ID,
				Name:      name,
				Active:    cp.Active,
				Sent:      int(cp.UniqueDelivered + cp.UniqueBounced),
				Delivered: int(cp.UniqueDelivered),
				Bounced:   int(cp.UniqueBounced),
				Opened:    int(cp.UniqueOpenedUnfiltered),
				Replied:   int(cp.UniqueReplied),
				Clicked:   int(cp.UniqueClicked),
			})
		}
		if len(resp.Campaigns) == 0 || page >= resp.Pagination.TotalPages {
			return out, nil
		}
	}
}

func (c *httpClient) searchPage(ctx context.Context, page int) (*searchResponse, error) {
	payload, err := json.Marshal(map[string]int{"page": page, "per_page": 100})
	if err != nil {
		return nil, err
	}
	return resilience.Do(ctx, c.retry.WithOp("search sequences"), func(ctx context.Context) (*searchResponse, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/api/v1/emailer_campaigns/search", bytes.NewReader(payload))
		if err != nil {
			return nil, eris.Wrap(err, "apollo: create request")
		}
		req.Header.Set("X-Api-Key", c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Cache-Control", "no-cache")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck

		if err := resilience.CheckResponse(vendor, resp); err != nil {
			return nil, err
		}
		var out searchResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, eris.Wrap(err, "apollo: decode response")
		}
		return &out, nil
	})
}
