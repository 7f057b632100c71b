package hubspot

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"

	"github.com/sells-group/outbound-cli/internal/resilience"
)

// CallQuery selects calls by owner and timestamp window.
type CallQuery struct {
	OwnerID string
	From    time.Time
	To      time.Time
}

// Call is one engagement of type call.
type Call struct {
	ID            string
	Timestamp     time.Time
	DurationMS    int
	Disposition   string
	Title         string
	Body          string
	Summary       string
	RecordingURL  string
	HasTranscript bool
	OwnerID       string
}

// Party is the contact and company associated with a call.
type Party struct {
	ContactID   string
	ContactName string
	CompanyID   string
	CompanyName string
}

var callProperties = []string{
	"hs_timestamp", "hs_call_duration", "hs_call_disposition", "hs_call_direction",
	"hubspot_owner_id", "hs_call_title", "hs_call_body", "hs_body_preview",
	"hs_call_summary", "hs_call_recording_url", "hs_call_has_transcript",
}

func (c *httpClient) SearchCalls(ctx context.Context, q CallQuery) ([]Call, error) {
	filters := []filter{
		{PropertyName: "hs_timestamp", Operator: "GTE", Value: strconv.FormatInt(q.From.UnixMilli(), 10)},
		{PropertyName: "hs_timestamp", Operator: "LT", Value: strconv.FormatInt(q.To.UnixMilli(), 10)},
	}
	if q.OwnerID != "" {
		filters = append(filters, filter{PropertyName: "hubspot_owner_id", Operator: "EQ", Value: q.OwnerID})
	}

	objs, err := c.search(ctx, "calls", searchRequest{
		FilterGroups: []filterGroup{{Filters: filters}},
		Properties:   callProperties,
	})
	if err != nil {
		return nil, err
	}

	calls := make([]Call, 0, len(objs))
	for _, o := range objs {
		call, ok := parseCall(o)
		if !ok {
			continue
		}
		// The search index can lag; enforce the window client-side.
		if call.Timestamp.Before(q.From) || !call.Timestamp.Before(q.To) {
			continue
		}
		calls = append(calls, call)
	}
	return calls, nil
}

func parseCall(o object) (Call, bool) {
	ts, err := time.Parse(time.RFC3339, o.prop("hs_timestamp"))
	if err != nil || o.ID == "" {
		return Call{}, false
	}
	dur, _ := strconv.ParseFloat(o.prop("hs_call_duration"), 64)
	summary := o.prop("hs_call_summary")
	if summary == "" {
		summary = o.prop("hs_body_preview")
	}
	return Call{
		ID:            o.ID,
		Timestamp:     ts.UTC(),
		DurationMS:    int(dur),
		Disposition:   o.prop("hs_call_disposition"),
		Title:         o.prop("hs_call_title"),
		Body:          StripHTML(o.prop("hs_call_body")),
		Summary:       StripHTML(summary),
		RecordingURL:  o.prop("hs_call_recording_url"),
		HasTranscript: o.prop("hs_call_has_transcript") == "true",
		OwnerID:       o.prop("hubspot_owner_id"),
	}, true
}

// StripHTML returns the text content of an HTML fragment with whitespace
// runs collapsed.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.TextToken:
			sb.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			sb.WriteByte(' ')
		}
	}
}

type associationList struct {
	Results []struct {
		ID string `json:"id"`
	} `json:"results"`
}

// CallParty walks call → contact → company. A call with no associated
// contact yields an empty Party. Lookups go through a breaker so a failing
// association API does not stall a whole sync.
func (c *httpClient) CallParty(ctx context.Context, callID string) (*Party, error) {
	return resilience.Call(ctx, c.breaker, func(ctx context.Context) (*Party, error) {
		var contacts associationList
		if err := c.do(ctx, "call contacts", http.MethodGet,
			"/crm/v3/objects/calls/"+callID+"/associations/contacts", nil, &contacts); err != nil {
			return nil, err
		}
		p := &Party{}
		if len(contacts.Results) == 0 {
			return p, nil
		}
		p.ContactID = contacts.Results[0].ID

		var contact object
		if err := c.do(ctx, "get contact", http.MethodGet,
			"/crm/v3/objects/contacts/"+p.ContactID+"?properties=firstname,lastname,company", nil, &contact); err != nil {
			return nil, err
		}
		p.ContactName = strings.TrimSpace(contact.prop("firstname") + " " + contact.prop("lastname"))
		p.CompanyName = contact.prop("company")

		var companies associationList
		if err := c.do(ctx, "contact companies", http.MethodGet,
			"/crm/v3/objects/contacts/"+p.ContactID+"/associations/companies", nil, &companies); err != nil {
			return nil, err
		}
		if len(companies.Results) > 0 {
			p.CompanyID = companies.Results[0].ID
			name, err := c.CompanyName(ctx, p.CompanyID)
			if err != nil {
				return nil, err
			}
			if name != "" {
				p.CompanyName = name
			}
		}
		return p, nil
	})
}

func (c *httpClient) CompanyName(ctx context.Context, companyID string) (string, error) {
	if companyID == "" {
		return "", eris.New("hubspot: company id required")
	}
	var company object
	if err := c.do(ctx, "get company", http.MethodGet,
		"/crm/v3/objects/companies/"+companyID+"?properties=name", nil, &company); err != nil {
		return "", err
	}
	return company.prop("name"), nil
}
