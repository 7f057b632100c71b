package hubspot

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// Deal is one CRM deal.
type Deal struct {
	ID        string
	Name      string
	Amount    *float64
	Stage     string
	CloseDate *time.Time
	Pipeline  string
	OwnerID   string
}

var dealProperties = []string{
	"dealname", "amount", "dealstage", "closedate", "pipeline",
	"hubspot_owner_id", "createdate", "hs_lastmodifieddate",
}

func (c *httpClient) SearchDeals(ctx context.Context, ownerID string) ([]Deal, error) {
	req := searchRequest{Properties: dealProperties}
	if ownerID != "" {
		req.FilterGroups = []filterGroup{{Filters: []filter{
			{PropertyName: "hubspot_owner_id", Operator: "EQ", Value: ownerID},
		}}}
	}
	objs, err := c.search(ctx, "deals", req)
	if err != nil {
		return nil, err
	}

	deals := make([]Deal, 0, len(objs))
	for _, o := range objs {
		d := Deal{
			ID:       o.ID,
			Name:     o.prop("dealname"),
			Stage:    o.prop("dealstage"),
			Pipeline: o.prop("pipeline"),
			OwnerID:  o.prop("hubspot_owner_id"),
		}
		if v, err := strconv.ParseFloat(o.prop("amount"), 64); err == nil {
			d.Amount = &v
		}
		if t, err := time.Parse(time.RFC3339, o.prop("closedate")); err == nil {
			t = t.UTC()
			d.CloseDate = &t
		}
		deals = append(deals, d)
	}
	return deals, nil
}

type batchInput struct {
	ID string `json:"id"`
}

type batchAssociations struct {
	Results []struct {
		From struct {
			ID string `json:"id"`
		} `json:"from"`
		To []struct {
			ToObjectID int64 `json:"toObjectId"`
		} `json:"to"`
	} `json:"results"`
}

// DealCompanies batch-reads deal→company associations in chunks of 100.
func (c *httpClient) DealCompanies(ctx context.Context, dealIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(dealIDs))
	for i := 0; i < len(dealIDs); i += 100 {
		chunk := dealIDs[i:min(i+100, len(dealIDs))]
		inputs := make([]batchInput, len(chunk))
		for j, id := range chunk {
			inputs[j] = batchInput{ID: id}
		}
		var resp batchAssociations
		if err := c.do(ctx, "deal companies", http.MethodPost,
			"/crm/v4/associations/deals/companies/batch/read",
			map[string]any{"inputs": inputs}, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			if len(r.To) > 0 {
				out[r.From.ID] = strconv.FormatInt(r.To[0].ToObjectID, 10)
			}
		}
	}
	return out, nil
}
