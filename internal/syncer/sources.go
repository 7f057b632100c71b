package syncer

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outbound-cli/internal/company"
	"github.com/sells-group/outbound-cli/internal/linkedin"
	"github.com/sells-group/outbound-cli/pkg/apollo"
	"github.com/sells-group/outbound-cli/pkg/hubspot"
)

const defaultConcurrency = 4

func limit(n int) int {
	if n <= 0 {
		return defaultConcurrency
	}
	return n
}

// HubSpotCalls reads calls and their contact/company parties from HubSpot.
type HubSpotCalls struct {
	Client      hubspot.Client
	OwnerID     string
	Concurrency int
}

// Calls implements CallSource. Party lookups run concurrently; a failed
// lookup leaves the call without a company rather than failing the batch.
func (h *HubSpotCalls) Calls(ctx context.Context, from, to time.Time) ([]CallRecord, error) {
	calls, err := h.Client.SearchCalls(ctx, hubspot.CallQuery{OwnerID: h.OwnerID, From: from, To: to})
	if err != nil {
		return nil, err
	}

	parties := make([]*hubspot.Party, len(calls))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit(h.Concurrency))
	for i, c := range calls {
		g.Go(func() error {
			p, err := h.Client.CallParty(gCtx, c.ID)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				zap.L().Warn("hubspot: call party lookup failed", zap.String("call_id", c.ID), zap.Error(err))
				return nil
			}
			parties[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "hubspot: call parties")
	}

	out := make([]CallRecord, len(calls))
	for i, c := range calls {
		r := CallRecord{
			ExternalID:    c.ID,
			CalledAt:      c.Timestamp,
			DurationSecs:  c.DurationMS / 1000,
			Disposition:   c.Disposition,
			Notes:         c.Body,
			Summary:       c.Summary,
			RecordingURL:  c.RecordingURL,
			HasTranscript: c.HasTranscript,
		}
		if p := parties[i]; p != nil {
			r.ContactName = p.ContactName
			r.ContactCRMID = p.ContactID
			r.Company = company.Ref{CRMID: p.CompanyID, Name: p.CompanyName}
		}
		out[i] = r
	}
	return out, nil
}

// HubSpotDeals reads deals and their associated company names.
type HubSpotDeals struct {
	Client      hubspot.Client
	OwnerID     string
	Concurrency int
}

// Deals implements DealSource.
func (h *HubSpotDeals) Deals(ctx context.Context) ([]DealRecord, error) {
	deals, err := h.Client.SearchDeals(ctx, h.OwnerID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(deals))
	for i, d := range deals {
		ids[i] = d.ID
	}
	assoc, err := h.Client.DealCompanies(ctx, ids)
	if err != nil {
		return nil, err
	}

	var companyIDs []string
	seen := make(map[string]bool)
	for _, cid := range assoc {
		if !seen[cid] {
			seen[cid] = true
			companyIDs = append(companyIDs, cid)
		}
	}
	names := make([]string, len(companyIDs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit(h.Concurrency))
	for i, cid := range companyIDs {
		g.Go(func() error {
			n, err := h.Client.CompanyName(gCtx, cid)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				zap.L().Warn("hubspot: company name lookup failed", zap.String("company_id", cid), zap.Error(err))
				return nil
			}
			names[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "hubspot: deal companies")
	}
	byID := make(map[string]string, len(companyIDs))
	for i, cid := range companyIDs {
		byID[cid] = names[i]
	}

	out := make([]DealRecord, len(deals))
	for i, d := range deals {
		cid := assoc[d.ID]
		out[i] = DealRecord{
			ExternalID: d.ID,
			Name:       d.Name,
			Amount:     d.Amount,
			Stage:      d.Stage,
			CloseDate:  d.CloseDate,
			Pipeline:   d.Pipeline,
			OwnerID:    d.OwnerID,
			Company:    company.Ref{CRMID: cid, Name: byID[cid]},
		}
	}
	return out, nil
}

// ApolloSequences reads sequence stats from Apollo.
type ApolloSequences struct {
	Client apollo.Client
}

// Sequences implements EmailSource.
func (a *ApolloSequences) Sequences(ctx context.Context) ([]SequenceRecord, error) {
	seqs, err := a.Client.Sequences(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SequenceRecord, len(seqs))
	for i, q := range seqs {
		out[i] = SequenceRecord{
			ID:        q.ID,
			Name:      q.Name,
			Active:    q.Active,
			Sent:      q.Sent,
			Delivered: q.Delivered,
			Opened:    q.Opened,
			Replied:   q.Replied,
			Clicked:   q.Clicked,
		}
	}
	return out, nil
}

// LinkedInExport reads InMails from the scraper's export file.
type LinkedInExport struct {
	Export *linkedin.Export
}

// InMails implements InMailSource.
func (l *LinkedInExport) InMails(ctx context.Context) ([]InMailRecord, []string, error) {
	msgs, warnings, err := l.Export.Messages(ctx)
	if err != nil {
		return nil, nil, err
	}
	out := make([]InMailRecord, len(msgs))
	for i, m := range msgs {
		out[i] = InMailRecord{
			ContactName:  m.Recipient,
			ContactTitle: m.Title,
			CompanyName:  m.Company,
			SentDate:     m.SentDate,
			Replied:      m.Replied,
			ReplyText:    m.ReplyText,
		}
	}
	return out, warnings, nil
}
