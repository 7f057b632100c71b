// Package intel runs the AI prompts of the sync stages: structured
// extraction from call summaries and InMail reply sentiment.
package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/pkg/anthropic"
)

const (
	extractMaxTokens  = 300
	classifyMaxTokens = 16
	maxReplyChars     = 500
	maxNextAction     = 50
)

// Service issues extraction and classification prompts and tallies usage.
type Service struct {
	client anthropic.Client
	model  string

	mu    sync.Mutex
	usage anthropic.TokenUsage
}

// New creates a Service using modelID for every prompt.
func New(client anthropic.Client, modelID string) *Service {
	return &Service{client: client, model: modelID}
}

// Usage returns the tokens consumed so far.
func (s *Service) Usage() anthropic.TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// LogUsage logs the accumulated usage and estimated cost for task.
func (s *Service) LogUsage(task string) {
	s.Usage().LogCost(s.model, task)
}

func (s *Service) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	temp := 0.0
	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       s.model,
		MaxTokens:   maxTokens,
		System:      anthropic.CachedSystem(system),
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: &temp,
	})
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.usage.Add(resp.Usage)
	s.mu.Unlock()
	return resp.Text(), nil
}

// Extractable reports whether a call reached a person and has text worth
// an extraction prompt.
func Extractable(c model.Call) bool {
	return model.IsHumanContact(c.Category) && (strings.TrimSpace(c.Summary) != "" || strings.TrimSpace(c.Notes) != "")
}

const extractSystem = `You analyze cold calls from a freight rail brokerage to potential shipping customers.
Extract structured intelligence from the call summary and notes.

Return ONLY valid JSON with these fields (null for unknown or not applicable):

{
  "interest_level": "high" | "medium" | "low" | "none",
  "next_action": "short CRM task, max 50 chars, starting with a verb",
  "referral_name": "person at the prospect company the caller was referred to, or null",
  "referral_role": "role of the referred person, or null",
  "objection": "main objection raised, or null",
  "competitor": "carrier or broker already used (CSX, UP, BNSF, NS, XPO...), or null",
  "commodities": "what they ship, or null",
  "key_quote": "most important thing the prospect said, or null",
  "qualified": true | false
}

interest_level: high wants a meeting or demo, medium is open but noncommittal,
low is reluctant, none is a hard no or the wrong person.
qualified: true if they ship by rail or could, false for wrong number, wrong person,
no rail, or clearly not a fit.`

// ExtractCall asks the model for structured intel on one call. company is
// the resolved company name, if any.
func (s *Service) ExtractCall(ctx context.Context, c model.Call, company string) (*model.CallIntel, error) {
	if company == "" {
		company = "Unknown"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Contact: %s\nCompany: %s\nCategory: %s\nDuration: %ds\n", c.ContactName, company, c.Category, c.DurationSecs)
	if sum := strings.TrimSpace(c.Summary); sum != "" {
		fmt.Fprintf(&b, "\nAI SUMMARY:\n%s\n", sum)
	}
	if n := strings.TrimSpace(c.Notes); n != "" {
		fmt.Fprintf(&b, "\nCALLER NOTES:\n%s\n", n)
	}

	raw, err := s.complete(ctx, extractSystem, b.String(), extractMaxTokens)
	if err != nil {
		return nil, eris.Wrapf(err, "intel: extract call %s", c.ExternalID)
	}
	ci, err := ParseCallIntel(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "intel: extract call %s", c.ExternalID)
	}
	ci.CallID = c.ID
	ci.CompanyID = c.CompanyID
	ci.CalledAt = c.CalledAt
	ci.ExtractedAt = time.Now().UTC()
	return ci, nil
}

type rawIntel struct {
	InterestLevel *string `json:"interest_level"`
	NextAction    *string `json:"next_action"`
	ReferralName  *string `json:"referral_name"`
	ReferralRole  *string `json:"referral_role"`
	Objection     *string `json:"objection"`
	Competitor    *string `json:"competitor"`
	Commodities   *string `json:"commodities"`
	KeyQuote      *string `json:"key_quote"`
	Qualified     *bool   `json:"qualified"`
}

// ParseCallIntel decodes a model response, tolerating a markdown code fence
// around the JSON. Unknown interest levels become none.
func ParseCallIntel(raw string) (*model.CallIntel, error) {
	raw = stripFence(raw)
	var r rawIntel
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, eris.Wrapf(err, "intel: decode response %q", truncate(raw, 120))
	}

	ci := &model.CallIntel{
		InterestLevel: model.InterestNone,
		NextAction:    truncate(str(r.NextAction), maxNextAction),
		ReferralName:  str(r.ReferralName),
		ReferralRole:  str(r.ReferralRole),
		Objection:     str(r.Objection),
		Competitor:    str(r.Competitor),
		Commodities:   str(r.Commodities),
		KeyQuote:      str(r.KeyQuote),
	}
	if l := model.InterestLevel(strings.ToLower(str(r.InterestLevel))); l.Valid() {
		ci.InterestLevel = l
	}
	if r.Qualified != nil {
		ci.Qualified = *r.Qualified
	}
	return ci, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	v := strings.TrimSpace(*p)
	if strings.EqualFold(v, "null") || strings.EqualFold(v, "n/a") {
		return ""
	}
	return v
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}

const classifySystem = `You classify replies to cold sales InMails. Classify the reply into EXACTLY one category:

- Interested: wants to learn more, asks questions, shares contact info, agrees to a meeting
- Not Interested: explicitly declines, says no, does not use the product or service ("no me interesa", "not interested", "no thanks", "we don't use rail"), or left the company
- Neutral: generic auto-reply ("thanks for reaching out"), acknowledges but no clear intent
- OOO: out of office, vacation, away message

Reply with ONLY the category name, nothing else.`

// ClassifyReply labels an InMail reply. Only the first paragraph is sent so
// quoted follow-ups do not bleed into the label.
func (s *Service) ClassifyReply(ctx context.Context, reply string) (model.Sentiment, error) {
	first := strings.TrimSpace(strings.SplitN(reply, "\n\n", 2)[0])
	if first == "" {
		return model.SentimentNeutral, nil
	}
	raw, err := s.complete(ctx, classifySystem, "Reply to classify: "+truncate(first, maxReplyChars), classifyMaxTokens)
	if err != nil {
		return model.SentimentUnset, eris.Wrap(err, "intel: classify reply")
	}
	return ParseSentiment(raw), nil
}

// ParseSentiment maps a model label to a Sentiment. "Not Interested" is
// checked before "Interested"; anything unrecognized is neutral.
func ParseSentiment(raw string) model.Sentiment {
	l := strings.ToLower(raw)
	switch {
	case strings.Contains(l, "not interested"):
		return model.SentimentNotInterested
	case strings.Contains(l, "interested"):
		return model.SentimentInterested
	case strings.Contains(l, "ooo"), strings.Contains(l, "out of office"):
		return model.SentimentOOO
	}
	return model.SentimentNeutral
}
