package model

import "time"

// Channel is an outbound-sales medium.
type Channel string

const (
	ChannelCalls    Channel = "calls"
	ChannelEmail    Channel = "email"
	ChannelLinkedIn Channel = "linkedin"
)

// Channels lists every channel in snapshot order.
var Channels = []Channel{ChannelCalls, ChannelEmail, ChannelLinkedIn}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelCalls || c == ChannelEmail || c == ChannelLinkedIn
}

// Call categories as assigned by the CRM disposition or note keywords.
// The set is open; these are the values the rollups count specially.
const (
	CategoryMeetingBooked = "Meeting Booked"
	CategoryInterested    = "Interested"
	CategoryReferral      = "Referral Given"
	CategoryNotInterested = "Not Interested"
	CategoryNoRail        = "No Rail"
	CategoryWrongPerson   = "Wrong Person"
	CategoryGatekeeper    = "Gatekeeper"
	CategoryVoicemail     = "Left Voicemail"
	CategoryNoAnswer      = "No Answer"
	CategoryWrongNumber   = "Wrong Number"
)

var humanContactCategories = map[string]bool{
	CategoryInterested:    true,
	CategoryMeetingBooked: true,
	CategoryReferral:      true,
	CategoryNotInterested: true,
	CategoryNoRail:        true,
	CategoryWrongPerson:   true,
	CategoryGatekeeper:    true,
}

// IsHumanContact reports whether a call category means a person answered.
func IsHumanContact(category string) bool {
	return humanContactCategories[category]
}

// StatusForCategory maps a call outcome to the company status it implies.
// ok is false when the category carries no status signal.
func StatusForCategory(category string) (CompanyStatus, bool) {
	switch category {
	case CategoryMeetingBooked:
		return StatusMeetingBooked, true
	case CategoryInterested:
		return StatusInterested, true
	case CategoryNotInterested, CategoryNoRail, CategoryWrongPerson, CategoryReferral, CategoryGatekeeper:
		return StatusContacted, true
	}
	return "", false
}

// Call is one CRM call record.
type Call struct {
	ID            int64     `json:"id"`
	ExternalID    string    `json:"external_id"`
	CompanyID     *int64    `json:"company_id,omitempty"`
	ContactName   string    `json:"contact_name,omitempty"`
	Category      string    `json:"category"`
	DurationSecs  int       `json:"duration_s"`
	Notes         string    `json:"notes,omitempty"`
	Summary       string    `json:"summary,omitempty"`
	RecordingURL  string    `json:"recording_url,omitempty"`
	HasTranscript bool      `json:"has_transcript"`
	CalledAt      time.Time `json:"called_at"`
	WeekNum       int       `json:"week_num"`
	CreatedAt     time.Time `json:"created_at"`
}

// InterestLevel is the prospect interest inferred from a call.
type InterestLevel string

const (
	InterestHigh   InterestLevel = "high"
	InterestMedium InterestLevel = "medium"
	InterestLow    InterestLevel = "low"
	InterestNone   InterestLevel = "none"
)

// Valid reports whether l is a known interest level.
func (l InterestLevel) Valid() bool {
	switch l {
	case InterestHigh, InterestMedium, InterestLow, InterestNone:
		return true
	}
	return false
}

// CallIntel is the AI-derived annotation of a call.
type CallIntel struct {
	ID            int64         `json:"id"`
	CallID        int64         `json:"call_id"`
	CompanyID     *int64        `json:"company_id,omitempty"`
	InterestLevel InterestLevel `json:"interest_level"`
	Qualified     bool          `json:"qualified"`
	NextAction    string        `json:"next_action,omitempty"`
	Objection     string        `json:"objection,omitempty"`
	Competitor    string        `json:"competitor,omitempty"`
	Commodities   string        `json:"commodities,omitempty"`
	ReferralName  string        `json:"referral_name,omitempty"`
	ReferralRole  string        `json:"referral_role,omitempty"`
	KeyQuote      string        `json:"key_quote,omitempty"`
	ExtractedAt   time.Time     `json:"extracted_at"`

	// CalledAt is read from the parent call; it is not stored on the intel row.
	CalledAt time.Time `json:"called_at"`
}

// EmailSequence is one dated stats snapshot of an email sequence.
type EmailSequence struct {
	ID           int64     `json:"id"`
	SequenceID   string    `json:"sequence_id"`
	Name         string    `json:"name"`
	Status       string    `json:"status,omitempty"`
	Sent         int       `json:"sent"`
	Delivered    int       `json:"delivered"`
	Opened       int       `json:"opened"`
	Replied      int       `json:"replied"`
	Clicked      int       `json:"clicked"`
	OpenRate     float64   `json:"open_rate"`
	ReplyRate    float64   `json:"reply_rate"`
	ClickRate    float64   `json:"click_rate"`
	SnapshotDate time.Time `json:"snapshot_date"`
	CreatedAt    time.Time `json:"created_at"`
}

// Sentiment classifies an InMail reply. The zero value means unset.
type Sentiment string

const (
	SentimentUnset         Sentiment = ""
	SentimentInterested    Sentiment = "interested"
	SentimentNotInterested Sentiment = "not_interested"
	SentimentNeutral       Sentiment = "neutral"
	SentimentOOO           Sentiment = "ooo"
)

// Valid reports whether s is a known sentiment, including unset.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentUnset, SentimentInterested, SentimentNotInterested, SentimentNeutral, SentimentOOO:
		return true
	}
	return false
}

// InMail is one LinkedIn outreach message.
type InMail struct {
	ID           int64     `json:"id"`
	ExternalKey  string    `json:"external_key"`
	CompanyID    *int64    `json:"company_id,omitempty"`
	ContactName  string    `json:"contact_name"`
	ContactTitle string    `json:"contact_title,omitempty"`
	CompanyName  string    `json:"company_name"`
	SentDate     time.Time `json:"sent_date"`
	Replied      bool      `json:"replied"`
	Sentiment    Sentiment `json:"reply_sentiment,omitempty"`
	ReplyText    string    `json:"reply_text,omitempty"`
	WeekNum      int       `json:"week_num"`
	CreatedAt    time.Time `json:"created_at"`
}

// Deal stage labels with lifecycle meaning.
const (
	DealClosedWon  = "Closed Won"
	DealClosedLost = "Blocked / Stale"
	DealNurture    = "Nurture"
	DealBacklog    = "Backlog"
)

// Deal is a CRM pipeline deal.
type Deal struct {
	ID          int64      `json:"id"`
	ExternalID  string     `json:"external_id"`
	Name        string     `json:"name"`
	Amount      *float64   `json:"amount,omitempty"`
	Stage       string     `json:"stage"`
	StageLabel  string     `json:"stage_label"`
	CloseDate   *time.Time `json:"close_date,omitempty"`
	CompanyID   *int64     `json:"company_id,omitempty"`
	CompanyName string     `json:"company_name,omitempty"`
	Pipeline    string     `json:"pipeline,omitempty"`
	OwnerID     string     `json:"owner_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StatusForDealStage maps a deal stage label to the company status it implies.
func StatusForDealStage(label string) (CompanyStatus, bool) {
	switch label {
	case DealClosedWon:
		return StatusClosed, true
	case DealClosedLost, DealNurture, DealBacklog, "":
		return "", false
	}
	return StatusOpportunity, true
}
