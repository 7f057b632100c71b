// Package model defines the outbound-sales entities shared by the store,
// sync stages, aggregation and advisory logic.
package model

import "time"

// CompanyStatus is the lifecycle stage of a prospect company.
type CompanyStatus string

const (
	StatusProspect      CompanyStatus = "prospect"
	StatusContacted     CompanyStatus = "contacted"
	StatusInterested    CompanyStatus = "interested"
	StatusMeetingBooked CompanyStatus = "meeting_booked"
	StatusOpportunity   CompanyStatus = "opportunity"
	StatusClosed        CompanyStatus = "closed"
	StatusDisqualified  CompanyStatus = "disqualified"
)

var statusRank = map[CompanyStatus]int{
	StatusProspect:      0,
	StatusContacted:     1,
	StatusInterested:    2,
	StatusMeetingBooked: 3,
	StatusOpportunity:   4,
	StatusClosed:        5,
	StatusDisqualified:  5,
}

// AllStatuses lists every lifecycle status in pipeline order.
var AllStatuses = []CompanyStatus{
	StatusProspect, StatusContacted, StatusInterested, StatusMeetingBooked,
	StatusOpportunity, StatusClosed, StatusDisqualified,
}

// Valid reports whether s is a known status.
func (s CompanyStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank orders statuses along the pipeline. Unknown statuses rank -1.
func (s CompanyStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// Terminal reports whether no further promotion is possible.
func (s CompanyStatus) Terminal() bool {
	return s == StatusClosed || s == StatusDisqualified
}

// Promotes reports whether moving from cur to s is an upgrade.
func (s CompanyStatus) Promotes(cur CompanyStatus) bool {
	if !s.Valid() || cur.Terminal() {
		return false
	}
	return s.Rank() > cur.Rank()
}

// CRMFields are free-form account fields maintained from call intelligence
// and manual CRM edits.
type CRMFields struct {
	CurrentProvider string     `json:"current_provider,omitempty"`
	Commodities     string     `json:"commodities,omitempty"`
	RenewalDate     *time.Time `json:"renewal_date,omitempty"`
	NextAction      string     `json:"next_action,omitempty"`
	NextActionDate  *time.Time `json:"next_action_date,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	ContactName     string     `json:"contact_name,omitempty"`
	ContactRole     string     `json:"contact_role,omitempty"`
}

// Company is the identity anchor every channel's activity attaches to.
type Company struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	NameKey         string        `json:"-"`
	CRMID           string        `json:"crm_id,omitempty"`
	Industry        string        `json:"industry,omitempty"`
	Status          CompanyStatus `json:"status"`
	ChannelsTouched []string      `json:"channels_touched"`
	TotalTouches    int           `json:"total_touches"`
	FirstTouchAt    *time.Time    `json:"first_touch_at,omitempty"`
	LastTouchAt     *time.Time    `json:"last_touch_at,omitempty"`
	CRM             CRMFields     `json:"crm"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Touched reports whether ch is already in the company's channel set.
func (c *Company) Touched(ch Channel) bool {
	for _, t := range c.ChannelsTouched {
		if t == string(ch) {
			return true
		}
	}
	return false
}

// Contact is a person at a company, sourced from the CRM.
type Contact struct {
	ID          int64     `json:"id"`
	CompanyID   *int64    `json:"company_id,omitempty"`
	CRMID       string    `json:"crm_id,omitempty"`
	Name        string    `json:"name"`
	Title       string    `json:"title,omitempty"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	LinkedInURL string    `json:"linkedin_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
