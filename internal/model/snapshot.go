package model

import (
	"math"
	"time"
)

// Rate returns num/den as a fraction in [0,1]. A zero or negative
// denominator yields 0.
func Rate(num, den int) float64 {
	if den <= 0 || num <= 0 {
		return 0
	}
	r := float64(num) / float64(den)
	if math.IsNaN(r) || r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// CallMetrics is the calls-channel metric set.
type CallMetrics struct {
	Dials            int            `json:"dials"`
	HumanContacts    int            `json:"human_contacts"`
	HumanContactRate float64        `json:"human_contact_rate"`
	MeetingsBooked   int            `json:"meetings_booked"`
	Categories       map[string]int `json:"categories"`
}

// EmailMetrics is the email-channel metric set.
type EmailMetrics struct {
	Sent      int     `json:"emails_sent"`
	Opened    int     `json:"emails_opened"`
	OpenRate  float64 `json:"email_open_rate"`
	Replied   int     `json:"emails_replied"`
	ReplyRate float64 `json:"email_reply_rate"`
}

// LinkedInMetrics is the LinkedIn-channel metric set.
type LinkedInMetrics struct {
	Sent       int     `json:"inmails_sent"`
	Replied    int     `json:"inmails_replied"`
	ReplyRate  float64 `json:"inmail_reply_rate"`
	Interested int     `json:"interested_count"`
}

// WeeklySnapshot holds one channel's rollup for one campaign week. Only
// the metric block matching Channel is set.
type WeeklySnapshot struct {
	ID        int64            `json:"id"`
	WeekNum   int              `json:"week_num"`
	Monday    time.Time        `json:"monday"`
	Channel   Channel          `json:"channel"`
	Calls     *CallMetrics     `json:"calls,omitempty"`
	Email     *EmailMetrics    `json:"email,omitempty"`
	LinkedIn  *LinkedInMetrics `json:"linkedin,omitempty"`
	CreatedAt time.Time        `json:"-"`
	UpdatedAt time.Time        `json:"-"`
}
