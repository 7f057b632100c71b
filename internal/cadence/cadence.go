// Package cadence builds the daily call list: the contacts worth dialing
// today, and the companies and contacts nobody should dial.
package cadence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outbound-cli/internal/company"
	"github.com/sells-group/outbound-cli/internal/config"
	"github.com/sells-group/outbound-cli/internal/model"
)

// State is where a contact stands in the dial cadence.
type State string

const (
	StateActive  State = "active"
	StateCooling State = "cooling"
	StateRetired State = "retired"
	StateBlocked State = "blocked"
)

// Priority orders the callable contacts; lower values are dialed first.
type Priority int

const (
	PriorityHigh Priority = iota + 1
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return ""
}

// MarshalText renders the priority by name.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a priority name.
func (p *Priority) UnmarshalText(b []byte) error {
	for _, v := range []Priority{PriorityHigh, PriorityMedium, PriorityLow} {
		if v.String() == string(b) {
			*p = v
			return nil
		}
	}
	return eris.Errorf("cadence: unknown priority %q", b)
}

// terminal call outcomes retire a contact for good.
var terminal = map[string]string{
	model.CategoryMeetingBooked: "in pipeline",
	model.CategoryNotInterested: "not interested",
	model.CategoryNoRail:        "no rail",
	model.CategoryWrongPerson:   "wrong person",
	model.CategoryWrongNumber:   "wrong number",
}

// Contact is the dial history of one person at one company.
type Contact struct {
	CompanyID    int64     `json:"company_id"`
	Company      string    `json:"company"`
	Name         string    `json:"contact"`
	Attempts     int       `json:"attempts"`
	Voicemails   int       `json:"voicemails"`
	NoAnswers    int       `json:"no_answers"`
	Answered     bool      `json:"answered"`
	LastCategory string    `json:"last_category"`
	LastCalledAt time.Time `json:"last_called_at"`
	State        State     `json:"state"`
	Reason       string    `json:"reason,omitempty"`
	Priority     Priority  `json:"priority,omitempty"`
	EligibleOn   string    `json:"eligible_on,omitempty"`

	terminal string
}

// BlockedCompany is a company nobody may dial.
type BlockedCompany struct {
	CompanyID int64  `json:"company_id"`
	Name      string `json:"name"`
	Reason    string `json:"reason"`
}

// Sheet is one day's call list.
type Sheet struct {
	Date      string           `json:"date"`
	Call      []Contact        `json:"call"`
	Deferred  int              `json:"deferred"` // callable but over the daily caps
	Cooling   []Contact        `json:"cooling"`
	DoNotCall []Contact        `json:"do_not_call"`
	Blocked   []BlockedCompany `json:"blocked_companies"`
}

// Rules returns cfg with zero limits replaced by the defaults.
func Rules(cfg config.CadenceConfig) config.CadenceConfig {
	if cfg.CooldownDays <= 0 {
		cfg.CooldownDays = 5
	}
	if cfg.MaxVoicemails <= 0 {
		cfg.MaxVoicemails = 3
	}
	if cfg.MaxNoAnswers <= 0 {
		cfg.MaxNoAnswers = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.MaxContacts <= 0 {
		cfg.MaxContacts = 5
	}
	if cfg.DailyTarget <= 0 {
		cfg.DailyTarget = 50
	}
	if cfg.PerCompanyPerDay <= 0 {
		cfg.PerCompanyPerDay = 3
	}
	return cfg
}

type contactKey struct {
	companyID int64
	name      string
}

// Plan builds the sheet for the day containing now. calls must be ordered
// oldest first; calls without a known company are ignored.
func Plan(cfg config.CadenceConfig, cal *model.Calendar, companies []model.Company, calls []model.Call, now time.Time) Sheet {
	cfg = Rules(cfg)
	today := cal.Date(now)
	sheet := Sheet{Date: today.Format(time.DateOnly)}

	byID := make(map[int64]model.Company, len(companies))
	for _, c := range companies {
		byID[c.ID] = c
	}

	contacts := history(calls, byID)
	retired := make(map[int64]int)
	for _, c := range contacts {
		classify(cfg, cal, c, today)
		if c.State == StateRetired {
			retired[c.CompanyID]++
		}
	}

	dnc := make(map[string]bool, len(cfg.DoNotCall))
	for _, name := range cfg.DoNotCall {
		if k := company.NormalizeName(name); k != "" {
			dnc[k] = true
		}
	}
	blocked := make(map[int64]string)
	for _, c := range companies {
		reason := companyBlock(c, dnc, retired[c.ID], cfg.MaxContacts)
		if reason == "" {
			continue
		}
		blocked[c.ID] = reason
		sheet.Blocked = append(sheet.Blocked, BlockedCompany{CompanyID: c.ID, Name: c.Name, Reason: reason})
	}
	sort.Slice(sheet.Blocked, func(i, j int) bool { return sheet.Blocked[i].CompanyID < sheet.Blocked[j].CompanyID })

	var active []Contact
	for _, c := range contacts {
		if reason, ok := blocked[c.CompanyID]; ok && c.State != StateRetired {
			c.State = StateBlocked
			c.Reason = "company " + reason
			c.Priority = 0
			c.EligibleOn = ""
		}
		switch c.State {
		case StateActive:
			active = append(active, *c)
		case StateCooling:
			sheet.Cooling = append(sheet.Cooling, *c)
		default:
			sheet.DoNotCall = append(sheet.DoNotCall, *c)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.LastCalledAt.Equal(b.LastCalledAt) {
			return a.LastCalledAt.Before(b.LastCalledAt)
		}
		return byContact(a, b)
	})
	perCompany := make(map[int64]int)
	for _, c := range active {
		if len(sheet.Call) >= cfg.DailyTarget || perCompany[c.CompanyID] >= cfg.PerCompanyPerDay {
			sheet.Deferred++
			continue
		}
		perCompany[c.CompanyID]++
		sheet.Call = append(sheet.Call, c)
	}

	sort.Slice(sheet.Cooling, func(i, j int) bool {
		a, b := sheet.Cooling[i], sheet.Cooling[j]
		if a.EligibleOn != b.EligibleOn {
			return a.EligibleOn < b.EligibleOn
		}
		return byContact(a, b)
	})
	sort.Slice(sheet.DoNotCall, func(i, j int) bool { return byContact(sheet.DoNotCall[i], sheet.DoNotCall[j]) })
	return sheet
}

func history(calls []model.Call, companies map[int64]model.Company) []*Contact {
	index := make(map[contactKey]*Contact)
	var out []*Contact
	for _, call := range calls {
		if call.CompanyID == nil {
			continue
		}
		co, ok := companies[*call.CompanyID]
		if !ok {
			continue
		}
		name := strings.TrimSpace(call.ContactName)
		key := contactKey{companyID: co.ID, name: strings.ToLower(name)}
		c := index[key]
		if c == nil {
			c = &Contact{CompanyID: co.ID, Company: co.Name, Name: name}
			index[key] = c
			out = append(out, c)
		}

		c.Attempts++
		switch call.Category {
		case model.CategoryVoicemail:
			c.Voicemails++
		case model.CategoryNoAnswer:
			c.NoAnswers++
		}
		if model.IsHumanContact(call.Category) {
			c.Answered = true
		}
		if _, ok := terminal[call.Category]; ok {
			c.terminal = call.Category
		}
		if !call.CalledAt.Before(c.LastCalledAt) {
			c.LastCalledAt = call.CalledAt
			c.LastCategory = call.Category
		}
	}
	return out
}

func classify(cfg config.CadenceConfig, cal *model.Calendar, c *Contact, today time.Time) {
	c.State = StateRetired
	switch {
	case c.terminal != "":
		c.Reason = terminal[c.terminal]
	case !c.Answered && c.Voicemails >= cfg.MaxVoicemails:
		c.Reason = fmt.Sprintf("%d voicemails, never answered", c.Voicemails)
	case c.NoAnswers >= cfg.MaxNoAnswers:
		c.Reason = fmt.Sprintf("%d no-answers", c.NoAnswers)
	case !c.Answered && c.Attempts >= cfg.MaxAttempts:
		c.Reason = fmt.Sprintf("%d attempts, never answered", c.Attempts)
	default:
		last := cal.Date(c.LastCalledAt)
		eligible := AddBusinessDays(last, cfg.CooldownDays)
		if today.Before(eligible) {
			c.State = StateCooling
			c.Reason = "called " + last.Format(time.DateOnly)
			c.EligibleOn = eligible.Format(time.DateOnly)
			return
		}
		c.State = StateActive
		c.Reason = ""
		c.Priority = priority(c.LastCategory)
	}
}

func priority(category string) Priority {
	switch category {
	case model.CategoryInterested, model.CategoryReferral:
		return PriorityHigh
	case model.CategoryVoicemail, model.CategoryNoAnswer:
		return PriorityMedium
	}
	return PriorityLow
}

// companyBlock returns why a company may not be dialed, or "".
func companyBlock(c model.Company, dnc map[string]bool, retired, maxContacts int) string {
	switch c.Status {
	case model.StatusDisqualified:
		return "disqualified"
	case model.StatusClosed:
		return "customer"
	case model.StatusMeetingBooked, model.StatusOpportunity:
		return "in pipeline"
	}
	key := c.NameKey
	if key == "" {
		key = company.NormalizeName(c.Name)
	}
	if dnc[key] {
		return "do-not-call list"
	}
	if retired >= maxContacts {
		return "exhausted"
	}
	return ""
}

func byContact(a, b Contact) bool {
	if a.Company != b.Company {
		return a.Company < b.Company
	}
	return a.Name < b.Name
}

// AddBusinessDays moves d forward n weekdays, skipping Saturdays and Sundays.
func AddBusinessDays(d time.Time, n int) time.Time {
	for n > 0 {
		d = d.AddDate(0, 0, 1)
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n--
		}
	}
	return d
}
