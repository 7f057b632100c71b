package advisor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/outbound-cli/internal/model"
)

// finding is an insight candidate, optionally carrying the experiment it
// proposes.
type finding struct {
	insight    model.Insight
	experiment *model.Experiment
}

type rule struct {
	name string
	eval func(a *Advisor, c *Context) []finding
}

// rules run in this order; ties in the final ordering keep it.
var rules = []rule{
	{"stale_meeting", staleMeetings},
	{"unacted_referral", unactedReferrals},
	{"high_interest_not_booked", highInterestNotBooked},
	{"interested_inmail", interestedInMails},
	{"contact_rate_drop", contactRateDrop},
	{"meetings_win", meetingsWin},
	{"low_email_reply", lowEmailReply},
	{"objection_streak", objectionStreaks},
	{"objection_trend", objectionTrend},
}

func ptr(v int64) *int64 { return &v }

// staleMeetings flags booked meetings with no touch for StaleMeetingDays.
func staleMeetings(a *Advisor, c *Context) []finding {
	var out []finding
	cutoff := c.Now.AddDate(0, 0, -a.cfg.StaleMeetingDays)
	for _, id := range c.sortedCompanyIDs {
		co := c.Companies[id]
		if co.Status != model.StatusMeetingBooked || co.LastTouchAt == nil || co.LastTouchAt.After(cutoff) {
			continue
		}
		days := int(c.Now.Sub(*co.LastTouchAt).Hours() / 24)
		out = append(out, finding{insight: model.Insight{
			Type:     model.InsightActionRequired,
			Severity: model.SeverityHigh,
			Title:    fmt.Sprintf("Follow up with %s before the meeting goes cold", co.Name),
			Body: fmt.Sprintf("%s booked a meeting but has not been touched in %d days (last touch %s). "+
				"Confirm the meeting time and send the agenda today.",
				co.Name, days, co.LastTouchAt.In(a.cal.Location()).Format("Jan 2")),
			CompanyID: ptr(co.ID),
		}})
	}
	return out
}

// unactedReferrals flags recent referrals with no later call to the company.
func unactedReferrals(a *Advisor, c *Context) []finding {
	var out []finding
	for _, in := range c.Intel {
		if in.ReferralName == "" || !c.recent(a.cal.WeekNum(in.CalledAt)) {
			continue
		}
		if in.CompanyID != nil && c.calledSince(*in.CompanyID, in.CalledAt) {
			continue
		}
		call := c.callsByID[in.CallID]
		name := c.companyName(in.CompanyID, "")
		who := in.ReferralName
		if in.ReferralRole != "" {
			who += " (" + in.ReferralRole + ")"
		}
		body := fmt.Sprintf("%s at %s referred us to %s on %s and nobody has called since.",
			orUnknown(call.ContactName), name, who, in.CalledAt.In(a.cal.Location()).Format("Jan 2"))
		if in.NextAction != "" {
			body += " Suggested: " + in.NextAction + "."
		}
		out = append(out, finding{insight: model.Insight{
			Type:      model.InsightActionRequired,
			Severity:  model.SeverityHigh,
			Title:     fmt.Sprintf("Reach %s at %s", in.ReferralName, name),
			Body:      body,
			Channel:   string(model.ChannelCalls),
			CompanyID: in.CompanyID,
			CallID:    ptr(in.CallID),
		}})
	}
	return out
}

// highInterestNotBooked flags recent high-interest calls whose company has
// not reached a meeting.
func highInterestNotBooked(a *Advisor, c *Context) []finding {
	var out []finding
	seen := make(map[int64]bool)
	for i := len(c.Intel) - 1; i >= 0; i-- {
		in := c.Intel[i]
		if in.InterestLevel != model.InterestHigh || in.CompanyID == nil || seen[*in.CompanyID] {
			continue
		}
		if !c.recent(a.cal.WeekNum(in.CalledAt)) {
			continue
		}
		co, ok := c.Companies[*in.CompanyID]
		if !ok || co.Status.Rank() >= model.StatusMeetingBooked.Rank() {
			continue
		}
		seen[co.ID] = true
		call := c.callsByID[in.CallID]
		body := fmt.Sprintf("%s at %s showed high interest on %s but no meeting is booked.",
			orUnknown(call.ContactName), co.Name, in.CalledAt.In(a.cal.Location()).Format("Jan 2"))
		if in.KeyQuote != "" {
			body += fmt.Sprintf(" They said: %q.", in.KeyQuote)
		}
		if in.NextAction != "" {
			body += " Next: " + in.NextAction + "."
		}
		out = append(out, finding{insight: model.Insight{
			Type:      model.InsightActionRequired,
			Severity:  model.SeverityMedium,
			Title:     fmt.Sprintf("Book a meeting with %s", co.Name),
			Body:      body,
			Channel:   string(model.ChannelCalls),
			CompanyID: ptr(co.ID),
			CallID:    ptr(in.CallID),
		}})
	}
	return out
}

// interestedInMails flags interested replies not followed by a call.
func interestedInMails(a *Advisor, c *Context) []finding {
	var out []finding
	for _, im := range c.InMails {
		if im.Sentiment != model.SentimentInterested || !c.recent(im.WeekNum) {
			continue
		}
		if im.CompanyID != nil && c.calledSince(*im.CompanyID, im.SentDate) {
			continue
		}
		name := c.companyName(im.CompanyID, im.CompanyName)
		body := fmt.Sprintf("%s replied with interest to the InMail sent %s and has not been called yet.",
			im.ContactName, im.SentDate.Format("Jan 2"))
		if im.ReplyText != "" {
			body += fmt.Sprintf(" Reply: %q.", truncate(im.ReplyText, 200))
		}
		out = append(out, finding{insight: model.Insight{
			Type:      model.InsightActionRequired,
			Severity:  model.SeverityMedium,
			Title:     fmt.Sprintf("Call %s at %s", im.ContactName, name),
			Body:      body,
			Channel:   string(model.ChannelLinkedIn),
			CompanyID: im.CompanyID,
		}})
	}
	return out
}

// minDialsForTrend keeps thin weeks out of rate comparisons.
const minDialsForTrend = 20

// contactRateDrop compares the human-contact rate of the last two weeks.
func contactRateDrop(a *Advisor, c *Context) []finding {
	if len(c.CallWeeks) < 2 {
		return nil
	}
	prev, cur := c.CallWeeks[len(c.CallWeeks)-2], c.CallWeeks[len(c.CallWeeks)-1]
	if prev.Calls == nil || cur.Calls == nil || prev.Calls.Dials < minDialsForTrend || cur.Calls.Dials < minDialsForTrend {
		return nil
	}
	p, n := prev.Calls.HumanContactRate, cur.Calls.HumanContactRate
	if p <= 0 {
		return nil
	}
	drop := (p - n) / p
	if drop < a.cfg.ContactRateDrop {
		return nil
	}
	sev := model.SeverityMedium
	if drop >= 2*a.cfg.ContactRateDrop {
		sev = model.SeverityHigh
	}
	return []finding{{insight: model.Insight{
		Type:     model.InsightAlert,
		Severity: sev,
		Title:    fmt.Sprintf("Contact rate down to %.1f%% in week %d", n*100, cur.WeekNum),
		Body: fmt.Sprintf("Human contact rate went from %.1f%% (week %d, %d dials) to %.1f%% (week %d, %d dials). "+
			"Check list quality and call times.",
			p*100, prev.WeekNum, prev.Calls.Dials, n*100, cur.WeekNum, cur.Calls.Dials),
		Channel: string(model.ChannelCalls),
	}}}
}

// meetingsWin celebrates meetings booked this week.
func meetingsWin(a *Advisor, c *Context) []finding {
	var names []string
	var last *model.Call
	for i := range c.Calls {
		call := c.Calls[i]
		if call.Category != model.CategoryMeetingBooked || call.WeekNum != c.Week {
			continue
		}
		names = append(names, c.companyName(call.CompanyID, orUnknown(call.ContactName)))
		last = &call
	}
	if len(names) == 0 {
		return nil
	}
	title := fmt.Sprintf("%d meeting booked in week %d", len(names), c.Week)
	if len(names) > 1 {
		title = fmt.Sprintf("%d meetings booked in week %d", len(names), c.Week)
	}
	in := model.Insight{
		Type:     model.InsightWin,
		Severity: model.SeverityLow,
		Title:    title,
		Body:     "Booked with " + strings.Join(names, ", ") + ".",
		Channel:  string(model.ChannelCalls),
	}
	if len(names) == 1 {
		in.CompanyID = last.CompanyID
		in.CallID = ptr(last.ID)
	}
	return []finding{{insight: in}}
}

// lowEmailReply proposes a copy test for sequences that stopped getting
// replies, and tracks it as an experiment.
func lowEmailReply(a *Advisor, c *Context) []finding {
	var out []finding
	for _, s := range c.Sequences {
		if s.Delivered < a.cfg.MinEmailsForTrend || s.ReplyRate >= a.cfg.LowReplyRate {
			continue
		}
		hypothesis := fmt.Sprintf("A shorter first touch with a rail-rate hook lifts %q reply rate above %.1f%%.",
			s.Name, a.cfg.LowReplyRate*100)
		out = append(out, finding{
			insight: model.Insight{
				Type:     model.InsightExperiment,
				Severity: model.SeverityMedium,
				Title:    fmt.Sprintf("Test new copy on %s", s.Name),
				Body: fmt.Sprintf("%s has a %.1f%% reply rate over %d delivered emails. Hypothesis: %s "+
					"Watch reply rate for two weeks.",
					s.Name, s.ReplyRate*100, s.Delivered, hypothesis),
				Channel: string(model.ChannelEmail),
			},
			experiment: &model.Experiment{
				Name:       "Copy test: " + s.Name,
				Hypothesis: hypothesis,
				Channel:    string(model.ChannelEmail),
				StartDate:  c.Today,
				Status:     model.ExperimentActive,
				Metric:     "reply_rate",
				ResultSummary: fmt.Sprintf("Baseline %.2f%% reply rate on %d delivered (%s).",
					s.ReplyRate*100, s.Delivered, s.SnapshotDate.Format("2006-01-02")),
				AutoDetected: true,
			},
		})
	}
	return out
}

// objectionStreaks finds runs of consecutive low-interest calls that hit
// the same objection.
func objectionStreaks(a *Advisor, c *Context) []finding {
	type streak struct {
		objection string
		count     int
		lastCall  int64
	}
	var (
		cur  streak
		best = make(map[string]streak)
	)
	for _, in := range c.Intel {
		low := in.InterestLevel == model.InterestLow || in.InterestLevel == model.InterestNone
		key := normalizeObjection(in.Objection)
		if !low || key == "" {
			cur = streak{}
			continue
		}
		if key != normalizeObjection(cur.objection) {
			cur = streak{objection: in.Objection}
		}
		cur.count++
		cur.lastCall = in.CallID
		if cur.count >= a.cfg.ObjectionStreak && cur.count >= best[key].count {
			best[key] = cur
		}
	}

	keys := make([]string, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]finding, 0, len(keys))
	for _, k := range keys {
		s := best[k]
		out = append(out, finding{insight: model.Insight{
			Type:     model.InsightCoaching,
			Severity: model.SeverityMedium,
			Title:    fmt.Sprintf("%d calls in a row stalled on %q", s.count, s.objection),
			Body: fmt.Sprintf("The last %d low-interest calls all ended on the same objection: %q. "+
				"Prepare a two-sentence answer and open with it before the prospect raises it.",
				s.count, s.objection),
			Channel: string(model.ChannelCalls),
			CallID:  ptr(s.lastCall),
		}})
	}
	return out
}

// minObjectionTrend is how often an objection must recur to count as a trend.
const minObjectionTrend = 3

// objectionTrend reports the dominant objection over the lookback window.
func objectionTrend(a *Advisor, c *Context) []finding {
	counts := make(map[string]int)
	label := make(map[string]string)
	total := 0
	for _, in := range c.Intel {
		key := normalizeObjection(in.Objection)
		if key == "" {
			continue
		}
		total++
		counts[key]++
		label[key] = in.Objection
	}
	top, n := "", 0
	for k, v := range counts {
		if v > n || (v == n && k < top) {
			top, n = k, v
		}
	}
	if n < minObjectionTrend || model.Rate(n, total) < 0.25 {
		return nil
	}
	return []finding{{insight: model.Insight{
		Type:     model.InsightStrategic,
		Severity: model.SeverityLow,
		Title:    fmt.Sprintf("Top objection: %q", label[top]),
		Body: fmt.Sprintf("%q came up in %d of %d calls with an objection over the last %d weeks. "+
			"Consider addressing it in the email and InMail copy before the first call.",
			label[top], n, total, a.cfg.LookbackWeeks),
		Channel: "multi",
	}}}
}

func normalizeObjection(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.Trim(s, " .!"))), " ")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
