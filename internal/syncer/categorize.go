package syncer

import (
	"regexp"

	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/pkg/hubspot"
)

// longCallSecs is the duration above which an undispositioned call is
// assumed to have reached someone.
const longCallSecs = 120

var dispositionCategories = map[string]string{
	hubspot.DispositionVoicemail:     model.CategoryVoicemail,
	hubspot.DispositionLiveMessage:   model.CategoryVoicemail,
	hubspot.DispositionNoAnswer:      model.CategoryNoAnswer,
	hubspot.DispositionBusy:          model.CategoryNoAnswer,
	hubspot.DispositionWrongNumber:   model.CategoryWrongNumber,
	hubspot.DispositionMeetingBooked: model.CategoryMeetingBooked,
	hubspot.DispositionInterested:    model.CategoryInterested,
	hubspot.DispositionNotInterested: model.CategoryNotInterested,
	hubspot.DispositionNoRail:        model.CategoryNoRail,
	hubspot.DispositionReferral:      model.CategoryReferral,
	hubspot.DispositionWrongPerson:   model.CategoryWrongPerson,
}

type keywordRule struct {
	category string
	re       *regexp.Regexp
}

// Evaluated in order; the first match wins.
var keywordRules = []keywordRule{
	{model.CategoryNoRail, regexp.MustCompile(`(?i)no rail|don'?t (ship|use) rail|rail in.{0,10}not out|no (railcar|carload|freight)`)},
	{model.CategoryWrongPerson, regexp.MustCompile(`(?i)wrong person|doesn'?t handle|not the right|call corporate|transferred`)},
	{model.CategoryNotInterested, regexp.MustCompile(`(?i)not interested|no need|don'?t need|all set|no thanks`)},
	{model.CategoryReferral, regexp.MustCompile(`(?i)referr|talk to \w+|contact \w+|reach out to|speak with`)},
	{model.CategoryMeetingBooked, regexp.MustCompile(`(?i)meeting|demo|scheduled|booked`)},
	{model.CategoryGatekeeper, regexp.MustCompile(`(?i)gatekeeper|receptionist|front desk|operator|not available`)},
}

// Categorize assigns a call category. An explicit category wins. A known
// disposition maps directly, except "connected", which is refined by
// keywords in the notes and defaults to Interested. Without a disposition,
// calls longer than two minutes count as Interested and the rest as No
// Answer.
func Categorize(r CallRecord) string {
	if r.Category != "" {
		return r.Category
	}
	if r.Disposition == hubspot.DispositionConnected {
		if c := CategoryFromNotes(r.Notes); c != "" {
			return c
		}
		return model.CategoryInterested
	}
	if r.Disposition != "" {
		if c, ok := dispositionCategories[r.Disposition]; ok {
			return c
		}
		return model.CategoryNoAnswer
	}
	if r.DurationSecs > longCallSecs {
		return model.CategoryInterested
	}
	return model.CategoryNoAnswer
}

// CategoryFromNotes returns the first keyword category matching notes, or "".
func CategoryFromNotes(notes string) string {
	if notes == "" {
		return ""
	}
	for _, rule := range keywordRules {
		if rule.re.MatchString(notes) {
			return rule.category
		}
	}
	return ""
}
