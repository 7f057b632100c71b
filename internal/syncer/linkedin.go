package syncer

import (
	"context"
	"crypto/sha1" //nolint:gosec // content key, not a security boundary
	"encoding/hex"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/company"
	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

// InMailRecord is one exported InMail thread.
type InMailRecord struct {
	ContactName  string
	ContactTitle string
	CompanyName  string
	SentDate     time.Time // calendar date; the clock is ignored
	Replied      bool
	ReplyText    string
	Sentiment    model.Sentiment
}

// InMailSource reads InMail threads. Rows it could not parse are returned
// as warnings.
type InMailSource interface {
	InMails(ctx context.Context) ([]InMailRecord, []string, error)
}

// ReplyClassifier labels reply sentiment.
type ReplyClassifier interface {
	ClassifyReply(ctx context.Context, reply string) (model.Sentiment, error)
	LogUsage(task string)
}

// InMailKey derives the idempotency key of an InMail from its contact,
// company and send date.
func InMailKey(contact, companyName string, sent time.Time) string {
	raw := strings.ToLower(strings.TrimSpace(contact)) + "|" +
		strings.ToLower(strings.TrimSpace(companyName)) + "|" + sent.Format(time.DateOnly)
	sum := sha1.Sum([]byte(raw)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// LinkedInSync is the LinkedIn InMail stage.
type LinkedInSync struct {
	src         InMailSource
	store       store.Store
	resolver    *company.Resolver
	cal         *model.Calendar
	classifier  ReplyClassifier
	maxClassify int
	log         *zap.Logger
}

// NewLinkedInSync creates the LinkedIn stage. classifier may be nil.
func NewLinkedInSync(src InMailSource, st store.Store, cal *model.Calendar, classifier ReplyClassifier, maxClassify int) *LinkedInSync {
	return &LinkedInSync{
		src:         src,
		store:       st,
		resolver:    company.NewResolver(st),
		cal:         cal,
		classifier:  classifier,
		maxClassify: maxClassify,
		log:         zap.L().With(zap.String("component", "sync.linkedin")),
	}
}

// Name implements the orchestrator stage contract.
func (s *LinkedInSync) Name() string { return "linkedin" }

// Run imports the export.
func (s *LinkedInSync) Run(ctx context.Context) (Result, error) {
	var res Result
	recs, warnings, err := s.src.InMails(ctx)
	if err != nil {
		return res, eris.Wrap(err, "sync linkedin: read export")
	}
	res.Fetched = len(recs) + len(warnings)
	res.Skipped = len(warnings)
	res.Warnings = append(res.Warnings, warnings...)
	if len(recs) == 0 {
		s.log.Info("linkedin synced", res.LogFields()...)
		return res, nil
	}

	known, err := s.existing(ctx, recs)
	if err != nil {
		return res, err
	}
	if s.classifier != nil {
		defer s.classifier.LogUsage("inmail_sentiment")
	}

	var constraintErrs int
	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "sync linkedin")
		}
		err := s.apply(ctx, r, known, &res)
		if err == nil {
			continue
		}
		if !store.IsConstraint(err) {
			return res, eris.Wrapf(err, "sync linkedin: %s", r.ContactName)
		}
		constraintErrs++
		res.Skipped++
		res.warnf(s.log, "inmail %s: %v", r.ContactName, err)
	}

	s.log.Info("linkedin synced", res.LogFields()...)
	if constraintErrs > 0 {
		return res, eris.Errorf("sync linkedin: %d records violated store constraints", constraintErrs)
	}
	return res, nil
}

// localDate pins a calendar date to midnight in the campaign timezone.
func (s *LinkedInSync) localDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.cal.Location())
}

// existing loads stored InMails covering the batch's date span, by key.
func (s *LinkedInSync) existing(ctx context.Context, recs []InMailRecord) (map[string]model.InMail, error) {
	lo, hi := s.localDate(recs[0].SentDate), s.localDate(recs[0].SentDate)
	for _, r := range recs[1:] {
		d := s.localDate(r.SentDate)
		if d.Before(lo) {
			lo = d
		}
		if d.After(hi) {
			hi = d
		}
	}
	rows, err := s.store.ListInMails(ctx, store.TimeRange{From: lo, To: hi.AddDate(0, 0, 1)})
	if err != nil {
		return nil, eris.Wrap(err, "sync linkedin: load existing")
	}
	out := make(map[string]model.InMail, len(rows))
	for _, m := range rows {
		out[m.ExternalKey] = m
	}
	return out, nil
}

func (s *LinkedInSync) apply(ctx context.Context, r InMailRecord, known map[string]model.InMail, res *Result) error {
	contact := strings.TrimSpace(r.ContactName)
	if contact == "" || r.SentDate.IsZero() {
		res.Skipped++
		res.warnf(s.log, "inmail to %q: missing contact or send date", r.ContactName)
		return nil
	}
	sent := s.localDate(r.SentDate)
	m := &model.InMail{
		ExternalKey:  InMailKey(contact, r.CompanyName, sent),
		ContactName:  contact,
		ContactTitle: strings.TrimSpace(r.ContactTitle),
		CompanyName:  strings.TrimSpace(r.CompanyName),
		SentDate:     sent,
		Replied:      r.Replied || strings.TrimSpace(r.ReplyText) != "",
		Sentiment:    r.Sentiment,
		ReplyText:    strings.TrimSpace(r.ReplyText),
		WeekNum:      s.cal.WeekNum(sent),
	}
	prev, seen := known[m.ExternalKey]
	if m.Sentiment == model.SentimentUnset && seen {
		m.Sentiment = prev.Sentiment
	}
	if m.Sentiment == model.SentimentUnset && m.ReplyText != "" {
		m.Sentiment = s.classify(ctx, m, res)
	}

	if m.CompanyName != "" {
		rsl, err := s.resolver.Resolve(ctx, company.Ref{Name: m.CompanyName}, true)
		if err != nil {
			return err
		}
		switch rsl.Outcome {
		case company.Ambiguous:
			res.Ambiguous++
		case company.Created:
			res.count("companies_created")
		}
		m.CompanyID = rsl.ID()
	}

	touch := store.Touch{Channel: model.ChannelLinkedIn, At: sent}
	if status, ok := inmailStatus(m); ok {
		touch.Status = status
	}
	lr, err := s.store.UpsertInMailWithTouch(ctx, m, touch)
	if err != nil {
		return err
	}
	res.tally(lr.Outcome)
	res.link(s.log, lr, touch.Status)
	return nil
}

func (s *LinkedInSync) classify(ctx context.Context, m *model.InMail, res *Result) model.Sentiment {
	if s.classifier == nil || res.Extra["classified"] >= s.maxClassify {
		return model.SentimentUnset
	}
	sent, err := s.classifier.ClassifyReply(ctx, m.ReplyText)
	if err != nil {
		res.warnf(s.log, "classify reply from %s: %v", m.ContactName, err)
		return model.SentimentUnset
	}
	res.count("classified")
	return sent
}

func inmailStatus(m *model.InMail) (model.CompanyStatus, bool) {
	switch {
	case m.Sentiment == model.SentimentInterested:
		return model.StatusInterested, true
	case m.Replied:
		return model.StatusContacted, true
	}
	return "", false
}
