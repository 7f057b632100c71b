// Package linkedin reads the InMail export written by the LinkedIn scraper.
// The export may be JSON (the scraper's native output), CSV or XLSX.
package linkedin

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

// Message is one exported InMail thread.
type Message struct {
	Recipient string
	Title     string
	Company   string
	SentDate  time.Time
	Replied   bool
	ReplyText string

	// Line is the 1-based source row, for warnings.
	Line int
}

// Export reads an InMail export file.
type Export struct {
	Path string
}

// NewExport creates an export reader for path.
func NewExport(path string) *Export {
	return &Export{Path: path}
}

// Messages parses every usable row. Rows without a recipient or a parseable
// send date are skipped and reported in warnings.
func (e *Export) Messages(ctx context.Context) ([]Message, []string, error) {
	rows, err := e.rows(ctx)
	if err != nil {
		return nil, nil, err
	}

	var (
		out      []Message
		warnings []string
	)
	for _, r := range rows {
		m, err := r.message()
		if err != nil {
			warnings = append(warnings, err.Error())
			continue
		}
		out = append(out, m)
	}
	if len(warnings) > 0 {
		zap.L().Warn("linkedin: skipped export rows",
			zap.String("path", e.Path), zap.Int("skipped", len(warnings)), zap.Int("kept", len(out)))
	}
	return out, warnings, nil
}

// row is a header-keyed record, whatever the file format.
type row struct {
	line   int
	fields map[string]string
}

var headerAliases = map[string]string{
	"recipient_name":  "recipient",
	"recipient":       "recipient",
	"name":            "recipient",
	"contact_name":    "recipient",
	"recipient_title": "title",
	"title":           "title",
	"headline":        "title",
	"company":         "company",
	"company_name":    "company",
	"date_sent":       "date",
	"sent_date":       "date",
	"date":            "date",
	"replied":         "replied",
	"reply_text":      "reply",
	"reply":           "reply",
}

func canonicalHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "_", "-", "_").Replace(h)
	return headerAliases[h]
}

func (e *Export) rows(ctx context.Context) ([]row, error) {
	switch strings.ToLower(filepath.Ext(e.Path)) {
	case ".json":
		return e.jsonRows()
	case ".csv":
		f, err := os.Open(e.Path)
		if err != nil {
			return nil, eris.Wrap(err, "linkedin: open export")
		}
		defer f.Close() //nolint:errcheck
		return tableRows(ctx, csvRecords(f))
	case ".xlsx":
		return e.xlsxRows(ctx)
	}
	return nil, eris.Errorf("linkedin: unsupported export format %q", filepath.Ext(e.Path))
}

func (e *Export) jsonRows() ([]row, error) {
	b, err := os.ReadFile(e.Path)
	if err != nil {
		return nil, eris.Wrap(err, "linkedin: read export")
	}
	var raw []map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, eris.Wrap(err, "linkedin: decode export")
	}
	out := make([]row, 0, len(raw))
	for i, rec := range raw {
		fields := make(map[string]string, len(rec))
		for k, v := range rec {
			key := canonicalHeader(k)
			if key == "" || v == nil {
				continue
			}
			switch tv := v.(type) {
			case string:
				fields[key] = tv
			case bool:
				fields[key] = strconv.FormatBool(tv)
			default:
				fields[key] = strings.Trim(string(mustJSON(tv)), `"`)
			}
		}
		out = append(out, row{line: i + 1, fields: fields})
	}
	return out, nil
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func csvRecords(r io.Reader) func() ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr.Read
}

func (e *Export) xlsxRows(ctx context.Context) ([]row, error) {
	f, err := xlsx.OpenFile(e.Path)
	if err != nil {
		return nil, eris.Wrap(err, "linkedin: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("linkedin: xlsx has no sheets")
	}
	sheet := f.Sheets[0]
	i := 0
	return tableRows(ctx, func() ([]string, error) {
		if i >= len(sheet.Rows) {
			return nil, io.EOF
		}
		r := sheet.Rows[i]
		i++
		cells := make([]string, len(r.Cells))
		for j, c := range r.Cells {
			cells[j] = c.String()
		}
		return cells, nil
	})
}

// tableRows maps a header row plus data rows into keyed rows.
func tableRows(ctx context.Context, next func() ([]string, error)) ([]row, error) {
	header, err := next()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "linkedin: read header")
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = canonicalHeader(h)
	}

	var out []row
	for line := 2; ; line++ {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "linkedin: read export")
		}
		rec, err := next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "linkedin: read row %d", line)
		}
		fields := make(map[string]string, len(cols))
		empty := true
		for i, v := range rec {
			if i < len(cols) && cols[i] != "" {
				fields[cols[i]] = v
				if strings.TrimSpace(v) != "" {
					empty = false
				}
			}
		}
		if !empty {
			out = append(out, row{line: line, fields: fields})
		}
	}
}

func (r row) message() (Message, error) {
	get := func(k string) string { return strings.TrimSpace(r.fields[k]) }

	m := Message{
		Recipient: get("recipient"),
		Title:     get("title"),
		Company:   get("company"),
		ReplyText: get("reply"),
		Line:      r.line,
	}
	if m.Recipient == "" {
		return Message{}, eris.Errorf("row %d: missing recipient", r.line)
	}
	d, ok := ParseDate(get("date"))
	if !ok {
		return Message{}, eris.Errorf("row %d: unparseable date %q", r.line, get("date"))
	}
	m.SentDate = d
	if m.Company == "" {
		m.Company = CompanyFromTitle(m.Title)
	}
	switch strings.ToLower(get("replied")) {
	case "true", "yes", "y", "1":
		m.Replied = true
	}
	if m.ReplyText != "" {
		m.Replied = true
	}
	return m, nil
}

var dateLayouts = []string{
	time.DateOnly, "January 2, 2006", "Jan 2, 2006", "01/02/2006", "1/2/2006", "2 Jan 2006",
	time.RFC3339, "2006-01-02 15:04:05",
}

// ParseDate accepts the date formats seen in scraper output and returns
// the calendar date at UTC midnight.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

var titleCompanyRe = regexp.MustCompile(`(?i)\b(?:en|at)\s+([^|/\n]+?)(?:\s*[|/]|\s*,\s*[A-Z]|$)`)

// eduPrefixRe matches degree words that precede "at"/"en" in an education line.
var eduPrefixRe = regexp.MustCompile(`(?i)(?:licenciad[oa]|lic|maestr[ií]a|mba|doctorado|ingenier[oa]|ing\.?|` +
	`b\.?a\.?|m\.?a\.?|m\.?s\.?|phd|especialista|diplomado|t[eé]cnic[oa]|certificad[oa]|experta?)\s*$`)

var schools = map[string]bool{
	"tecnológico de monterrey": true,
	"tecnologico de monterrey": true,
	"itesm":                    true,
	"unam":                     true,
	"ipn":                      true,
}

// CompanyFromTitle pulls the employer out of a headline such as
// "Logistics Manager at Acme Rail | Supply Chain". Education phrases like
// "MBA at UNAM" are ignored.
func CompanyFromTitle(title string) string {
	for _, m := range titleCompanyRe.FindAllStringSubmatchIndex(title, -1) {
		prefix := title[:m[0]]
		if i := strings.LastIndex(prefix, "|"); i >= 0 {
			prefix = prefix[i+1:]
		}
		if eduPrefixRe.MatchString(strings.TrimSpace(prefix)) {
			continue
		}
		company := strings.TrimRight(strings.TrimSpace(title[m[2]:m[3]]), ".")
		if len(company) < 3 || schools[strings.ToLower(company)] {
			continue
		}
		return company
	}
	return ""
}
