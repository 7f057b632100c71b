package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// sqliteTime is the fixed-width UTC layout used for SQLite timestamp
// columns, so lexical order matches chronological order. It matches
// strftime('%Y-%m-%dT%H:%M:%fZ').
const sqliteTime = "2006-01-02T15:04:05.000Z"

type scannable interface {
	Scan(dest ...any) error
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func tsArg(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func tsPtrArg(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return tsArg(*t)
}

func dateArg(t time.Time) string {
	return t.Format(time.DateOnly)
}

func datePtrArg(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return dateArg(*t)
}

func pgDatePtr(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return dateOnly(*t)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		// Rows written by hand or by older tooling may use RFC 3339.
		if t2, err2 := time.Parse(time.RFC3339Nano, s); err2 == nil {
			return t2.UTC(), nil
		}
		return time.Time{}, eris.Wrapf(err, "store: parse timestamp %q", s)
	}
	return t, nil
}

func parseTSPtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTS(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "store: parse date %q", s)
	}
	return t, nil
}

func parseDatePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func idPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal json")
	}
	return string(b), nil
}

func checkRowsAffected(res sql.Result, entity string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %v", entity, id)
	}
	return nil
}
