package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed-width so text timestamps sort chronologically
const timeLayout = "2006-01-02T15:04:05.000Z"

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// malformedRowError marks a row whose stored JSON no longer decodes
type malformedRowError struct {
	column string
	err    error
}

func (e *malformedRowError) Error() string {
	return fmt.Sprintf("malformed %s column: %v", e.column, e.err)
}

func (e *malformedRowError) Unwrap() error {
	return e.err
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeJSON leaves dst untouched for NULL, empty or "null" columns
func decodeJSON(column string, src sql.NullString, dst any) error {
	if !src.Valid || src.String == "" || src.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(src.String), dst); err != nil {
		return &malformedRowError{column: column, err: err}
	}
	return nil
}

// jsonColumns encodes values in order, failing on the first error
func jsonColumns(values ...any) ([]any, error) {
	out := make([]any, len(values))
	for i, v := range values {
		s, err := encodeJSON(v)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return boolInt(*b)
}

func scanNullBool(v sql.NullInt64) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Int64 != 0
	return &b
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, s.String); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	t := parseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

// insertSQL builds an INSERT over cols plus the cache bookkeeping columns
func insertSQL(table string, cols []string) string {
	all := append(append([]string{}, cols...), "cached_at", "expires_at")
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(all, ", "), placeholders)
}

// upsertSQL extends insertSQL with ON CONFLICT (id) DO UPDATE of every other column
func upsertSQL(table string, cols []string) string {
	sets := make([]string, 0, len(cols)+1)
	for _, c := range append(append([]string{}, cols...), "cached_at", "expires_at") {
		if c != "id" {
			sets = append(sets, c+" = excluded."+c)
		}
	}
	return insertSQL(table, cols) + " ON CONFLICT (id) DO UPDATE SET " + strings.Join(sets, ", ")
}

// selectColumns prefixes each column with alias
func selectColumns(alias string, cols []string) string {
	if alias == "" {
		return strings.Join(cols, ", ")
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return strings.Join(out, ", ")
}
