// Package csvfile renders normalized export rows as CSV.
package csvfile

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Record is one normalized row keyed by field name.
type Record map[string]any

// Escape neutralizes spreadsheet formula injection by prefixing values
// that start with =, +, - or @ with a single quote.
func Escape(value string) string {
	if value == "" {
		return value
	}
	switch value[0] {
	case '=', '+', '-', '@':
		return "'" + value
	}
	return value
}

// Stringify renders a decoded JSON value as cell text. Objects and arrays
// are written as compact JSON.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Columns returns the sorted union of field names across records.
func Columns(records []Record) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// ParseHeaders splits a comma separated header list, dropping blanks and
// repeats while keeping declaration order.
func ParseHeaders(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Render writes a header line followed by one escaped line per record.
// Fields missing from a record are left empty.
func Render(columns []string, records []Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = Escape(c)
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	line := make([]string, len(columns))
	for _, r := range records {
		for i, c := range columns {
			line[i] = Escape(Stringify(r[c]))
		}
		if err := w.Write(line); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
