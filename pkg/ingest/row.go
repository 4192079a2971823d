package ingest

import (
	"strings"
)

// ParseRow splits one line of CSV text into its fields.
//
// A double quote toggles quoting, except that "" inside a quoted section
// yields a literal quote. A comma outside quotes ends the current field.
// Fields are trimmed. The last field is always emitted, so "a," yields
// ["a", ""]. An unterminated quote swallows the rest of the line.
func ParseRow(line string) []string {
	var (
		fields   []string
		current  strings.Builder
		inQuotes bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			if inQuotes && i+1 < len(line) && line[i+1] == '"' {
				current.WriteByte('"')
				i++
				continue
			}
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			fields = append(fields, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	return append(fields, strings.TrimSpace(current.String()))
}

// SplitLines breaks a document into non-blank lines, dropping a leading
// byte order mark and the \r of CRLF endings. Quoted fields spanning
// several lines are not supported.
func SplitLines(text string) []string {
	numbered := splitNumbered(text)
	lines := make([]string, len(numbered))
	for i, l := range numbered {
		lines[i] = l.text
	}
	return lines
}

type numberedLine struct {
	no   int
	text string
}

func splitNumbered(text string) []numberedLine {
	text = strings.TrimPrefix(text, "\ufeff")
	raw := strings.Split(text, "\n")
	lines := make([]numberedLine, 0, len(raw))
	for i, l := range raw {
		l = strings.TrimSuffix(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, numberedLine{no: i + 1, text: l})
	}
	return lines
}

// Table is a header plus data rows, however it was obtained.
type Table struct {
	Header []string
	Rows   []Row
}

// Row is one data row with the 1-based line number it came from.
type Row struct {
	Line   int
	Fields []string
}

// ParseTable splits CSV text into a Table. The first non-blank line is the
// header. Rows whose fields are all empty are skipped.
func ParseTable(text string) *Table {
	lines := splitNumbered(text)
	if len(lines) == 0 {
		return &Table{}
	}
	t := &Table{Header: ParseRow(lines[0].text)}
	for _, l := range lines[1:] {
		fields := ParseRow(l.text)
		if allEmpty(fields) {
			continue
		}
		t.Rows = append(t.Rows, Row{Line: l.no, Fields: fields})
	}
	return t
}

// TableFromValues builds a Table from a pre-split grid such as a
// spreadsheet values range. The first row is the header.
func TableFromValues(values [][]string) *Table {
	if len(values) == 0 {
		return &Table{}
	}
	t := &Table{Header: trimAll(values[0])}
	for i, v := range values[1:] {
		fields := trimAll(v)
		if allEmpty(fields) {
			continue
		}
		t.Rows = append(t.Rows, Row{Line: i + 2, Fields: fields})
	}
	return t
}

// Values maps each header to the row's field under it. Short rows yield ""
// for the missing columns; when a header repeats, its first column wins.
func (t *Table) Values(r Row) map[string]string {
	values := make(map[string]string, len(t.Header))
	for i, h := range t.Header {
		if _, seen := values[h]; seen {
			continue
		}
		if i < len(r.Fields) {
			values[h] = r.Fields[i]
		} else {
			values[h] = ""
		}
	}
	return values
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

func allEmpty(fields []string) bool {
	for _, f := range fields {
		if f != "" {
			return false
		}
	}
	return true
}
