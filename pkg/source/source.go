package source

import (
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/ripdb/pkg/ingest"
)

// Kind selects how a source is fetched.
type Kind string

const (
	// KindCSV is a plain CSV document at URL.
	KindCSV Kind = "csv"
	// KindSheetsAPI reads a Google spreadsheet through the Sheets values API.
	KindSheetsAPI Kind = "sheets_api"
	// KindSheetsCSV reads a Google spreadsheet through its CSV export link.
	KindSheetsCSV Kind = "sheets_csv"
)

// DefaultRange is the Sheets A1 range read when a source names none.
const DefaultRange = "A:Z"

const sheetsExportBase = "https://docs.google.com/spreadsheets/d/"

// Source describes one configured origin of death records.
type Source struct {
	ID            string            `yaml:"id"`
	Kind          Kind              `yaml:"kind"`
	Description   string            `yaml:"description"`
	URL           string            `yaml:"url"`
	SpreadsheetID string            `yaml:"spreadsheet_id"`
	GID           string            `yaml:"gid"`
	Range         string            `yaml:"range"`
	APIKey        string            `yaml:"api_key"`
	Encoding      string            `yaml:"encoding"`
	Columns       map[string]string `yaml:"columns"`
}

// DataSource is the marker a dataset built from this source carries.
func (s Source) DataSource() string {
	if s.Kind == KindSheetsAPI {
		return "api"
	}
	return "csv"
}

// DirectURL is the address fetched by the direct tier. An explicit URL
// always wins; Sheets kinds otherwise derive it from the spreadsheet id.
// The API key is never part of it.
func (s Source) DirectURL(sheetsAPIBase string) string {
	if s.URL != "" {
		return s.URL
	}
	if s.SpreadsheetID == "" {
		return ""
	}
	switch s.Kind {
	case KindSheetsCSV:
		u := sheetsExportBase + url.PathEscape(s.SpreadsheetID) + "/export?format=csv"
		if s.GID != "" {
			u += "&gid=" + url.QueryEscape(s.GID)
		}
		return u
	case KindSheetsAPI:
		rng := s.Range
		if rng == "" {
			rng = DefaultRange
		}
		return strings.TrimRight(sheetsAPIBase, "/") + "/v4/spreadsheets/" +
			url.PathEscape(s.SpreadsheetID) + "/values/" + url.PathEscape(rng)
	}
	return ""
}

// Tier names the strategy that produced (or failed to produce) a payload.
type Tier string

const (
	TierDirect    Tier = "direct"
	TierProxy     Tier = "proxy"
	TierSheetsAPI Tier = "sheets_api"
)

// Payload is the raw tabular content obtained from a source: CSV text, or
// pre-split cells when the Sheets API answered.
type Payload struct {
	Source    string
	URL       string
	Tier      Tier
	Text      string
	Values    [][]string
	Attempts  int
	Cached    bool
	FetchedAt time.Time
}

// Table splits the payload into header and rows.
func (p *Payload) Table() *ingest.Table {
	if p.Values != nil {
		return ingest.TableFromValues(p.Values)
	}
	return ingest.ParseTable(p.Text)
}
