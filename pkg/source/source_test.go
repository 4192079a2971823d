package source

import (
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestDirectURL(t *testing.T) {
	tests := []struct {
		name string
		src  Source
		want string
	}{
		{"explicit url", Source{Kind: KindSheetsCSV, URL: "http://x/y.csv", SpreadsheetID: "abc"}, "http://x/y.csv"},
		{"sheets export", Source{Kind: KindSheetsCSV, SpreadsheetID: "abc"}, "https://docs.google.com/spreadsheets/d/abc/export?format=csv"},
		{"sheets export gid", Source{Kind: KindSheetsCSV, SpreadsheetID: "abc", GID: "142347631"}, "https://docs.google.com/spreadsheets/d/abc/export?format=csv&gid=142347631"},
		{"sheets api default range", Source{Kind: KindSheetsAPI, SpreadsheetID: "abc"}, "https://api.test/v4/spreadsheets/abc/values/A:Z"},
		{"sheets api range", Source{Kind: KindSheetsAPI, SpreadsheetID: "abc", Range: "Deaths!A1:L"}, "https://api.test/v4/spreadsheets/abc/values/Deaths%21A1:L"},
		{"csv without url", Source{Kind: KindCSV}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.src.DirectURL("https://api.test/"); got != tt.want {
				t.Errorf("DirectURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDataSource(t *testing.T) {
	if got := (Source{Kind: KindSheetsAPI}).DataSource(); got != "api" {
		t.Errorf("sheets api = %q", got)
	}
	for _, k := range []Kind{KindCSV, KindSheetsCSV, ""} {
		if got := (Source{Kind: k}).DataSource(); got != "csv" {
			t.Errorf("%q = %q", k, got)
		}
	}
}

func TestTransportError_Blocked(t *testing.T) {
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	read := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset")}

	tests := []struct {
		name string
		err  *TransportError
		want bool
	}{
		{"401", &TransportError{Status: 401}, true},
		{"403", &TransportError{Status: 403}, true},
		{"407", &TransportError{Status: 407}, true},
		{"451", &TransportError{Status: 451}, true},
		{"404", &TransportError{Status: 404}, false},
		{"500", &TransportError{Status: 500}, false},
		{"dial", &TransportError{Err: fmt.Errorf("Get: %w", dial)}, true},
		{"read", &TransportError{Err: read}, false},
		{"timeout", &TransportError{Err: ErrTimeout}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Blocked(); got != tt.want {
				t.Errorf("Blocked = %v, want %v", got, tt.want)
			}
			wrapped := &FetchExhaustedError{Source: "s", Last: tt.err}
			if IsBlocked(wrapped) != tt.want {
				t.Errorf("IsBlocked through exhaustion = %v", !tt.want)
			}
		})
	}
}
