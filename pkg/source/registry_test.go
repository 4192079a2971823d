package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := OpenRegistry("")
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestOpenRegistry_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.db")
	reg, err := OpenRegistry(path)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	defer reg.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}
	entries, err := reg.ListSources()
	if err != nil {
		t.Fatalf("ListSources on empty db: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected 0 sources, got %d", len(entries))
	}
}

func TestSeedAndGetURL(t *testing.T) {
	reg := tempRegistry(t)

	sources := []Source{
		{ID: "primary", Kind: KindCSV, URL: "https://example.com/combined.csv"},
		{ID: "sheet", Kind: KindSheetsCSV, SpreadsheetID: "abc", GID: "42"},
	}
	if err := reg.Seed(sources, DefaultSheetsAPIBase); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	url, err := reg.GetURL("sheet")
	if err != nil {
		t.Fatalf("GetURL: %v", err)
	}
	if url != "https://docs.google.com/spreadsheets/d/abc/export?format=csv&gid=42" {
		t.Fatalf("sheet url = %s", url)
	}

	// Seeding again must not overwrite.
	sources[0].URL = "https://example.com/other.csv"
	if err := reg.Seed(sources, DefaultSheetsAPIBase); err != nil {
		t.Fatalf("Seed again: %v", err)
	}
	url, _ = reg.GetURL("primary")
	if url != "https://example.com/combined.csv" {
		t.Fatalf("re-seed overwrote url: %s", url)
	}
}

func TestSetURL(t *testing.T) {
	reg := tempRegistry(t)
	if err := reg.Seed([]Source{{ID: "primary", Kind: KindCSV, URL: "https://a.example/x.csv"}}, ""); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	if err := reg.SetURL("primary", "https://b.example/y.csv"); err != nil {
		t.Fatalf("SetURL: %v", err)
	}
	url, _ := reg.GetURL("primary")
	if url != "https://b.example/y.csv" {
		t.Fatalf("url = %s", url)
	}

	err := reg.SetURL("missing", "https://c.example")
	if !IsNotFound(err) {
		t.Fatalf("SetURL on unknown id: %v", err)
	}
	if _, err := reg.GetURL("missing"); !IsNotFound(err) {
		t.Fatalf("GetURL on unknown id: %v", err)
	}
}

func TestUpdateCheckAndRecordFetch(t *testing.T) {
	reg := tempRegistry(t)
	if err := reg.Seed([]Source{{ID: "primary", Kind: KindCSV, URL: "https://a.example/x.csv"}}, ""); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	if err := reg.UpdateCheck("primary", 403, "forbidden"); err != nil {
		t.Fatalf("UpdateCheck: %v", err)
	}
	if err := reg.RecordFetch("primary", TierProxy, 42, nil); err != nil {
		t.Fatalf("RecordFetch: %v", err)
	}

	entries, err := reg.ListSources()
	if err != nil || len(entries) != 1 {
		t.Fatalf("ListSources: %v, %d", err, len(entries))
	}
	e := entries[0]
	if e.Kind != KindCSV {
		t.Errorf("kind = %s", e.Kind)
	}
	if e.LastStatus == nil || *e.LastStatus != 403 || e.LastError == nil || *e.LastError != "forbidden" {
		t.Errorf("check columns = %v %v", e.LastStatus, e.LastError)
	}
	if e.LastTier == nil || *e.LastTier != "proxy" || e.LastRecords == nil || *e.LastRecords != 42 {
		t.Errorf("fetch columns = %v %v", e.LastTier, e.LastRecords)
	}
	if e.LastFetchError != nil {
		t.Errorf("last fetch error = %q, want nil", *e.LastFetchError)
	}

	if err := reg.RecordFetch("primary", "", 0, errors.New("boom")); err != nil {
		t.Fatalf("RecordFetch: %v", err)
	}
	entries, _ = reg.ListSources()
	if entries[0].LastFetchError == nil || *entries[0].LastFetchError != "boom" || entries[0].LastTier != nil {
		t.Errorf("failed fetch not recorded: %+v", entries[0])
	}
}
