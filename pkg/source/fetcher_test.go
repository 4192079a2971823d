package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const sampleCSV = "actor_name,movie_title,year\nSean Bean,GoldenEye,1995\n"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestFetcher returns a fetcher that records backoff delays instead of
// sleeping.
func newTestFetcher(t *testing.T, cfg Config, prober Prober) (*Fetcher, *[]time.Duration) {
	t.Helper()
	f := NewFetcher(cfg, nil, prober, discardLogger())
	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	f.wait = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return ctx.Err()
	}
	return f, &delays
}

func TestFetch_RetriesWithBackoff(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		io.WriteString(w, sampleCSV)
	}))
	defer srv.Close()

	f, delays := newTestFetcher(t, Config{BackoffBase: time.Millisecond, NoProxies: true}, nil)
	p, err := f.Fetch(context.Background(), Source{ID: "primary", Kind: KindCSV, URL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Tier != TierDirect || p.Attempts != 3 || p.Text != sampleCSV {
		t.Errorf("payload = %+v", p)
	}
	want := []time.Duration{2 * time.Millisecond, 4 * time.Millisecond}
	if !reflect.DeepEqual(*delays, want) {
		t.Errorf("delays = %v, want %v", *delays, want)
	}
}

func TestFetch_Exhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{BackoffBase: time.Millisecond, NoProxies: true}, nil)
	_, err := f.Fetch(context.Background(), Source{ID: "primary", URL: srv.URL})

	var fe *FetchExhaustedError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FetchExhaustedError", err)
	}
	if fe.Source != "primary" || fe.Attempts != 3 {
		t.Errorf("exhausted = %+v", fe)
	}
	var te *TransportError
	if !errors.As(err, &te) || te.Status != http.StatusBadGateway || te.Blocked() {
		t.Errorf("last error = %v", fe.Last)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{Timeout: 20 * time.Millisecond, Attempts: 1, NoProxies: true}, nil)
	_, err := f.Fetch(context.Background(), Source{ID: "slow", URL: srv.URL})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestFetch_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "  \n")
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{Attempts: 1, NoProxies: true}, nil)
	_, err := f.Fetch(context.Background(), Source{ID: "empty", URL: srv.URL})
	if !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("err = %v, want ErrEmptyBody", err)
	}
}

func TestFetch_BlockedOriginUsesRelay(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer origin.Close()

	var relayed string
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relayed = r.URL.Query().Get("url")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"contents":"actor_name,movie_title\nSean Bean,Ronin\n","status":{"http_code":200}}`)
	}))
	defer relay.Close()

	f, _ := newTestFetcher(t, Config{
		Attempts:    2,
		BackoffBase: time.Millisecond,
		Proxies:     []string{relay.URL + "/get?url={url}"},
	}, nil)
	p, err := f.Fetch(context.Background(), Source{ID: "primary", URL: origin.URL})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Tier != TierProxy {
		t.Errorf("tier = %s, want proxy", p.Tier)
	}
	if !strings.Contains(p.Text, "Sean Bean,Ronin") {
		t.Errorf("text = %q", p.Text)
	}
	if relayed != origin.URL {
		t.Errorf("relay asked for %q, want %q", relayed, origin.URL)
	}
	if p.Attempts != 3 {
		t.Errorf("attempts = %d, want 2 direct + 1 relay", p.Attempts)
	}
}

func TestFetch_UnreachableOriginUsesRelay(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	target := origin.URL
	origin.Close()

	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/"+strings.TrimPrefix(target, "http://")) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		io.WriteString(w, sampleCSV)
	}))
	defer relay.Close()

	f, _ := newTestFetcher(t, Config{
		Attempts:    1,
		BackoffBase: time.Millisecond,
		Proxies:     []string{relay.URL + "/{raw}"},
	}, nil)
	p, err := f.Fetch(context.Background(), Source{ID: "primary", URL: target})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Tier != TierProxy || p.Text != sampleCSV {
		t.Errorf("payload = %+v", p)
	}
}

func TestFetch_ServerErrorSkipsRelay(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer origin.Close()

	var relayHits atomic.Int32
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relayHits.Add(1)
		io.WriteString(w, sampleCSV)
	}))
	defer relay.Close()

	f, _ := newTestFetcher(t, Config{
		Attempts:    1,
		BackoffBase: time.Millisecond,
		Proxies:     []string{relay.URL + "/?{url}"},
	}, nil)
	if _, err := f.Fetch(context.Background(), Source{ID: "primary", URL: origin.URL}); err == nil {
		t.Fatal("expected error")
	}
	if relayHits.Load() != 0 {
		t.Errorf("relay hit %d times for a non-blocking failure", relayHits.Load())
	}
}

func TestFetch_RelaysAllFail(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnavailableForLegalReasons)
	}))
	defer origin.Close()
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		io.WriteString(w, `{"contents":""}`)
	}))
	defer relay.Close()

	f, _ := newTestFetcher(t, Config{
		Attempts: 1,
		Proxies:  []string{relay.URL + "/a?{url}", relay.URL + "/b?{url}"},
	}, nil)
	_, err := f.Fetch(context.Background(), Source{ID: "primary", URL: origin.URL})

	var fe *FetchExhaustedError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v", err)
	}
	if fe.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", fe.Attempts)
	}
	if !errors.Is(err, ErrEmptyBody) {
		t.Errorf("last error = %v, want empty body from relay", fe.Last)
	}
}

type fakeProber struct {
	status int
	err    error
	calls  atomic.Int32
}

func (p *fakeProber) Probe(context.Context, string) (int, error) {
	p.calls.Add(1)
	return p.status, p.err
}

func TestFetch_PreflightPutsRelaysFirst(t *testing.T) {
	var originHits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		originHits.Add(1)
		io.WriteString(w, sampleCSV)
	}))
	defer origin.Close()
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, sampleCSV)
	}))
	defer relay.Close()

	prober := &fakeProber{status: http.StatusForbidden}
	f, _ := newTestFetcher(t, Config{Preflight: true, Proxies: []string{relay.URL + "/?{url}"}}, prober)
	p, err := f.Fetch(context.Background(), Source{ID: "primary", URL: origin.URL})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Tier != TierProxy || originHits.Load() != 0 {
		t.Errorf("tier = %s, origin hits = %d", p.Tier, originHits.Load())
	}
	if prober.calls.Load() != 1 {
		t.Errorf("probe calls = %d", prober.calls.Load())
	}
}

func TestFetch_PreflightStillTriesDirect(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, sampleCSV)
	}))
	defer origin.Close()
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer relay.Close()

	prober := &fakeProber{err: errors.New("dial tcp: refused")}
	f, _ := newTestFetcher(t, Config{Preflight: true, Proxies: []string{relay.URL + "/?{url}"}}, prober)
	p, err := f.Fetch(context.Background(), Source{ID: "primary", URL: origin.URL})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Tier != TierDirect {
		t.Errorf("tier = %s, want direct after relay failure", p.Tier)
	}
}

func TestFetch_SheetsAPI(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"range":"Sheet1!A1:Z3","majorDimension":"ROWS","values":[
			["Actor","Movie","Year"],
			["Sean Bean","GoldenEye",1995],
			["John Hurt","Alien"]]}`)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{SheetsAPIBase: srv.URL, NoProxies: true}, nil)
	p, err := f.Fetch(context.Background(), Source{
		ID: "sheet", Kind: KindSheetsAPI, SpreadsheetID: "abc123", APIKey: "k1",
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotPath != "/v4/spreadsheets/abc123/values/A:Z" || gotKey != "k1" {
		t.Errorf("request path=%q key=%q", gotPath, gotKey)
	}
	if p.Tier != TierSheetsAPI || strings.Contains(p.URL, "k1") {
		t.Errorf("payload tier=%s url=%s", p.Tier, p.URL)
	}

	tbl := p.Table()
	if !reflect.DeepEqual(tbl.Header, []string{"Actor", "Movie", "Year"}) {
		t.Errorf("header = %q", tbl.Header)
	}
	if len(tbl.Rows) != 2 || tbl.Rows[0].Fields[2] != "1995" {
		t.Errorf("rows = %+v", tbl.Rows)
	}
}

func TestFetch_SheetsAPINoKey(t *testing.T) {
	f, _ := newTestFetcher(t, Config{NoProxies: true}, nil)
	_, err := f.Fetch(context.Background(), Source{ID: "sheet", Kind: KindSheetsAPI, SpreadsheetID: "abc"})
	var fe *FetchExhaustedError
	if !errors.As(err, &fe) || !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("err = %v, want exhausted with ErrNoAPIKey", err)
	}
}

func TestFetch_NoURL(t *testing.T) {
	f, _ := newTestFetcher(t, Config{NoProxies: true}, nil)
	_, err := f.Fetch(context.Background(), Source{ID: "blank", Kind: KindCSV})
	if !errors.Is(err, ErrNoURL) {
		t.Fatalf("err = %v, want ErrNoURL", err)
	}
}

func TestFetch_Cache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, sampleCSV)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{NoProxies: true}, nil)
	src := Source{ID: "primary", URL: srv.URL}
	ctx := context.Background()

	if _, err := f.Fetch(ctx, src); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	p, err := f.Fetch(ctx, src)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !p.Cached || hits.Load() != 1 {
		t.Errorf("cached=%v hits=%d, want cached and 1 hit", p.Cached, hits.Load())
	}

	f.ClearCache()
	if _, err := f.Fetch(ctx, src); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits after clear = %d, want 2", hits.Load())
	}
}

func TestFetch_CacheExpires(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, sampleCSV)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{NoProxies: true, CacheTTL: time.Minute}, nil)
	now := time.Now()
	f.cache.now = func() time.Time { return now }

	src := Source{ID: "primary", URL: srv.URL}
	f.Fetch(context.Background(), src)
	now = now.Add(2 * time.Minute)
	f.Fetch(context.Background(), src)
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2 after expiry", hits.Load())
	}
}

func TestFetch_DeclaredEncoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("actor,movie\nGary Oldman,L\xe9on\n"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{NoProxies: true}, nil)
	p, err := f.Fetch(context.Background(), Source{ID: "latin", URL: srv.URL, Encoding: "windows-1252"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(p.Text, "Léon") {
		t.Errorf("text = %q", p.Text)
	}
}

func TestUnwrapEnvelope(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		want        string
		wantErr     error
	}{
		{"plain text", sampleCSV, "text/csv", sampleCSV, nil},
		{"contents", `{"contents":"a,b"}`, "application/json", "a,b", nil},
		{"data", `{"data":"a,b"}`, "application/json", "a,b", nil},
		{"response", `{"contents":null,"response":"a,b"}`, "application/json", "a,b", nil},
		{"first non-empty wins", `{"contents":"x","data":"y"}`, "application/json", "x", nil},
		{"empty envelope", `{"contents":""}`, "application/json", "", ErrEmptyBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := unwrapEnvelope([]byte(tt.body), tt.contentType, "")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("got %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestExpandProxy(t *testing.T) {
	target := "http://bliskioptyk.pl/combined.csv?x=1"
	if got := expandProxy("https://relay/get?url={url}", target); got != "https://relay/get?url=http%3A%2F%2Fbliskioptyk.pl%2Fcombined.csv%3Fx%3D1" {
		t.Errorf("escaped = %s", got)
	}
	if got := expandProxy("https://relay/{raw}", target); got != "https://relay/"+target {
		t.Errorf("raw = %s", got)
	}
}
