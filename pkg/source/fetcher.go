package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hazyhaar/ripdb/pkg/ingest"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultAttempts      = 3
	DefaultBackoffBase   = time.Second
	DefaultCacheTTL      = 5 * time.Minute
	DefaultSheetsAPIBase = "https://sheets.googleapis.com"

	userAgent   = "RIPDB/1.0 (death records fetcher)"
	maxBodySize = 64 << 20
)

// DefaultProxies are public relays tried, in order, when the origin
// refuses a direct request. {url} expands to the escaped target and {raw}
// to the target as is.
var DefaultProxies = []string{
	"https://api.allorigins.win/get?url={url}",
	"https://corsproxy.io/?{url}",
	"https://cors-anywhere.herokuapp.com/{raw}",
}

// envelopeKeys are the JSON members relays wrap the payload in.
var envelopeKeys = []string{"contents", "data", "response"}

// Config tunes the fetch chain. Zero values take the defaults above.
type Config struct {
	Timeout       time.Duration
	Attempts      int
	BackoffBase   time.Duration
	Proxies       []string
	NoProxies     bool
	Preflight     bool
	CacheTTL      time.Duration
	SheetsAPIBase string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.Proxies == nil {
		c.Proxies = DefaultProxies
	}
	if c.NoProxies {
		c.Proxies = nil
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.SheetsAPIBase == "" {
		c.SheetsAPIBase = DefaultSheetsAPIBase
	}
	return c
}

// Prober answers a cheap reachability question about a URL: the HTTP
// status of a HEAD request, or an error when nothing answered.
type Prober interface {
	Probe(ctx context.Context, url string) (int, error)
}

// Fetcher obtains raw tabular payloads through an ordered chain of tiers:
// direct GET with retries, public relays when the origin blocks us, and
// the Sheets values API for spreadsheet sources.
type Fetcher struct {
	cfg    Config
	client *http.Client
	prober Prober
	logger *slog.Logger
	cache  *payloadCache
	wait   func(ctx context.Context, d time.Duration) error
}

// NewFetcher builds a Fetcher. client and prober may be nil; without a
// prober no pre-flight check runs even if cfg.Preflight is set.
func NewFetcher(cfg Config, client *http.Client, prober Prober, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Fetcher{
		cfg:    cfg,
		client: client,
		prober: prober,
		logger: logger,
		cache:  newPayloadCache(cfg.CacheTTL),
		wait:   sleepCtx,
	}
}

// Config returns the effective configuration.
func (f *Fetcher) Config() Config { return f.cfg }

// ClearCache drops every cached payload.
func (f *Fetcher) ClearCache() { f.cache.clear() }

// Fetch returns the payload of src, from the cache when a fresh one is
// held. Every failure is reported as *FetchExhaustedError.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (*Payload, error) {
	key := src.ID + "|" + src.DirectURL(f.cfg.SheetsAPIBase)
	if p, ok := f.cache.get(key); ok {
		f.logger.Debug("payload cache hit", "source", src.ID, "tier", p.Tier)
		return p, nil
	}

	var (
		p   *Payload
		err error
	)
	if src.Kind == KindSheetsAPI {
		p, err = f.fetchSheetsAPI(ctx, src)
	} else {
		p, err = f.fetchText(ctx, src)
	}
	if err != nil {
		return nil, err
	}
	p.Source = src.ID
	p.FetchedAt = time.Now()
	f.cache.put(key, p)
	return p, nil
}

func (f *Fetcher) fetchText(ctx context.Context, src Source) (*Payload, error) {
	target := src.DirectURL(f.cfg.SheetsAPIBase)
	if target == "" {
		return nil, &FetchExhaustedError{Source: src.ID, Last: ErrNoURL}
	}

	proxyFirst := f.preflight(ctx, src.ID, target)

	var (
		total int
		last  error
	)
	tryDirect := func() (*Payload, error) {
		body, n, err := f.retry(ctx, src.ID, TierDirect, target)
		total += n
		if err != nil {
			return nil, err
		}
		text, err := ingest.DecodeText(body, src.Encoding)
		if err != nil {
			return nil, err
		}
		return &Payload{URL: target, Tier: TierDirect, Text: text, Attempts: total}, nil
	}
	tryProxies := func() (*Payload, error) {
		text, n, err := f.viaProxies(ctx, src, target)
		total += n
		if err != nil {
			return nil, err
		}
		return &Payload{URL: target, Tier: TierProxy, Text: text, Attempts: total}, nil
	}

	if proxyFirst {
		p, err := tryProxies()
		if err == nil {
			return p, nil
		}
		last = err
		if p, err = tryDirect(); err == nil {
			return p, nil
		}
		last = err
	} else {
		p, err := tryDirect()
		if err == nil {
			return p, nil
		}
		last = err
		if IsBlocked(err) && len(f.cfg.Proxies) > 0 && ctx.Err() == nil {
			f.logger.Info("origin blocked, trying relays", "source", src.ID, "relays", len(f.cfg.Proxies))
			if p, err = tryProxies(); err == nil {
				return p, nil
			}
			last = err
		}
	}
	return nil, &FetchExhaustedError{Source: src.ID, Attempts: total, Last: last}
}

// preflight reports whether the relay tier should run before the direct
// one because a HEAD probe says the origin is blocked or unreachable.
func (f *Fetcher) preflight(ctx context.Context, srcID, target string) bool {
	if !f.cfg.Preflight || f.prober == nil || len(f.cfg.Proxies) == 0 {
		return false
	}
	status, err := f.prober.Probe(ctx, target)
	if err == nil && !blockedStatus(status) {
		return false
	}
	f.logger.Info("preflight: relays first", "source", srcID, "status", status, "error", err)
	return true
}

func (f *Fetcher) fetchSheetsAPI(ctx context.Context, src Source) (*Payload, error) {
	if src.APIKey == "" {
		return nil, &FetchExhaustedError{Source: src.ID, Last: ErrNoAPIKey}
	}
	base := src.DirectURL(f.cfg.SheetsAPIBase)
	if base == "" {
		return nil, &FetchExhaustedError{Source: src.ID, Last: ErrNoURL}
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	target := base + sep + "key=" + url.QueryEscape(src.APIKey)

	body, n, err := f.retry(ctx, src.ID, TierSheetsAPI, target)
	if err != nil {
		return nil, &FetchExhaustedError{Source: src.ID, Attempts: n, Last: err}
	}

	rows := gjson.GetBytes(body, "values").Array()
	if len(rows) == 0 {
		return nil, &FetchExhaustedError{Source: src.ID, Attempts: n,
			Last: &TransportError{URL: base, Tier: TierSheetsAPI, Err: ErrEmptyBody}}
	}
	values := make([][]string, len(rows))
	for i, row := range rows {
		cells := row.Array()
		values[i] = make([]string, len(cells))
		for j, c := range cells {
			values[i][j] = c.String()
		}
	}
	return &Payload{URL: base, Tier: TierSheetsAPI, Values: values, Attempts: n}, nil
}

// retry runs GET u up to cfg.Attempts times. After failed attempt k it
// waits 2^k × BackoffBase. It returns the body, the number of attempts
// made and the last error.
func (f *Fetcher) retry(ctx context.Context, srcID string, tier Tier, u string) ([]byte, int, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.Attempts; attempt++ {
		body, _, err := f.get(ctx, tier, u)
		if err == nil {
			f.logger.Debug("fetch attempt ok", "source", srcID, "tier", tier, "attempt", attempt, "bytes", len(body))
			return body, attempt, nil
		}
		lastErr = err
		f.logger.Warn("fetch attempt failed", "source", srcID, "tier", tier,
			"attempt", attempt, "of", f.cfg.Attempts, "error", err)

		if ctx.Err() != nil {
			return nil, attempt, lastErr
		}
		if attempt == f.cfg.Attempts {
			break
		}
		backoff := time.Duration(1<<uint(attempt)) * f.cfg.BackoffBase
		if err := f.wait(ctx, backoff); err != nil {
			return nil, attempt, lastErr
		}
	}
	return nil, f.cfg.Attempts, lastErr
}

// viaProxies tries each relay once and returns the unwrapped text of the
// first one that answers with content.
func (f *Fetcher) viaProxies(ctx context.Context, src Source, target string) (string, int, error) {
	var (
		lastErr error
		n       int
	)
	for _, tmpl := range f.cfg.Proxies {
		if ctx.Err() != nil {
			break
		}
		u := expandProxy(tmpl, target)
		n++
		body, hdr, err := f.get(ctx, TierProxy, u)
		if err == nil {
			var text string
			text, err = unwrapEnvelope(body, hdr.Get("Content-Type"), src.Encoding)
			if err == nil {
				f.logger.Info("relay fetch ok", "source", src.ID, "relay", tmpl)
				return text, n, nil
			}
			err = &TransportError{URL: u, Tier: TierProxy, Err: err}
		}
		lastErr = err
		f.logger.Warn("relay fetch failed", "source", src.ID, "relay", tmpl, "error", err)
	}
	if lastErr == nil {
		lastErr = errors.New("no relays configured")
	}
	return "", n, lastErr
}

// get performs one bounded GET. Any failure is a *TransportError.
func (f *Fetcher) get(ctx context.Context, tier Tier, u string) ([]byte, http.Header, error) {
	actx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	fail := func(status int, err error) ([]byte, http.Header, error) {
		if status == 0 && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s", ErrTimeout, f.cfg.Timeout)
		}
		return nil, nil, &TransportError{URL: u, Tier: tier, Status: status, Err: err}
	}

	req, err := http.NewRequestWithContext(actx, http.MethodGet, u, nil)
	if err != nil {
		return fail(0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "text/csv, text/plain, application/csv, application/json, */*")
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fail(0, fmt.Errorf("read body: %w", err))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fail(0, ErrEmptyBody)
	}
	return body, resp.Header, nil
}

func expandProxy(tmpl, target string) string {
	return strings.NewReplacer("{url}", url.QueryEscape(target), "{raw}", target).Replace(tmpl)
}

// unwrapEnvelope extracts the payload from a relay answer. JSON answers
// carry it in one of envelopeKeys; anything else is the payload itself.
func unwrapEnvelope(body []byte, contentType, encoding string) (string, error) {
	if !strings.Contains(strings.ToLower(contentType), "json") {
		return ingest.DecodeText(body, encoding)
	}
	if !gjson.ValidBytes(body) {
		return "", errors.New("relay returned invalid json")
	}
	for _, key := range envelopeKeys {
		r := gjson.GetBytes(body, key)
		if r.Type == gjson.String && strings.TrimSpace(r.Str) != "" {
			return r.Str, nil
		}
	}
	return "", ErrEmptyBody
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
