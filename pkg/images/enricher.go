// Package images resolves actor portraits from Wikipedia in the
// background, with a deterministic placeholder for the meantime.
package images

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultAPIBase    = "https://en.wikipedia.org/w/api.php"
	DefaultRESTBase   = "https://en.wikipedia.org/api/rest_v1"
	DefaultBatchSize  = 10
	DefaultBatchDelay = time.Second
	DefaultTimeout    = 10 * time.Second

	thumbWidth = 400
	userAgent  = "RIPDB/1.0 (actor portrait lookup)"
)

// Image is a resolved portrait.
type Image struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Source string `json:"source"`
}

// Config tunes the enricher. Zero values take the defaults above; a
// negative BatchDelay removes the pause between batches.
type Config struct {
	APIBase    string
	RESTBase   string
	BatchSize  int
	BatchDelay time.Duration
	Timeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.APIBase == "" {
		c.APIBase = DefaultAPIBase
	}
	if c.RESTBase == "" {
		c.RESTBase = DefaultRESTBase
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	} else if c.BatchDelay == 0 {
		c.BatchDelay = DefaultBatchDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// CacheStats counts cached lookups: Hits found an image, Misses did not.
type CacheStats struct {
	Size   int `json:"size"`
	Hits   int `json:"hits"`
	Misses int `json:"misses"`
}

// Enricher looks portraits up on Wikipedia. Results, including "nothing
// found", are cached per name for the life of the process or until
// ClearCache. Concurrent lookups of one name share a single request chain.
type Enricher struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	group  singleflight.Group

	mu    sync.RWMutex
	cache map[string]*Image
	epoch uint64
}

// New creates an Enricher. client may be nil.
func New(cfg Config, client *http.Client, logger *slog.Logger) *Enricher {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		cfg:    cfg.withDefaults(),
		client: client,
		logger: logger,
		cache:  make(map[string]*Image),
	}
}

// Cached returns the cached result for name. ok is false when name was
// never looked up; a nil image with ok true means nothing was found.
func (e *Enricher) Cached(name string) (img *Image, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	img, ok = e.cache[name]
	return img, ok
}

// ClearCache forgets every result. Lookups in flight are not cached.
func (e *Enricher) ClearCache() {
	e.mu.Lock()
	clear(e.cache)
	e.epoch++
	e.mu.Unlock()
	e.logger.Debug("image cache cleared")
}

func (e *Enricher) CacheStats() CacheStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := CacheStats{Size: len(e.cache)}
	for _, img := range e.cache {
		if img != nil {
			st.Hits++
		} else {
			st.Misses++
		}
	}
	return st
}

// Resolve returns the portrait of name, or nil when none could be found.
// Lookup failures are logged and cached as "nothing found"; the error is
// only non-nil when ctx ends first.
func (e *Enricher) Resolve(ctx context.Context, name string) (*Image, error) {
	if img, ok := e.Cached(name); ok {
		return img, nil
	}

	e.mu.RLock()
	epoch := e.epoch
	e.mu.RUnlock()

	v, err, _ := e.group.Do(name, func() (any, error) {
		img, err := e.lookup(ctx, name)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			e.logger.Debug("portrait lookup failed", "actor", name, "error", err)
			img = nil
		}
		e.mu.Lock()
		if e.epoch == epoch {
			e.cache[name] = img
		}
		e.mu.Unlock()
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Image), nil
}

// ResolveBatch resolves names in batches of Config.BatchSize, with every
// lookup of a batch running concurrently and Config.BatchDelay between
// batches. fn is called from several goroutines as results arrive.
func (e *Enricher) ResolveBatch(ctx context.Context, names []string, fn func(name string, img *Image)) error {
	size := e.cfg.BatchSize
	for start := 0; start < len(names); start += size {
		if start > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.BatchDelay):
			}
		}

		batch := names[start:min(start+size, len(names))]
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(size)
		for _, name := range batch {
			g.Go(func() error {
				img, err := e.Resolve(gctx, name)
				if err != nil {
					return err
				}
				if fn != nil {
					fn(name, img)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		e.logger.Debug("portrait batch done", "done", start+len(batch), "total", len(names))
	}
	return nil
}

// lookup finds the best matching page then tries each image strategy in
// turn. (nil, nil) means the page or its image does not exist.
func (e *Enricher) lookup(ctx context.Context, name string) (*Image, error) {
	title, err := e.search(ctx, name)
	if err != nil || title == "" {
		return nil, err
	}

	strategies := []struct {
		name string
		fn   func(context.Context, string) (*Image, error)
	}{
		{"summary", e.summaryThumbnail},
		{"pageimages", e.pageImagesThumbnail},
		{"images", e.imageListing},
	}
	for _, s := range strategies {
		img, err := s.fn(ctx, title)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Debug("portrait strategy failed", "actor", name, "strategy", s.name, "error", err)
			continue
		}
		if img != nil {
			img.Source = "wikipedia"
			return img, nil
		}
	}
	return nil, nil
}

var actingKeywords = []string{"actor", "actress", "film", "movie"}

func (e *Enricher) search(ctx context.Context, name string) (string, error) {
	body, err := e.query(ctx, url.Values{"list": {"search"}, "srsearch": {name}})
	if err != nil {
		return "", err
	}
	hits := gjson.GetBytes(body, "query.search").Array()
	if len(hits) == 0 {
		return "", nil
	}
	for _, h := range hits {
		snippet := strings.ToLower(h.Get("snippet").String())
		for _, kw := range actingKeywords {
			if strings.Contains(snippet, kw) {
				return h.Get("title").String(), nil
			}
		}
	}
	return hits[0].Get("title").String(), nil
}

var thumbSizeRe = regexp.MustCompile(`/\d+px-`)

func (e *Enricher) summaryThumbnail(ctx context.Context, title string) (*Image, error) {
	u := strings.TrimRight(e.cfg.RESTBase, "/") + "/page/summary/" + url.PathEscape(title)
	body, err := e.get(ctx, u)
	if err != nil {
		return nil, err
	}
	thumb := gjson.GetBytes(body, "thumbnail")
	src := thumb.Get("source").String()
	if src == "" {
		return nil, nil
	}
	pageTitle := gjson.GetBytes(body, "title").String()
	if pageTitle == "" {
		pageTitle = title
	}
	return &Image{
		URL:    thumbSizeRe.ReplaceAllString(src, fmt.Sprintf("/%dpx-", thumbWidth)),
		Title:  pageTitle,
		Width:  intOr(thumb.Get("width"), thumbWidth),
		Height: intOr(thumb.Get("height"), thumbWidth),
	}, nil
}

func (e *Enricher) pageImagesThumbnail(ctx context.Context, title string) (*Image, error) {
	body, err := e.query(ctx, url.Values{
		"prop":        {"pageimages"},
		"piprop":      {"thumbnail"},
		"pithumbsize": {fmt.Sprint(thumbWidth)},
		"titles":      {title},
	})
	if err != nil {
		return nil, err
	}
	thumb := firstPage(body).Get("thumbnail")
	src := thumb.Get("source").String()
	if src == "" {
		return nil, nil
	}
	return &Image{
		URL:    src,
		Title:  title,
		Width:  intOr(thumb.Get("width"), thumbWidth),
		Height: intOr(thumb.Get("height"), thumbWidth),
	}, nil
}

func (e *Enricher) imageListing(ctx context.Context, title string) (*Image, error) {
	body, err := e.query(ctx, url.Values{"prop": {"images"}, "titles": {title}})
	if err != nil {
		return nil, err
	}
	for _, f := range firstPage(body).Get("images").Array() {
		file := f.Get("title").String()
		if !usableImage(file) {
			continue
		}
		src, err := e.imageURL(ctx, file)
		if err != nil {
			return nil, err
		}
		if src != "" {
			return &Image{URL: src, Title: title, Width: thumbWidth, Height: thumbWidth}, nil
		}
	}
	return nil, nil
}

func (e *Enricher) imageURL(ctx context.Context, file string) (string, error) {
	body, err := e.query(ctx, url.Values{
		"prop":       {"imageinfo"},
		"iiprop":     {"url"},
		"iiurlwidth": {fmt.Sprint(thumbWidth)},
		"titles":     {file},
	})
	if err != nil {
		return "", err
	}
	info := firstPage(body).Get("imageinfo.0")
	if u := info.Get("thumburl").String(); u != "" {
		return u, nil
	}
	return info.Get("url").String(), nil
}

func usableImage(file string) bool {
	f := strings.ToLower(file)
	if f == "" || strings.Contains(f, "commons-logo") || strings.Contains(f, "edit-icon") {
		return false
	}
	return strings.Contains(f, ".jpg") || strings.Contains(f, ".jpeg") || strings.Contains(f, ".png")
}

// firstPage returns the first member of query.pages, which is keyed by
// page id.
func firstPage(body []byte) gjson.Result {
	var page gjson.Result
	gjson.GetBytes(body, "query.pages").ForEach(func(_, v gjson.Result) bool {
		page = v
		return false
	})
	return page
}

func intOr(r gjson.Result, def int) int {
	if v := r.Int(); v > 0 {
		return int(v)
	}
	return def
}

func (e *Enricher) query(ctx context.Context, params url.Values) ([]byte, error) {
	params.Set("action", "query")
	params.Set("format", "json")
	return e.get(ctx, e.cfg.APIBase+"?"+params.Encode())
}

func (e *Enricher) get(ctx context.Context, u string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, u)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid json from %s", u)
	}
	return body, nil
}
