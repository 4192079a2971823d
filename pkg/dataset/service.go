// Package dataset owns the in-memory death records dataset: it loads it
// through the fetch chain with an ordered fallback across sources, serves
// queries over immutable snapshots and applies background portrait updates.
package dataset

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/ripdb/pkg/aggregate"
	"github.com/hazyhaar/ripdb/pkg/images"
	"github.com/hazyhaar/ripdb/pkg/ingest"
	"github.com/hazyhaar/ripdb/pkg/source"
)

// State of data availability.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Data source markers.
const (
	DataSourceAPI  = "api"
	DataSourceCSV  = "csv"
	DataSourceMock = "mock"
)

// DefaultSearchLimit caps Search results.
const DefaultSearchLimit = 10

var (
	// ErrDisposed is returned by Load and Reload after Dispose.
	ErrDisposed = errors.New("dataset service disposed")
	// ErrNoRecords means a source answered but yielded no usable row.
	ErrNoRecords = errors.New("no records")
	// ErrNoSources means the configuration lists no source at all.
	ErrNoSources = errors.New("no sources configured")
)

// Fetcher obtains raw payloads for a source.
type Fetcher interface {
	Fetch(ctx context.Context, src source.Source) (*source.Payload, error)
	ClearCache()
}

// Registry resolves effective source URLs and records fetch outcomes.
type Registry interface {
	GetURL(id string) (string, error)
	RecordFetch(id string, tier source.Tier, records int, fetchErr error) error
}

// Enricher resolves portraits in the background.
type Enricher interface {
	ResolveBatch(ctx context.Context, names []string, fn func(name string, img *images.Image)) error
	ClearCache()
}

// Config is the service configuration.
type Config struct {
	// Sources are tried in order; the first that yields records wins.
	Sources        []source.Source
	RejectLogLimit int
	SearchLimit    int
	// EnrichImages starts a portrait lookup after each non-mock load.
	EnrichImages bool
}

// Service is the dataset façade. Build it once with New, share it by
// reference and call Dispose on shutdown.
type Service struct {
	cfg        Config
	fetcher    Fetcher
	registry   Registry
	enricher   Enricher
	logger     *slog.Logger
	normalizer *ingest.Normalizer

	base   context.Context
	cancel context.CancelFunc
	loads  singleflight.Group

	mu         sync.RWMutex
	state      State
	loadErr    error
	dataSource string
	snap       *aggregate.Dataset
	gen        uint64
	loadedAt   time.Time
	records    int
	rejected   int
	imagesDone int
	enrichStop context.CancelFunc
	disposed   bool

	updates   chan update
	subMu     sync.Mutex
	subs      map[int]func(Event)
	nextSub   int
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates the service and starts its update writer. registry and
// enricher may be nil.
func New(cfg Config, fetcher Fetcher, registry Registry, enricher Enricher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:        cfg,
		fetcher:    fetcher,
		registry:   registry,
		enricher:   enricher,
		logger:     logger,
		normalizer: &ingest.Normalizer{},
		base:       base,
		cancel:     cancel,
		state:      StateIdle,
		snap:       emptyDataset(),
		updates:    make(chan update, 64),
		subs:       make(map[int]func(Event)),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Load fills the dataset once. It never leaves the service unusable: when
// every source fails the embedded mock dataset is installed and the error
// explaining it is returned. Calls after the first load return the
// outcome of that load; use Reload to fetch again. Concurrent calls share
// one run.
func (s *Service) Load(ctx context.Context) error {
	return s.do(ctx, false)
}

// Reload discards the dataset, the payload cache and the portrait cache,
// stops running enrichment, then loads again. A reload issued while a
// load is in flight waits for that load instead of starting another.
func (s *Service) Reload(ctx context.Context) error {
	return s.do(ctx, true)
}

func (s *Service) do(ctx context.Context, force bool) error {
	if s.base.Err() != nil {
		return ErrDisposed
	}
	ch := s.loads.DoChan("load", func() (any, error) {
		s.mu.RLock()
		state, lastErr := s.state, s.loadErr
		s.mu.RUnlock()
		if !force && state != StateIdle {
			return nil, lastErr
		}
		if force {
			s.discard()
		}
		return nil, s.load(s.base)
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose stops enrichment, in-flight loads and the update writer.
// Subscribers receive nothing afterwards.
func (s *Service) Dispose() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.disposed = true
		s.mu.Unlock()
		s.cancel()
		close(s.done)
		s.wg.Wait()
		s.logger.Debug("dataset service disposed")
	})
}

// discard drops the current snapshot and every cache in front of it.
func (s *Service) discard() {
	s.mu.Lock()
	if s.enrichStop != nil {
		s.enrichStop()
		s.enrichStop = nil
	}
	s.gen++
	s.snap = emptyDataset()
	s.loadErr = nil
	s.dataSource = ""
	s.records, s.rejected, s.imagesDone = 0, 0, 0
	s.mu.Unlock()

	if s.fetcher != nil {
		s.fetcher.ClearCache()
	}
	if s.enricher != nil {
		s.enricher.ClearCache()
	}
}

func emptyDataset() *aggregate.Dataset {
	return &aggregate.Dataset{Actors: map[string]*aggregate.Actor{}}
}
