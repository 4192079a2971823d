package dataset

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/ripdb/pkg/aggregate"
	"github.com/hazyhaar/ripdb/pkg/images"
	"github.com/hazyhaar/ripdb/pkg/ingest"
	"github.com/hazyhaar/ripdb/pkg/source"
)

//go:embed mock.csv
var mockCSV string

// load runs the source fallback chain and installs the resulting snapshot.
func (s *Service) load(ctx context.Context) error {
	log := s.logger.With("run", uuid.NewString())
	s.setState(StateLoading)
	log.Info("load started", "sources", len(s.cfg.Sources))
	start := time.Now()

	var failures []error
	for _, src := range s.cfg.Sources {
		if ctx.Err() != nil {
			failures = append(failures, ctx.Err())
			break
		}
		src = s.effective(src, log)
		res, p, err := s.ingest(ctx, src, log)
		s.recordFetch(src, p, res, err, log)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", src.ID, err))
			log.Warn("source failed", "source", src.ID, "error", err)
			continue
		}

		ds := aggregate.Aggregate(res.Records, images.Placeholder)
		gen := s.install(ds, src.DataSource(), StateReady, nil, res)
		log.Info("dataset ready",
			"source", src.ID,
			"tier", p.Tier,
			"cached", p.Cached,
			"actors", ds.Len(),
			"records", len(res.Records),
			"rejected", res.Rejected,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		s.startEnrichment(gen, ds, log)
		return nil
	}

	loadErr := ErrNoSources
	if len(failures) > 0 {
		loadErr = fmt.Errorf("all sources failed: %w", errors.Join(failures...))
	}
	ds, res := s.mockDataset(log)
	s.install(ds, DataSourceMock, StateFailed, loadErr, res)
	log.Error("serving mock dataset", "error", loadErr, "actors", ds.Len())
	return loadErr
}

// effective swaps in the URL the registry holds for src, if any.
func (s *Service) effective(src source.Source, log *slog.Logger) source.Source {
	if s.registry == nil {
		return src
	}
	u, err := s.registry.GetURL(src.ID)
	if err != nil {
		if !source.IsNotFound(err) {
			log.Warn("registry lookup failed", "source", src.ID, "error", err)
		}
		return src
	}
	if u != "" {
		src.URL = u
	}
	return src
}

func (s *Service) ingest(ctx context.Context, src source.Source, log *slog.Logger) (*ingest.Result, *source.Payload, error) {
	if s.fetcher == nil {
		return nil, nil, errors.New("no fetcher")
	}
	p, err := s.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	res, err := ingest.Records(p.Table(), ingest.Options{
		Columns:        src.Columns,
		RejectLogLimit: s.cfg.RejectLogLimit,
		Normalizer:     s.normalizer,
		Logger:         log.With("source", src.ID),
	})
	if err != nil {
		return nil, p, err
	}
	if len(res.Records) == 0 {
		return res, p, ErrNoRecords
	}
	return res, p, nil
}

func (s *Service) recordFetch(src source.Source, p *source.Payload, res *ingest.Result, fetchErr error, log *slog.Logger) {
	if s.registry == nil {
		return
	}
	var (
		tier source.Tier
		n    int
	)
	if p != nil {
		tier = p.Tier
	}
	if res != nil {
		n = len(res.Records)
	}
	if err := s.registry.RecordFetch(src.ID, tier, n, fetchErr); err != nil {
		log.Warn("registry update failed", "source", src.ID, "error", err)
	}
}

// mockDataset builds the embedded fallback through the regular pipeline.
func (s *Service) mockDataset(log *slog.Logger) (*aggregate.Dataset, *ingest.Result) {
	res, err := ingest.Records(ingest.ParseTable(mockCSV), ingest.Options{
		Normalizer: s.normalizer,
		Logger:     log.With("source", DataSourceMock),
	})
	if err != nil {
		log.Error("mock dataset unusable", "error", err)
		return emptyDataset(), &ingest.Result{}
	}
	return aggregate.Aggregate(res.Records, images.Placeholder), res
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// install swaps in a freshly built snapshot and announces it.
func (s *Service) install(ds *aggregate.Dataset, dataSource string, st State, loadErr error, res *ingest.Result) uint64 {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.snap = ds
	s.state = st
	s.loadErr = loadErr
	s.dataSource = dataSource
	s.loadedAt = time.Now()
	s.records, s.rejected = len(res.Records), res.Rejected
	s.imagesDone = 0
	s.mu.Unlock()

	s.send(update{event: Event{
		Type:       EventLoaded,
		Generation: gen,
		DataSource: dataSource,
		State:      st,
		Actors:     ds.Len(),
	}})
	return gen
}

// startEnrichment looks portraits up for every actor of generation gen.
// Results travel to the writer goroutine, which drops them once the
// generation is stale.
func (s *Service) startEnrichment(gen uint64, ds *aggregate.Dataset, log *slog.Logger) {
	if s.enricher == nil || !s.cfg.EnrichImages || ds.Len() == 0 {
		return
	}
	names := make([]string, 0, ds.Len())
	for _, id := range ds.Order {
		names = append(names, ds.Actors[id].Name)
	}

	ctx, cancel := context.WithCancel(s.base)
	s.mu.Lock()
	if s.gen != gen || s.disposed {
		s.mu.Unlock()
		cancel()
		return
	}
	if s.enrichStop != nil {
		s.enrichStop()
	}
	s.enrichStop = cancel
	// Add under mu: once Dispose has set disposed, no Add can race its Wait.
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer cancel()
		err := s.enricher.ResolveBatch(ctx, names, func(name string, img *images.Image) {
			s.send(update{gen: gen, actorID: ingest.ActorID(name), image: img, patch: true})
		})
		if err != nil && ctx.Err() == nil {
			log.Warn("portrait enrichment stopped", "error", err)
			return
		}
		log.Debug("portrait enrichment finished", "actors", len(names), "canceled", ctx.Err() != nil)
	}()
}
