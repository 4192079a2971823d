package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/ripdb/pkg/aggregate"
	"github.com/hazyhaar/ripdb/pkg/dataset"
	"github.com/hazyhaar/ripdb/pkg/kit"
	"github.com/hazyhaar/ripdb/pkg/source"
)

// Dataset is the query surface served over HTTP, WebSocket and MCP.
// *dataset.Service implements it.
type Dataset interface {
	Search(query string) []string
	Actor(nameOrID string) *aggregate.Actor
	Actors() []*aggregate.Actor
	AdvancedSearch(f dataset.Filters) []dataset.Match
	RandomActors(n int) []string
	Stats() aggregate.Stats
	Status() dataset.Status
	Reload(ctx context.Context) error
	Subscribe(fn func(dataset.Event)) (unsubscribe func())
}

// SourceLister exposes the source registry. *source.Registry implements it.
type SourceLister interface {
	ListSources() ([]source.Entry, error)
}

const (
	defaultRandom = 5
	maxRandom     = 50
)

var (
	errNotFound   = errors.New("actor not found")
	errBadRequest = errors.New("bad request")
	errNoRegistry = errors.New("source registry disabled")
)

// Shared request/response types used by both HTTP and MCP transports.

type searchReq struct {
	Query string
}

type searchResponse struct {
	Query   string   `json:"query"`
	Results []string `json:"results"`
}

type actorReq struct {
	NameOrID string
}

type randomReq struct {
	N int
}

type namesResponse struct {
	Names []string `json:"names"`
}

type actorsResponse struct {
	Count  int                `json:"count"`
	Actors []*aggregate.Actor `json:"actors"`
}

type deathsResponse struct {
	Count   int             `json:"count"`
	Matches []dataset.Match `json:"matches"`
}

type reloadResponse struct {
	Status  dataset.Status `json:"status"`
	Warning string         `json:"warning,omitempty"`
}

type sourcesResponse struct {
	Sources []source.Entry `json:"sources"`
}

// endpoints holds every kit.Endpoint backed by the dataset, each wrapped
// with request ids and logging.
type endpoints struct {
	search      kit.Endpoint
	actor       kit.Endpoint
	actors      kit.Endpoint
	random      kit.Endpoint
	deaths      kit.Endpoint
	stats       kit.Endpoint
	status      kit.Endpoint
	reload      kit.Endpoint
	listSources kit.Endpoint
}

func newEndpoints(ds Dataset, sources SourceLister, logger *slog.Logger) *endpoints {
	wrap := func(name string, ep kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.RequestID(), kit.Logging(logger, name))(ep)
	}
	return &endpoints{
		search:      wrap("search_actors", searchEndpoint(ds)),
		actor:       wrap("get_actor", actorEndpoint(ds)),
		actors:      wrap("list_actors", actorsEndpoint(ds)),
		random:      wrap("random_actors", randomEndpoint(ds)),
		deaths:      wrap("advanced_search", deathsEndpoint(ds)),
		stats:       wrap("get_stats", statsEndpoint(ds)),
		status:      wrap("get_status", statusEndpoint(ds)),
		reload:      wrap("reload_dataset", reloadEndpoint(ds)),
		listSources: wrap("list_sources", sourcesEndpoint(sources)),
	}
}

func searchEndpoint(ds Dataset) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*searchReq)
		results := ds.Search(req.Query)
		if results == nil {
			results = []string{}
		}
		return searchResponse{Query: req.Query, Results: results}, nil
	}
}

func actorEndpoint(ds Dataset) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*actorReq)
		if req.NameOrID == "" {
			return nil, fmt.Errorf("%w: missing actor name", errBadRequest)
		}
		a := ds.Actor(req.NameOrID)
		if a == nil {
			return nil, fmt.Errorf("%w: %s", errNotFound, req.NameOrID)
		}
		return a, nil
	}
}

func actorsEndpoint(ds Dataset) kit.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		actors := ds.Actors()
		return actorsResponse{Count: len(actors), Actors: actors}, nil
	}
}

func randomEndpoint(ds Dataset) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*randomReq)
		n := req.N
		if n == 0 {
			n = defaultRandom
		}
		if n < 0 || n > maxRandom {
			return nil, fmt.Errorf("%w: n must be between 1 and %d, got %d", errBadRequest, maxRandom, n)
		}
		return namesResponse{Names: ds.RandomActors(n)}, nil
	}
}

func deathsEndpoint(ds Dataset) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		f := request.(*dataset.Filters)
		if f.YearStart != 0 && f.YearEnd != 0 && f.YearStart > f.YearEnd {
			return nil, fmt.Errorf("%w: year_start %d is after year_end %d", errBadRequest, f.YearStart, f.YearEnd)
		}
		matches := ds.AdvancedSearch(*f)
		if matches == nil {
			matches = []dataset.Match{}
		}
		return deathsResponse{Count: len(matches), Matches: matches}, nil
	}
}

func statsEndpoint(ds Dataset) kit.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		return ds.Stats(), nil
	}
}

func statusEndpoint(ds Dataset) kit.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		return ds.Status(), nil
	}
}

// reloadEndpoint reports a degraded reload as a warning: the dataset is
// still served, from the mock if need be. Only a canceled reload fails.
func reloadEndpoint(ds Dataset) kit.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		err := ds.Reload(ctx)
		if err != nil && (ctx.Err() != nil || errors.Is(err, dataset.ErrDisposed)) {
			return nil, err
		}
		resp := reloadResponse{Status: ds.Status()}
		if err != nil {
			resp.Warning = err.Error()
		}
		return resp, nil
	}
}

func sourcesEndpoint(sources SourceLister) kit.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		if sources == nil {
			return nil, errNoRegistry
		}
		entries, err := sources.ListSources()
		if err != nil {
			return nil, fmt.Errorf("list sources: %w", err)
		}
		return sourcesResponse{Sources: entries}, nil
	}
}
