package dataset

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/hazyhaar/ripdb/pkg/aggregate"
	"github.com/hazyhaar/ripdb/pkg/ingest"
)

// Search returns the names of actors whose name contains query, ignoring
// case, in first-seen order. An empty query matches nothing.
func (s *Service) Search(query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for _, id := range s.snap.Order {
		a := s.snap.Actors[id]
		if strings.Contains(strings.ToLower(a.Name), q) {
			names = append(names, a.Name)
			if len(names) == s.cfg.SearchLimit {
				break
			}
		}
	}
	return names
}

// Actor returns a copy of the actor whose slug matches nameOrID, or nil.
func (s *Service) Actor(nameOrID string) *aggregate.Actor {
	id := ingest.ActorID(nameOrID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Actors[id].Clone()
}

// Actors returns copies of every actor in first-seen order.
func (s *Service) Actors() []*aggregate.Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*aggregate.Actor, 0, len(s.snap.Order))
	for _, id := range s.snap.Order {
		out = append(out, s.snap.Actors[id].Clone())
	}
	return out
}

func (s *Service) Stats() aggregate.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Stats.Clone()
}

// RandomActors returns up to n distinct actor names in random order.
func (s *Service) RandomActors(n int) []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.snap.Order))
	for _, id := range s.snap.Order {
		names = append(names, s.snap.Actors[id].Name)
	}
	s.mu.RUnlock()

	rand.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
	if n < len(names) {
		names = names[:max(n, 0)]
	}
	return names
}

// Filters narrow AdvancedSearch. Every zero field matches everything.
type Filters struct {
	Actor     string `json:"actor,omitempty"`
	Movie     string `json:"movie,omitempty"`
	Genre     string `json:"genre,omitempty"`
	Director  string `json:"director,omitempty"`
	YearStart int    `json:"year_start,omitempty"`
	YearEnd   int    `json:"year_end,omitempty"`
	DeathType string `json:"death_type,omitempty"`
}

// Match is one death event that satisfied every filter.
type Match struct {
	ActorID   string               `json:"actor_id"`
	ActorName string               `json:"actor_name"`
	Death     aggregate.DeathEvent `json:"death"`
}

// AdvancedSearch returns every death matching all filters, actors in
// first-seen order and deaths in input order.
func (s *Service) AdvancedSearch(f Filters) []Match {
	actor := strings.ToLower(strings.TrimSpace(f.Actor))
	movie := strings.ToLower(strings.TrimSpace(f.Movie))
	genre := strings.ToLower(strings.TrimSpace(f.Genre))
	director := strings.ToLower(strings.TrimSpace(f.Director))
	deathType := strings.TrimSpace(f.DeathType)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Match
	for _, id := range s.snap.Order {
		a := s.snap.Actors[id]
		if actor != "" && !strings.Contains(strings.ToLower(a.Name), actor) {
			continue
		}
		for _, d := range a.Deaths {
			switch {
			case movie != "" && !strings.Contains(strings.ToLower(d.MovieTitle), movie),
				genre != "" && !strings.Contains(strings.ToLower(d.Genre), genre),
				director != "" && !strings.Contains(strings.ToLower(d.Director), director),
				f.YearStart != 0 && d.Year < f.YearStart,
				f.YearEnd != 0 && d.Year > f.YearEnd,
				deathType != "" && !strings.EqualFold(string(d.DeathType), deathType):
				continue
			}
			if d.IMDbRating != nil {
				r := *d.IMDbRating
				d.IMDbRating = &r
			}
			out = append(out, Match{ActorID: a.ID, ActorName: a.Name, Death: d})
		}
	}
	return out
}

// ImageProgress reports how many portrait lookups of the current
// snapshot have completed.
type ImageProgress struct {
	Cached   int `json:"cached"`
	Total    int `json:"total"`
	Progress int `json:"progress"`
}

// Status is a point-in-time view of the service.
type Status struct {
	State      State         `json:"state"`
	Loading    bool          `json:"loading"`
	Error      string        `json:"error,omitempty"`
	DataSource string        `json:"data_source,omitempty"`
	Generation uint64        `json:"generation"`
	Actors     int           `json:"actors"`
	Records    int           `json:"records"`
	Rejected   int           `json:"rejected"`
	LoadedAt   time.Time     `json:"loaded_at,omitzero"`
	Images     ImageProgress `json:"images"`
}

func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		State:      s.state,
		Loading:    s.state == StateLoading,
		DataSource: s.dataSource,
		Generation: s.gen,
		Actors:     s.snap.Len(),
		Records:    s.records,
		Rejected:   s.rejected,
		LoadedAt:   s.loadedAt,
	}
	if s.loadErr != nil {
		st.Error = s.loadErr.Error()
	}
	if s.cfg.EnrichImages && s.enricher != nil && s.dataSource != DataSourceMock {
		st.Images.Total = s.snap.Len()
		st.Images.Cached = s.imagesDone
		if st.Images.Total > 0 {
			st.Images.Progress = st.Images.Cached * 100 / st.Images.Total
		}
	}
	return st
}
