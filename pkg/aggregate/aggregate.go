// Package aggregate folds normalized death records into actor-centric
// entities and global statistics.
package aggregate

import (
	"strconv"

	"github.com/hazyhaar/ripdb/pkg/ingest"
)

// DeathEvent is one on-screen death of an actor.
type DeathEvent struct {
	ID               string           `json:"id"`
	MovieTitle       string           `json:"movie_title"`
	Character        string           `json:"character"`
	Year             int              `json:"year"`
	ReleaseDate      string           `json:"release_date"`
	Director         string           `json:"director"`
	Genre            string           `json:"genre"`
	PlotSummary      string           `json:"plot_summary"`
	PosterURL        string           `json:"poster_url"`
	DeathDescription string           `json:"death_description"`
	DeathType        ingest.DeathType `json:"death_type"`
	IMDbRating       *float64         `json:"imdb_rating,omitempty"`
	Budget           string           `json:"budget,omitempty"`
	BoxOffice        string           `json:"box_office,omitempty"`
}

// Headshot sources.
const (
	HeadshotPlaceholder = "placeholder"
	HeadshotWikipedia   = "wikipedia"
)

// Actor groups every death of one identity (the slug of the name).
type Actor struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	HeadshotURL    string       `json:"headshot_url"`
	HeadshotSource string       `json:"headshot_source"`
	Bio            string       `json:"bio"`
	DeathCount     int          `json:"death_count"`
	Deaths         []DeathEvent `json:"deaths"`
	TotalBoxOffice string       `json:"total_box_office,omitempty"`
	AwardsCount    int          `json:"awards_count"`
}

// Clone returns a deep copy safe to hand out of a shared snapshot.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}
	c := *a
	c.Deaths = make([]DeathEvent, len(a.Deaths))
	for i, d := range a.Deaths {
		if d.IMDbRating != nil {
			r := *d.IMDbRating
			d.IMDbRating = &r
		}
		c.Deaths[i] = d
	}
	return &c
}

// Dataset is the result of one aggregation: actors by id, their first-seen
// order and the global statistics.
type Dataset struct {
	Actors map[string]*Actor
	Order  []string
	Stats  Stats
}

// Len is the number of actors.
func (d *Dataset) Len() int { return len(d.Order) }

// HeadshotFunc returns the placeholder portrait URL for an actor name.
type HeadshotFunc func(name string) string

// Aggregate groups records by actor slug in a single pass. Within an actor
// the first record for a movie title wins; later ones are dropped. The
// output depends only on the input order and content.
func Aggregate(records []*ingest.DeathRecord, headshot HeadshotFunc) *Dataset {
	ds := &Dataset{Actors: make(map[string]*Actor)}
	seen := make(map[string]map[string]bool)

	for _, rec := range records {
		id := ingest.ActorID(rec.ActorName)
		if id == "" {
			continue
		}
		a, ok := ds.Actors[id]
		if !ok {
			a = &Actor{ID: id, Name: rec.ActorName, HeadshotSource: HeadshotPlaceholder}
			if headshot != nil {
				a.HeadshotURL = headshot(rec.ActorName)
			}
			ds.Actors[id] = a
			ds.Order = append(ds.Order, id)
			seen[id] = make(map[string]bool)
		}
		if seen[id][rec.MovieTitle] {
			continue
		}
		seen[id][rec.MovieTitle] = true
		a.Deaths = append(a.Deaths, newEvent(rec))
	}

	for _, id := range ds.Order {
		a := ds.Actors[id]
		a.DeathCount = len(a.Deaths)
		a.Bio = Bio(a.Name, a.Deaths)
		a.TotalBoxOffice = TotalBoxOffice(a.Deaths)
		a.AwardsCount = Awards(a.Deaths)
	}
	ds.Stats = computeStats(ds)
	return ds
}

func newEvent(rec *ingest.DeathRecord) DeathEvent {
	poster := rec.PosterURL
	if poster == "" {
		poster = PosterPlaceholder(rec.MovieTitle, rec.Year)
	}
	return DeathEvent{
		ID:               rec.EventID(),
		MovieTitle:       rec.MovieTitle,
		Character:        rec.CharacterName,
		Year:             rec.Year,
		ReleaseDate:      strconv.Itoa(rec.Year) + "-01-01",
		Director:         rec.Director,
		Genre:            rec.Genre,
		PlotSummary:      PlotSummary(rec.Genre, rec.Year, rec.CharacterName),
		PosterURL:        poster,
		DeathDescription: rec.DeathDescription,
		DeathType:        rec.DeathType,
		IMDbRating:       rec.IMDbRating,
		Budget:           rec.Budget,
		BoxOffice:        rec.BoxOffice,
	}
}

// Awards is a heuristic, not real award data:
// floor(1.5 × deaths rated above 8) + floor(deaths / 5).
func Awards(deaths []DeathEvent) int {
	high := 0
	for _, d := range deaths {
		if d.IMDbRating != nil && *d.IMDbRating > 8 {
			high++
		}
	}
	return high*3/2 + len(deaths)/5
}
