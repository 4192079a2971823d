package aggregate

import (
	"sort"

	"github.com/hazyhaar/ripdb/pkg/ingest"
)

const (
	topGenres = 5
	topActors = 10
)

// Stats summarizes a dataset. Counts are over deduplicated deaths.
type Stats struct {
	TotalDeaths int          `json:"total_deaths"`
	TotalActors int          `json:"total_actors"`
	TotalMovies int          `json:"total_movies"`
	TopGenres   []GenreCount `json:"top_genres"`
	YearRange   YearRange    `json:"year_range"`
	TopActors   []ActorCount `json:"top_actors"`
}

type GenreCount struct {
	Genre string `json:"genre"`
	Count int    `json:"count"`
}

type ActorCount struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DeathCount int    `json:"death_count"`
}

type YearRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Clone returns a copy that shares no slices with s.
func (s Stats) Clone() Stats {
	s.TopGenres = append([]GenreCount(nil), s.TopGenres...)
	s.TopActors = append([]ActorCount(nil), s.TopActors...)
	return s
}

func computeStats(ds *Dataset) Stats {
	st := Stats{TotalActors: len(ds.Order)}
	movies := make(map[string]bool)
	genres := make([]GenreCount, 0)
	genreIdx := make(map[string]int)
	actors := make([]ActorCount, 0, len(ds.Order))

	for _, id := range ds.Order {
		a := ds.Actors[id]
		actors = append(actors, ActorCount{ID: a.ID, Name: a.Name, DeathCount: a.DeathCount})
		for _, d := range a.Deaths {
			st.TotalDeaths++
			movies[d.MovieTitle] = true

			g := ingest.PrimaryGenre(d.Genre)
			if i, ok := genreIdx[g]; ok {
				genres[i].Count++
			} else {
				genreIdx[g] = len(genres)
				genres = append(genres, GenreCount{Genre: g, Count: 1})
			}

			if st.YearRange.Min == 0 || d.Year < st.YearRange.Min {
				st.YearRange.Min = d.Year
			}
			if d.Year > st.YearRange.Max {
				st.YearRange.Max = d.Year
			}
		}
	}
	st.TotalMovies = len(movies)

	sort.SliceStable(genres, func(i, j int) bool { return genres[i].Count > genres[j].Count })
	if len(genres) > topGenres {
		genres = genres[:topGenres]
	}
	st.TopGenres = genres

	sort.SliceStable(actors, func(i, j int) bool { return actors[i].DeathCount > actors[j].DeathCount })
	if len(actors) > topActors {
		actors = actors[:topActors]
	}
	st.TopActors = actors
	return st
}
