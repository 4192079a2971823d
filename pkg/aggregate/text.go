package aggregate

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/ripdb/pkg/ingest"
)

// Bio writes a short deterministic biography from the actor's deaths: how
// many there are, which primary genres they span and over how many years.
func Bio(name string, deaths []DeathEvent) string {
	var genres []string
	seen := make(map[string]bool)
	minYear, maxYear := 0, 0
	for i, d := range deaths {
		g := ingest.PrimaryGenre(d.Genre)
		if g != "" && !seen[g] {
			seen[g] = true
			genres = append(genres, g)
		}
		if i == 0 || d.Year < minYear {
			minYear = d.Year
		}
		if d.Year > maxYear {
			maxYear = d.Year
		}
	}

	career := "distinguished"
	if span := maxYear - minYear; len(deaths) > 1 && span > 0 {
		career = fmt.Sprintf("%d-year", span)
	}
	genreText := "drama"
	switch len(genres) {
	case 0:
	case 1:
		genreText = strings.ToLower(genres[0])
	default:
		genreText = strings.ToLower(genres[0]) + " and " + strings.ToLower(genres[1])
	}
	plural := "s"
	if len(deaths) == 1 {
		plural = ""
	}

	return fmt.Sprintf("%s has met %d memorable on-screen end%s over a %s career, "+
		"most often in %s films. Each final scene is part of what audiences remember the performance for.",
		name, len(deaths), plural, career, genreText)
}

// PlotSummary returns a stock synopsis chosen from the genre.
func PlotSummary(genre string, year int, character string) string {
	g := strings.ToLower(genre)
	switch {
	case strings.Contains(g, "horror"):
		return fmt.Sprintf("A %d horror film in which %s confronts forces beyond understanding, "+
			"building toward a climax that exacts a terrible price.", year, character)
	case strings.Contains(g, "action"):
		return fmt.Sprintf("A %d action film that throws %s against impossible odds, "+
			"one confrontation after another, until heroism meets its cost.", year, character)
	case strings.Contains(g, "drama"):
		return fmt.Sprintf("A %d drama following %s through strained loyalties and hard choices "+
			"to an ending that lingers after the credits.", year, character)
	}
	primary := strings.ToLower(ingest.PrimaryGenre(genre))
	if primary == "" {
		primary = "feature"
	}
	return fmt.Sprintf("A %d %s film featuring %s, whose story closes on a dramatic and unforgettable finale.",
		year, primary, character)
}

var posterIDs = []string{
	"1541746078467-6bd7c7a4badb", "1507003211169-0a138ac96936", "1519681393784-2cf36080e399",
	"1489599162113-79b16da9d6c8", "1516371535707-512a1e85281b", "1517604931441-e205c0d74bf4",
	"1571847140471-1d7c1d2e4c67", "1536440136628-849c177c5314", "1594909122845-e5c6c0ea8e9b",
}

// PosterPlaceholder picks a stock poster image from the title and year, so
// one movie always gets the same picture.
func PosterPlaceholder(title string, year int) string {
	seed := year
	for _, r := range title {
		seed += int(r)
	}
	if seed < 0 {
		seed = -seed
	}
	id := posterIDs[seed%len(posterIDs)]
	return "https://images.unsplash.com/photo-" + id + "?w=300&h=450&fit=crop&auto=format&q=80"
}
