package ingest

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DeathType classifies how a character leaves the film.
type DeathType string

const (
	DeathViolent      DeathType = "violent"
	DeathHeroic       DeathType = "heroic"
	DeathTragic       DeathType = "tragic"
	DeathComedic      DeathType = "comedic"
	DeathSupernatural DeathType = "supernatural"
	DeathExplosive    DeathType = "explosive"
	DeathSurvivor     DeathType = "survivor"
)

var deathTypes = map[DeathType]bool{
	DeathViolent: true, DeathHeroic: true, DeathTragic: true, DeathComedic: true,
	DeathSupernatural: true, DeathExplosive: true, DeathSurvivor: true,
}

// ParseDeathType lowercases s and falls back to violent for empty or
// unknown values.
func ParseDeathType(s string) DeathType {
	t := DeathType(strings.ToLower(strings.TrimSpace(s)))
	if deathTypes[t] {
		return t
	}
	return DeathViolent
}

// Defaults substituted for empty optional fields.
const (
	DefaultYear             = 2000
	DefaultCharacterName    = "Character"
	DefaultDeathDescription = "Dies in dramatic scene"
	DefaultGenre            = "Drama"
	DefaultDirector         = "Unknown"
	MinYear                 = 1900
)

// DeathRecord is one actor-in-movie death event after normalization.
type DeathRecord struct {
	ActorName        string    `json:"actor_name"`
	MovieTitle       string    `json:"movie_title"`
	Year             int       `json:"year"`
	CharacterName    string    `json:"character_name"`
	DeathDescription string    `json:"death_description"`
	Genre            string    `json:"genre"`
	Director         string    `json:"director"`
	DeathType        DeathType `json:"death_type"`
	IMDbRating       *float64  `json:"imdb_rating,omitempty"`
	Budget           string    `json:"budget,omitempty"`
	BoxOffice        string    `json:"box_office,omitempty"`
	PosterURL        string    `json:"poster_url,omitempty"`
}

// EventID is the death event key: slug(movie title) + "-" + year. It is not
// globally unique.
func (r *DeathRecord) EventID() string {
	return Slug(r.MovieTitle) + "-" + strconv.Itoa(r.Year)
}

// PrimaryGenre is the first comma-separated token of the genre string.
func (r *DeathRecord) PrimaryGenre() string {
	return PrimaryGenre(r.Genre)
}

// PrimaryGenre returns the first comma-separated token of genre.
func PrimaryGenre(genre string) string {
	first, _, _ := strings.Cut(genre, ",")
	return strings.TrimSpace(first)
}

var yearRe = regexp.MustCompile(`\d{4}`)

// Normalizer turns mapped rows into DeathRecords.
type Normalizer struct {
	// Now bounds plausible years at Now().Year()+5. Defaults to time.Now.
	Now func() time.Time
}

// Normalize builds a DeathRecord from a row given as column -> value.
// line is only used for error reporting.
func (n *Normalizer) Normalize(values map[string]string, m Mapping, line int) (*DeathRecord, error) {
	get := func(f Field) string {
		col, ok := m[f]
		if !ok {
			return ""
		}
		return strings.TrimSpace(values[col])
	}

	rec := &DeathRecord{
		ActorName:  get(FieldActorName),
		MovieTitle: get(FieldMovieTitle),
	}
	if rec.ActorName == "" {
		return nil, &MissingRequiredFieldError{Field: FieldActorName, Line: line}
	}
	if rec.MovieTitle == "" {
		return nil, &MissingRequiredFieldError{Field: FieldMovieTitle, Line: line}
	}

	rec.Year = n.parseYear(get(FieldYear))
	rec.IMDbRating = parseRating(get(FieldIMDbRating))
	rec.CharacterName = orDefault(get(FieldCharacterName), DefaultCharacterName)
	rec.DeathDescription = orDefault(get(FieldDeathDescription), DefaultDeathDescription)
	rec.Genre = orDefault(get(FieldGenre), DefaultGenre)
	rec.Director = orDefault(get(FieldDirector), DefaultDirector)
	rec.DeathType = ParseDeathType(get(FieldDeathType))
	rec.Budget = get(FieldBudget)
	rec.BoxOffice = get(FieldBoxOffice)
	rec.PosterURL = get(FieldPosterURL)
	return rec, nil
}

func (n *Normalizer) parseYear(raw string) int {
	digits := yearRe.FindString(raw)
	if digits == "" {
		return DefaultYear
	}
	year, err := strconv.Atoi(digits)
	if err != nil {
		return DefaultYear
	}
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	if year < MinYear || year > now().Year()+5 {
		return DefaultYear
	}
	return year
}

func parseRating(raw string) *float64 {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 10 {
		return nil
	}
	return &v
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
