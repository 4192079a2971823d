package ingest

import "strings"

// Field is a name in the canonical death-record schema.
type Field string

const (
	FieldActorName        Field = "actor_name"
	FieldMovieTitle       Field = "movie_title"
	FieldCharacterName    Field = "character_name"
	FieldYear             Field = "year"
	FieldDirector         Field = "director"
	FieldGenre            Field = "genre"
	FieldDeathDescription Field = "death_description"
	FieldDeathType        Field = "death_type"
	FieldIMDbRating       Field = "imdb_rating"
	FieldBudget           Field = "budget"
	FieldBoxOffice        Field = "box_office"
	FieldPosterURL        Field = "poster_url"
)

// synonym lists per canonical field, in resolution order.
var synonyms = []struct {
	field Field
	names []string
}{
	{FieldActorName, []string{"actor_name", "actorname", "actor", "performer", "star", "name"}},
	{FieldMovieTitle, []string{"movie_title", "movietitle", "movie", "film", "title", "production", "show"}},
	{FieldCharacterName, []string{"character_name", "charactername", "character", "role", "played"}},
	{FieldYear, []string{"year", "release_year", "releaseyear", "released", "date"}},
	{FieldDirector, []string{"director", "directed_by", "directedby", "filmmaker"}},
	{FieldGenre, []string{"genre", "genres", "category", "type"}},
	{FieldDeathDescription, []string{"death_description", "deathdescription", "death_scene", "how_died", "cause_of_death", "cause", "description", "death"}},
	{FieldDeathType, []string{"death_type", "deathtype", "manner", "method"}},
	{FieldIMDbRating, []string{"imdb_rating", "imdbrating", "imdb", "rating", "score"}},
	{FieldBudget, []string{"budget", "production_budget", "cost"}},
	{FieldBoxOffice, []string{"box_office", "boxoffice", "gross", "earnings", "revenue"}},
	{FieldPosterURL, []string{"poster_url", "posterurl", "poster", "image", "img"}},
}

// Fields returns the canonical fields in resolution order.
func Fields() []Field {
	out := make([]Field, len(synonyms))
	for i, s := range synonyms {
		out[i] = s.field
	}
	return out
}

// Mapping binds canonical fields to source column names.
type Mapping map[Field]string

// Has reports whether f is bound to a column.
func (m Mapping) Has(f Field) bool {
	_, ok := m[f]
	return ok
}

// MapHeaders resolves headers onto the canonical schema.
//
// overrides (canonical field -> header) are applied first and only when
// the named header is present. Remaining headers are visited in order,
// twice: the first pass binds a header whose canonical form equals a
// synonym, the second binds one that merely contains a synonym. A header
// binds at most one field and a bound field is never rebound, so the
// result depends only on the header order. Unmatched headers are ignored.
func MapHeaders(headers []string, overrides map[string]string) Mapping {
	m := make(Mapping)
	claimed := make(map[int]bool, len(headers))

	for _, f := range Fields() {
		header, ok := overrides[string(f)]
		if !ok {
			continue
		}
		for i, h := range headers {
			if !claimed[i] && strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(header)) {
				m[f] = h
				claimed[i] = true
				break
			}
		}
	}

	canon := make([]string, len(headers))
	for i, h := range headers {
		canon[i] = CanonicalHeader(h)
	}

	for _, exact := range []bool{true, false} {
		for i, h := range headers {
			if claimed[i] || canon[i] == "" {
				continue
			}
			if f, ok := matchField(canon[i], m, exact); ok {
				m[f] = h
				claimed[i] = true
			}
		}
	}
	return m
}

func matchField(canon string, bound Mapping, exact bool) (Field, bool) {
	for _, s := range synonyms {
		if bound.Has(s.field) {
			continue
		}
		for _, name := range s.names {
			if (exact && canon == name) || (!exact && strings.Contains(canon, name)) {
				return s.field, true
			}
		}
	}
	return "", false
}
