package ingest

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldAccents lowercases and strips combining marks (e.g. Léon -> leon).
// Chains carry state, so each call builds its own.
func foldAccents(s string) string {
	strip := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(strip, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return result
}

// Slug derives the identity key of a name: lowercase, accents stripped,
// every run of characters that are neither letters nor digits collapsed to
// a single dash, no leading or trailing dash. Letters of any script are
// kept. "Samuel L. Jackson" -> "samuel-l-jackson",
// "Дмитрий Нагиев" -> "дмитрий-нагиев".
func Slug(s string) string {
	return collapse(foldAccents(s), '-')
}

// ActorID is the actor identity key. It is Slug(name) unless that is empty
// for a non-blank name, in which case a stable hash of the trimmed,
// lowercased name is used so the actor is still addressable.
func ActorID(name string) string {
	if id := Slug(name); id != "" {
		return id
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return ""
	}
	return "actor-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()[:8]
}

// CanonicalHeader normalizes a column name for synonym matching:
// "Actor Name" -> "actor_name", "IMDb Rating (10)" -> "imdb_rating_10".
func CanonicalHeader(s string) string {
	return collapse(foldAccents(s), '_')
}

func collapse(s string, sep byte) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte(sep)
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}
