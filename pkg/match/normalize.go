package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Key is a normalized name used to group records that refer to the same entity.
type Key string

// String returns the string representation of the key.
func (k Key) String() string {
	return string(k)
}

// fold strips combining marks so "Épée" and "Epee" normalize alike.
func fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// lowerString lowercases s. Casers carry state, so each call gets its own.
func lowerString(s string) string {
	return cases.Lower(language.Und).String(s)
}

// NormalizeName lowercases name, folds diacritics, strips punctuation and
// collapses runs of whitespace into single spaces.
func NormalizeName(name string) string {
	s := lowerString(fold(name))
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}

// KeyFor returns the match key for a name, falling back to sourceID when the
// normalized name is empty.
func KeyFor(name, sourceID string) Key {
	if k := NormalizeName(name); k != "" {
		return Key(k)
	}
	return Key(strings.TrimSpace(sourceID))
}

// Slug returns a lowercase, hyphen-separated, URL-safe form of name.
func Slug(name string) string {
	s := lowerString(fold(name))
	var b strings.Builder
	b.Grow(len(s))
	dash := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		if r == '\'' || r == '’' {
			continue
		}
		dash = true
	}
	return b.String()
}
