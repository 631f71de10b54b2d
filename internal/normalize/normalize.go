// Package normalize provides locale-aware text normalization for entity
// matching and slug generation. All functions are pure and deterministic.
package normalize

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Profile is a locale-specific transliteration table applied before the
// generic diacritic fold. The zero-value (nil table) profile folds
// diacritics only, so "Zürich" and "zurich" normalize identically.
type Profile struct {
	Name  string
	table map[rune]string
}

// Default folds diacritics via canonical decomposition with no
// language-specific digraphs. This is the canonical table; the language
// profiles below deviate from it only where the language's own
// romanization convention demands it.
var Default = Profile{Name: "default"}

// German expands umlauts to digraphs and ß to ss, matching how the
// German-language datasets spell transliterated names.
var German = Profile{
	Name: "german",
	table: map[rune]string{
		'ä': "ae", 'Ä': "ae",
		'ö': "oe", 'Ö': "oe",
		'ü': "ue", 'Ü': "ue",
		'ß': "ss", 'ẞ': "ss",
	},
}

// Turkish maps the dotted/dotless i pair and the cedilla/breve letters
// onto their ASCII forms.
var Turkish = Profile{
	Name: "turkish",
	table: map[rune]string{
		'ı': "i", 'İ': "i",
		'ş': "s", 'Ş': "s",
		'ğ': "g", 'Ğ': "g",
		'ç': "c", 'Ç': "c",
		'ö': "o", 'Ö': "o",
		'ü': "u", 'Ü': "u",
	},
}

// profilesByCountry selects the normalization profile for a dataset's
// country. Countries without an entry use Default.
var profilesByCountry = map[string]Profile{
	"DE": German,
	"AT": German,
	"CH": German,
	"TR": Turkish,
}

// ProfileFor returns the normalization profile for an ISO country code.
func ProfileFor(countryCode string) Profile {
	if p, ok := profilesByCountry[strings.ToUpper(countryCode)]; ok {
		return p
	}
	return Default
}

// stripMarks removes combining marks after canonical decomposition.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize turns text into a matching key: lowercase, profile
// transliteration, diacritic fold, non-alphanumeric runs collapsed to
// single spaces, trimmed.
func (p Profile) Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if repl, ok := p.table[r]; ok {
			b.WriteString(repl)
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}

	folded, _, err := transform.String(stripMarks, b.String())
	if err != nil {
		folded = b.String()
	}

	var out strings.Builder
	out.Grow(len(folded))
	space := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && out.Len() > 0 {
				out.WriteByte(' ')
			}
			space = false
			out.WriteRune(r)
			continue
		}
		space = true
	}
	return out.String()
}

// Slug normalizes text the same way as Normalize and joins the tokens with
// hyphens, producing a URL/identifier-safe slug.
func (p Profile) Slug(text string) string {
	return strings.ReplaceAll(p.Normalize(text), " ", "-")
}

var titleCaser = cases.Title(language.Und)

// TitleCase turns a hyphenated slug into a display string: "new-york"
// becomes "New York".
func TitleCase(slug string) string {
	return titleCaser.String(strings.ReplaceAll(slug, "-", " "))
}

// Distance is the Levenshtein edit distance between two already
// normalized keys. Used to surface near-miss names that normalization
// alone did not unify.
func Distance(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

// IDAllocator mints unique, human-readable record IDs within one
// country file. Not safe for concurrent use.
type IDAllocator struct {
	used map[string]struct{}
}

// NewIDAllocator returns an allocator pre-seeded with the given IDs.
func NewIDAllocator(existing ...string) *IDAllocator {
	a := &IDAllocator{used: make(map[string]struct{}, len(existing))}
	for _, id := range existing {
		a.used[id] = struct{}{}
	}
	return a
}

// Reserve marks an ID as taken without minting anything.
func (a *IDAllocator) Reserve(id string) {
	a.used[id] = struct{}{}
}

// Unique returns base if free, otherwise base-2, base-3, … and
// registers the chosen ID. Call exactly once per accepted record so IDs
// stay stable for a given input ordering.
func (a *IDAllocator) Unique(base string) string {
	id := base
	for n := 2; ; n++ {
		if _, taken := a.used[id]; !taken {
			break
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
	a.used[id] = struct{}{}
	return id
}

// BuildID composes the canonical ID form country-<cc>-<city>-<name>.
// Empty segments are dropped.
func BuildID(countryCode, citySlug, nameSlug string) string {
	parts := []string{"country", strings.ToLower(countryCode)}
	if citySlug != "" {
		parts = append(parts, citySlug)
	}
	if nameSlug != "" {
		parts = append(parts, nameSlug)
	}
	return strings.Join(parts, "-")
}
