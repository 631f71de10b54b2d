package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Deterministic(t *testing.T) {
	assert.Equal(t, Default.Normalize("Zürich"), Default.Normalize("zurich"))
	assert.Equal(t, Default.Normalize("São Paulo"), Default.Normalize("sao paulo"))
	assert.Equal(t, Default.Normalize("Istanbul"), Default.Normalize("İstanbul"))
	assert.Equal(t, Default.Normalize("Café  del   Mar!"), "cafe del mar")
}

func TestNormalize_CollapsesPunctuation(t *testing.T) {
	// The apostrophe is a non-alphanumeric run and becomes a space.
	assert.Equal(t, "st paul s cathedral", Default.Normalize("St. Paul's Cathedral"))
	assert.Equal(t, "a b", Default.Normalize("  a -- b  "))
	assert.Equal(t, "", Default.Normalize("***"))
}

func TestNormalize_GermanProfile(t *testing.T) {
	assert.Equal(t, "muenchner strasse", German.Normalize("Münchner Straße"))
	assert.Equal(t, "koenig", German.Normalize("König"))

	// Default folds umlauts instead of expanding them and keeps ß.
	assert.Equal(t, "munchner straße", Default.Normalize("Münchner Straße"))
}

func TestNormalize_TurkishProfile(t *testing.T) {
	assert.Equal(t, "istanbul", Turkish.Normalize("İstanbul"))
	assert.Equal(t, Turkish.Normalize("Kadıköy Çarşı"), Turkish.Normalize("kadikoy carsi"))
}

func TestProfileFor(t *testing.T) {
	assert.Equal(t, German.Name, ProfileFor("DE").Name)
	assert.Equal(t, German.Name, ProfileFor("AT").Name)
	assert.Equal(t, German.Name, ProfileFor("ch").Name)
	assert.Equal(t, Turkish.Name, ProfileFor("TR").Name)
	assert.Equal(t, Default.Name, ProfileFor("US").Name)
	assert.Equal(t, Default.Name, ProfileFor("").Name)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "cafe-del-mar", Default.Slug("Café del Mar"))
	assert.Equal(t, "muenchner-strasse", German.Slug("Münchner Straße"))
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "New York", TitleCase("new-york"))
	assert.Equal(t, "Rio De Janeiro", TitleCase("rio-de-janeiro"))
	assert.Equal(t, "", TitleCase(""))
}

func TestDistance(t *testing.T) {
	assert.Equal(t, 0, Distance("museum", "museum"))
	assert.Equal(t, 2, Distance("museum", "musuem"))
	assert.Equal(t, 3, Distance("abc", "xyz"))
}

func TestIDAllocator_Unique(t *testing.T) {
	alloc := NewIDAllocator("country-de-berlin-museum")

	require.Equal(t, "country-de-berlin-museum-2", alloc.Unique("country-de-berlin-museum"))
	require.Equal(t, "country-de-berlin-museum-3", alloc.Unique("country-de-berlin-museum"))
	require.Equal(t, "country-de-berlin-gallery", alloc.Unique("country-de-berlin-gallery"))
}

func TestIDAllocator_Reserve(t *testing.T) {
	alloc := NewIDAllocator()
	alloc.Reserve("country-us-nyc-park")
	assert.Equal(t, "country-us-nyc-park-2", alloc.Unique("country-us-nyc-park"))
}

func TestBuildID(t *testing.T) {
	assert.Equal(t, "country-de-berlin-pergamon-museum", BuildID("DE", "berlin", "pergamon-museum"))
	assert.Equal(t, "country-tr-istanbul-kadikoy", BuildID("tr", "istanbul", "kadikoy"))
}
