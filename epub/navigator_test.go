package epub

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegrind/pubchannel-go/epub/epubtest"
	"github.com/filegrind/pubchannel-go/publication"
)

// twoPageBook has two chapters of exactly two 50-character pages each.
func twoPageBook() epubtest.Book {
	book := epubtest.Minimal()
	for i := range book.Chapters {
		book.Chapters[i].Body = "<p>" + strings.Repeat("a", 100) + "</p>"
	}
	return book
}

func newTestNavigator(t *testing.T, initial *publication.Locator) *Navigator {
	t.Helper()
	pub := openBook(t, twoPageBook(), publication.OpenOptions{})
	nav, err := NavigatorFactory{CharsPerPage: 50}.NewNavigator(pub, initial, publication.Preferences{})
	require.NoError(t, err)
	t.Cleanup(func() { nav.Close() })
	return nav.(*Navigator)
}

func TestNavigatorPagesThroughReadingOrder(t *testing.T) {
	nav := newTestNavigator(t, nil)
	ctx := context.Background()

	var seen []string
	nav.OnLocationChanged(func(loc publication.Locator) {
		seen = append(seen, loc.Href)
	})

	start := nav.CurrentLocator()
	assert.Equal(t, "chapter1.xhtml", start.Href)
	assert.Equal(t, 1, *start.Locations.Position)
	assert.Equal(t, "Loomings", start.Title)

	assert.False(t, nav.GoBackward(ctx, false), "cannot go before the first page")

	require.True(t, nav.GoForward(ctx, false))
	assert.Equal(t, 0.5, nav.CurrentLocator().ProgressionOrZero())
	require.True(t, nav.GoForward(ctx, false))
	loc := nav.CurrentLocator()
	assert.Equal(t, "chapter2.xhtml", loc.Href)
	assert.Equal(t, 3, *loc.Locations.Position)
	assert.Equal(t, 0.5, *loc.Locations.TotalProgression)

	require.True(t, nav.GoForward(ctx, false))
	assert.False(t, nav.GoForward(ctx, false), "cannot go past the last page")

	require.True(t, nav.GoBackward(ctx, false))
	require.True(t, nav.GoBackward(ctx, false))
	assert.Equal(t, "chapter1.xhtml", nav.CurrentLocator().Href)
	assert.Equal(t, 0.5, nav.CurrentLocator().ProgressionOrZero())

	assert.Equal(t, []string{
		"chapter1.xhtml", "chapter2.xhtml", "chapter2.xhtml", "chapter2.xhtml", "chapter1.xhtml",
	}, seen)
}

func TestNavigatorGoAndVisibility(t *testing.T) {
	nav := newTestNavigator(t, nil)
	ctx := context.Background()

	progression := 0.75
	target := publication.Locator{Href: "chapter2.xhtml"}
	target.Locations.Progression = &progression
	target.Locations.Fragments = []string{"p2"}

	require.True(t, nav.Go(ctx, target, true))
	loc := nav.CurrentLocator()
	assert.Equal(t, "chapter2.xhtml", loc.Href)
	assert.Equal(t, 0.5, loc.ProgressionOrZero())
	assert.Equal(t, []string{"p2"}, loc.Locations.Fragments)

	assert.True(t, nav.IsVisible(target))
	assert.True(t, nav.IsVisible(publication.Locator{Href: "chapter2.xhtml"}))
	first := 0.1
	other := publication.Locator{Href: "chapter2.xhtml"}
	other.Locations.Progression = &first
	assert.False(t, nav.IsVisible(other))
	assert.False(t, nav.IsVisible(publication.Locator{Href: "chapter1.xhtml"}))

	assert.False(t, nav.Go(ctx, publication.Locator{Href: "unknown.xhtml"}, false))
	assert.Equal(t, "chapter2.xhtml", nav.CurrentLocator().Href)
}

func TestNavigatorStartsAtInitialLocator(t *testing.T) {
	progression := 0.6
	initial := &publication.Locator{Href: "chapter2.xhtml"}
	initial.Locations.Progression = &progression

	nav := newTestNavigator(t, initial)
	loc := nav.CurrentLocator()
	assert.Equal(t, "chapter2.xhtml", loc.Href)
	assert.Equal(t, 4, *loc.Locations.Position)

	// Turning back starts from the initial page, not the first one
	require.True(t, nav.GoBackward(context.Background(), false))
	assert.Equal(t, 3, *nav.CurrentLocator().Locations.Position)
}

func TestNavigatorPreferencesAreCopied(t *testing.T) {
	nav := newTestNavigator(t, nil)
	size := 1.5
	prefs := publication.Preferences{FontSize: &size, Custom: map[string]string{"--x": "1"}}
	nav.SubmitPreferences(prefs)
	prefs.Custom["--x"] = "2"

	got := nav.Preferences()
	assert.Equal(t, 1.5, *got.FontSize)
	assert.Equal(t, "1", got.Custom["--x"])
}

func TestNavigatorIgnoresMovesAfterClose(t *testing.T) {
	nav := newTestNavigator(t, nil)
	require.NoError(t, nav.Close())
	assert.False(t, nav.GoForward(context.Background(), false))
}

func TestNavigatorResolvesFragments(t *testing.T) {
	book := twoPageBook()
	book.Chapters[0].Body = `<p id="intro">` + strings.Repeat("a", 40) + `</p>` +
		`<p id="middle">` + strings.Repeat("b", 40) + `</p>` +
		`<p id="end">` + strings.Repeat("c", 20) + `</p>`
	pub := openBook(t, book, publication.OpenOptions{})
	created, err := NavigatorFactory{CharsPerPage: 50}.NewNavigator(pub, nil, publication.Preferences{})
	require.NoError(t, err)
	nav := created.(*Navigator)
	t.Cleanup(func() { nav.Close() })

	start := 0.0
	first := publication.Locator{Href: "chapter1.xhtml"}
	first.Locations.Progression = &start
	got, ok := nav.LocatorFragments(first)
	require.True(t, ok)
	assert.Equal(t, []string{"intro", "middle"}, got.Locations.Fragments)
	assert.Equal(t, "#intro", got.Locations.CSSSelector)

	half := 0.5
	second := publication.Locator{Href: "chapter1.xhtml"}
	second.Locations.Progression = &half
	second.Locations.CSSSelector = "#keep"
	got, ok = nav.LocatorFragments(second)
	require.True(t, ok)
	assert.Equal(t, []string{"end"}, got.Locations.Fragments)
	assert.Equal(t, "#keep", got.Locations.CSSSelector)

	_, ok = nav.LocatorFragments(publication.Locator{Href: "unknown.xhtml"})
	assert.False(t, ok)

	// Without a progression the fragment picks the page
	byFragment := publication.Locator{Href: "chapter1.xhtml"}
	byFragment.Locations.Fragments = []string{"end"}
	require.True(t, nav.Go(context.Background(), byFragment, false))
	assert.Equal(t, 0.5, nav.CurrentLocator().ProgressionOrZero())
}
