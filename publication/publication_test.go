package publication

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"file:///books/book.epub", "file:///books/book.epub"},
		{"/books/book.epub", "file:///books/book.epub"},
		{"books/book.epub", "file:///books/book.epub"},
		{"/books/my book.epub", "file:///books/my%20book.epub"},
		{"https://example.com/book.epub", "https://example.com/book.epub"},
		{"http://example.com/a/b.epub?x=1", "http://example.com/a/b.epub?x=1"},
		{"files/book.epub", "file:///files/book.epub"},
	}
	for _, tc := range cases {
		u, err := ParseLocation(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, u.String(), tc.in)
	}
}

func TestParseLocationRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "   ", "https://", "http://exa mple.com/x", "httpx:whatever"} {
		_, err := ParseLocation(in)
		assert.Error(t, err, in)
	}
}

func TestLinkFromJSON(t *testing.T) {
	link, err := LinkFromJSON([]byte(`{"href":"/OEBPS/chapter1.xhtml","type":"application/xhtml+xml","rel":"contents","children":[{"href":"c2.xhtml"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "/OEBPS/chapter1.xhtml", link.Href)
	assert.Equal(t, MediaTypeXHTML, link.Type)
	assert.True(t, link.Rels.Has("contents"))
	require.Len(t, link.Children, 1)

	link, err = LinkFromJSON([]byte(`{"href":"a.xhtml","rel":["cover","alternate"]}`))
	require.NoError(t, err)
	assert.Equal(t, Rels{"cover", "alternate"}, link.Rels)
}

func TestLinkFromJSONRejectsMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"text/html"}`,
		`{"href":""}`,
		`{"href":42}`,
		`{"href":"a","children":[{"title":"no href"}]}`,
		`["a"]`,
	}
	for _, tc := range cases {
		_, err := LinkFromJSON([]byte(tc))
		var schemaErr *SchemaValidationError
		assert.True(t, errors.As(err, &schemaErr), tc)
	}
}

func TestLocatorFromJSON(t *testing.T) {
	loc, err := LocatorFromJSON([]byte(`{"href":"chapter1.xhtml","type":"application/xhtml+xml","locations":{"progression":0.5,"position":3,"fragments":["p2"],"domRange":{"start":{"cssSelector":"p"}}},"text":{"highlight":"Hello"}}`))
	require.NoError(t, err)
	assert.Equal(t, "chapter1.xhtml", loc.Href)
	assert.Equal(t, 0.5, loc.ProgressionOrZero())
	require.NotNil(t, loc.Locations.Position)
	assert.Equal(t, 3, *loc.Locations.Position)
	assert.JSONEq(t, `{"start":{"cssSelector":"p"}}`, string(loc.Locations.DOMRange))
	assert.Equal(t, "Hello", loc.Text.Highlight)

	out, err := loc.JSON()
	require.NoError(t, err)
	assert.Contains(t, out, `"domRange":{"start":{"cssSelector":"p"}}`)
}

func TestLocatorFromJSONRejectsMalformed(t *testing.T) {
	for _, tc := range []string{`{}`, `{"href":"a","locations":{"progression":2}}`, `{"href":"a","locations":"x"}`, `{`} {
		_, err := LocatorFromJSON([]byte(tc))
		assert.Error(t, err, tc)
	}
}

func TestNormalizeHref(t *testing.T) {
	assert.Equal(t, "OEBPS/ch 1.xhtml", NormalizeHref("/OEBPS/ch%201.xhtml#p3"))
	assert.Equal(t, "chapter1.xhtml", NormalizeHref("chapter1.xhtml?x=1"))
	assert.Equal(t, "p3", Fragment("a.xhtml#p3"))
	assert.Equal(t, "", Fragment("a.xhtml"))
}

func TestManifestJSONDoesNotEscapeSlashes(t *testing.T) {
	m := &Manifest{
		Context:      ManifestContext,
		Metadata:     Metadata{Title: "A <Tale> & more", Identifier: "urn:isbn:123"},
		ReadingOrder: []Link{{Href: "OEBPS/chapter1.xhtml", Type: MediaTypeXHTML}},
	}
	data, err := m.JSON()
	require.NoError(t, err)
	s := string(data)
	assert.NotContains(t, s, `\/`)
	assert.NotContains(t, s, `\u003c`)
	assert.Contains(t, s, `"href":"OEBPS/chapter1.xhtml"`)
	assert.Contains(t, s, `A <Tale> & more`)
}

func TestManifestLinkLookup(t *testing.T) {
	m := &Manifest{
		ReadingOrder: []Link{{Href: "OEBPS/c1.xhtml"}, {Href: "OEBPS/c2.xhtml"}},
		Resources:    []Link{{Href: "OEBPS/style.css", Type: MediaTypeCSS}},
		Links:        []Link{{Href: "OEBPS/nav.xhtml", Children: []Link{{Href: "OEBPS/inner.xhtml"}}}},
	}

	link, ok := m.LinkWithHref("/OEBPS/c2.xhtml#frag")
	require.True(t, ok)
	assert.Equal(t, "OEBPS/c2.xhtml", link.Href)

	link, ok = m.LinkWithHref("OEBPS/style.css")
	require.True(t, ok)
	assert.Equal(t, MediaTypeCSS, link.Type)

	_, ok = m.LinkWithHref("OEBPS/inner.xhtml")
	assert.True(t, ok)
	_, ok = m.LinkWithHref("missing.xhtml")
	assert.False(t, ok)

	assert.Equal(t, 1, m.ReadingOrderIndex("OEBPS/c2.xhtml"))
	assert.Equal(t, -1, m.ReadingOrderIndex("OEBPS/style.css"))
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#ff0000")
	require.NoError(t, err)
	assert.Equal(t, Color(0xffff0000), c)
	assert.Equal(t, "#ff0000", c.Hex())

	c, err = ParseColor("0x80112233")
	require.NoError(t, err)
	assert.Equal(t, Color(0x80112233), c)

	for _, bad := range []string{"red", "#fff", "#gg0000", ""} {
		_, err := ParseColor(bad)
		assert.Error(t, err, bad)
	}
}

func TestMediaType(t *testing.T) {
	mt, ok := MediaTypeFromExtension("OEBPS/Chapter1.XHTML")
	require.True(t, ok)
	assert.True(t, mt.IsHTML())
	assert.True(t, MediaType("application/xhtml+xml; charset=utf-8").Matches(MediaTypeXHTML))
	assert.False(t, MediaTypePNG.IsHTML())
	assert.Equal(t, []MediaType{MediaTypeEPUB}, ParseMediaTypeHints([]string{"", " application/epub+zip "}))
}

func TestOpenErrorKinds(t *testing.T) {
	assert.Equal(t, 0, int(ErrorReading))
	assert.Equal(t, 1, int(ErrorFormatNotSupported))

	err := fmt.Errorf("open: %w", NewFormatNotSupportedError("not an epub", nil))
	assert.Equal(t, ErrorFormatNotSupported, KindOf(err))
	assert.Equal(t, ErrorReading, KindOf(errors.New("disk on fire")))
}
