package inject

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/filegrind/pubchannel-go/publication"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chapter = "<?xml version=\"1.0\"?>\n<html xmlns=\"http://www.w3.org/1999/xhtml\"><head><title>One</title></head><body><p>Hi</p></body></html>"

func TestTransformInsertsBlockBeforeHead(t *testing.T) {
	out := Transform([]byte(chapter))

	want := strings.Replace(chapter, "</head>", "\n"+strings.Join(Tags, "\n")+"\n</head>", 1)
	assert.Equal(t, want, string(out))
	assert.Equal(t, 1, strings.Count(string(out), `src="https://readium/assets/epub.js"`))
}

func TestTransformIsIdempotent(t *testing.T) {
	once := Transform([]byte(chapter))
	twice := Transform(once)
	assert.Equal(t, once, twice)
}

func TestTransformCaseInsensitiveHead(t *testing.T) {
	in := []byte("<HTML><HEAD></HEAD><BODY></BODY></HTML>")
	out := Transform(in)
	assert.True(t, bytes.HasPrefix(out, []byte("<HTML><HEAD>\n<script")))
	assert.True(t, bytes.HasSuffix(out, []byte("\n</HEAD><BODY></BODY></HTML>")))
}

func TestTransformOnlyFirstHead(t *testing.T) {
	in := "<head></head><p>&lt;/head&gt;</p></head>"
	out := string(Transform([]byte(in)))
	assert.Equal(t, 1, strings.Count(out, "comics.css"))
	assert.True(t, strings.HasSuffix(out, "</head><p>&lt;/head&gt;</p></head>"))
}

func TestTransformWithoutHeadIsUnchanged(t *testing.T) {
	in := []byte("<html><body>no head</body></html>")
	assert.Equal(t, in, Transform(in))
}

func TestTransformKeepsSurroundingBytes(t *testing.T) {
	in := []byte("  \n<html><head>\n</head>\n\n")
	out := Transform(in)
	assert.True(t, bytes.HasPrefix(out, []byte("  \n<html><head>\n\n<script")))
	assert.True(t, bytes.HasSuffix(out, []byte("</link>\n</head>\n\n")))
}

func TestEligible(t *testing.T) {
	for _, name := range []string{"chapter1.xhtml", "index.HTML", "a.html"} {
		assert.True(t, Eligible(name), name)
	}
	for _, name := range []string{"style.css", "cover.jpg", "nav.htm", "toc.ncx", ""} {
		assert.False(t, Eligible(name), name)
	}
}

type memResource struct {
	name string
	data []byte
	err  error
}

func (m *memResource) Properties() publication.ResourceProperties {
	return publication.ResourceProperties{Filename: m.name, Length: int64(len(m.data))}
}
func (m *memResource) Read(context.Context) ([]byte, error) { return m.data, m.err }
func (m *memResource) Close() error                         { return nil }

func TestTransformerWrapsOnlyMarkup(t *testing.T) {
	css := &memResource{name: "style.css", data: []byte("</head>")}
	assert.Same(t, publication.Resource(css), Transformer("OEBPS/style.css", css))

	html := &memResource{name: "chapter1.xhtml", data: []byte(chapter)}
	wrapped := Transformer("OEBPS/chapter1.xhtml", html)
	data, err := wrapped.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Transform([]byte(chapter)), data)
	assert.Equal(t, int64(-1), wrapped.Properties().Length)
}

func TestTransformerFallsBackToHref(t *testing.T) {
	html := &memResource{data: []byte(chapter)}
	data, err := Transformer("text/part.xhtml", html).Read(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(data), Marker)
}

func TestTransformerPassesReadErrors(t *testing.T) {
	boom := errors.New("zip: checksum error")
	res := Transformer("c.xhtml", &memResource{name: "c.xhtml", err: boom})
	_, err := res.Read(context.Background())
	assert.ErrorIs(t, err, boom)
}
