// Package epubtest builds small EPUB archives for tests.
package epubtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
)

// Chapter is one reading order document. Body is inserted into <body> as-is.
type Chapter struct {
	Href  string
	Title string
	Body  string
}

// Book describes the archive to build.
type Book struct {
	Identifier string
	Title      string
	Language   string
	Author     string
	RTL        bool
	// Dir is the package document directory inside the archive; "" is the root.
	Dir      string
	Chapters []Chapter
	// NCX replaces the EPUB 3 nav document with an EPUB 2 toc.ncx.
	NCX bool
	// Extra adds arbitrary entries, keyed by archive path.
	Extra map[string][]byte
}

// Minimal is a two-chapter book with a declared identifier.
func Minimal() Book {
	return Book{
		Identifier: "urn:uuid:8a1f5a52-4f8e-4c2b-9a8e-0d5c8b5e6f01",
		Title:      "Moby-Dick",
		Language:   "en",
		Author:     "Herman Melville",
		Chapters: []Chapter{
			{Href: "chapter1.xhtml", Title: "Loomings", Body: "<p>Call me Ishmael. Some years ago, never mind how long precisely.</p>"},
			{Href: "chapter2.xhtml", Title: "The Carpet-Bag", Body: "<p>I stuffed a shirt or two into my old carpet-bag.</p>"},
		},
	}
}

// Write stores the archive in a temp dir and returns its path.
func Write(tb testing.TB, b Book) string {
	tb.Helper()
	p := filepath.Join(tb.TempDir(), "book.epub")
	if err := os.WriteFile(p, Bytes(tb, b), 0o644); err != nil {
		tb.Fatalf("write epub: %v", err)
	}
	return p
}

// Bytes builds the archive in memory.
func Bytes(tb testing.TB, b Book) []byte {
	tb.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	add := func(name string, data []byte, method uint16) {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			tb.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			tb.Fatalf("write %s: %v", name, err)
		}
	}

	opfPath := path.Join(b.Dir, "content.opf")
	add("mimetype", []byte("application/epub+zip"), zip.Store)
	add("META-INF/container.xml", []byte(containerXML(opfPath)), zip.Deflate)
	add(opfPath, []byte(b.packageDocument()), zip.Deflate)
	if b.NCX {
		add(path.Join(b.Dir, "toc.ncx"), []byte(b.ncx()), zip.Deflate)
	} else {
		add(path.Join(b.Dir, "nav.xhtml"), []byte(b.nav()), zip.Deflate)
	}
	for _, ch := range b.Chapters {
		add(path.Join(b.Dir, ch.Href), []byte(XHTML(ch.Title, ch.Body)), zip.Deflate)
	}
	for name, data := range b.Extra {
		add(name, data, zip.Deflate)
	}

	if err := zw.Close(); err != nil {
		tb.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// XHTML wraps body in a minimal XHTML document with a <head>.
func XHTML(title, body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head>
<title>` + html.EscapeString(title) + `</title>
</head>
<body>
` + body + `
</body>
</html>
`
}

func containerXML(opfPath string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="` + opfPath + `" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`
}

func (b Book) packageDocument() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
`)
	if b.Identifier != "" {
		fmt.Fprintf(&sb, "    <dc:identifier id=\"bookid\">%s</dc:identifier>\n", html.EscapeString(b.Identifier))
	}
	fmt.Fprintf(&sb, "    <dc:title>%s</dc:title>\n", html.EscapeString(b.Title))
	if b.Language != "" {
		fmt.Fprintf(&sb, "    <dc:language>%s</dc:language>\n", b.Language)
	}
	if b.Author != "" {
		fmt.Fprintf(&sb, "    <dc:creator>%s</dc:creator>\n", html.EscapeString(b.Author))
	}
	sb.WriteString("    <meta property=\"dcterms:modified\">2024-01-01T00:00:00Z</meta>\n  </metadata>\n  <manifest>\n")
	if b.NCX {
		sb.WriteString("    <item id=\"ncx\" href=\"toc.ncx\" media-type=\"application/x-dtbncx+xml\"/>\n")
	} else {
		sb.WriteString("    <item id=\"nav\" href=\"nav.xhtml\" media-type=\"application/xhtml+xml\" properties=\"nav\"/>\n")
	}
	for i, ch := range b.Chapters {
		fmt.Fprintf(&sb, "    <item id=\"c%d\" href=\"%s\" media-type=\"application/xhtml+xml\"/>\n", i+1, ch.Href)
	}
	sb.WriteString("  </manifest>\n  <spine")
	if b.NCX {
		sb.WriteString(` toc="ncx"`)
	}
	if b.RTL {
		sb.WriteString(` page-progression-direction="rtl"`)
	}
	sb.WriteString(">\n")
	for i := range b.Chapters {
		fmt.Fprintf(&sb, "    <itemref idref=\"c%d\"/>\n", i+1)
	}
	sb.WriteString("  </spine>\n</package>\n")
	return sb.String()
}

func (b Book) nav() string {
	var sb strings.Builder
	sb.WriteString(`<nav epub:type="toc"><ol>`)
	for _, ch := range b.Chapters {
		fmt.Fprintf(&sb, `<li><a href="%s">%s</a></li>`, ch.Href, html.EscapeString(ch.Title))
	}
	sb.WriteString(`</ol></nav>`)
	return XHTML("Contents", sb.String())
}

func (b Book) ncx() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1"><navMap>`)
	for i, ch := range b.Chapters {
		fmt.Fprintf(&sb, `<navPoint id="np%d"><navLabel><text>%s</text></navLabel><content src="%s"/></navPoint>`,
			i+1, html.EscapeString(ch.Title), ch.Href)
	}
	sb.WriteString(`</navMap></ncx>`)
	return sb.String()
}
