package epub

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/filegrind/pubchannel-go/publication"
)

// parseNavDocument reads the toc nav of an EPUB 3 navigation document.
// basePath is the archive path of the document, used to resolve hrefs.
func parseNavDocument(data []byte, basePath string) ([]publication.Link, error) {
	doc, err := html.Parse(bytes.NewReader(stripBOM(data)))
	if err != nil {
		return nil, fmt.Errorf("epub: parse nav document: %w", err)
	}

	var toc []publication.Link
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Nav && hasEpubType(n, "toc") {
			if ol := findFirstElement(n, atom.Ol); ol != nil {
				toc = navList(ol, basePath)
			}
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(doc)
	return toc, nil
}

func navList(ol *html.Node, basePath string) []publication.Link {
	var links []publication.Link
	for c := ol.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Li {
			if link, ok := navItem(c, basePath); ok {
				links = append(links, link)
			}
		}
	}
	return links
}

// navItem reads one <li>: its <a> (or a <span> heading) and a nested <ol>.
func navItem(li *html.Node, basePath string) (publication.Link, bool) {
	var link publication.Link
	for c := li.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.A:
			if link.Href == "" {
				link.Href = resolveWithFragment(basePath, attr(c, "href"))
				link.Title = strings.TrimSpace(textContent(c))
			}
		case atom.Span:
			if link.Title == "" {
				link.Title = strings.TrimSpace(textContent(c))
			}
		case atom.Ol:
			link.Children = navList(c, basePath)
		}
	}
	if link.Href == "" && len(link.Children) == 0 {
		return link, false
	}
	if link.Href == "" {
		// Heading without a target points at its first child
		link.Href = link.Children[0].Href
	}
	return link, true
}

// resolveWithFragment resolves href like resolveRelativePath but keeps the
// fragment, which locates the toc entry inside its resource.
func resolveWithFragment(basePath, href string) string {
	resolved := resolveRelativePath(basePath, href)
	if resolved == "" {
		return ""
	}
	if frag := publication.Fragment(href); frag != "" {
		return resolved + "#" + frag
	}
	return resolved
}

func hasEpubType(n *html.Node, typeName string) bool {
	for _, t := range strings.Fields(attr(n, "epub:type")) {
		if t == typeName {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findFirstElement(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
		if found := findFirstElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}

// NCX (EPUB 2) table of contents

type ncxDocument struct {
	NavMap struct {
		NavPoints []ncxNavPoint `xml:"navPoint"`
	} `xml:"navMap"`
}

type ncxNavPoint struct {
	Label struct {
		Text string `xml:"text"`
	} `xml:"navLabel"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []ncxNavPoint `xml:"navPoint"`
}

func parseNCX(data []byte, ncxPath string) ([]publication.Link, error) {
	var doc ncxDocument
	if err := newXMLDecoder(data).Decode(&doc); err != nil {
		return nil, fmt.Errorf("epub: parse NCX: %w", err)
	}
	return ncxLinks(doc.NavMap.NavPoints, ncxPath), nil
}

func ncxLinks(points []ncxNavPoint, ncxPath string) []publication.Link {
	var links []publication.Link
	for _, np := range points {
		link := publication.Link{
			Href:     resolveWithFragment(ncxPath, np.Content.Src),
			Title:    strings.TrimSpace(np.Label.Text),
			Children: ncxLinks(np.Children, ncxPath),
		}
		if link.Href == "" {
			continue
		}
		links = append(links, link)
	}
	return links
}
