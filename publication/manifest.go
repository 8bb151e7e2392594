package publication

import (
	"bytes"
	"encoding/json"
)

const ManifestContext = "https://readium.org/webpub-manifest/context.jsonld"

// Manifest describes a publication's metadata and structure.
type Manifest struct {
	Context      string   `json:"@context,omitempty"`
	Metadata     Metadata `json:"metadata"`
	Links        []Link   `json:"links"`
	ReadingOrder []Link   `json:"readingOrder"`
	Resources    []Link   `json:"resources,omitempty"`
	TOC          []Link   `json:"toc,omitempty"`
}

// Metadata is the descriptive part of a Manifest.
type Metadata struct {
	Type               string        `json:"@type,omitempty"`
	ConformsTo         string        `json:"conformsTo,omitempty"`
	Identifier         string        `json:"identifier,omitempty"`
	Title              string        `json:"title"`
	Subtitle           string        `json:"subtitle,omitempty"`
	Languages          []string      `json:"language,omitempty"`
	Authors            []Contributor `json:"author,omitempty"`
	Publishers         []Contributor `json:"publisher,omitempty"`
	Description        string        `json:"description,omitempty"`
	Modified           string        `json:"modified,omitempty"`
	Published          string        `json:"published,omitempty"`
	ReadingProgression string        `json:"readingProgression,omitempty"`
}

// Contributor is an author, publisher or other contributor.
type Contributor struct {
	Name   string `json:"name"`
	SortAs string `json:"sortAs,omitempty"`
	Role   string `json:"role,omitempty"`
}

// JSON serializes the manifest without escaping HTML characters or slashes.
func (m *Manifest) JSON() ([]byte, error) {
	return marshalNoEscape(m)
}

// LinkWithHref finds a link of the reading order, resources or links by href,
// ignoring fragments. Nested children are searched too.
func (m *Manifest) LinkWithHref(href string) (Link, bool) {
	target := NormalizeHref(href)
	for _, list := range [][]Link{m.ReadingOrder, m.Resources, m.Links} {
		if link, ok := findLink(list, target); ok {
			return link, true
		}
	}
	return Link{}, false
}

// ReadingOrderIndex returns the reading order position of href, or -1.
func (m *Manifest) ReadingOrderIndex(href string) int {
	target := NormalizeHref(href)
	for i, link := range m.ReadingOrder {
		if NormalizeHref(link.Href) == target {
			return i
		}
	}
	return -1
}

// IsRTL reports a right-to-left reading progression.
func (m *Manifest) IsRTL() bool {
	return m.Metadata.ReadingProgression == "rtl"
}

func findLink(links []Link, target string) (Link, bool) {
	for _, link := range links {
		if NormalizeHref(link.Href) == target {
			return link, true
		}
		if found, ok := findLink(link.Children, target); ok {
			return found, true
		}
	}
	return Link{}, false
}

func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
