package publication

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Link points to a resource of a publication.
type Link struct {
	Href       string                 `json:"href"`
	Type       MediaType              `json:"type,omitempty"`
	Title      string                 `json:"title,omitempty"`
	Rels       Rels                   `json:"rel,omitempty"`
	Templated  bool                   `json:"templated,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Height     int                    `json:"height,omitempty"`
	Width      int                    `json:"width,omitempty"`
	Duration   float64                `json:"duration,omitempty"`
	Languages  []string               `json:"language,omitempty"`
	Children   []Link                 `json:"children,omitempty"`
}

// Rels is a link relation list. It decodes from a single string or an array.
type Rels []string

func (r *Rels) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*r = strings.Fields(single)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("rel must be a string or an array of strings: %w", err)
	}
	*r = many
	return nil
}

// Has reports whether rel is present.
func (r Rels) Has(rel string) bool {
	for _, v := range r {
		if v == rel {
			return true
		}
	}
	return false
}

// LinkFromJSON validates and decodes a serialized link object.
func LinkFromJSON(data []byte) (Link, error) {
	if err := ValidateLinkJSON(data); err != nil {
		return Link{}, err
	}
	var link Link
	if err := json.Unmarshal(data, &link); err != nil {
		return Link{}, fmt.Errorf("decode link: %w", err)
	}
	return link, nil
}

// LinkFromHref builds a bare link for an href string.
func LinkFromHref(href string) Link {
	return Link{Href: href}
}

// NormalizeHref strips the fragment and query, a leading slash, and percent
// escapes, so that "/OEBPS/ch%201.xhtml#p3" and "OEBPS/ch 1.xhtml" compare equal.
func NormalizeHref(href string) string {
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	href = strings.TrimPrefix(href, "/")
	if unescaped, err := url.PathUnescape(href); err == nil {
		href = unescaped
	}
	return href
}

// Fragment returns the fragment of href without '#', or "".
func Fragment(href string) string {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		return href[i+1:]
	}
	return ""
}
