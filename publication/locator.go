package publication

import (
	"encoding/json"
	"fmt"
)

// Locator is a serializable position within a publication.
type Locator struct {
	Href      string    `json:"href"`
	Type      MediaType `json:"type,omitempty"`
	Title     string    `json:"title,omitempty"`
	Locations Locations `json:"locations"`
	Text      *Text     `json:"text,omitempty"`
}

// Locations holds the positional data of a Locator.
type Locations struct {
	Fragments        []string        `json:"fragments,omitempty"`
	Progression      *float64        `json:"progression,omitempty"`
	Position         *int            `json:"position,omitempty"`
	TotalProgression *float64        `json:"totalProgression,omitempty"`
	CSSSelector      string          `json:"cssSelector,omitempty"`
	PartialCFI       string          `json:"partialCfi,omitempty"`
	DOMRange         json.RawMessage `json:"domRange,omitempty"`
}

// Text is the textual context around a Locator.
type Text struct {
	Before    string `json:"before,omitempty"`
	Highlight string `json:"highlight,omitempty"`
	After     string `json:"after,omitempty"`
}

// LocatorFromJSON validates and decodes a serialized locator.
func LocatorFromJSON(data []byte) (Locator, error) {
	if err := ValidateLocatorJSON(data); err != nil {
		return Locator{}, err
	}
	var loc Locator
	if err := json.Unmarshal(data, &loc); err != nil {
		return Locator{}, fmt.Errorf("decode locator: %w", err)
	}
	return loc, nil
}

// JSON serializes the locator. Slashes are never escaped.
func (l Locator) JSON() (string, error) {
	data, err := marshalNoEscape(l)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// LocatorFromLink builds a locator pointing at the start of a link.
func LocatorFromLink(link Link) Locator {
	loc := Locator{Href: NormalizeHref(link.Href), Type: link.Type, Title: link.Title}
	if frag := Fragment(link.Href); frag != "" {
		loc.Locations.Fragments = []string{frag}
	}
	zero := 0.0
	loc.Locations.Progression = &zero
	return loc
}

// ProgressionOrZero returns the in-resource progression, or 0.
func (l Locator) ProgressionOrZero() float64 {
	if l.Locations.Progression == nil {
		return 0
	}
	return *l.Locations.Progression
}
