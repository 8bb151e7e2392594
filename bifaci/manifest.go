package bifaci

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Manifest describes the bridge to the host. It is sent in the HELLO response.
type Manifest struct {
	// Component name
	Name string `json:"name"`

	// Component version
	Version string `json:"version"`

	// Component description
	Description string `json:"description"`

	// Methods the bridge answers
	Methods []string `json:"methods"`

	// Events the bridge may push
	Events []string `json:"events,omitempty"`

	// Component author/maintainer
	Author *string `json:"author,omitempty"`

	// Human-readable page URL (e.g., repository page, documentation)
	PageUrl *string `json:"page_url,omitempty"`
}

// NewManifest creates a new manifest without methods; the runtime fills them in at Run.
func NewManifest(name, version, description string) *Manifest {
	return &Manifest{
		Name:        name,
		Version:     version,
		Description: description,
	}
}

// WithAuthor sets the author of the component
func (m *Manifest) WithAuthor(author string) *Manifest {
	m.Author = &author
	return m
}

// WithPageUrl sets the page URL of the component
func (m *Manifest) WithPageUrl(pageUrl string) *Manifest {
	m.PageUrl = &pageUrl
	return m
}

// WithEvents declares the event names the bridge emits
func (m *Manifest) WithEvents(events ...string) *Manifest {
	m.Events = append(m.Events, events...)
	return m
}

// HasMethod reports whether the manifest lists method
func (m *Manifest) HasMethod(method string) bool {
	for _, name := range m.Methods {
		if name == method {
			return true
		}
	}
	return false
}

// ParseManifest decodes manifest JSON received during the handshake.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}
	return &m, nil
}

func (m *Manifest) withMethods(methods []string) ([]byte, error) {
	cp := *m
	cp.Methods = append([]string(nil), methods...)
	sort.Strings(cp.Methods)
	return json.Marshal(&cp)
}
