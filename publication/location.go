package publication

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseLocation resolves the host's location string to an absolute URL.
// Strings that do not start with "http" or "file" are taken as local paths.
func ParseLocation(location string) (*url.URL, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("empty location")
	}

	raw := location
	if !strings.HasPrefix(location, "http") && !strings.HasPrefix(location, "file") {
		path := location
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		raw = (&url.URL{Scheme: "file", Path: path}).String()
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid location %q: %w", location, err)
	}
	switch u.Scheme {
	case "":
		// "file"-prefixed relative names such as "files/book.epub"
		return &url.URL{Scheme: "file", Path: "/" + strings.TrimPrefix(u.Path, "/")}, nil
	case "file":
		if u.Path == "" {
			return nil, fmt.Errorf("invalid location %q: missing path", location)
		}
	case "http", "https":
		if u.Host == "" {
			return nil, fmt.Errorf("invalid location %q: missing host", location)
		}
	default:
		return nil, fmt.Errorf("invalid location %q: unsupported scheme %q", location, u.Scheme)
	}
	return u, nil
}
