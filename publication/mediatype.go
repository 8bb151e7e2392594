package publication

import (
	"path"
	"strings"
)

// MediaType is a MIME type string such as "application/xhtml+xml".
type MediaType string

const (
	MediaTypeEPUB  MediaType = "application/epub+zip"
	MediaTypeXHTML MediaType = "application/xhtml+xml"
	MediaTypeHTML  MediaType = "text/html"
	MediaTypeCSS   MediaType = "text/css"
	MediaTypeJS    MediaType = "text/javascript"
	MediaTypeNCX   MediaType = "application/x-dtbncx+xml"
	MediaTypeOPF   MediaType = "application/oebps-package+xml"
	MediaTypeSVG   MediaType = "image/svg+xml"
	MediaTypeJPEG  MediaType = "image/jpeg"
	MediaTypePNG   MediaType = "image/png"
	MediaTypeGIF   MediaType = "image/gif"
	MediaTypeWEBP  MediaType = "image/webp"
	MediaTypeOTF   MediaType = "font/otf"
	MediaTypeTTF   MediaType = "font/ttf"
	MediaTypeWOFF  MediaType = "font/woff"
	MediaTypeWOFF2 MediaType = "font/woff2"
	MediaTypeMP3   MediaType = "audio/mpeg"
	MediaTypeText  MediaType = "text/plain"
	MediaTypeJSON  MediaType = "application/json"
	MediaTypeRWPM  MediaType = "application/webpub+json"
	MediaTypeBin   MediaType = "application/octet-stream"
)

var extensionTypes = map[string]MediaType{
	".epub":  MediaTypeEPUB,
	".xhtml": MediaTypeXHTML,
	".xht":   MediaTypeXHTML,
	".html":  MediaTypeHTML,
	".htm":   MediaTypeHTML,
	".css":   MediaTypeCSS,
	".js":    MediaTypeJS,
	".ncx":   MediaTypeNCX,
	".opf":   MediaTypeOPF,
	".svg":   MediaTypeSVG,
	".jpg":   MediaTypeJPEG,
	".jpeg":  MediaTypeJPEG,
	".png":   MediaTypePNG,
	".gif":   MediaTypeGIF,
	".webp":  MediaTypeWEBP,
	".otf":   MediaTypeOTF,
	".ttf":   MediaTypeTTF,
	".woff":  MediaTypeWOFF,
	".woff2": MediaTypeWOFF2,
	".mp3":   MediaTypeMP3,
	".txt":   MediaTypeText,
	".json":  MediaTypeJSON,
}

// MediaTypeFromExtension guesses a media type from a file name or href.
func MediaTypeFromExtension(name string) (MediaType, bool) {
	mt, ok := extensionTypes[strings.ToLower(path.Ext(name))]
	return mt, ok
}

// Base returns the type without parameters, lowercased.
func (m MediaType) Base() MediaType {
	s := string(m)
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return MediaType(strings.ToLower(strings.TrimSpace(s)))
}

// Matches compares the base types.
func (m MediaType) Matches(other MediaType) bool {
	return m.Base() == other.Base()
}

// IsHTML reports whether the type is HTML or XHTML.
func (m MediaType) IsHTML() bool {
	base := m.Base()
	return base == MediaTypeHTML || base == MediaTypeXHTML
}

// ParseMediaTypeHints turns the host's optional format hint list into media types.
func ParseMediaTypeHints(hints []string) []MediaType {
	var out []MediaType
	for _, h := range hints {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, MediaType(h))
		}
	}
	return out
}
