// Package inject adds the reader's script and stylesheet references to the
// HTML resources of a publication before they reach the renderer.
package inject

import (
	"bytes"
	"context"
	"strings"

	"github.com/filegrind/pubchannel-go/publication"
)

// Marker is the asset prefix every injected tag points at. Content that
// already contains it is left untouched.
const Marker = "https://readium/assets/"

// Tags are inserted, in this order, right before </head>.
var Tags = []string{
	`<script type="text/javascript" src="` + Marker + `comics.js"></script>`,
	`<script type="text/javascript" src="` + Marker + `epub.js"></script>`,
	`<link rel="stylesheet" type="text/css" href="` + Marker + `comics.css"></link>`,
	`<link rel="stylesheet" type="text/css" href="` + Marker + `epub.css"></link>`,
}

var (
	closingHead = []byte("</head>")
	block       = []byte("\n" + strings.Join(Tags, "\n") + "\n")
)

// Eligible reports whether a resource name denotes markup ("...html", any case).
func Eligible(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), "html")
}

// Transform returns content with the tag block inserted before the first
// </head> (case-insensitive). Content without </head>, or that already holds
// Marker, is returned unchanged.
func Transform(content []byte) []byte {
	if bytes.Contains(content, []byte(Marker)) {
		return content
	}
	i := indexFold(content, closingHead)
	if i < 0 {
		return content
	}
	out := make([]byte, 0, len(content)+len(block))
	out = append(out, content[:i]...)
	out = append(out, block...)
	return append(out, content[i:]...)
}

// indexFold is an ASCII case-insensitive bytes.Index.
func indexFold(s, sep []byte) int {
	n := len(sep)
	for i := 0; i+n <= len(s); i++ {
		if bytes.EqualFold(s[i:i+n], sep) {
			return i
		}
	}
	return -1
}

// Transformer wraps eligible resources so their content is injected on read.
// It is meant for publication.OpenOptions.Transform.
func Transformer(href string, res publication.Resource) publication.Resource {
	name := res.Properties().Filename
	if name == "" {
		name = href
	}
	if !Eligible(name) {
		return res
	}
	return &resource{Resource: res}
}

type resource struct {
	publication.Resource
}

func (r *resource) Read(ctx context.Context) ([]byte, error) {
	data, err := r.Resource.Read(ctx)
	if err != nil {
		return nil, err
	}
	return Transform(data), nil
}

func (r *resource) Properties() publication.ResourceProperties {
	props := r.Resource.Properties()
	// Length is only known after the transform
	props.Length = -1
	return props
}
