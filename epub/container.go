package epub

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/filegrind/pubchannel-go/publication"
)

const containerPath = "META-INF/container.xml"

type containerXML struct {
	XMLName   xml.Name   `xml:"container"`
	RootFiles []rootFile `xml:"rootfiles>rootfile"`
}

type rootFile struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

// packagePath locates the package document. container.xml wins; without it
// the first .opf entry is used.
func packagePath(idx *entryIndex, limit int64) (string, error) {
	f := idx.find(containerPath)
	if f == nil {
		for _, entry := range idx.files {
			if strings.HasSuffix(strings.ToLower(entry.Name), ".opf") {
				return entry.Name, nil
			}
		}
		return "", fmt.Errorf("%w: no %s and no .opf entry", ErrInvalidContainer, containerPath)
	}

	data, err := readEntry(f, limit)
	if err != nil {
		return "", err
	}
	var c containerXML
	if err := newXMLDecoder(data).Decode(&c); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidContainer, err)
	}

	var fallback string
	for _, rf := range c.RootFiles {
		fullPath := strings.TrimSpace(rf.FullPath)
		if fullPath == "" {
			continue
		}
		if publication.MediaType(rf.MediaType).Matches(publication.MediaTypeOPF) {
			return fullPath, nil
		}
		if fallback == "" {
			fallback = fullPath
		}
	}
	if fallback == "" {
		return "", fmt.Errorf("%w: container.xml lists no rootfile", ErrInvalidContainer)
	}
	return fallback, nil
}

// newXMLDecoder accepts the HTML named entities found in real-world books.
func newXMLDecoder(data []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(stripBOM(data)))
	d.Strict = false
	d.Entity = xml.HTMLEntity
	return d
}
