package epub

import (
	"fmt"
	"path"
	"strings"

	"github.com/filegrind/pubchannel-go/publication"
)

type opfPackage struct {
	Version          string      `xml:"version,attr"`
	UniqueIdentifier string      `xml:"unique-identifier,attr"`
	Metadata         opfMetadata `xml:"metadata"`
	Manifest         opfManifest `xml:"manifest"`
	Spine            opfSpine    `xml:"spine"`
}

type opfMetadata struct {
	Titles       []dcElement `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creators     []dcElement `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Languages    []dcElement `xml:"http://purl.org/dc/elements/1.1/ language"`
	Identifiers  []dcElement `xml:"http://purl.org/dc/elements/1.1/ identifier"`
	Publishers   []dcElement `xml:"http://purl.org/dc/elements/1.1/ publisher"`
	Dates        []dcElement `xml:"http://purl.org/dc/elements/1.1/ date"`
	Descriptions []dcElement `xml:"http://purl.org/dc/elements/1.1/ description"`
	Metas        []opfMeta   `xml:"meta"`
}

type dcElement struct {
	Value  string `xml:",chardata"`
	ID     string `xml:"id,attr"`
	FileAs string `xml:"file-as,attr"`
	Role   string `xml:"role,attr"`
}

type opfMeta struct {
	Name     string `xml:"name,attr"`
	Content  string `xml:"content,attr"`
	Property string `xml:"property,attr"`
	Refines  string `xml:"refines,attr"`
	Value    string `xml:",chardata"`
}

type opfManifest struct {
	Items []opfItem `xml:"item"`
}

type opfItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type opfSpine struct {
	Toc                      string       `xml:"toc,attr"`
	PageProgressionDirection string       `xml:"page-progression-direction,attr"`
	ItemRefs                 []opfItemRef `xml:"itemref"`
}

type opfItemRef struct {
	IDRef  string `xml:"idref,attr"`
	Linear string `xml:"linear,attr"`
}

func parseOPF(data []byte) (*opfPackage, error) {
	var pkg opfPackage
	if err := newXMLDecoder(data).Decode(&pkg); err != nil {
		return nil, fmt.Errorf("epub: parse package document: %w", err)
	}
	if pkg.Version == "" {
		pkg.Version = "2.0"
	}
	return &pkg, nil
}

// packageItem is a manifest item with its href resolved to an archive path.
type packageItem struct {
	opfItem
	path string
}

func (it packageItem) hasProperty(prop string) bool {
	for _, p := range strings.Fields(it.Properties) {
		if p == prop {
			return true
		}
	}
	return false
}

func (it packageItem) link() publication.Link {
	link := publication.Link{Href: it.path, Type: publication.MediaType(strings.TrimSpace(it.MediaType))}
	if link.Type == "" {
		link.Type, _ = publication.MediaTypeFromExtension(it.path)
	}
	if it.hasProperty("nav") {
		link.Rels = append(link.Rels, "contents")
	}
	if it.hasProperty("cover-image") {
		link.Rels = append(link.Rels, "cover")
	}
	return link
}

// resolveItems resolves manifest hrefs against the package document. Items
// pointing outside the archive are dropped.
func (pkg *opfPackage) resolveItems(opfPath string) (map[string]packageItem, []packageItem) {
	byID := make(map[string]packageItem, len(pkg.Manifest.Items))
	ordered := make([]packageItem, 0, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		resolved := resolveRelativePath(opfPath, item.Href)
		if resolved == "" {
			continue
		}
		pi := packageItem{opfItem: item, path: resolved}
		if item.ID != "" {
			byID[item.ID] = pi
		}
		ordered = append(ordered, pi)
	}
	return byID, ordered
}

// buildManifest maps the package document onto a publication manifest. The
// toc is filled in separately since it needs other archive entries.
func (pkg *opfPackage) buildManifest(opfPath string) (*publication.Manifest, map[string]packageItem) {
	byID, ordered := pkg.resolveItems(opfPath)

	m := &publication.Manifest{
		Context:      publication.ManifestContext,
		Metadata:     pkg.metadata(),
		Links:        []publication.Link{},
		ReadingOrder: []publication.Link{},
	}

	inSpine := make(map[string]bool, len(pkg.Spine.ItemRefs))
	for _, ref := range pkg.Spine.ItemRefs {
		item, ok := byID[ref.IDRef]
		if !ok || inSpine[item.path] {
			continue
		}
		inSpine[item.path] = true
		m.ReadingOrder = append(m.ReadingOrder, item.link())
	}
	for _, item := range ordered {
		if !inSpine[item.path] {
			m.Resources = append(m.Resources, item.link())
		}
	}
	return m, byID
}

func (pkg *opfPackage) metadata() publication.Metadata {
	md := pkg.Metadata
	meta := publication.Metadata{
		Type:       "http://schema.org/Book",
		ConformsTo: "https://readium.org/webpub-manifest/profiles/epub",
		Identifier: pkg.identifier(),
		Title:      firstValue(md.Titles),
	}
	for _, lang := range md.Languages {
		if v := strings.TrimSpace(lang.Value); v != "" {
			meta.Languages = append(meta.Languages, v)
		}
	}
	for _, c := range md.Creators {
		if name := strings.TrimSpace(c.Value); name != "" {
			meta.Authors = append(meta.Authors, publication.Contributor{Name: name, SortAs: c.FileAs, Role: c.Role})
		}
	}
	for _, p := range md.Publishers {
		if name := strings.TrimSpace(p.Value); name != "" {
			meta.Publishers = append(meta.Publishers, publication.Contributor{Name: name})
		}
	}
	meta.Description = firstValue(md.Descriptions)
	meta.Published = firstValue(md.Dates)
	for _, m := range md.Metas {
		if m.Property == "dcterms:modified" && m.Refines == "" {
			meta.Modified = strings.TrimSpace(m.Value)
		}
	}
	switch dir := strings.ToLower(strings.TrimSpace(pkg.Spine.PageProgressionDirection)); dir {
	case "ltr", "rtl":
		meta.ReadingProgression = dir
	}
	return meta
}

// identifier prefers the element named by the package's unique-identifier.
func (pkg *opfPackage) identifier() string {
	ids := pkg.Metadata.Identifiers
	if pkg.UniqueIdentifier != "" {
		for _, id := range ids {
			if id.ID == pkg.UniqueIdentifier {
				if v := strings.TrimSpace(id.Value); v != "" {
					return v
				}
			}
		}
	}
	return firstValue(ids)
}

func firstValue(elems []dcElement) string {
	for _, e := range elems {
		if v := strings.TrimSpace(e.Value); v != "" {
			return v
		}
	}
	return ""
}

func opfDir(opfPath string) string {
	dir := path.Dir(opfPath)
	if dir == "." {
		return ""
	}
	return dir
}
