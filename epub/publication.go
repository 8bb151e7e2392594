// Package epub is a small reference toolkit: it retrieves EPUB archives,
// maps their package document onto a publication manifest, serves their
// entries as resources and navigates their reading order headlessly.
package epub

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/filegrind/pubchannel-go/publication"
)

// Opener implements publication.Opener for archives returned by Retriever.
type Opener struct {
	MaxEntrySize int64
}

// NewOpener returns an Opener with the default entry size limit.
func NewOpener() *Opener {
	return &Opener{MaxEntrySize: DefaultMaxEntrySize}
}

// Open parses the archive's package document. On success the publication owns
// the asset; on failure the asset is left to the caller.
func (o *Opener) Open(ctx context.Context, asset publication.Asset, opts publication.OpenOptions) (publication.Publication, error) {
	archive, ok := asset.(*Archive)
	if !ok {
		return nil, publication.NewFormatNotSupportedError(fmt.Sprintf("cannot open %s assets", asset.MediaType()), nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, publication.NewReadingError("open cancelled", err)
	}
	limit := o.MaxEntrySize
	if limit <= 0 {
		limit = DefaultMaxEntrySize
	}

	idx := newEntryIndex(archive.zr)
	opfPath, err := packagePath(idx, limit)
	if err != nil {
		return nil, classify("locate package document", err)
	}
	opfFile := idx.find(opfPath)
	if opfFile == nil {
		return nil, publication.NewFormatNotSupportedError(opfPath, ErrNoRootfile)
	}
	data, err := readEntry(opfFile, limit)
	if err != nil {
		return nil, classify("read package document", err)
	}
	pkg, err := parseOPF(data)
	if err != nil {
		return nil, publication.NewFormatNotSupportedError("invalid package document", err)
	}

	manifest, byID := pkg.buildManifest(opfPath)
	manifest.TOC = readTOC(idx, pkg, byID, limit)

	return &Publication{
		manifest:  manifest,
		archive:   archive,
		index:     idx,
		baseDir:   opfDir(opfPath),
		transform: opts.Transform,
		limit:     limit,
	}, nil
}

func classify(message string, err error) error {
	if errors.Is(err, ErrInvalidContainer) || errors.Is(err, ErrNoRootfile) {
		return publication.NewFormatNotSupportedError(message, err)
	}
	return publication.NewReadingError(message, err)
}

// readTOC prefers the EPUB 3 nav document and falls back to the NCX. A broken
// toc never fails the open.
func readTOC(idx *entryIndex, pkg *opfPackage, byID map[string]packageItem, limit int64) []publication.Link {
	for _, item := range byID {
		if !item.hasProperty("nav") {
			continue
		}
		if f := idx.find(item.path); f != nil {
			if data, err := readEntry(f, limit); err == nil {
				if toc, err := parseNavDocument(data, item.path); err == nil && len(toc) > 0 {
					return toc
				}
			}
		}
	}
	if item, ok := byID[pkg.Spine.Toc]; ok {
		if f := idx.find(item.path); f != nil {
			if data, err := readEntry(f, limit); err == nil {
				if toc, err := parseNCX(data, item.path); err == nil {
					return toc
				}
			}
		}
	}
	return nil
}

// Publication is an opened EPUB.
type Publication struct {
	manifest  *publication.Manifest
	archive   *Archive
	index     *entryIndex
	baseDir   string
	transform publication.ResourceTransformer
	limit     int64

	mu     sync.RWMutex
	closed bool
}

func (p *Publication) Manifest() *publication.Manifest { return p.manifest }

// Get resolves link to an archive entry. Hrefs relative to the package
// document directory are accepted too.
func (p *Publication) Get(link publication.Link) (publication.Resource, bool) {
	href := publication.NormalizeHref(link.Href)
	if href == "" || !isSafePath(href) {
		return nil, false
	}
	f := p.index.find(href)
	if f == nil && p.baseDir != "" {
		href = path.Join(p.baseDir, href)
		f = p.index.find(href)
	}
	if f == nil {
		return nil, false
	}

	mediaType := link.Type
	if declared, ok := p.manifest.LinkWithHref(href); ok && declared.Type != "" {
		mediaType = declared.Type
	}
	if mediaType == "" {
		mediaType, _ = publication.MediaTypeFromExtension(href)
	}

	var res publication.Resource = &entryResource{pub: p, file: f, href: href, mediaType: mediaType}
	if p.transform != nil {
		res = p.transform(href, res)
	}
	return res, true
}

// Close releases the archive. Resources read after Close fail with
// publication.ErrClosed.
func (p *Publication) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.archive.Close()
}

type entryResource struct {
	pub       *Publication
	file      *zip.File
	href      string
	mediaType publication.MediaType
}

func (r *entryResource) Properties() publication.ResourceProperties {
	return publication.ResourceProperties{
		Filename:  r.href,
		MediaType: r.mediaType,
		Length:    int64(r.file.UncompressedSize64),
	}
}

func (r *entryResource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.pub.mu.RLock()
	defer r.pub.mu.RUnlock()
	if r.pub.closed {
		return nil, publication.ErrClosed
	}
	return readEntry(r.file, r.pub.limit)
}

func (r *entryResource) Close() error { return nil }
