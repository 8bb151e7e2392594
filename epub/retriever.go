package epub

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/filegrind/pubchannel-go/publication"
)

// Archive is a retrieved EPUB zip asset. It owns the underlying file, if any.
type Archive struct {
	url    *url.URL
	zr     *zip.Reader
	closer io.Closer
}

func (a *Archive) URL() *url.URL { return a.url }

func (a *Archive) MediaType() publication.MediaType { return publication.MediaTypeEPUB }

func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

// RetrieverConfig tunes a Retriever.
type RetrieverConfig struct {
	HTTPClient *http.Client
	// MaxAssetBytes bounds remote downloads.
	MaxAssetBytes int64
}

// Retriever fetches EPUB archives from file:// and http(s):// URLs.
type Retriever struct {
	client   *http.Client
	maxBytes int64
}

// NewRetriever builds a Retriever. Zero values take the defaults.
func NewRetriever(cfg RetrieverConfig) *Retriever {
	r := &Retriever{client: cfg.HTTPClient, maxBytes: cfg.MaxAssetBytes}
	if r.client == nil {
		r.client = &http.Client{Timeout: 30 * time.Second}
	}
	if r.maxBytes <= 0 {
		r.maxBytes = DefaultMaxEntrySize
	}
	return r
}

var acceptedHints = []publication.MediaType{
	publication.MediaTypeEPUB,
	publication.MediaTypeBin,
	"application/zip",
}

// Retrieve implements publication.AssetRetriever.
func (r *Retriever) Retrieve(ctx context.Context, u *url.URL, hints ...publication.MediaType) (publication.Asset, error) {
	if err := checkHints(hints); err != nil {
		return nil, err
	}

	var (
		archive *Archive
		err     error
	)
	switch u.Scheme {
	case "file":
		archive, err = r.openFile(u)
	case "http", "https":
		archive, err = r.download(ctx, u)
	default:
		return nil, publication.NewReadingError(fmt.Sprintf("unsupported scheme %q", u.Scheme), nil)
	}
	if err != nil {
		return nil, err
	}

	if _, err := packagePath(newEntryIndex(archive.zr), DefaultMaxEntrySize); err != nil {
		archive.Close()
		if errors.Is(err, ErrInvalidContainer) {
			return nil, publication.NewFormatNotSupportedError("not an EPUB", err)
		}
		return nil, publication.NewReadingError("read container", err)
	}
	return archive, nil
}

func checkHints(hints []publication.MediaType) error {
	if len(hints) == 0 {
		return nil
	}
	for _, h := range hints {
		for _, ok := range acceptedHints {
			if h.Matches(ok) {
				return nil
			}
		}
	}
	return publication.NewFormatNotSupportedError(fmt.Sprintf("unsupported media type %q", hints[0]), nil)
}

func (r *Retriever) openFile(u *url.URL) (*Archive, error) {
	f, err := os.Open(u.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, publication.NewReadingError("file not found: "+u.Path, err)
		}
		return nil, publication.NewReadingError("open "+u.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, publication.NewReadingError("stat "+u.Path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, publication.NewFormatNotSupportedError(u.Path+" is a directory", nil)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, publication.NewFormatNotSupportedError("not a zip archive", err)
	}
	return &Archive{url: u, zr: zr, closer: f}, nil
}

func (r *Retriever) download(ctx context.Context, u *url.URL) (*Archive, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, publication.NewReadingError("build request", err)
	}
	for name, value := range publication.RequestHeaders(ctx) {
		req.Header.Set(name, value)
	}
	res, err := r.client.Do(req)
	if err != nil {
		return nil, publication.NewReadingError("download "+u.Redacted(), err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, publication.NewReadingError(
			fmt.Sprintf("download %s: status %d: %s", u.Redacted(), res.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, r.maxBytes+1))
	if err != nil {
		return nil, publication.NewReadingError("download "+u.Redacted(), err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, publication.NewReadingError("download "+u.Redacted(), fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, r.maxBytes))
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, publication.NewFormatNotSupportedError("not a zip archive", err)
	}
	return &Archive{url: u, zr: zr}, nil
}
