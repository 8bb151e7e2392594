package epub

import (
	"archive/zip"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// DefaultMaxEntrySize bounds the decompressed size of a single entry.
const DefaultMaxEntrySize int64 = 256 * 1024 * 1024

// entryIndex maps archive paths to entries, with a lowercase fallback table
// for books whose hrefs disagree with the archive on case.
type entryIndex struct {
	files  []*zip.File
	exact  map[string]*zip.File
	folded map[string]*zip.File
}

func newEntryIndex(zr *zip.Reader) *entryIndex {
	idx := &entryIndex{
		files:  zr.File,
		exact:  make(map[string]*zip.File, len(zr.File)),
		folded: make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		idx.exact[f.Name] = f
		lower := strings.ToLower(f.Name)
		if _, dup := idx.folded[lower]; !dup {
			idx.folded[lower] = f
		}
	}
	return idx
}

func (idx *entryIndex) find(name string) *zip.File {
	if f, ok := idx.exact[name]; ok {
		return f
	}
	return idx.folded[strings.ToLower(name)]
}

// resolveRelativePath resolves href against the directory of basePath. It
// returns "" for absolute hrefs, external URLs and paths leaving the archive.
func resolveRelativePath(basePath, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "/") || strings.Contains(href, "://") {
		return ""
	}
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	cleaned := path.Clean(path.Join(path.Dir(basePath), href))
	if !isSafePath(cleaned) {
		return ""
	}
	return cleaned
}

func isSafePath(p string) bool {
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "/") {
		return false
	}
	return cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}

func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// readEntry reads a whole entry, refusing more than limit decompressed bytes.
// The declared size is checked first, then enforced while reading since it
// may be forged.
func readEntry(f *zip.File, limit int64) ([]byte, error) {
	if !isSafePath(f.Name) {
		return nil, fmt.Errorf("%w: %s", ErrUnsafePath, f.Name)
	}
	if f.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrFileTooLarge, f.Name, f.UncompressedSize64, limit)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("epub: open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("epub: read entry %s: %w", f.Name, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrFileTooLarge, f.Name, limit)
	}
	return data, nil
}
