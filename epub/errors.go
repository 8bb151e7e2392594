package epub

import "errors"

// Sentinel errors returned by the epub package.
var (
	// ErrInvalidContainer means the archive has no usable META-INF/container.xml
	// and no .opf entry to fall back on.
	ErrInvalidContainer = errors.New("epub: invalid container")

	// ErrNoRootfile means the package document named by the container is missing.
	ErrNoRootfile = errors.New("epub: package document not found")

	// ErrNotFound means an href does not name an entry of the archive.
	ErrNotFound = errors.New("epub: entry not found in archive")

	// ErrFileTooLarge means an entry or a downloaded asset exceeds the size limit.
	ErrFileTooLarge = errors.New("epub: file too large")

	// ErrUnsafePath means an entry path escapes the archive root.
	ErrUnsafePath = errors.New("epub: unsafe entry path")
)
