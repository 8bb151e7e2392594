// Package publication defines the toolkit abstractions the bridge drives:
// assets, publications, resources and navigators, plus the JSON shapes
// (Link, Locator, Manifest) exchanged with the host.
package publication

import (
	"context"
	"io"
	"net/url"
)

// Asset is a retrievable byte source before its format is interpreted.
type Asset interface {
	io.Closer
	// URL is the location the asset was retrieved from.
	URL() *url.URL
	// MediaType is the sniffed format of the asset.
	MediaType() MediaType
}

// AssetRetriever turns a location into an Asset.
type AssetRetriever interface {
	// Retrieve fails with an *OpenError of kind ErrorReading or ErrorFormatNotSupported.
	Retrieve(ctx context.Context, u *url.URL, hints ...MediaType) (Asset, error)
}

type requestHeadersKey struct{}

// WithRequestHeaders returns a context carrying HTTP headers to send when a
// remote asset is retrieved under it.
func WithRequestHeaders(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return context.WithValue(ctx, requestHeadersKey{}, headers)
}

// RequestHeaders returns the headers attached by WithRequestHeaders.
func RequestHeaders(ctx context.Context) map[string]string {
	headers, _ := ctx.Value(requestHeadersKey{}).(map[string]string)
	return headers
}

// ResourceTransformer decorates resources as they are served.
type ResourceTransformer func(href string, res Resource) Resource

// OpenOptions tunes Opener.Open.
type OpenOptions struct {
	AllowUserInteraction bool
	Transform            ResourceTransformer
}

// Opener builds a Publication out of an Asset. The publication takes ownership
// of the asset on success.
type Opener interface {
	// Open fails with an *OpenError of kind ErrorReading or ErrorFormatNotSupported.
	Open(ctx context.Context, asset Asset, opts OpenOptions) (Publication, error)
}

// Publication is an opened document.
type Publication interface {
	io.Closer
	Manifest() *Manifest
	// Get returns the resource for link, or false when the link does not
	// resolve inside the publication.
	Get(link Link) (Resource, bool)
}

// ResourceProperties describes a resource without reading it.
type ResourceProperties struct {
	Filename  string
	MediaType MediaType
	Length    int64
}

// Resource is one readable entry of a publication.
type Resource interface {
	io.Closer
	Properties() ResourceProperties
	// Read reads the whole resource.
	Read(ctx context.Context) ([]byte, error)
}
