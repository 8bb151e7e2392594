// Package session keeps the registry of open publications and implements the
// open, close and fetch operations of the bridge.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/filegrind/pubchannel-go/publication"
)

// Recorder is told about every successful open. Failures are logged only.
type Recorder interface {
	RecordOpen(ctx context.Context, identifier, title, location string) error
}

// Config wires a Session to its toolkit.
type Config struct {
	Retriever publication.AssetRetriever
	Opener    publication.Opener
	// Transform decorates every resource served by opened publications.
	Transform publication.ResourceTransformer
	Recorder  Recorder
	Logger    *slog.Logger
}

// Document is the result of a successful open.
type Document struct {
	Identifier string
	// Manifest is the manifest JSON with "\/" normalized to "/".
	Manifest string
}

// Session owns the open publications, keyed by identifier. Registry changes
// for one identifier are serialized; different identifiers never wait on
// each other.
type Session struct {
	retriever publication.AssetRetriever
	opener    publication.Opener
	transform publication.ResourceTransformer
	recorder  Recorder
	logger    *slog.Logger

	keys keyedMutex

	mu       sync.Mutex
	entries  map[string]*entry
	onClose  []func(identifier string)
	shutdown bool
}

type entry struct {
	identifier string
	pub        publication.Publication

	// Readers hold rw for reading; close takes it for writing so it waits for
	// in-flight fetches.
	rw     sync.RWMutex
	closed bool
}

// New creates an empty session.
func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		retriever: cfg.Retriever,
		opener:    cfg.Opener,
		transform: cfg.Transform,
		recorder:  cfg.Recorder,
		logger:    logger,
		entries:   make(map[string]*entry),
	}
}

// OnClose registers fn to run, under the identifier's lock, before a
// publication is closed or replaced.
func (s *Session) OnClose(fn func(identifier string)) {
	s.mu.Lock()
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// Open retrieves and opens the publication at location. A publication already
// registered under the same identifier is closed and replaced.
func (s *Session) Open(ctx context.Context, location string, hints ...publication.MediaType) (*Document, error) {
	const op = "open"

	u, err := publication.ParseLocation(location)
	if err != nil {
		return nil, Wrap(KindInvalidArgument, op, "invalid location", err)
	}
	asset, err := s.retriever.Retrieve(ctx, u, hints...)
	if err != nil {
		return nil, openFailure(op, err)
	}
	pub, err := s.opener.Open(ctx, asset, publication.OpenOptions{Transform: s.transform})
	if err != nil {
		asset.Close()
		return nil, openFailure(op, err)
	}

	manifest := pub.Manifest()
	data, err := manifest.JSON()
	if err != nil {
		pub.Close()
		return nil, Wrap(KindReading, op, "cannot serialize manifest", err)
	}
	identifier := manifest.Metadata.Identifier
	if identifier == "" {
		identifier = location
	}

	if err := s.insert(identifier, pub); err != nil {
		pub.Close()
		return nil, err
	}
	s.logger.Info("publication opened", "identifier", identifier, "location", u.Redacted())

	if s.recorder != nil {
		if err := s.recorder.RecordOpen(ctx, identifier, manifest.Metadata.Title, location); err != nil {
			s.logger.Warn("cannot record opened publication", "identifier", identifier, "err", err)
		}
	}

	return &Document{
		Identifier: identifier,
		Manifest:   strings.ReplaceAll(string(data), `\/`, "/"),
	}, nil
}

func (s *Session) insert(identifier string, pub publication.Publication) error {
	unlock := s.keys.Lock(identifier)
	defer unlock()

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return Errorf(KindReading, "open", "session is shut down")
	}
	old := s.entries[identifier]
	s.mu.Unlock()

	if old != nil {
		s.logger.Debug("replacing open publication", "identifier", identifier)
		s.release(old)
	}

	s.mu.Lock()
	s.entries[identifier] = &entry{identifier: identifier, pub: pub}
	s.mu.Unlock()
	return nil
}

// Close closes the publication registered under identifier. Unknown
// identifiers are ignored. The publication's resources are released before
// Close returns.
func (s *Session) Close(identifier string) {
	unlock := s.keys.Lock(identifier)
	defer unlock()

	s.mu.Lock()
	e := s.entries[identifier]
	s.mu.Unlock()
	if e == nil {
		return
	}
	s.release(e)
	s.logger.Info("publication closed", "identifier", identifier)
}

// release runs the close hooks, waits for in-flight reads, closes the
// publication and unregisters it. The caller holds the identifier's lock.
func (s *Session) release(e *entry) {
	s.mu.Lock()
	hooks := append([]func(string){}, s.onClose...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(e.identifier)
	}

	e.rw.Lock()
	if !e.closed {
		e.closed = true
		if err := e.pub.Close(); err != nil {
			s.logger.Warn("error closing publication", "identifier", e.identifier, "err", err)
		}
	}
	e.rw.Unlock()

	s.mu.Lock()
	if s.entries[e.identifier] == e {
		delete(s.entries, e.identifier)
	}
	s.mu.Unlock()
}

// CloseAll closes every publication and refuses further opens.
func (s *Session) CloseAll() {
	s.mu.Lock()
	s.shutdown = true
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Close(id)
	}
}

// Identifiers lists the registered identifiers in sorted order.
func (s *Session) Identifiers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// With runs fn with the publication registered under identifier. The
// publication cannot be closed while fn runs.
func (s *Session) With(identifier string, fn func(publication.Publication) error) error {
	e, err := s.acquire("get", identifier)
	if err != nil {
		return err
	}
	defer e.rw.RUnlock()
	return fn(e.pub)
}

// Hold runs fn with the publication registered under identifier while holding
// the identifier's lock. Close and replacement, including their close hooks,
// wait until fn returns. fn must not open or close the same identifier.
func (s *Session) Hold(identifier string, fn func(publication.Publication) error) error {
	unlock := s.keys.Lock(identifier)
	defer unlock()
	return s.With(identifier, fn)
}

// Publication returns the publication registered under identifier. Unlike
// With, it does not keep the publication from being closed.
func (s *Session) Publication(identifier string) (publication.Publication, error) {
	var pub publication.Publication
	err := s.With(identifier, func(p publication.Publication) error {
		pub = p
		return nil
	})
	return pub, err
}

func (s *Session) acquire(op, identifier string) (*entry, error) {
	s.mu.Lock()
	e := s.entries[identifier]
	s.mu.Unlock()
	if e == nil {
		return nil, Errorf(KindNoActiveDocument, op, "no publication open under %q", identifier)
	}
	e.rw.RLock()
	if e.closed {
		e.rw.RUnlock()
		return nil, Errorf(KindNoActiveDocument, op, "publication %q was closed", identifier)
	}
	return e, nil
}

// ParseReference decodes the link-or-href argument of a fetch.
func ParseReference(isLink bool, linkOrHref string) (publication.Link, error) {
	if !isLink {
		if strings.TrimSpace(linkOrHref) == "" {
			return publication.Link{}, Errorf(KindInvalidArgument, "get", "empty href")
		}
		return publication.LinkFromHref(linkOrHref), nil
	}
	link, err := publication.LinkFromJSON([]byte(linkOrHref))
	if err != nil {
		return publication.Link{}, Wrap(KindInvalidArgument, "get", "invalid link", err)
	}
	return link, nil
}

// Fetch reads the whole resource link points to.
func (s *Session) Fetch(ctx context.Context, identifier string, link publication.Link) ([]byte, error) {
	const op = "get"

	e, err := s.acquire(op, identifier)
	if err != nil {
		return nil, err
	}
	defer e.rw.RUnlock()

	res, ok := e.pub.Get(link)
	if !ok {
		return nil, Errorf(KindLookup, op, "no resource at %q", link.Href)
	}
	defer res.Close()

	data, err := res.Read(ctx)
	if err != nil {
		if errors.Is(err, publication.ErrResourceNotFound) {
			return nil, Wrap(KindLookup, op, "no resource at "+link.Href, err)
		}
		return nil, Wrap(KindReading, op, "cannot read "+link.Href, err)
	}
	return data, nil
}

// FetchText reads the resource and decodes it as UTF-8. A leading BOM is
// honoured and stripped; invalid sequences become U+FFFD.
func (s *Session) FetchText(ctx context.Context, identifier string, link publication.Link) (string, error) {
	data, err := s.Fetch(ctx, identifier, link)
	if err != nil {
		return "", err
	}
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	text, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return "", Wrap(KindReading, "get", "cannot decode "+link.Href, err)
	}
	return string(text), nil
}
