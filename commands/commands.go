// Package commands binds the wire method names of the bridge to session and
// reader operations and maps their failures to wire error codes.
package commands

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/filegrind/pubchannel-go/bifaci"
	"github.com/filegrind/pubchannel-go/publication"
	"github.com/filegrind/pubchannel-go/reader"
	"github.com/filegrind/pubchannel-go/session"
	"github.com/filegrind/pubchannel-go/telemetry"
)

// Wire method names.
const (
	MethodOpenPublication  = "openPublication"
	MethodFromPath         = "fromPath"
	MethodFromLink         = "fromLink"
	MethodClosePublication = "closePublication"
	MethodGet              = "get"
	MethodGetLastLocator   = "getLastLocator"
	MethodAttachView       = "attachView"
	MethodDispose          = "dispose"
	MethodIsReaderReady    = "isReaderReady"
	MethodSetUserProps     = "setUserProperties"
	MethodGo               = "go"
	MethodGoLeft           = "goLeft"
	MethodGoRight          = "goRight"
	MethodSetLocation      = "setLocation"
	MethodIsLocatorVisible = "isLocatorVisible"
	MethodLocatorFragments = "getLocatorFragments"
	MethodTTSStart         = "ttsStart"
	MethodTTSStop          = "ttsStop"
	MethodTTSPause         = "ttsPause"
	MethodTTSResume        = "ttsResume"
	MethodTTSNext          = "ttsNext"
	MethodTTSPrevious      = "ttsPrevious"
	MethodTTSTogglePlay    = "ttsTogglePlay"
)

// Documents is the registry of open publications.
type Documents interface {
	Open(ctx context.Context, location string, hints ...publication.MediaType) (*session.Document, error)
	Close(identifier string)
	Fetch(ctx context.Context, identifier string, link publication.Link) ([]byte, error)
	FetchText(ctx context.Context, identifier string, link publication.Link) (string, error)
}

// View is the displayed publication.
type View interface {
	Attach(ctx context.Context, req reader.AttachRequest) error
	Dispose()
	IsReady() bool
	SetUserProperties(props map[string]string) error
	Go(ctx context.Context, locatorJSON string, animated, isAudioBookWithText bool) (bool, error)
	GoLeft(ctx context.Context, animated bool) (bool, error)
	GoRight(ctx context.Context, animated bool) (bool, error)
	SetLocation(ctx context.Context, locatorJSON string, isAudioBookWithText bool) (bool, error)
	IsLocatorVisible(locatorJSON string) (bool, error)
	LocatorFragments(locatorJSON string) (string, error)
	LastLocator(ctx context.Context, identifier string) (string, bool, error)
	TTSStart(ctx context.Context, lang, locatorJSON string) (bool, error)
	TTSStop() (bool, error)
	TTSPause() (bool, error)
	TTSResume() (bool, error)
	TTSNext() (bool, error)
	TTSPrevious() (bool, error)
	TTSTogglePlay() (bool, error)
}

// Registrar accepts method handlers; *bifaci.Runtime is one.
type Registrar interface {
	Register(method string, handler bifaci.HandlerFunc)
}

// Router serves the bridge commands.
type Router struct {
	docs   Documents
	view   View
	logger *slog.Logger
}

// NewRouter creates a router over docs and view.
func NewRouter(docs Documents, view View, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{docs: docs, view: view, logger: logger}
}

// Register binds every command to reg.
func (r *Router) Register(reg Registrar) {
	handlers := map[string]bifaci.HandlerFunc{
		MethodOpenPublication:  r.open,
		MethodFromPath:         r.open,
		MethodFromLink:         r.openLink,
		MethodClosePublication: r.close,
		MethodGet:              r.get,
		MethodGetLastLocator:   r.lastLocator,
		MethodAttachView:       r.attachView,
		MethodDispose:          r.dispose,
		MethodIsReaderReady:    r.isReaderReady,
		MethodSetUserProps:     r.setUserProperties,
		MethodGo:               r.goTo,
		MethodGoLeft:           r.turn(r.view.GoLeft),
		MethodGoRight:          r.turn(r.view.GoRight),
		MethodSetLocation:      r.setLocation,
		MethodIsLocatorVisible: r.isLocatorVisible,
		MethodLocatorFragments: r.locatorFragments,
		MethodTTSStart:         r.ttsStart,
		MethodTTSStop:          r.speech(r.view.TTSStop),
		MethodTTSPause:         r.speech(r.view.TTSPause),
		MethodTTSResume:        r.speech(r.view.TTSResume),
		MethodTTSNext:          r.speech(r.view.TTSNext),
		MethodTTSPrevious:      r.speech(r.view.TTSPrevious),
		MethodTTSTogglePlay:    r.speech(r.view.TTSTogglePlay),
	}
	for method, handler := range handlers {
		reg.Register(method, r.traced(method, handler))
	}
}

// traced runs handler in a command span and converts its error for the wire.
func (r *Router) traced(method string, handler bifaci.HandlerFunc) bifaci.HandlerFunc {
	return func(ctx context.Context, call *bifaci.Call) (interface{}, error) {
		ctx, span := telemetry.StartCommand(ctx, method, attribute.String("pubchannel.call_id", call.Id.ToString()))
		result, err := handler(ctx, call)
		if err != nil {
			wire := WireError(err)
			telemetry.EndCommand(span, wire.Code, err)
			r.logger.Debug("command failed", "method", method, "id", call.Id.ToString(), "code", wire.Code, "err", err)
			return nil, wire
		}
		telemetry.EndCommand(span, "", nil)
		return result, nil
	}
}

func (r *Router) open(ctx context.Context, call *bifaci.Call) (interface{}, error) {
	a, err := decodeArgs(call, 1)
	if err != nil {
		return nil, err
	}
	location, err := a.string(0)
	if err != nil {
		return nil, err
	}
	hint, err := a.string(1)
	if err != nil {
		return nil, err
	}
	doc, err := r.docs.Open(ctx, location, publication.ParseMediaTypeHints([]string{hint})...)
	if err != nil {
		return nil, err
	}
	return doc.Manifest, nil
}

// openLink opens a remote publication, sending headers with the download.
func (r *Router) openLink(ctx context.Context, call *bifaci.Call) (interface{}, error) {
	a, err := decodeArgs(call, 1)
	if err != nil {
		return nil, err
	}
	href, err := a.string(0)
	if err != nil {
		return nil, err
	}
	headers, err := a.stringMap(1)
	if err != nil {
		return nil, err
	}
	hint, err := a.string(2)
	if err != nil {
		return nil, err
	}
	doc, err := r.docs.Open(publication.WithRequestHeaders(ctx, headers), href, publication.ParseMediaTypeHints([]string{hint})...)
	if err != nil {
		return nil, err
	}
	return doc.Manifest, nil
}

func (r *Router) close(_ context.Context, call *bifaci.Call) (interface{}, error) {
	var identifier string
	if err := decodeSingle(call, &identifier); err != nil {
		return nil, err
	}
	r.docs.Close(identifier)
	return nil, nil
}

func (r *Router) get(ctx context.Context, call *bifaci.Call) (interface{}, error) {
	a, err := decodeArgs(call, 3)
	if err != nil {
		return nil, err
	}
	identifier, err := a.string(0)
	if err != nil {
		return nil, err
	}
	isLink, err := a.bool(1)
	if err != nil {
		return nil, err
	}
	linkOrHref, err := a.string(2)
	if err != nil {
		return nil, err
	}
	asText, err := a.bool(3)
	if err != nil {
		return nil, err
	}

	link, err := session.ParseReference(isLink, linkOrHref)
	if err != nil {
		return nil, err
	}
	if asText {
		return r.docs.FetchText(ctx, identifier, link)
	}
	return r.docs.Fetch(ctx, identifier, link)
}

func (r *Router) lastLocator(ctx context.Context, call *bifaci.Call) (interface{}, error) {
	var identifier string
	if err := decodeSingle(call, &identifier); err != nil {
		return nil, err
	}
	locator, ok, err := r.view.LastLocator(ctx, identifier)
	if err != nil || !ok {
		return nil, err
	}
	return locator, nil
}

func (r *Router) attachView(ctx context.Context, call *bifaci.Call) (interface{}, error) {
	var req reader.AttachRequest
	if err := decodeSingle(call, &req); err != nil {
		return nil, err
	}
	if req.Identifier == "" {
		return nil, session.Errorf(session.KindInvalidArgument, call.Method, "missing identifier")
	}
	if err := r.view.Attach(ctx, req); err != nil {
		return nil, err
	}
	return true, nil
}

func (r *Router) dispose(context.Context, *bifaci.Call) (interface{}, error) {
	r.view.Dispose()
	return nil, nil
}

func (r *Router) isReaderReady(context.Context, *bifaci.Call) (interface{}, error) {
	return r.view.IsReady(), nil
}

func (r *Router) setUserProperties(_ context.Context, call *bifaci.Call) (interface{}, error) {
	var props map[string]string
	if err := decodeSingle(call, &props); err != nil {
		return nil, err
	}
	return nil, r.view.SetUserProperties(props)
}

func (r *Router) goTo(ctx context.Context, call *bifaci.Call) (interface{}, error) {
	a, err := decodeArgs(call, 1)
	if err != nil {
		return nil, err
	}
	locator, err := a.string(0)
	if err != nil {
		return nil, err
	}
	animated, err := a.bool(1)
	if err != nil {
		return nil, err
	}
	withText, err := a.bool(2)
	if err != nil {
		return nil, err
	}
	return r.view.Go(ctx, locator, animated, withText)
}

func (r *Router) turn(fn func(ctx context.Context, animated bool) (bool, error)) bifaci.HandlerFunc {
	return func(ctx context.Context, call *bifaci.Call) (interface{}, error) {
		var animated bool
		if err := decodeSingle(call, &animated); err != nil {
			return nil, err
		}
		return fn(ctx, animated)
	}
}

func (r *Router) setLocation(ctx context.Context, call *bifaci.Call) (interface{}, error) {
	a, err := decodeArgs(call, 1)
	if err != nil {
		return nil, err
	}
	locator, err := a.string(0)
	if err != nil {
		return nil, err
	}
	withText, err := a.bool(1)
	if err != nil {
		return nil, err
	}
	return r.view.SetLocation(ctx, locator, withText)
}

func (r *Router) isLocatorVisible(_ context.Context, call *bifaci.Call) (interface{}, error) {
	var locator string
	if err := decodeSingle(call, &locator); err != nil {
		return nil, err
	}
	return r.view.IsLocatorVisible(locator)
}

func (r *Router) locatorFragments(_ context.Context, call *bifaci.Call) (interface{}, error) {
	var locator string
	if err := decodeSingle(call, &locator); err != nil {
		return nil, err
	}
	return r.view.LocatorFragments(locator)
}

func (r *Router) ttsStart(ctx context.Context, call *bifaci.Call) (interface{}, error) {
	a, err := decodeArgs(call, 0)
	if err != nil {
		return nil, err
	}
	lang, err := a.string(0)
	if err != nil {
		return nil, err
	}
	locator, err := a.string(1)
	if err != nil {
		return nil, err
	}
	return r.view.TTSStart(ctx, lang, locator)
}

func (r *Router) speech(fn func() (bool, error)) bifaci.HandlerFunc {
	return func(context.Context, *bifaci.Call) (interface{}, error) {
		return fn()
	}
}
