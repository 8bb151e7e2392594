// Package reader drives the publication displayed on the rendering surface:
// navigation, user properties, text-to-speech and the page events sent back
// to the host.
package reader

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/filegrind/pubchannel-go/publication"
	"github.com/filegrind/pubchannel-go/session"
	"github.com/filegrind/pubchannel-go/tts"
)

// Event names sent to the host.
const (
	EventPageChanged     = "onPageChanged"
	EventTTSStateChanged = "onTtsStateChanged"
)

// Emitter delivers events to the host.
type Emitter interface {
	Emit(method string, value interface{}) error
}

// Publications resolves identifiers to open publications. Hold runs fn while
// the publication can be neither closed nor replaced.
type Publications interface {
	Hold(identifier string, fn func(publication.Publication) error) error
}

// Positions persists the last locator of each publication.
type Positions interface {
	SaveLocator(ctx context.Context, identifier, locatorJSON string) error
	LastLocator(ctx context.Context, identifier string) (string, bool, error)
}

// Config wires a Reader.
type Config struct {
	Publications Publications
	Navigators   publication.NavigatorFactory
	// Positions and Emitter are optional.
	Positions Positions
	Emitter   Emitter
	// TTSEngine defaults to a paced silent engine.
	TTSEngine   tts.Engine
	TTSLanguage string
	Logger      *slog.Logger
}

// AttachRequest associates the rendering surface with an open publication.
type AttachRequest struct {
	Identifier     string            `cbor:"identifier"`
	UserProperties map[string]string `cbor:"userProperties,omitempty"`
	// InitialLocator is locator JSON; empty resumes from the stored position.
	InitialLocator string `cbor:"initialLocator,omitempty"`
}

// TTSState is the payload of onTtsStateChanged.
type TTSState struct {
	State     string `cbor:"state"`
	Utterance string `cbor:"utterance,omitempty"`
	Locator   string `cbor:"locator,omitempty"`
}

// Reader holds at most one attached view.
type Reader struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	view *view
}

type view struct {
	identifier string
	pub        publication.Publication
	nav        publication.Navigator

	ttsOnce sync.Mutex
	synth   *tts.Synthesizer
}

// New creates a detached reader.
func New(cfg Config) *Reader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{cfg: cfg, logger: logger}
}

// Attach displays the publication registered under req.Identifier, replacing
// the current view.
func (r *Reader) Attach(ctx context.Context, req AttachRequest) error {
	const op = "attachView"

	var initial *publication.Locator
	if strings.TrimSpace(req.InitialLocator) != "" {
		loc, err := parseLocator(op, req.InitialLocator)
		if err != nil {
			return err
		}
		initial = &loc
	}

	// Closing the publication runs Release under the same hold, so the view
	// is either installed before the close or never installed.
	return r.cfg.Publications.Hold(req.Identifier, func(pub publication.Publication) error {
		start := initial
		if start == nil {
			start = r.storedLocator(ctx, req.Identifier)
		}

		prefs := ApplyUserProperties(publication.Preferences{}, req.UserProperties, r.logger)
		nav, err := r.cfg.Navigators.NewNavigator(pub, start, prefs)
		if err != nil {
			return session.Wrap(session.KindReading, op, "cannot create navigator", err)
		}

		v := &view{identifier: req.Identifier, pub: pub, nav: nav}
		nav.OnLocationChanged(func(loc publication.Locator) {
			r.locationChanged(v, loc)
		})

		r.mu.Lock()
		old := r.view
		r.view = v
		r.mu.Unlock()
		if old != nil {
			r.teardown(old)
		}

		if loc := nav.CurrentLocator(); loc != nil {
			r.locationChanged(v, *loc)
		}
		r.logger.Info("view attached", "identifier", req.Identifier)
		return nil
	})
}

func (r *Reader) storedLocator(ctx context.Context, identifier string) *publication.Locator {
	if r.cfg.Positions == nil {
		return nil
	}
	raw, ok, err := r.cfg.Positions.LastLocator(ctx, identifier)
	if err != nil {
		r.logger.Warn("cannot load last locator", "identifier", identifier, "err", err)
		return nil
	}
	if !ok {
		return nil
	}
	loc, err := publication.LocatorFromJSON([]byte(raw))
	if err != nil {
		r.logger.Warn("ignoring stored locator", "identifier", identifier, "err", err)
		return nil
	}
	return &loc
}

// locationChanged reports a new location to the host and persists it.
func (r *Reader) locationChanged(v *view, loc publication.Locator) {
	data, err := loc.JSON()
	if err != nil {
		r.logger.Warn("cannot serialize locator", "identifier", v.identifier, "err", err)
		return
	}
	r.emit(EventPageChanged, data)
	if r.cfg.Positions != nil {
		if err := r.cfg.Positions.SaveLocator(context.Background(), v.identifier, data); err != nil {
			r.logger.Warn("cannot save locator", "identifier", v.identifier, "err", err)
		}
	}
}

func (r *Reader) emit(method string, value interface{}) {
	if r.cfg.Emitter == nil {
		return
	}
	if err := r.cfg.Emitter.Emit(method, value); err != nil {
		r.logger.Debug("event dropped", "method", method, "err", err)
	}
}

// Dispose detaches the current view, stopping speech.
func (r *Reader) Dispose() {
	r.mu.Lock()
	v := r.view
	r.view = nil
	r.mu.Unlock()
	if v != nil {
		r.teardown(v)
		r.logger.Info("view disposed", "identifier", v.identifier)
	}
}

// Release detaches the view if it displays identifier. It is meant as a
// session close hook.
func (r *Reader) Release(identifier string) {
	r.mu.Lock()
	v := r.view
	if v == nil || v.identifier != identifier {
		r.mu.Unlock()
		return
	}
	r.view = nil
	r.mu.Unlock()
	r.teardown(v)
}

func (r *Reader) teardown(v *view) {
	v.ttsOnce.Lock()
	synth := v.synth
	v.synth = nil
	v.ttsOnce.Unlock()
	if synth != nil {
		synth.Close()
	}
	if err := v.nav.Close(); err != nil {
		r.logger.Warn("error closing navigator", "identifier", v.identifier, "err", err)
	}
}

// IsReady reports whether a view is attached.
func (r *Reader) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view != nil
}

// Identifier returns the identifier of the attached publication, or "".
func (r *Reader) Identifier() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.view == nil {
		return ""
	}
	return r.view.identifier
}

func (r *Reader) current(op string) (*view, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.view == nil {
		return nil, session.Errorf(session.KindNoActiveDocument, op, "no publication is displayed")
	}
	return r.view, nil
}

func parseLocator(op, raw string) (publication.Locator, error) {
	loc, err := publication.LocatorFromJSON([]byte(raw))
	if err != nil {
		return publication.Locator{}, session.Wrap(session.KindInvalidArgument, op, "invalid locator", err)
	}
	return loc, nil
}

// SetUserProperties maps props onto the navigator preferences.
func (r *Reader) SetUserProperties(props map[string]string) error {
	v, err := r.current("setUserProperties")
	if err != nil {
		return err
	}
	v.nav.SubmitPreferences(ApplyUserProperties(v.nav.Preferences(), props, r.logger))
	return nil
}

// Go moves to locatorJSON.
func (r *Reader) Go(ctx context.Context, locatorJSON string, animated, isAudioBookWithText bool) (bool, error) {
	const op = "go"
	v, err := r.current(op)
	if err != nil {
		return false, err
	}
	loc, err := parseLocator(op, locatorJSON)
	if err != nil {
		return false, err
	}
	if isAudioBookWithText {
		r.logger.Debug("publication has no audio track, navigating the text only", "identifier", v.identifier)
	}
	return v.nav.Go(ctx, loc, animated), nil
}

// SetLocation moves to locatorJSON without animation.
func (r *Reader) SetLocation(ctx context.Context, locatorJSON string, isAudioBookWithText bool) (bool, error) {
	const op = "setLocation"
	v, err := r.current(op)
	if err != nil {
		return false, err
	}
	loc, err := parseLocator(op, locatorJSON)
	if err != nil {
		return false, err
	}
	return v.nav.Go(ctx, loc, false), nil
}

// GoLeft moves one page left: backward for left-to-right publications.
func (r *Reader) GoLeft(ctx context.Context, animated bool) (bool, error) {
	v, err := r.current("goLeft")
	if err != nil {
		return false, err
	}
	if v.pub.Manifest().IsRTL() {
		return v.nav.GoForward(ctx, animated), nil
	}
	return v.nav.GoBackward(ctx, animated), nil
}

// GoRight moves one page right: forward for left-to-right publications.
func (r *Reader) GoRight(ctx context.Context, animated bool) (bool, error) {
	v, err := r.current("goRight")
	if err != nil {
		return false, err
	}
	if v.pub.Manifest().IsRTL() {
		return v.nav.GoBackward(ctx, animated), nil
	}
	return v.nav.GoForward(ctx, animated), nil
}

// IsLocatorVisible reports whether locatorJSON is on screen.
func (r *Reader) IsLocatorVisible(locatorJSON string) (bool, error) {
	const op = "isLocatorVisible"
	v, err := r.current(op)
	if err != nil {
		return false, err
	}
	loc, err := parseLocator(op, locatorJSON)
	if err != nil {
		return false, err
	}
	return v.nav.IsVisible(loc), nil
}

// LocatorFragments returns locatorJSON with the fragments of the page it
// points at filled in.
func (r *Reader) LocatorFragments(locatorJSON string) (string, error) {
	const op = "getLocatorFragments"
	v, err := r.current(op)
	if err != nil {
		return "", err
	}
	loc, err := parseLocator(op, locatorJSON)
	if err != nil {
		return "", err
	}
	filled, ok := v.nav.LocatorFragments(loc)
	if !ok {
		return "", session.Errorf(session.KindLookup, op, "%q is not in the reading order", loc.Href)
	}
	data, err := filled.JSON()
	if err != nil {
		return "", session.Wrap(session.KindReading, op, "cannot serialize locator", err)
	}
	return data, nil
}

// CurrentLocator returns the locator of the attached view.
func (r *Reader) CurrentLocator() (*publication.Locator, error) {
	v, err := r.current("currentLocator")
	if err != nil {
		return nil, err
	}
	return v.nav.CurrentLocator(), nil
}

// LastLocator returns the last known locator JSON of identifier: the live
// location when it is displayed, the stored one otherwise.
func (r *Reader) LastLocator(ctx context.Context, identifier string) (string, bool, error) {
	r.mu.Lock()
	v := r.view
	r.mu.Unlock()
	if v != nil && v.identifier == identifier {
		if loc := v.nav.CurrentLocator(); loc != nil {
			data, err := loc.JSON()
			if err != nil {
				return "", false, session.Wrap(session.KindReading, "getLastLocator", "cannot serialize locator", err)
			}
			return data, true, nil
		}
	}
	if r.cfg.Positions == nil {
		return "", false, nil
	}
	data, ok, err := r.cfg.Positions.LastLocator(ctx, identifier)
	if err != nil {
		return "", false, session.Wrap(session.KindReading, "getLastLocator", "cannot load locator", err)
	}
	return data, ok, nil
}
