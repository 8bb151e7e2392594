package commands

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegrind/pubchannel-go/bifaci"
	"github.com/filegrind/pubchannel-go/epub"
	"github.com/filegrind/pubchannel-go/epub/epubtest"
	"github.com/filegrind/pubchannel-go/inject"
	"github.com/filegrind/pubchannel-go/reader"
	"github.com/filegrind/pubchannel-go/session"
	"github.com/filegrind/pubchannel-go/tts"
)

// heldEngine never finishes an utterance on its own.
type heldEngine struct{}

func (heldEngine) Speak(ctx context.Context, _ tts.Utterance) error {
	<-ctx.Done()
	return ctx.Err()
}

type harness struct {
	host   *bifaci.Host
	events chan bifaci.Event
}

func startHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rt := bifaci.NewRuntime(bifaci.NewManifest("pubchannel-test", "0.0.0", "test").
		WithEvents(reader.EventPageChanged, reader.EventTTSStateChanged))
	sess := session.New(session.Config{
		Retriever: epub.NewRetriever(epub.RetrieverConfig{}),
		Opener:    epub.NewOpener(),
		Transform: inject.Transformer,
		Logger:    logger,
	})
	rd := reader.New(reader.Config{
		Publications: sess,
		Navigators:   epub.NavigatorFactory{},
		Emitter:      rt,
		TTSEngine:    heldEngine{},
		Logger:       logger,
	})
	sess.OnClose(rd.Release)
	NewRouter(sess, rd, logger).Register(rt)

	hostRead, bridgeWrite := io.Pipe()
	bridgeRead, hostWrite := io.Pipe()
	runErr := make(chan error, 1)
	go func() {
		err := rt.Run(context.Background(), bridgeRead, bridgeWrite)
		bridgeWrite.Close()
		runErr <- err
	}()

	h := &harness{events: make(chan bifaci.Event, 64)}
	host, err := bifaci.Connect(hostRead, hostWrite, bifaci.WithEventHandler(func(e bifaci.Event) {
		select {
		case h.events <- e:
		default:
		}
	}))
	require.NoError(t, err)
	h.host = host

	t.Cleanup(func() {
		rd.Dispose()
		sess.CloseAll()
		host.Close()
		select {
		case <-runErr:
		case <-time.After(5 * time.Second):
			t.Error("runtime did not stop")
		}
	})
	return h
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (h *harness) call(t *testing.T, method string, args interface{}, out interface{}) {
	t.Helper()
	res, err := h.host.Call(testCtx(t), method, args)
	require.NoError(t, err, method)
	if out != nil {
		require.NoError(t, res.Decode(out), method)
	}
}

func (h *harness) callErr(t *testing.T, method string, args interface{}) *bifaci.HostError {
	t.Helper()
	_, err := h.host.Call(testCtx(t), method, args)
	var hostErr *bifaci.HostError
	require.ErrorAs(t, err, &hostErr, method)
	return hostErr
}

func (h *harness) waitEvent(t *testing.T, method string) bifaci.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-h.events:
			if e.Method == method {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event", method)
			return bifaci.Event{}
		}
	}
}

func TestManifestListsEveryCommand(t *testing.T) {
	h := startHarness(t)
	manifest, err := bifaci.ParseManifest(h.host.Manifest())
	require.NoError(t, err)

	for _, method := range []string{
		MethodOpenPublication, MethodFromPath, MethodFromLink, MethodClosePublication, MethodGet, MethodGetLastLocator,
		MethodAttachView, MethodDispose, MethodIsReaderReady, MethodSetUserProps, MethodGo,
		MethodGoLeft, MethodGoRight, MethodSetLocation, MethodIsLocatorVisible, MethodLocatorFragments, MethodTTSStart,
		MethodTTSStop, MethodTTSPause, MethodTTSResume, MethodTTSNext, MethodTTSPrevious, MethodTTSTogglePlay,
	} {
		assert.True(t, manifest.HasMethod(method), method)
	}
	assert.Equal(t, []string{reader.EventPageChanged, reader.EventTTSStateChanged}, manifest.Events)
}

func TestOpenFetchClose(t *testing.T) {
	h := startHarness(t)
	path := epubtest.Write(t, epubtest.Minimal())
	location := (&url.URL{Scheme: "file", Path: path}).String()

	var manifest string
	h.call(t, MethodOpenPublication, []interface{}{location, nil}, &manifest)
	assert.Contains(t, manifest, `"title":"Moby-Dick"`)
	assert.NotContains(t, manifest, `\/`)

	const id = "urn:uuid:8a1f5a52-4f8e-4c2b-9a8e-0d5c8b5e6f01"
	var text string
	h.call(t, MethodGet, []interface{}{id, false, "chapter1.xhtml", true}, &text)
	assert.Equal(t, 1, strings.Count(text, `<script type="text/javascript" src="https://readium/assets/epub.js"></script>`))
	assert.Contains(t, text, "Call me Ishmael.")

	var raw []byte
	h.call(t, MethodGet, []interface{}{id, true, `{"href":"chapter2.xhtml","type":"application/xhtml+xml"}`, false}, &raw)
	assert.Contains(t, string(raw), inject.Marker)

	h.call(t, MethodClosePublication, id, nil)
	h.call(t, MethodClosePublication, id, nil)

	hostErr := h.callErr(t, MethodGet, []interface{}{id, false, "chapter1.xhtml", true})
	assert.Equal(t, CodeNoActiveDocument, hostErr.Code)

	var again string
	h.call(t, MethodFromPath, []interface{}{path}, &again)
	assert.Equal(t, manifest, again)
}

func TestOpenFailureCodes(t *testing.T) {
	h := startHarness(t)
	dir := t.TempDir()
	notEpub := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notEpub, []byte("plain text"), 0o644))

	cases := []struct {
		name, location, code string
	}{
		{"missing file", filepath.Join(dir, "missing.epub"), CodeReading},
		{"not a zip", notEpub, CodeFormatNotSupported},
		{"bad location", "http://", CodeInvalidArgument},
	}
	for _, tc := range cases {
		hostErr := h.callErr(t, MethodOpenPublication, []interface{}{tc.location})
		assert.Equal(t, tc.code, hostErr.Code, tc.name)
		assert.NotEmpty(t, hostErr.Message, tc.name)
	}

	hostErr := h.callErr(t, MethodOpenPublication, "not an array")
	assert.Equal(t, CodeInvalidArgument, hostErr.Code)
	hostErr = h.callErr(t, MethodOpenPublication, []interface{}{})
	assert.Equal(t, CodeInvalidArgument, hostErr.Code)
}

func TestFetchFailureCodes(t *testing.T) {
	h := startHarness(t)
	path := epubtest.Write(t, epubtest.Minimal())
	h.call(t, MethodOpenPublication, []interface{}{path}, nil)
	const id = "urn:uuid:8a1f5a52-4f8e-4c2b-9a8e-0d5c8b5e6f01"

	hostErr := h.callErr(t, MethodGet, []interface{}{id, false, "missing.xhtml", false})
	assert.Equal(t, CodeLookupFailure, hostErr.Code)
	hostErr = h.callErr(t, MethodGet, []interface{}{id, true, `{"title":"no href"}`, false})
	assert.Equal(t, CodeInvalidArgument, hostErr.Code)
	hostErr = h.callErr(t, MethodGet, []interface{}{"unknown", false, "chapter1.xhtml", false})
	assert.Equal(t, CodeNoActiveDocument, hostErr.Code)
}

func TestFromLinkSendsHeaders(t *testing.T) {
	data := epubtest.Bytes(t, epubtest.Minimal())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Write(data)
	}))
	defer srv.Close()
	h := startHarness(t)
	href := srv.URL + "/book.epub"

	hostErr := h.callErr(t, MethodFromLink, []interface{}{href, map[string]string{}, "application/epub+zip"})
	assert.Equal(t, CodeReading, hostErr.Code)

	var manifest string
	h.call(t, MethodFromLink, []interface{}{href, map[string]string{"Authorization": "Bearer secret"}, "application/epub+zip"}, &manifest)
	assert.Contains(t, manifest, `"title":"Moby-Dick"`)

	hostErr = h.callErr(t, MethodFromLink, []interface{}{href, "not a map"})
	assert.Equal(t, CodeInvalidArgument, hostErr.Code)
}

func TestLocatorFragments(t *testing.T) {
	h := startHarness(t)
	book := epubtest.Minimal()
	book.Chapters[0].Body = `<p id="ishmael">Call me Ishmael.</p>`
	h.call(t, MethodOpenPublication, []interface{}{epubtest.Write(t, book)}, nil)

	hostErr := h.callErr(t, MethodLocatorFragments, `{"href":"chapter1.xhtml"}`)
	assert.Equal(t, CodeNoActiveDocument, hostErr.Code)

	h.call(t, MethodAttachView, reader.AttachRequest{Identifier: book.Identifier}, nil)

	var filled string
	h.call(t, MethodLocatorFragments, `{"href":"chapter1.xhtml"}`, &filled)
	assert.Contains(t, filled, `"fragments":["ishmael"]`)
	assert.Contains(t, filled, `"cssSelector":"#ishmael"`)

	hostErr = h.callErr(t, MethodLocatorFragments, `{"href":"missing.xhtml"}`)
	assert.Equal(t, CodeLookupFailure, hostErr.Code)
	hostErr = h.callErr(t, MethodLocatorFragments, `{`)
	assert.Equal(t, CodeInvalidArgument, hostErr.Code)
}

func TestUnknownMethodIsNotImplemented(t *testing.T) {
	h := startHarness(t)
	hostErr := h.callErr(t, "search", nil)
	assert.Equal(t, bifaci.CodeNotImplemented, hostErr.Code)
}

func TestViewCommands(t *testing.T) {
	h := startHarness(t)
	path := epubtest.Write(t, epubtest.Minimal())
	h.call(t, MethodOpenPublication, []interface{}{path}, nil)
	const id = "urn:uuid:8a1f5a52-4f8e-4c2b-9a8e-0d5c8b5e6f01"

	var ready bool
	h.call(t, MethodIsReaderReady, nil, &ready)
	assert.False(t, ready)
	hostErr := h.callErr(t, MethodGoRight, true)
	assert.Equal(t, CodeNoActiveDocument, hostErr.Code)

	var attached bool
	h.call(t, MethodAttachView, reader.AttachRequest{Identifier: id, UserProperties: map[string]string{"theme": "dark"}}, &attached)
	assert.True(t, attached)
	var first string
	require.NoError(t, h.waitEvent(t, reader.EventPageChanged).Decode(&first))
	assert.Contains(t, first, `"href":"chapter1.xhtml"`)

	h.call(t, MethodIsReaderReady, nil, &ready)
	assert.True(t, ready)
	h.call(t, MethodSetUserProps, map[string]string{"fontSize": "1.2", "unknown": "x"}, nil)

	var moved bool
	h.call(t, MethodGo, []interface{}{`{"href":"chapter2.xhtml"}`, false, false}, &moved)
	assert.True(t, moved)
	var page string
	require.NoError(t, h.waitEvent(t, reader.EventPageChanged).Decode(&page))
	assert.Contains(t, page, `"href":"chapter2.xhtml"`)

	var visible bool
	h.call(t, MethodIsLocatorVisible, `{"href":"chapter2.xhtml"}`, &visible)
	assert.True(t, visible)
	h.call(t, MethodGoLeft, false, &moved)
	assert.True(t, moved)
	h.call(t, MethodSetLocation, []interface{}{`{"href":"missing.xhtml"}`, false}, &moved)
	assert.False(t, moved)

	hostErr = h.callErr(t, MethodGo, []interface{}{"{", false, false})
	assert.Equal(t, CodeInvalidArgument, hostErr.Code)

	var last string
	h.call(t, MethodGetLastLocator, id, &last)
	assert.Contains(t, last, `"href":"chapter1.xhtml"`)

	// closing the displayed publication detaches the view
	h.call(t, MethodClosePublication, id, nil)
	h.call(t, MethodIsReaderReady, nil, &ready)
	assert.False(t, ready)

	res, err := h.host.Call(testCtx(t), MethodGetLastLocator, id)
	require.NoError(t, err)
	assert.True(t, res.IsEmpty(), "no store configured")
}

func TestTTSCommands(t *testing.T) {
	h := startHarness(t)
	path := epubtest.Write(t, epubtest.Minimal())
	h.call(t, MethodOpenPublication, []interface{}{path}, nil)
	h.call(t, MethodAttachView, map[string]interface{}{"identifier": "urn:uuid:8a1f5a52-4f8e-4c2b-9a8e-0d5c8b5e6f01"}, nil)

	var ok bool
	h.call(t, MethodTTSStart, []interface{}{"en", nil}, &ok)
	assert.True(t, ok)

	var state reader.TTSState
	require.NoError(t, h.waitEvent(t, reader.EventTTSStateChanged).Decode(&state))
	assert.Equal(t, "playing", state.State)
	assert.Contains(t, state.Utterance, "Call me Ishmael.")
	assert.Contains(t, state.Locator, `"href":"chapter1.xhtml"`)

	for _, method := range []string{MethodTTSPause, MethodTTSResume, MethodTTSNext, MethodTTSPrevious, MethodTTSTogglePlay, MethodTTSStop} {
		h.call(t, method, nil, &ok)
		assert.True(t, ok, method)
	}

	hostErr := h.callErr(t, MethodTTSStart, []interface{}{"??"})
	assert.Equal(t, CodeInvalidArgument, hostErr.Code)
}

func TestWireError(t *testing.T) {
	err := session.Wrap(session.KindReading, "open", "cannot open", errors.New("disk"))
	wire := WireError(err)
	assert.Equal(t, CodeReading, wire.Code)
	assert.Equal(t, "open: cannot open", wire.Message)
	assert.Equal(t, "disk", wire.Details)

	wire = WireError(session.Errorf(session.KindFormatNotSupported, "open", "not an epub"))
	assert.Equal(t, CodeFormatNotSupported, wire.Code)
	assert.Empty(t, wire.Details)

	coded := &bifaci.CallError{Code: "custom", Message: "kept"}
	assert.Same(t, coded, WireError(coded))

	wire = WireError(errors.New("unexpected"))
	assert.Equal(t, bifaci.CodeInternalError, wire.Code)
}
