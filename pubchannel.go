// Package pubchannel assembles the publication bridge: a framed CBOR runtime
// serving open, fetch, navigation and text-to-speech commands for EPUB
// publications to a host process.
package pubchannel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/filegrind/pubchannel-go/bifaci"
	"github.com/filegrind/pubchannel-go/commands"
	"github.com/filegrind/pubchannel-go/config"
	"github.com/filegrind/pubchannel-go/epub"
	"github.com/filegrind/pubchannel-go/inject"
	"github.com/filegrind/pubchannel-go/publication"
	"github.com/filegrind/pubchannel-go/reader"
	"github.com/filegrind/pubchannel-go/session"
	"github.com/filegrind/pubchannel-go/store"
	"github.com/filegrind/pubchannel-go/tts"
)

const (
	Name        = "pubchannel"
	Version     = "0.1.0"
	Description = "Publication reading bridge: open, fetch, navigate and read aloud EPUB publications"
)

// Option customizes a Bridge.
type Option func(*options)

type options struct {
	retriever  publication.AssetRetriever
	opener     publication.Opener
	navigators publication.NavigatorFactory
	engine     tts.Engine
	logOutput  io.Writer
}

// WithToolkit replaces the built-in EPUB toolkit.
func WithToolkit(retriever publication.AssetRetriever, opener publication.Opener, navigators publication.NavigatorFactory) Option {
	return func(o *options) {
		o.retriever = retriever
		o.opener = opener
		o.navigators = navigators
	}
}

// WithTTSEngine sets the speech engine. The default only paces utterances.
func WithTTSEngine(engine tts.Engine) Option {
	return func(o *options) { o.engine = engine }
}

// WithLogOutput sets where local logs go. Defaults to stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// Bridge is a fully wired bridge process.
type Bridge struct {
	rt      *bifaci.Runtime
	session *session.Session
	reader  *reader.Reader
	store   *store.Store
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// New builds a bridge from cfg.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	o := options{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	if o.retriever == nil {
		o.retriever = epub.NewRetriever(epub.RetrieverConfig{
			HTTPClient:    &http.Client{Timeout: cfg.HTTPTimeout},
			MaxAssetBytes: cfg.MaxAssetBytes,
		})
		o.opener = epub.NewOpener()
		o.navigators = epub.NavigatorFactory{CharsPerPage: cfg.CharsPerPage}
	}
	if o.engine == nil {
		o.engine = tts.PacedEngine{WordsPerMinute: cfg.TTSWordsPerMinute}
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	local := slog.NewTextHandler(o.logOutput, &slog.HandlerOptions{Level: level})

	manifest := bifaci.NewManifest(Name, Version, Description).
		WithEvents(reader.EventPageChanged, reader.EventTTSStateChanged)
	rt := bifaci.NewRuntime(manifest)
	rt.SetLimits(bifaci.Limits{MaxFrame: cfg.MaxFrame, MaxChunk: cfg.MaxChunk}.Sanitize())
	// Transport diagnostics stay local: the writer goroutine must never feed
	// its own queue.
	rt.SetLogger(slog.New(local))

	// Warnings and errors are mirrored to the host as LOG frames.
	logger := slog.New(bifaci.FanoutHandler{local, bifaci.NewLogForwarder(rt, slog.LevelWarn)})

	st, err := store.Open(ctx, cfg.PositionsDB)
	if err != nil {
		return nil, fmt.Errorf("open positions store: %w", err)
	}

	sess := session.New(session.Config{
		Retriever: o.retriever,
		Opener:    o.opener,
		Transform: inject.Transformer,
		Recorder:  st,
		Logger:    logger.With("component", "session"),
	})
	rd := reader.New(reader.Config{
		Publications: sess,
		Navigators:   o.navigators,
		Positions:    st,
		Emitter:      rt,
		TTSEngine:    o.engine,
		TTSLanguage:  cfg.TTSLanguage,
		Logger:       logger.With("component", "reader"),
	})
	sess.OnClose(rd.Release)
	commands.NewRouter(sess, rd, logger.With("component", "commands")).Register(rt)

	return &Bridge{rt: rt, session: sess, reader: rd, store: st, logger: logger}, nil
}

// Logger is the bridge logger.
func (b *Bridge) Logger() *slog.Logger {
	return b.logger
}

// Serve runs the bridge over r and w until the host closes the stream or ctx
// is cancelled. It does not release the bridge; call Close afterwards.
func (b *Bridge) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	b.logger.Info("bridge serving", "version", Version)
	err := b.rt.Run(ctx, r, w)
	if err != nil {
		b.logger.Error("bridge stopped", "err", err)
		return err
	}
	b.logger.Info("bridge stopped")
	return nil
}

// Close detaches the view, closes every open publication and the positions
// store.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.reader.Dispose()
		b.session.CloseAll()
		if err := b.store.Close(); err != nil {
			b.closeErr = errors.Join(b.closeErr, fmt.Errorf("close positions store: %w", err))
		}
	})
	return b.closeErr
}
