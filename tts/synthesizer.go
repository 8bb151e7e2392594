// Package tts reads a publication aloud: it splits the reading order into
// utterances and drives an Engine through a playing/paused/stopped state
// machine, reporting every change.
package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/language"

	"github.com/filegrind/pubchannel-go/publication"
)

// State is the playback state.
type State string

const (
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Utterance is a piece of text spoken in one go.
type Utterance struct {
	Text     string              `json:"text"`
	Language string              `json:"language,omitempty"`
	Locator  publication.Locator `json:"locator"`
}

// StateChange is reported after every transition or utterance change.
type StateChange struct {
	State     State
	Utterance *Utterance
}

// Config sets up a Synthesizer.
type Config struct {
	Engine Engine
	// Language is a BCP 47 tag used for text without a lang attribute.
	Language string
	// OnStateChanged is called sequentially, outside the synthesizer's lock.
	// It must not call back into the synthesizer.
	OnStateChanged func(StateChange)
	Logger         *slog.Logger
}

// Synthesizer plays the utterances of one publication.
type Synthesizer struct {
	pub      publication.Publication
	engine   Engine
	lang     language.Tag
	onChange func(StateChange)
	logger   *slog.Logger

	emitMu sync.Mutex

	mu     sync.Mutex
	state  State
	cache  map[int][]Utterance
	res    int
	idx    int
	gen    uint64
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// New creates a stopped synthesizer positioned at the first utterance.
func New(pub publication.Publication, cfg Config) (*Synthesizer, error) {
	raw := strings.TrimSpace(cfg.Language)
	if raw == "" {
		raw = "en"
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid language %q: %w", cfg.Language, err)
	}
	engine := cfg.Engine
	if engine == nil {
		engine = PacedEngine{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		pub:      pub,
		engine:   engine,
		lang:     tag,
		onChange: cfg.OnStateChanged,
		logger:   logger,
		state:    StateStopped,
		cache:    make(map[int][]Utterance),
	}, nil
}

// Language is the default language of the synthesizer.
func (s *Synthesizer) Language() language.Tag {
	return s.lang
}

// SetLanguage changes the default language for utterances loaded from now on.
func (s *Synthesizer) SetLanguage(raw string) error {
	tag, err := language.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid language %q: %w", raw, err)
	}
	s.mu.Lock()
	if tag.String() != s.lang.String() {
		s.lang = tag
		s.cache = make(map[int][]Utterance)
	}
	s.mu.Unlock()
	return nil
}

// State returns the current playback state.
func (s *Synthesizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the utterance under the cursor, or nil.
func (s *Synthesizer) Current() *Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

// Start plays from the utterance at from, or from the beginning when from is
// nil or matches nothing. It reports false when the publication has no text.
func (s *Synthesizer) Start(from *publication.Locator) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.haltLocked()
	if !s.seekLocked(from) {
		s.state = StateStopped
		change := s.snapshotLocked()
		s.mu.Unlock()
		s.emit(change)
		return false
	}
	s.playLocked()
	change := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(change)
	return true
}

// Pause suspends playback, keeping the position.
func (s *Synthesizer) Pause() bool {
	return s.transition(func() bool {
		if s.state != StatePlaying {
			return false
		}
		s.haltLocked()
		s.state = StatePaused
		return true
	})
}

// Resume continues a paused playback.
func (s *Synthesizer) Resume() bool {
	return s.transition(func() bool {
		if s.state != StatePaused || s.currentLocked() == nil {
			return false
		}
		s.playLocked()
		return true
	})
}

// Stop ends playback. The position is kept for TogglePlay.
func (s *Synthesizer) Stop() bool {
	return s.transition(func() bool {
		if s.state == StateStopped {
			return false
		}
		s.haltLocked()
		s.state = StateStopped
		return true
	})
}

// TogglePlay pauses while playing and plays otherwise.
func (s *Synthesizer) TogglePlay() bool {
	return s.transition(func() bool {
		if s.state == StatePlaying {
			s.haltLocked()
			s.state = StatePaused
			return true
		}
		if s.currentLocked() == nil && !s.seekLocked(nil) {
			return false
		}
		s.playLocked()
		return true
	})
}

// Next skips to the following utterance.
func (s *Synthesizer) Next() bool {
	return s.skip(1)
}

// Previous goes back to the preceding utterance.
func (s *Synthesizer) Previous() bool {
	return s.skip(-1)
}

func (s *Synthesizer) skip(delta int) bool {
	return s.transition(func() bool {
		if s.currentLocked() == nil || !s.moveLocked(delta) {
			return false
		}
		if s.state == StatePlaying {
			s.haltLocked()
			s.playLocked()
		}
		return true
	})
}

// Close stops playback and waits for the playback goroutine to exit.
func (s *Synthesizer) Close() {
	s.mu.Lock()
	s.closed = true
	s.haltLocked()
	s.state = StateStopped
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Synthesizer) transition(fn func() bool) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.closed || !fn() {
		s.mu.Unlock()
		return false
	}
	change := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(change)
	return true
}

func (s *Synthesizer) emit(change StateChange) {
	if s.onChange != nil {
		s.onChange(change)
	}
}

func (s *Synthesizer) snapshotLocked() StateChange {
	change := StateChange{State: s.state}
	if u := s.currentLocked(); u != nil {
		cp := *u
		change.Utterance = &cp
	}
	return change
}

// haltLocked cancels the playback goroutine, if any.
func (s *Synthesizer) haltLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Synthesizer) playLocked() {
	s.gen++
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = StatePlaying
	s.wg.Add(1)
	go s.run(ctx, s.gen)
}

// run speaks utterances until the end of the publication or until the
// generation changes.
func (s *Synthesizer) run(ctx context.Context, gen uint64) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		u := s.currentLocked()
		s.mu.Unlock()
		if u == nil {
			return
		}

		if err := s.engine.Speak(ctx, *u); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("tts engine failed", "href", u.Locator.Href, "err", err)
		}

		s.emitMu.Lock()
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			s.emitMu.Unlock()
			return
		}
		more := s.moveLocked(1)
		if !more {
			s.haltLocked()
			s.state = StateStopped
		}
		change := s.snapshotLocked()
		s.mu.Unlock()
		s.emit(change)
		s.emitMu.Unlock()
		if !more {
			return
		}
	}
}

func (s *Synthesizer) currentLocked() *Utterance {
	list := s.utterancesLocked(s.res)
	if s.idx < 0 || s.idx >= len(list) {
		return nil
	}
	return &list[s.idx]
}

// utterancesLocked loads the utterances of reading order item i. A resource
// that cannot be read has none.
func (s *Synthesizer) utterancesLocked(i int) []Utterance {
	readingOrder := s.pub.Manifest().ReadingOrder
	if i < 0 || i >= len(readingOrder) {
		return nil
	}
	if list, ok := s.cache[i]; ok {
		return list
	}
	list, err := loadUtterances(context.Background(), s.pub, readingOrder[i], s.lang.String())
	if err != nil {
		if !errors.Is(err, publication.ErrResourceNotFound) {
			s.logger.Warn("cannot load utterances", "href", readingOrder[i].Href, "err", err)
		}
		list = nil
	}
	s.cache[i] = list
	return list
}

// moveLocked moves the cursor by delta utterances, crossing resources and
// skipping those without text. The cursor is unchanged on failure.
func (s *Synthesizer) moveLocked(delta int) bool {
	n := len(s.pub.Manifest().ReadingOrder)
	res, idx := s.res, s.idx+delta
	for res >= 0 && res < n {
		list := s.utterancesLocked(res)
		if idx >= 0 && idx < len(list) {
			s.res, s.idx = res, idx
			return true
		}
		if delta > 0 {
			res++
			idx = 0
		} else {
			res--
			idx = len(s.utterancesLocked(res)) - 1
		}
	}
	return false
}

// seekLocked places the cursor on the utterance matching from.
func (s *Synthesizer) seekLocked(from *publication.Locator) bool {
	res := 0
	if from != nil {
		if i := s.pub.Manifest().ReadingOrderIndex(from.Href); i >= 0 {
			res = i
		}
	}
	list := s.utterancesLocked(res)
	idx := 0
	if from != nil && len(list) > 0 {
		idx = matchUtterance(list, *from)
	}
	if idx < len(list) {
		s.res, s.idx = res, idx
		return true
	}
	// Nothing to say here: continue with the next resource holding text
	s.res, s.idx = res, -1
	return s.moveLocked(1)
}

func matchUtterance(list []Utterance, loc publication.Locator) int {
	if sel := loc.Locations.CSSSelector; sel != "" {
		for i, u := range list {
			if u.Locator.Locations.CSSSelector == sel {
				return i
			}
		}
	}
	for _, frag := range loc.Locations.Fragments {
		for i, u := range list {
			if u.Locator.Locations.CSSSelector == "#"+frag {
				return i
			}
		}
	}
	if loc.Locations.Progression != nil {
		target := *loc.Locations.Progression
		for i, u := range list {
			if u.Locator.ProgressionOrZero() >= target {
				return i
			}
		}
		return len(list) - 1
	}
	return 0
}
