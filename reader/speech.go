package reader

import (
	"context"
	"strings"

	"github.com/filegrind/pubchannel-go/publication"
	"github.com/filegrind/pubchannel-go/session"
	"github.com/filegrind/pubchannel-go/tts"
)

// synthesizer returns the view's synthesizer, creating it on first use.
func (r *Reader) synthesizer(v *view, lang string) (*tts.Synthesizer, error) {
	v.ttsOnce.Lock()
	defer v.ttsOnce.Unlock()
	if v.synth != nil {
		if lang != "" && lang != v.synth.Language().String() {
			if err := v.synth.SetLanguage(lang); err != nil {
				return nil, session.Wrap(session.KindInvalidArgument, "ttsStart", "invalid language", err)
			}
		}
		return v.synth, nil
	}
	if lang == "" {
		lang = r.cfg.TTSLanguage
	}
	nav := v.nav
	synth, err := tts.New(v.pub, tts.Config{
		Engine:   r.cfg.TTSEngine,
		Language: lang,
		OnStateChanged: func(change tts.StateChange) {
			r.speechChanged(nav, change)
		},
		Logger: r.logger,
	})
	if err != nil {
		return nil, session.Wrap(session.KindInvalidArgument, "ttsStart", "invalid language", err)
	}
	v.synth = synth
	return synth, nil
}

func (r *Reader) speechChanged(nav publication.Navigator, change tts.StateChange) {
	state := TTSState{State: string(change.State)}
	if u := change.Utterance; u != nil {
		state.Utterance = u.Text
		if data, err := u.Locator.JSON(); err == nil {
			state.Locator = data
		}
		if change.State == tts.StatePlaying {
			nav.Go(context.Background(), u.Locator, true)
		}
	}
	r.emit(EventTTSStateChanged, state)
}

// TTSStart starts reading aloud from locatorJSON, or from the first visible
// element when it is empty.
func (r *Reader) TTSStart(ctx context.Context, lang, locatorJSON string) (bool, error) {
	const op = "ttsStart"
	v, err := r.current(op)
	if err != nil {
		return false, err
	}
	var from *publication.Locator
	if strings.TrimSpace(locatorJSON) != "" {
		loc, err := parseLocator(op, locatorJSON)
		if err != nil {
			return false, err
		}
		from = &loc
	}
	synth, err := r.synthesizer(v, strings.TrimSpace(lang))
	if err != nil {
		return false, err
	}
	if from == nil {
		from = v.nav.FirstVisibleElementLocator(ctx)
	}
	if !synth.Start(from) {
		r.logger.Info("nothing to read aloud", "identifier", v.identifier)
	}
	return true, nil
}

// TTSStop stops reading aloud.
func (r *Reader) TTSStop() (bool, error) {
	return r.speech("ttsStop", (*tts.Synthesizer).Stop)
}

// TTSPause pauses reading aloud.
func (r *Reader) TTSPause() (bool, error) {
	return r.speech("ttsPause", (*tts.Synthesizer).Pause)
}

// TTSResume resumes a paused reading.
func (r *Reader) TTSResume() (bool, error) {
	return r.speech("ttsResume", (*tts.Synthesizer).Resume)
}

// TTSNext skips to the next utterance.
func (r *Reader) TTSNext() (bool, error) {
	return r.speech("ttsNext", (*tts.Synthesizer).Next)
}

// TTSPrevious goes back one utterance.
func (r *Reader) TTSPrevious() (bool, error) {
	return r.speech("ttsPrevious", (*tts.Synthesizer).Previous)
}

// TTSTogglePlay pauses while playing and plays otherwise.
func (r *Reader) TTSTogglePlay() (bool, error) {
	return r.speech("ttsTogglePlay", (*tts.Synthesizer).TogglePlay)
}

func (r *Reader) speech(op string, fn func(*tts.Synthesizer) bool) (bool, error) {
	v, err := r.current(op)
	if err != nil {
		return false, err
	}
	synth, err := r.synthesizer(v, "")
	if err != nil {
		return false, err
	}
	if !fn(synth) {
		r.logger.Debug("tts command had no effect", "op", op, "state", synth.State())
	}
	return true, nil
}
