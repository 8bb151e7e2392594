package tts

import (
	"context"
	"strings"
	"time"
)

// Engine speaks one utterance. Speak blocks until the utterance is done or
// ctx is cancelled.
type Engine interface {
	Speak(ctx context.Context, u Utterance) error
}

// DefaultWordsPerMinute is the pace of PacedEngine when unset.
const DefaultWordsPerMinute = 180

// PacedEngine is a silent engine that takes as long as reading the utterance
// aloud would. It keeps the synthesizer state machine observable without an
// audio backend.
type PacedEngine struct {
	WordsPerMinute int
}

func (e PacedEngine) Speak(ctx context.Context, u Utterance) error {
	timer := time.NewTimer(e.Duration(u.Text))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Duration is the time text takes at the engine's pace.
func (e PacedEngine) Duration(text string) time.Duration {
	wpm := e.WordsPerMinute
	if wpm <= 0 {
		wpm = DefaultWordsPerMinute
	}
	words := len(strings.Fields(text))
	return time.Duration(words) * time.Minute / time.Duration(wpm)
}
