package bifaci

// Limits represents protocol negotiation limits
type Limits struct {
	MaxFrame int `cbor:"max_frame"`
	MaxChunk int `cbor:"max_chunk"`
}

// DefaultLimits returns the default protocol limits
func DefaultLimits() Limits {
	return Limits{
		MaxFrame: DefaultMaxFrame,
		MaxChunk: DefaultMaxChunk,
	}
}

// NegotiateLimits returns the minimum of two limit sets
func NegotiateLimits(a, b Limits) Limits {
	return Limits{
		MaxFrame: min(a.MaxFrame, b.MaxFrame),
		MaxChunk: min(a.MaxChunk, b.MaxChunk),
	}
}

// Sanitize replaces zero or out-of-range values with the defaults.
func (l Limits) Sanitize() Limits {
	if l.MaxFrame <= 0 || l.MaxFrame > MaxFrameHardLimit {
		l.MaxFrame = DefaultMaxFrame
	}
	if l.MaxChunk <= 0 || l.MaxChunk > l.MaxFrame {
		l.MaxChunk = min(DefaultMaxChunk, l.MaxFrame)
	}
	return l
}

func limitsFromMeta(meta map[string]interface{}) Limits {
	if meta == nil {
		return DefaultLimits()
	}
	return Limits{
		MaxFrame: extractIntFromMeta(meta, "max_frame"),
		MaxChunk: extractIntFromMeta(meta, "max_chunk"),
	}.Sanitize()
}
