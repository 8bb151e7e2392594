package publication

import (
	"fmt"
	"strconv"
	"strings"
)

// ColumnCount is the number of columns in paginated mode.
type ColumnCount string

const (
	ColumnCountAuto ColumnCount = "auto"
	ColumnCountOne  ColumnCount = "1"
	ColumnCountTwo  ColumnCount = "2"
)

// ImageFilter is applied to images in dark themes.
type ImageFilter string

const (
	ImageFilterDarken ImageFilter = "darken"
	ImageFilterInvert ImageFilter = "invert"
)

// Spread controls synthetic spreads.
type Spread string

const (
	SpreadAuto   Spread = "auto"
	SpreadNever  Spread = "never"
	SpreadAlways Spread = "always"
)

// TextAlign is the paragraph alignment.
type TextAlign string

const (
	TextAlignCenter  TextAlign = "center"
	TextAlignJustify TextAlign = "justify"
	TextAlignStart   TextAlign = "start"
	TextAlignEnd     TextAlign = "end"
	TextAlignLeft    TextAlign = "left"
	TextAlignRight   TextAlign = "right"
)

// Theme is the reading theme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeSepia Theme = "sepia"
)

// Color is an ARGB color.
type Color uint32

// ParseColor accepts #RRGGBB, #AARRGGBB and 0xAARRGGBB.
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	var hex string
	switch {
	case strings.HasPrefix(s, "#"):
		hex = s[1:]
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		hex = s[2:]
	default:
		return 0, fmt.Errorf("invalid color %q", s)
	}
	if len(hex) != 6 && len(hex) != 8 {
		return 0, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q: %w", s, err)
	}
	if len(hex) == 6 {
		v |= 0xff000000
	}
	return Color(v), nil
}

// Hex renders the color as #RRGGBB, dropping alpha.
func (c Color) Hex() string {
	return fmt.Sprintf("#%06x", uint32(c)&0xffffff)
}

// Preferences are the typed reading preferences of an EPUB navigator.
// A nil field means "renderer default".
type Preferences struct {
	BackgroundColor   *Color       `json:"backgroundColor,omitempty"`
	ColumnCount       *ColumnCount `json:"columnCount,omitempty"`
	FontFamily        *string      `json:"fontFamily,omitempty"`
	FontSize          *float64     `json:"fontSize,omitempty"`
	FontWeight        *float64     `json:"fontWeight,omitempty"`
	Hyphens           *bool        `json:"hyphens,omitempty"`
	ImageFilter       *ImageFilter `json:"imageFilter,omitempty"`
	LetterSpacing     *float64     `json:"letterSpacing,omitempty"`
	Ligatures         *bool        `json:"ligatures,omitempty"`
	LineHeight        *float64     `json:"lineHeight,omitempty"`
	PageMargins       *float64     `json:"pageMargins,omitempty"`
	ParagraphIndent   *float64     `json:"paragraphIndent,omitempty"`
	ParagraphSpacing  *float64     `json:"paragraphSpacing,omitempty"`
	Scroll            *bool        `json:"scroll,omitempty"`
	Spread            *Spread      `json:"spread,omitempty"`
	TextAlign         *TextAlign   `json:"textAlign,omitempty"`
	TextColor         *Color       `json:"textColor,omitempty"`
	TextNormalization *bool        `json:"textNormalization,omitempty"`
	Theme             *Theme       `json:"theme,omitempty"`
	TypeScale         *float64     `json:"typeScale,omitempty"`
	VerticalText      *bool        `json:"verticalText,omitempty"`
	WordSpacing       *float64     `json:"wordSpacing,omitempty"`

	// Custom holds "--" prefixed CSS properties forwarded to the renderer as-is.
	Custom map[string]string `json:"custom,omitempty"`
}

// Clone returns a deep copy.
func (p Preferences) Clone() Preferences {
	cp := p
	if p.Custom != nil {
		cp.Custom = make(map[string]string, len(p.Custom))
		for k, v := range p.Custom {
			cp.Custom[k] = v
		}
	}
	return cp
}
