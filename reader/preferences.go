package reader

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/filegrind/pubchannel-go/publication"
)

// setter applies one user property value to the preferences.
type setter func(p *publication.Preferences, value string) error

// preferenceSetters maps every recognized user property to its field.
var preferenceSetters = map[string]setter{
	"backgroundColor": colorSetter(func(p *publication.Preferences, c *publication.Color) { p.BackgroundColor = c }),
	"columnCount": enumSetter(func(p *publication.Preferences, v *publication.ColumnCount) { p.ColumnCount = v },
		publication.ColumnCountAuto, publication.ColumnCountOne, publication.ColumnCountTwo),
	"fontFamily": func(p *publication.Preferences, value string) error {
		p.FontFamily = &value
		return nil
	},
	"fontSize":   floatSetter(func(p *publication.Preferences, f *float64) { p.FontSize = f }),
	"fontWeight": floatSetter(func(p *publication.Preferences, f *float64) { p.FontWeight = f }),
	"hyphens": func(p *publication.Preferences, value string) error {
		b := value == "true"
		p.Hyphens = &b
		return nil
	},
	"imageFilter": enumSetter(func(p *publication.Preferences, v *publication.ImageFilter) { p.ImageFilter = v },
		publication.ImageFilterDarken, publication.ImageFilterInvert),
	"letterSpacing":    floatSetter(func(p *publication.Preferences, f *float64) { p.LetterSpacing = f }),
	"ligatures":        boolSetter(func(p *publication.Preferences, b *bool) { p.Ligatures = b }),
	"lineHeight":       floatSetter(func(p *publication.Preferences, f *float64) { p.LineHeight = f }),
	"pageMargins":      floatSetter(func(p *publication.Preferences, f *float64) { p.PageMargins = f }),
	"paragraphIndent":  floatSetter(func(p *publication.Preferences, f *float64) { p.ParagraphIndent = f }),
	"paragraphSpacing": floatSetter(func(p *publication.Preferences, f *float64) { p.ParagraphSpacing = f }),
	"scroll":           boolSetter(func(p *publication.Preferences, b *bool) { p.Scroll = b }),
	"spread": enumSetter(func(p *publication.Preferences, v *publication.Spread) { p.Spread = v },
		publication.SpreadAuto, publication.SpreadNever, publication.SpreadAlways),
	"textAlign": enumSetter(func(p *publication.Preferences, v *publication.TextAlign) { p.TextAlign = v },
		publication.TextAlignCenter, publication.TextAlignJustify, publication.TextAlignStart,
		publication.TextAlignEnd, publication.TextAlignLeft, publication.TextAlignRight),
	"textColor":         colorSetter(func(p *publication.Preferences, c *publication.Color) { p.TextColor = c }),
	"textNormalization": boolSetter(func(p *publication.Preferences, b *bool) { p.TextNormalization = b }),
	"theme": enumSetter(func(p *publication.Preferences, v *publication.Theme) { p.Theme = v },
		publication.ThemeLight, publication.ThemeDark, publication.ThemeSepia),
	"typeScale":    floatSetter(func(p *publication.Preferences, f *float64) { p.TypeScale = f }),
	"verticalText": boolSetter(func(p *publication.Preferences, b *bool) { p.VerticalText = b }),
	"wordSpacing":  floatSetter(func(p *publication.Preferences, f *float64) { p.WordSpacing = f }),
}

func floatSetter(set func(*publication.Preferences, *float64)) setter {
	return func(p *publication.Preferences, value string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return err
		}
		set(p, &f)
		return nil
	}
}

func boolSetter(set func(*publication.Preferences, *bool)) setter {
	return func(p *publication.Preferences, value string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		set(p, &b)
		return nil
	}
}

func colorSetter(set func(*publication.Preferences, *publication.Color)) setter {
	return func(p *publication.Preferences, value string) error {
		c, err := publication.ParseColor(value)
		if err != nil {
			return err
		}
		set(p, &c)
		return nil
	}
}

func enumSetter[T ~string](set func(*publication.Preferences, *T), allowed ...T) setter {
	return func(p *publication.Preferences, value string) error {
		for _, v := range allowed {
			if string(v) == value {
				set(p, &v)
				return nil
			}
		}
		return fmt.Errorf("expected one of %v", allowed)
	}
}

// ApplyUserProperties returns base updated with props. Invalid values and
// unknown keys change nothing and are logged; "--" prefixed keys are kept as
// custom CSS properties.
func ApplyUserProperties(base publication.Preferences, props map[string]string, logger *slog.Logger) publication.Preferences {
	prefs := base.Clone()
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := props[key]
		if set, ok := preferenceSetters[key]; ok {
			if err := set(&prefs, value); err != nil {
				logger.Warn("invalid user property value", "key", key, "value", value, "err", err)
			}
			continue
		}
		if strings.HasPrefix(key, "--") {
			logger.Debug("custom user property", "key", key, "value", value)
			if prefs.Custom == nil {
				prefs.Custom = make(map[string]string)
			}
			prefs.Custom[key] = value
			continue
		}
		logger.Error("unknown user property", "key", key, "value", value)
	}
	return prefs
}
