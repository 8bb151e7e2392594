package tts

import (
	"bytes"
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/filegrind/pubchannel-go/publication"
)

var blockTags = map[atom.Atom]bool{
	atom.P:          true,
	atom.Div:        true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
	atom.Li:         true,
	atom.Dt:         true,
	atom.Dd:         true,
	atom.Tr:         true,
	atom.Td:         true,
	atom.Th:         true,
	atom.Blockquote: true,
	atom.Figcaption: true,
	atom.Section:    true,
	atom.Article:    true,
	atom.Br:         true,
	atom.Hr:         true,
}

// voidTags never have an end tag.
var voidTags = map[atom.Atom]bool{
	atom.Area:   true,
	atom.Base:   true,
	atom.Br:     true,
	atom.Col:    true,
	atom.Embed:  true,
	atom.Hr:     true,
	atom.Img:    true,
	atom.Input:  true,
	atom.Link:   true,
	atom.Meta:   true,
	atom.Source: true,
	atom.Track:  true,
	atom.Wbr:    true,
}

var skipTags = map[atom.Atom]bool{
	atom.Head:   true,
	atom.Script: true,
	atom.Style:  true,
}

// block is one run of text between block boundaries.
type block struct {
	text string
	id   string
	lang string
}

// extractBlocks splits an HTML document into its text blocks. Whitespace is
// collapsed and empty blocks are dropped.
func extractBlocks(data []byte) []block {
	z := html.NewTokenizer(bytes.NewReader(data))
	var (
		blocks []block
		buf    strings.Builder
		cur    block
		skip   int
		lang   []string
	)
	flush := func() {
		text := strings.Join(strings.Fields(buf.String()), " ")
		buf.Reset()
		if text != "" {
			cur.text = text
			blocks = append(blocks, cur)
		}
		cur = block{}
	}
	currentLang := func() string {
		if len(lang) == 0 {
			return ""
		}
		return lang[len(lang)-1]
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			flush()
			return blocks
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			a := atom.Lookup(name)
			if skipTags[a] {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			var id, l string
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				switch string(key) {
				case "id":
					id = string(val)
				case "lang", "xml:lang":
					l = string(val)
				}
			}
			if tt == html.StartTagToken && !voidTags[a] {
				if l == "" {
					l = currentLang()
				}
				lang = append(lang, l)
			}
			if skip == 0 && blockTags[a] {
				flush()
				cur.id = id
				cur.lang = currentLang()
			} else if skip == 0 && cur.id == "" && id != "" && buf.Len() == 0 {
				cur.id = id
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipTags[a] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if len(lang) > 0 && !voidTags[a] {
				lang = lang[:len(lang)-1]
			}
			if skip == 0 && blockTags[a] {
				flush()
			}
		case html.TextToken:
			if skip == 0 {
				if buf.Len() == 0 && cur.lang == "" {
					cur.lang = currentLang()
				}
				buf.Write(z.Text())
				buf.WriteByte(' ')
			}
		}
	}
}

// loadUtterances reads the resource of link and turns its blocks into
// utterances located by progression and, when the block has an id, a CSS
// selector.
func loadUtterances(ctx context.Context, pub publication.Publication, link publication.Link, fallbackLang string) ([]Utterance, error) {
	res, ok := pub.Get(link)
	if !ok {
		return nil, publication.ErrResourceNotFound
	}
	defer res.Close()
	data, err := res.Read(ctx)
	if err != nil {
		return nil, err
	}

	blocks := extractBlocks(data)
	utterances := make([]Utterance, 0, len(blocks))
	for i, b := range blocks {
		progression := float64(i) / float64(len(blocks))
		loc := publication.LocatorFromLink(link)
		loc.Text = &publication.Text{Highlight: b.text}
		loc.Locations.Progression = &progression
		if b.id != "" {
			loc.Locations.CSSSelector = "#" + b.id
			loc.Locations.Fragments = []string{b.id}
		}
		lang := b.lang
		if lang == "" {
			lang = fallbackLang
		}
		utterances = append(utterances, Utterance{Text: b.text, Language: lang, Locator: loc})
	}
	return utterances, nil
}
