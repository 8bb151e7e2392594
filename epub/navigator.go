package epub

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/filegrind/pubchannel-go/publication"
)

// DefaultCharsPerPage is the amount of text a headless page holds.
const DefaultCharsPerPage = 1500

// NavigatorFactory builds headless navigators.
type NavigatorFactory struct {
	CharsPerPage int
}

// NewNavigator implements publication.NavigatorFactory. Page counts are
// computed up front from the text length of every reading order resource.
func (f NavigatorFactory) NewNavigator(pub publication.Publication, initial *publication.Locator, prefs publication.Preferences) (publication.Navigator, error) {
	manifest := pub.Manifest()
	if len(manifest.ReadingOrder) == 0 {
		return nil, errors.New("epub: publication has an empty reading order")
	}
	perPage := f.CharsPerPage
	if perPage <= 0 {
		perPage = DefaultCharsPerPage
	}

	nav := &Navigator{
		manifest: manifest,
		perPage:  perPage,
		pages:    make([]int, len(manifest.ReadingOrder)),
		anchors:  make([][]anchor, len(manifest.ReadingOrder)),
		prefs:    prefs.Clone(),
	}
	for i, link := range manifest.ReadingOrder {
		n, anchors := scanResource(pub, link)
		nav.pages[i] = max(1, (n+perPage-1)/perPage)
		nav.anchors[i] = anchors
		nav.totalPages += nav.pages[i]
	}

	nav.current = nav.locatorAt(0, 0)
	if initial != nil {
		if idx := manifest.ReadingOrderIndex(initial.Href); idx >= 0 {
			nav.page = nav.pageOfLocator(idx, *initial)
			nav.current = nav.locatorAt(idx, nav.page)
		}
	}
	return nav, nil
}

// anchor is an element id and the text offset at which the element starts.
type anchor struct {
	id     string
	offset int
}

// scanResource measures the visible text of an HTML resource and indexes its
// element ids. Other resources count as one page without anchors.
func scanResource(pub publication.Publication, link publication.Link) (int, []anchor) {
	if link.Type != "" && !link.Type.IsHTML() {
		return 0, nil
	}
	res, ok := pub.Get(link)
	if !ok {
		return 0, nil
	}
	defer res.Close()
	data, err := res.Read(context.Background())
	if err != nil {
		return 0, nil
	}
	return scanText(data)
}

// scanText counts the visible characters of an HTML document and records the
// offset of every element carrying an id.
func scanText(data []byte) (int, []anchor) {
	z := html.NewTokenizer(bytes.NewReader(data))
	var anchors []anchor
	n, skip := 0, 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return n, anchors
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			a := atom.Lookup(name)
			for hasAttr && skip == 0 {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				if string(key) == "id" && len(val) > 0 {
					anchors = append(anchors, anchor{id: string(val), offset: n})
				}
			}
			if tt == html.StartTagToken && (a == atom.Script || a == atom.Style || a == atom.Title) {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if a := atom.Lookup(name); (a == atom.Script || a == atom.Style || a == atom.Title) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				n += utf8.RuneCountInString(strings.Join(strings.Fields(string(z.Text())), " "))
			}
		}
	}
}

// Navigator walks the reading order page by page without rendering. A page
// is a fixed slice of a resource's progression.
type Navigator struct {
	manifest   *publication.Manifest
	perPage    int
	pages      []int
	anchors    [][]anchor
	totalPages int

	mu       sync.Mutex
	current  publication.Locator
	page     int
	prefs    publication.Preferences
	observer func(publication.Locator)
	closed   bool
}

func (n *Navigator) CurrentLocator() *publication.Locator {
	n.mu.Lock()
	defer n.mu.Unlock()
	loc := n.current
	return &loc
}

func (n *Navigator) Go(ctx context.Context, locator publication.Locator, animated bool) bool {
	idx := n.manifest.ReadingOrderIndex(locator.Href)
	if idx < 0 || ctx.Err() != nil {
		return false
	}
	next := n.locatorAt(idx, n.pageOfLocator(idx, locator))
	next.Locations.Fragments = locator.Locations.Fragments
	next.Locations.CSSSelector = locator.Locations.CSSSelector
	next.Text = locator.Text
	return n.moveTo(next)
}

func (n *Navigator) GoForward(ctx context.Context, animated bool) bool {
	return n.step(ctx, 1)
}

func (n *Navigator) GoBackward(ctx context.Context, animated bool) bool {
	return n.step(ctx, -1)
}

func (n *Navigator) step(ctx context.Context, delta int) bool {
	if ctx.Err() != nil {
		return false
	}
	n.mu.Lock()
	idx := n.manifest.ReadingOrderIndex(n.current.Href)
	page := n.page + delta
	n.mu.Unlock()

	switch {
	case page >= n.pages[idx]:
		if idx+1 >= len(n.pages) {
			return false
		}
		idx, page = idx+1, 0
	case page < 0:
		if idx == 0 {
			return false
		}
		idx--
		page = n.pages[idx] - 1
	}
	return n.moveTo(n.locatorAt(idx, page))
}

func (n *Navigator) moveTo(next publication.Locator) bool {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return false
	}
	idx := n.manifest.ReadingOrderIndex(next.Href)
	n.current = next
	n.page = n.pageOf(idx, next.ProgressionOrZero())
	observer := n.observer
	n.mu.Unlock()

	if observer != nil {
		observer(next)
	}
	return true
}

// IsVisible reports whether locator falls on the current page.
func (n *Navigator) IsVisible(locator publication.Locator) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if publication.NormalizeHref(locator.Href) != publication.NormalizeHref(n.current.Href) {
		return false
	}
	if locator.Locations.Progression == nil {
		return true
	}
	idx := n.manifest.ReadingOrderIndex(locator.Href)
	return n.pageOf(idx, *locator.Locations.Progression) == n.page
}

func (n *Navigator) FirstVisibleElementLocator(ctx context.Context) *publication.Locator {
	return n.CurrentLocator()
}

func (n *Navigator) SubmitPreferences(prefs publication.Preferences) {
	n.mu.Lock()
	n.prefs = prefs.Clone()
	n.mu.Unlock()
}

func (n *Navigator) Preferences() publication.Preferences {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.prefs.Clone()
}

func (n *Navigator) OnLocationChanged(fn func(publication.Locator)) {
	n.mu.Lock()
	n.observer = fn
	n.mu.Unlock()
}

func (n *Navigator) Close() error {
	n.mu.Lock()
	n.closed = true
	n.observer = nil
	n.mu.Unlock()
	return nil
}

// LocatorFragments returns locator with the ids of the elements starting on
// its page as fragments, and the first of them as CSS selector when the
// locator has none. It reports false for an href outside the reading order.
func (n *Navigator) LocatorFragments(locator publication.Locator) (publication.Locator, bool) {
	idx := n.manifest.ReadingOrderIndex(locator.Href)
	if idx < 0 {
		return publication.Locator{}, false
	}
	page := n.pageOfLocator(idx, locator)
	from, to := page*n.perPage, (page+1)*n.perPage
	if page == n.pages[idx]-1 {
		to = math.MaxInt
	}

	var fragments []string
	for _, a := range n.anchors[idx] {
		if a.offset >= from && a.offset < to {
			fragments = append(fragments, a.id)
		}
	}
	out := locator
	if len(fragments) > 0 {
		out.Locations.Fragments = fragments
		if out.Locations.CSSSelector == "" {
			out.Locations.CSSSelector = "#" + fragments[0]
		}
	}
	return out, true
}

// pageOfLocator resolves the page of locator inside reading order item idx.
// A progression wins; otherwise the first known fragment decides.
func (n *Navigator) pageOfLocator(idx int, locator publication.Locator) int {
	if locator.Locations.Progression == nil {
		for _, frag := range locator.Locations.Fragments {
			for _, a := range n.anchors[idx] {
				if a.id == frag {
					return min(a.offset/n.perPage, n.pages[idx]-1)
				}
			}
		}
	}
	return n.pageOf(idx, locator.ProgressionOrZero())
}

func (n *Navigator) pageOf(idx int, progression float64) int {
	pages := n.pages[idx]
	page := int(math.Floor(progression * float64(pages)))
	return min(max(page, 0), pages-1)
}

// locatorAt builds the locator of a page start, with its position in the
// whole publication.
func (n *Navigator) locatorAt(idx, page int) publication.Locator {
	link := n.manifest.ReadingOrder[idx]
	progression := float64(page) / float64(n.pages[idx])
	position := page + 1
	for _, p := range n.pages[:idx] {
		position += p
	}
	total := float64(position-1) / float64(n.totalPages)

	loc := publication.Locator{
		Href:  publication.NormalizeHref(link.Href),
		Type:  link.Type,
		Title: findTitle(n.manifest.TOC, publication.NormalizeHref(link.Href)),
	}
	loc.Locations.Progression = &progression
	loc.Locations.Position = &position
	loc.Locations.TotalProgression = &total
	return loc
}

func findTitle(links []publication.Link, href string) string {
	for _, link := range links {
		if publication.NormalizeHref(link.Href) == href && link.Title != "" {
			return link.Title
		}
		if title := findTitle(link.Children, href); title != "" {
			return title
		}
	}
	return ""
}
