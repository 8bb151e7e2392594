package publication

import "context"

// Navigator moves through a publication displayed on a rendering surface.
// Movement methods report failure as false, never as an error.
type Navigator interface {
	CurrentLocator() *Locator
	Go(ctx context.Context, locator Locator, animated bool) bool
	GoForward(ctx context.Context, animated bool) bool
	GoBackward(ctx context.Context, animated bool) bool
	// IsVisible reports whether locator is on screen.
	IsVisible(locator Locator) bool
	// FirstVisibleElementLocator locates the first element on screen.
	FirstVisibleElementLocator(ctx context.Context) *Locator
	// LocatorFragments fills in the fragments of the page locator points at.
	// It reports false when the locator is outside the publication.
	LocatorFragments(locator Locator) (Locator, bool)
	SubmitPreferences(prefs Preferences)
	Preferences() Preferences
	// OnLocationChanged registers the observer of location changes.
	OnLocationChanged(fn func(Locator))
	Close() error
}

// NavigatorFactory creates navigators for opened publications.
type NavigatorFactory interface {
	NewNavigator(pub Publication, initial *Locator, prefs Preferences) (Navigator, error)
}
