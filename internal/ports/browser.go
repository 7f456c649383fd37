package ports

import "context"

// Box is an element's bounding box in page coordinates.
type Box struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// SessionOptions configure a freshly launched automation session.
type SessionOptions struct {
	Headless       bool
	StartURL       string
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
}

// BrowserSession is the driven browser page. There is exactly one per
// process, owned by the session supervisor; other components borrow it
// for single operations and never hold it across waits.
type BrowserSession interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	// ElementBox returns (nil, nil) when the selector matches nothing
	// or bounds are unavailable; callers treat that as a graceful no-op.
	ElementBox(ctx context.Context, selector string) (*Box, error)
	MoveMouse(ctx context.Context, x, y float64) error
	// Click presses the left button at the current pointer position.
	Click(ctx context.Context) error
	Scroll(ctx context.Context, deltaY float64) error
	Focus(ctx context.Context, selector string) error
	TypeRune(ctx context.Context, r rune) error
	Backspace(ctx context.Context) error
	Alive(ctx context.Context) bool
	Close(ctx context.Context) error
}

type BrowserFactory interface {
	NewSession(ctx context.Context, opts SessionOptions) (BrowserSession, error)
}
