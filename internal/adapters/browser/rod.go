// Package browser drives a real Chromium page through go-rod. It is
// the only adapter that touches the DevTools protocol; everything
// above it works against the session port.
package browser

import (
	"context"
	"fmt"
	"math"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/mfields/cadence/internal/ports"
)

const (
	defaultViewportWidth  = 1366
	defaultViewportHeight = 768
)

type Factory struct{}

var _ ports.BrowserFactory = Factory{}

func (Factory) NewSession(ctx context.Context, opts ports.SessionOptions) (ports.BrowserSession, error) {
	l := launcher.New().Headless(opts.Headless)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: opts.StartURL})
	if err != nil {
		_ = b.Close()
		l.Cleanup()
		return nil, fmt.Errorf("open page: %w", err)
	}

	width := opts.ViewportWidth
	if width <= 0 {
		width = defaultViewportWidth
	}
	height := opts.ViewportHeight
	if height <= 0 {
		height = defaultViewportHeight
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}); err != nil {
		_ = b.Close()
		l.Cleanup()
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			_ = b.Close()
			l.Cleanup()
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}

	return &Session{launcher: l, browser: b, page: page}, nil
}

// Session wraps one page. go-rod clones carry the caller's context so
// every protocol call below respects cancellation.
type Session struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

var _ ports.BrowserSession = (*Session)(nil)

func (s *Session) Navigate(ctx context.Context, url string) error {
	page := s.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for page load: %w", err)
	}

	return nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}

	return info.URL, nil
}

// ElementBox resolves the selector to its on-page bounding box.
// Unmatched selectors and elements without render quads come back as
// (nil, nil) so callers can skip the interaction.
func (s *Session) ElementBox(ctx context.Context, selector string) (*ports.Box, error) {
	page := s.page.Context(ctx)

	has, el, err := page.Has(selector)
	if err != nil {
		return nil, fmt.Errorf("query selector %q: %w", selector, err)
	}
	if !has {
		return nil, nil
	}

	shape, err := el.Shape()
	if err != nil || len(shape.Quads) == 0 {
		return nil, nil
	}

	quad := shape.Quads[0]
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := 0; i+1 < len(quad); i += 2 {
		minX = math.Min(minX, quad[i])
		maxX = math.Max(maxX, quad[i])
		minY = math.Min(minY, quad[i+1])
		maxY = math.Max(maxY, quad[i+1])
	}

	return &ports.Box{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}, nil
}

func (s *Session) MoveMouse(ctx context.Context, x, y float64) error {
	if err := s.page.Context(ctx).Mouse.MoveLinear(proto.NewPoint(x, y), 1); err != nil {
		return fmt.Errorf("move mouse: %w", err)
	}

	return nil
}

func (s *Session) Click(ctx context.Context) error {
	if err := s.page.Context(ctx).Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click: %w", err)
	}

	return nil
}

func (s *Session) Scroll(ctx context.Context, deltaY float64) error {
	if err := s.page.Context(ctx).Mouse.Scroll(0, deltaY, 1); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}

	return nil
}

func (s *Session) Focus(ctx context.Context, selector string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("find input %q: %w", selector, err)
	}
	if err := el.Focus(); err != nil {
		return fmt.Errorf("focus input %q: %w", selector, err)
	}

	return nil
}

func (s *Session) TypeRune(ctx context.Context, r rune) error {
	if err := s.page.Context(ctx).InsertText(string(r)); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}

	return nil
}

func (s *Session) Backspace(ctx context.Context) error {
	if err := s.page.Context(ctx).Keyboard.Press(input.Backspace); err != nil {
		return fmt.Errorf("press backspace: %w", err)
	}

	return nil
}

// Alive probes the page with a trivial evaluation; any protocol error
// means the page or browser process is gone.
func (s *Session) Alive(ctx context.Context) bool {
	_, err := s.page.Context(ctx).Eval(`() => true`)

	return err == nil
}

func (s *Session) Close(ctx context.Context) error {
	_ = s.page.Context(ctx).Close()
	err := s.browser.Close()
	s.launcher.Cleanup()
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}

	return nil
}
