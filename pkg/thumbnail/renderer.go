package thumbnail

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Viewport is a capture viewport in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// Capture viewports and output sizes.
var (
	ThumbnailViewport = Viewport{Width: 375, Height: 667}
	OGImageViewport   = Viewport{Width: 1200, Height: 630}
)

const (
	ThumbnailWidth  = 300
	ThumbnailHeight = 600
	OGImageWidth    = 1200
	OGImageHeight   = 630
)

// Renderer captures a standalone HTML document as a PNG.
type Renderer interface {
	Capture(ctx context.Context, html string, vp Viewport, fullPage bool) ([]byte, error)
}

// RodRenderer drives a headless Chromium via go-rod. One renderer shares a
// single browser across captures; pages are created and closed per job.
type RodRenderer struct {
	timeout time.Duration

	browser *rod.Browser
}

// NewRodRenderer connects to a headless browser. The timeout bounds each
// individual capture.
func NewRodRenderer(timeout time.Duration) (*RodRenderer, error) {
	browser := rod.New()
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connecting headless browser: %w", err)
	}
	return &RodRenderer{timeout: timeout, browser: browser}, nil
}

// Close shuts the shared browser down.
func (r *RodRenderer) Close() error {
	return r.browser.Close()
}

// Capture implements Renderer.
func (r *RodRenderer) Capture(ctx context.Context, html string, vp Viewport, fullPage bool) ([]byte, error) {
	page, err := r.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(r.timeout)

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 2,
	}); err != nil {
		return nil, fmt.Errorf("setting viewport: %w", err)
	}
	if err := page.SetDocumentContent(html); err != nil {
		return nil, fmt.Errorf("loading document: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("waiting for load: %w", err)
	}
	// Let late layout and font work settle before the shot.
	if err := page.WaitIdle(r.timeout); err != nil {
		return nil, fmt.Errorf("waiting for idle: %w", err)
	}

	data, err := page.Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return data, nil
}
