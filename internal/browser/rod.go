package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// RodLauncher launches Chromium through go-rod's launcher, or attaches to an
// already running one when ControlURL is set.
type RodLauncher struct {
	ControlURL string
}

// Launch implements Launcher.
func (l *RodLauncher) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var lnch *launcher.Launcher
	controlURL := l.ControlURL
	if controlURL == "" {
		lnch = launcher.New().Headless(opts.Headless)
		if opts.ExecutablePath != "" {
			lnch = lnch.Bin(opts.ExecutablePath)
		}
		for _, raw := range opts.Args {
			name, val, hasVal := strings.Cut(strings.TrimLeft(strings.TrimSpace(raw), "-"), "=")
			if hasVal {
				lnch = lnch.Set(flags.Flag(name), val)
			} else {
				lnch = lnch.Set(flags.Flag(name))
			}
		}
		u, err := lnch.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if lnch != nil {
			lnch.Kill()
		}
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	return &RodBrowser{browser: b, launcher: lnch, viewport: opts.Viewport}, nil
}

// RodBrowser wraps a connected rod browser.
type RodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	viewport *Viewport
}

// NewPage implements Browser.
func (b *RodBrowser) NewPage(ctx context.Context) (Page, error) {
	p, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	// Detach from ctx so the page outlives the call that opened it.
	p = p.Context(context.Background())
	page := &RodPage{page: p}
	if b.viewport != nil {
		if err := page.SetViewport(ctx, *b.viewport); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	return page, nil
}

// Close implements Browser.
func (b *RodBrowser) Close() error {
	err := b.browser.Close()
	if b.launcher != nil {
		b.launcher.Cleanup()
	}
	return err
}

// RodPage adapts *rod.Page to Page.
type RodPage struct {
	page *rod.Page
}

// Native exposes the underlying rod page.
func (p *RodPage) Native() *rod.Page { return p.page }

// Goto implements Page.
func (p *RodPage) Goto(ctx context.Context, url string, opts GotoOptions) error {
	page := p.page.Context(ctx)
	if opts.Timeout > 0 {
		page = page.Timeout(opts.Timeout)
	}
	wait := page.WaitNavigation(rodLifecycleEvent(opts.WaitUntil))
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	wait()
	return ctx.Err()
}

// Screenshot implements Page.
func (p *RodPage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	page := p.page.Context(ctx)
	if opts.OmitBackground {
		transparent := 0.0
		if err := (proto.EmulationSetDefaultBackgroundColorOverride{
			Color: &proto.DOMRGBA{A: &transparent},
		}).Call(page); err != nil {
			return nil, fmt.Errorf("clear background: %w", err)
		}
		defer func() { _ = proto.EmulationSetDefaultBackgroundColorOverride{}.Call(page) }()
	}
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if opts.Clip != nil {
		req.Clip = &proto.PageViewport{
			X:      opts.Clip.X,
			Y:      opts.Clip.Y,
			Width:  opts.Clip.Width,
			Height: opts.Clip.Height,
			Scale:  1,
		}
	}
	img, err := page.Screenshot(opts.FullPage, req)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return img, nil
}

// SetViewport implements Page.
func (p *RodPage) SetViewport(ctx context.Context, vp Viewport) error {
	return p.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
	})
}

// WaitForSelector implements Page.
func (p *RodPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	page := p.page.Context(ctx)
	if timeout > 0 {
		page = page.Timeout(timeout)
	}
	_, err := page.Element(selector)
	return err
}

// Evaluate implements Page.
func (p *RodPage) Evaluate(ctx context.Context, js string) (any, error) {
	obj, err := p.page.Context(ctx).Eval(js)
	if err != nil {
		return nil, err
	}
	return obj.Value.Val(), nil
}

// Close implements Page.
func (p *RodPage) Close() error {
	return p.page.Close()
}

func rodLifecycleEvent(w WaitUntil) proto.PageLifecycleEventName {
	switch w {
	case WaitDOMContentLoaded:
		return proto.PageLifecycleEventNameDOMContentLoaded
	case WaitNetworkIdle:
		return proto.PageLifecycleEventNameNetworkIdle
	default:
		return proto.PageLifecycleEventNameLoad
	}
}
