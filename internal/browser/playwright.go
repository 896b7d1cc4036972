package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightLauncher launches Chromium through playwright-go.
type PlaywrightLauncher struct {
	// SkipInstall avoids downloading the driver and browsers on every launch.
	SkipInstall bool
}

// Launch implements Launcher.
func (l *PlaywrightLauncher) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !l.SkipInstall {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.Args,
	}
	if opts.ExecutablePath != "" {
		launchOpts.ExecutablePath = playwright.String(opts.ExecutablePath)
	}
	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &PlaywrightBrowser{pw: pw, browser: b, viewport: opts.Viewport}, nil
}

// PlaywrightBrowser wraps a playwright browser and the driver process behind it.
type PlaywrightBrowser struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	viewport *Viewport
}

// NewPage implements Browser.
func (b *PlaywrightBrowser) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var pageOpts playwright.BrowserNewPageOptions
	if b.viewport != nil {
		pageOpts.Viewport = &playwright.Size{Width: b.viewport.Width, Height: b.viewport.Height}
	}
	p, err := b.browser.NewPage(pageOpts)
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	return &PlaywrightPage{page: p}, nil
}

// Close implements Browser.
func (b *PlaywrightBrowser) Close() error {
	err := b.browser.Close()
	if stopErr := b.pw.Stop(); err == nil {
		err = stopErr
	}
	return err
}

// PlaywrightPage adapts playwright.Page to Page.
type PlaywrightPage struct {
	page playwright.Page
}

// Native exposes the underlying page to hooks that need the full playwright API.
func (p *PlaywrightPage) Native() playwright.Page { return p.page }

// Goto implements Page.
func (p *PlaywrightPage) Goto(ctx context.Context, url string, opts GotoOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gotoOpts := playwright.PageGotoOptions{WaitUntil: playwrightWaitUntil(opts.WaitUntil)}
	if opts.Timeout > 0 {
		gotoOpts.Timeout = playwright.Float(float64(opts.Timeout.Milliseconds()))
	}
	if _, err := p.page.Goto(url, gotoOpts); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

// Screenshot implements Page.
func (p *PlaywrightPage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shotOpts := playwright.PageScreenshotOptions{
		Type:           playwright.ScreenshotTypePng,
		FullPage:       playwright.Bool(opts.FullPage),
		OmitBackground: playwright.Bool(opts.OmitBackground),
	}
	if opts.Clip != nil {
		shotOpts.Clip = &playwright.Rect{X: opts.Clip.X, Y: opts.Clip.Y, Width: opts.Clip.Width, Height: opts.Clip.Height}
	}
	img, err := p.page.Screenshot(shotOpts)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return img, nil
}

// SetViewport implements Page.
func (p *PlaywrightPage) SetViewport(ctx context.Context, vp Viewport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.SetViewportSize(vp.Width, vp.Height)
}

// WaitForSelector implements Page.
func (p *PlaywrightPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var opts playwright.PageWaitForSelectorOptions
	if timeout > 0 {
		opts.Timeout = playwright.Float(float64(timeout.Milliseconds()))
	}
	_, err := p.page.WaitForSelector(selector, opts)
	return err
}

// Evaluate implements Page.
func (p *PlaywrightPage) Evaluate(ctx context.Context, js string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.page.Evaluate(js)
}

// Close implements Page.
func (p *PlaywrightPage) Close() error {
	return p.page.Close()
}

func playwrightWaitUntil(w WaitUntil) *playwright.WaitUntilState {
	switch w {
	case WaitDOMContentLoaded:
		return playwright.WaitUntilStateDomcontentloaded
	case WaitNetworkIdle:
		return playwright.WaitUntilStateNetworkidle
	default:
		return playwright.WaitUntilStateLoad
	}
}
