// Package browsertest provides in-memory browser fakes that record every call.
package browsertest

import (
	"context"
	"sync"
	"time"

	"storyshot/internal/browser"
)

// Recorder is shared by a fake launcher and everything it creates so tests can
// assert on the order of calls across browser and page.
type Recorder struct {
	mu    sync.Mutex
	calls []string
}

// Add records a call. Tests may use it to interleave their own events.
func (r *Recorder) Add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Launcher is a fake browser.Launcher.
type Launcher struct {
	Rec       *Recorder
	Image     []byte
	GotoErr   error
	LaunchErr error

	mu       sync.Mutex
	Launched []browser.LaunchOptions
	Browsers []*Browser
}

// NewLauncher returns a fake that screenshots img for every page.
func NewLauncher(img []byte) *Launcher {
	return &Launcher{Rec: &Recorder{}, Image: img}
}

// Launch implements browser.Launcher.
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	l.Rec.Add("launch")
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	b := l.NewBrowser()
	l.mu.Lock()
	l.Launched = append(l.Launched, opts)
	l.mu.Unlock()
	return b, nil
}

// NewBrowser returns a fake browser wired to the launcher's recorder, without
// recording a launch. Useful as a custom browser.
func (l *Launcher) NewBrowser() *Browser {
	b := &Browser{launcher: l}
	l.mu.Lock()
	l.Browsers = append(l.Browsers, b)
	l.mu.Unlock()
	return b
}

// Browser is a fake browser.Browser.
type Browser struct {
	launcher *Launcher

	mu     sync.Mutex
	Pages  []*Page
	Closed bool
}

// NewPage implements browser.Browser.
func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	b.launcher.Rec.Add("newPage")
	p := &Page{launcher: b.launcher}
	b.mu.Lock()
	b.Pages = append(b.Pages, p)
	b.mu.Unlock()
	return p, nil
}

// Close implements browser.Browser.
func (b *Browser) Close() error {
	b.launcher.Rec.Add("browser.close")
	b.mu.Lock()
	b.Closed = true
	b.mu.Unlock()
	return nil
}

// Page is a fake browser.Page.
type Page struct {
	launcher *Launcher

	mu     sync.Mutex
	URLs   []string
	Gotos  []browser.GotoOptions
	Shots  []browser.ScreenshotOptions
	Closed bool
}

// Goto implements browser.Page.
func (p *Page) Goto(ctx context.Context, url string, opts browser.GotoOptions) error {
	p.launcher.Rec.Add("goto " + url)
	if p.launcher.GotoErr != nil {
		return p.launcher.GotoErr
	}
	p.mu.Lock()
	p.URLs = append(p.URLs, url)
	p.Gotos = append(p.Gotos, opts)
	p.mu.Unlock()
	return nil
}

// Screenshot implements browser.Page.
func (p *Page) Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	p.launcher.Rec.Add("screenshot")
	p.mu.Lock()
	p.Shots = append(p.Shots, opts)
	p.mu.Unlock()
	return p.launcher.Image, nil
}

// SetViewport implements browser.Page.
func (p *Page) SetViewport(ctx context.Context, vp browser.Viewport) error {
	p.launcher.Rec.Add("viewport")
	return nil
}

// WaitForSelector implements browser.Page.
func (p *Page) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	p.launcher.Rec.Add("wait " + selector)
	return nil
}

// Evaluate implements browser.Page.
func (p *Page) Evaluate(ctx context.Context, js string) (any, error) {
	p.launcher.Rec.Add("eval")
	return nil, nil
}

// Close implements browser.Page.
func (p *Page) Close() error {
	p.launcher.Rec.Add("page.close")
	p.mu.Lock()
	p.Closed = true
	p.mu.Unlock()
	return nil
}
