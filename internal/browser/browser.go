// Package browser hides the headless browser driver behind a small interface so
// the snapshot adapter can run on playwright or rod.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrUnknownDriver is returned by NewLauncher for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown browser driver")

// Driver names accepted by NewLauncher.
const (
	DriverPlaywright = "playwright"
	DriverRod        = "rod"
)

// DefaultArgs are the Chromium flags needed to run inside most Linux containers.
var DefaultArgs = []string{"--no-sandbox", "--disable-setuid-sandbox", "--disable-dev-shm-usage"}

// WaitUntil names the page event navigation waits for.
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// ParseWaitUntil accepts the event names used in config files. Empty means load.
func ParseWaitUntil(s string) (WaitUntil, error) {
	switch w := WaitUntil(strings.ToLower(strings.TrimSpace(s))); w {
	case "":
		return WaitLoad, nil
	case WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle:
		return w, nil
	default:
		return "", fmt.Errorf("invalid wait-until %q (want load, domcontentloaded or networkidle)", s)
	}
}

// GotoOptions control navigation. A zero Timeout leaves the driver default.
type GotoOptions struct {
	WaitUntil WaitUntil
	Timeout   time.Duration
}

// Clip restricts a screenshot to a rectangle in CSS pixels.
type Clip struct {
	X, Y, Width, Height float64
}

// ScreenshotOptions control capture. Screenshots are always PNG.
type ScreenshotOptions struct {
	FullPage       bool
	OmitBackground bool
	Clip           *Clip
}

// Viewport is the page size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// LaunchOptions configure a launched browser.
type LaunchOptions struct {
	ExecutablePath string
	Headless       bool
	Args           []string
	Viewport       *Viewport
}

// Page is a single browser tab.
type Page interface {
	Goto(ctx context.Context, url string, opts GotoOptions) error
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	SetViewport(ctx context.Context, vp Viewport) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	Evaluate(ctx context.Context, js string) (any, error)
	Close() error
}

// Browser owns pages. Closing it closes every page it opened.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Launcher starts a browser process.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// NewLauncher returns the launcher for a driver name. Empty selects playwright.
func NewLauncher(driver string) (Launcher, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverPlaywright:
		return &PlaywrightLauncher{SkipInstall: os.Getenv("PLAYWRIGHT_PREINSTALLED") == "1"}, nil
	case DriverRod:
		return &RodLauncher{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
