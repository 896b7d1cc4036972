// Package imagesnapshot turns Storybook stories into visual regression tests.
//
// A Snapshotter launches one browser and one page in BeforeAll, reuses that page
// for every story, and closes it in AfterAll. Each story is rendered through the
// iframe URL, captured, and matched against its stored baseline. The page is
// shared, so stories are snapshotted one at a time even when tests run in
// parallel.
package imagesnapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"storyshot/internal/browser"
	"storyshot/internal/snapshot"
	"storyshot/internal/storyid"

	"go.uber.org/zap"
)

// ErrNoBrowser is returned when a story is snapshotted outside BeforeAll/AfterAll.
var ErrNoBrowser = errors.New("no-headless-browser-running")

// ErrBrowserRunning is returned by BeforeAll when the previous browser has not
// been released by AfterAll.
var ErrBrowserRunning = errors.New("headless browser already running")

// FrameworkReactNative stories cannot be rendered in a browser and are skipped.
const FrameworkReactNative = "react-native"

// DefaultStorybookURL is where `storybook dev` listens by default.
const DefaultStorybookURL = "http://localhost:6006"

// DefaultSnapshotsDir is where baselines are stored when no match options say otherwise.
const DefaultSnapshotsDir = "__image_snapshots__"

// Context identifies the story under test.
type Context struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Name       string         `json:"name"`
	Framework  string         `json:"framework,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// HookArgs is passed to the option hooks and BeforeScreenshot.
type HookArgs struct {
	Context Context
	URL     string
}

// Config mirrors the knobs of a storyshots image snapshot suite. Nil hooks are
// no-ops; nil option hooks select the defaults.
type Config struct {
	StorybookURL         string
	ChromeExecutablePath string
	// Headed shows the browser window instead of running headless.
	Headed   bool
	Viewport *browser.Viewport

	GetMatchOptions      func(HookArgs) snapshot.Options
	GetScreenshotOptions func(HookArgs) browser.ScreenshotOptions
	BeforeScreenshot     func(ctx context.Context, page browser.Page, args HookArgs) error
	AfterScreenshot      func(ctx context.Context, image []byte, story Context) error
	GetGotoOptions       func(HookArgs) browser.GotoOptions
	CustomizePage        func(ctx context.Context, page browser.Page) error
	// GetCustomBrowser supplies a browser owned by the caller. AfterAll then
	// closes only the page it opened.
	GetCustomBrowser func(ctx context.Context) (browser.Browser, error)

	Launcher     browser.Launcher
	Matcher      *snapshot.Matcher
	SnapshotsDir string
	Logger       *zap.Logger
}

// DefaultScreenshotOptions captures the full page.
func DefaultScreenshotOptions(HookArgs) browser.ScreenshotOptions {
	return browser.ScreenshotOptions{FullPage: true}
}

// Result of snapshotting one story.
type Result struct {
	Story   Context         `json:"story"`
	URL     string          `json:"url,omitempty"`
	Skipped bool            `json:"skipped,omitempty"`
	Match   snapshot.Result `json:"match"`
}

// Snapshotter runs image snapshot tests against a single shared page.
type Snapshotter struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	browser browser.Browser
	page    browser.Page
}

// New fills unset fields of cfg with defaults.
func New(cfg Config) (*Snapshotter, error) {
	if cfg.StorybookURL == "" {
		cfg.StorybookURL = DefaultStorybookURL
	}
	if cfg.GetScreenshotOptions == nil {
		cfg.GetScreenshotOptions = DefaultScreenshotOptions
	}
	if cfg.GetGotoOptions == nil {
		cfg.GetGotoOptions = func(HookArgs) browser.GotoOptions { return browser.GotoOptions{} }
	}
	if cfg.GetMatchOptions == nil {
		cfg.GetMatchOptions = func(HookArgs) snapshot.Options { return snapshot.Options{} }
	}
	if cfg.BeforeScreenshot == nil {
		cfg.BeforeScreenshot = func(context.Context, browser.Page, HookArgs) error { return nil }
	}
	if cfg.AfterScreenshot == nil {
		cfg.AfterScreenshot = func(context.Context, []byte, Context) error { return nil }
	}
	if cfg.CustomizePage == nil {
		cfg.CustomizePage = func(context.Context, browser.Page) error { return nil }
	}
	if cfg.Launcher == nil && cfg.GetCustomBrowser == nil {
		l, err := browser.NewLauncher(browser.DriverPlaywright)
		if err != nil {
			return nil, err
		}
		cfg.Launcher = l
	}
	if cfg.Matcher == nil {
		cfg.Matcher = &snapshot.Matcher{}
	}
	if cfg.SnapshotsDir == "" {
		cfg.SnapshotsDir = DefaultSnapshotsDir
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Snapshotter{cfg: cfg, log: cfg.Logger.Named("imagesnapshot")}, nil
}

// BeforeAll starts the browser, or takes the custom one, and opens the page
// every story will be rendered in.
func (s *Snapshotter) BeforeAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		return ErrBrowserRunning
	}

	var (
		b   browser.Browser
		err error
	)
	if s.cfg.GetCustomBrowser != nil {
		b, err = s.cfg.GetCustomBrowser(ctx)
		if err != nil {
			return fmt.Errorf("custom browser: %w", err)
		}
	} else {
		b, err = s.cfg.Launcher.Launch(ctx, browser.LaunchOptions{
			ExecutablePath: s.cfg.ChromeExecutablePath,
			Headless:       !s.cfg.Headed,
			Args:           browser.DefaultArgs,
		})
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
	}

	page, err := b.NewPage(ctx)
	if err == nil && s.cfg.Viewport != nil {
		if err = page.SetViewport(ctx, *s.cfg.Viewport); err != nil {
			_ = page.Close()
		}
	}
	if err != nil {
		if s.cfg.GetCustomBrowser == nil {
			_ = b.Close()
		}
		return fmt.Errorf("open page: %w", err)
	}

	s.browser, s.page = b, page
	s.log.Debug("browser ready", zap.Bool("custom", s.cfg.GetCustomBrowser != nil))
	return nil
}

// AfterAll releases what BeforeAll acquired. A custom browser stays open.
func (s *Snapshotter) AfterAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() { s.browser, s.page = nil, nil }()
	if s.cfg.GetCustomBrowser != nil {
		if s.page == nil {
			return nil
		}
		return s.page.Close()
	}
	if s.browser == nil {
		return nil
	}
	return s.browser.Close()
}

// Snapshot renders one story and matches its screenshot. A visual mismatch is
// reported in Result.Match; the error is for everything else.
func (s *Snapshotter) Snapshot(ctx context.Context, story Context) (Result, error) {
	res := Result{Story: story}
	if story.Framework == FrameworkReactNative {
		s.log.Error("It seems you are running imageSnapshot on RN app and it's not supported. Skipping test.",
			zap.String("kind", story.Kind), zap.String("name", story.Name))
		res.Skipped = true
		return res, nil
	}

	id := story.ID
	if id == "" {
		var err error
		if id, err = storyid.ToID(story.Kind, story.Name); err != nil {
			return res, err
		}
		res.Story.ID = id
	}
	url, err := storyid.ConstructURL(s.cfg.StorybookURL, id)
	if err != nil {
		return res, err
	}
	res.URL = url

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser == nil || s.page == nil {
		s.log.Error(fmt.Sprintf("Error when generating image snapshot for test %s - %s : It seems the headless browser is not running.",
			story.Kind, story.Name))
		return res, ErrNoBrowser
	}

	args := HookArgs{Context: res.Story, URL: url}
	image, err := s.capture(ctx, args)
	if err != nil {
		s.log.Error(fmt.Sprintf("Error when connecting to %s, did you start or build the storybook first? "+
			"A storybook instance should be running or a static version should be built when using image snapshot feature.", url),
			zap.Error(err))
		return res, err
	}

	opts := s.cfg.GetMatchOptions(args)
	if opts.Identifier == "" {
		opts.Identifier = id
	}
	if opts.SnapshotsDir == "" {
		opts.SnapshotsDir = s.cfg.SnapshotsDir
	}
	res.Match, err = s.cfg.Matcher.Match(image, opts)
	if err != nil {
		return res, fmt.Errorf("match snapshot %s: %w", opts.Identifier, err)
	}
	s.log.Debug("snapshot matched", zap.String("id", id), zap.String("outcome", string(res.Match.Outcome)))
	return res, nil
}

func (s *Snapshotter) capture(ctx context.Context, args HookArgs) ([]byte, error) {
	if err := s.cfg.CustomizePage(ctx, s.page); err != nil {
		return nil, err
	}
	if err := s.page.Goto(ctx, args.URL, s.cfg.GetGotoOptions(args)); err != nil {
		return nil, err
	}
	if err := s.cfg.BeforeScreenshot(ctx, s.page, args); err != nil {
		return nil, err
	}
	image, err := s.page.Screenshot(ctx, s.cfg.GetScreenshotOptions(args))
	if err != nil {
		return nil, err
	}
	if err := s.cfg.AfterScreenshot(ctx, image, args.Context); err != nil {
		return nil, err
	}
	return image, nil
}
