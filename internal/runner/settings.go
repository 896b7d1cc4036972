package runner

import (
	"context"
	"fmt"
	"time"

	"storyshot/internal/browser"
	"storyshot/internal/config"
	"storyshot/internal/imagesnapshot"
	"storyshot/internal/snapshot"

	"go.uber.org/zap"
)

// SnapshotterConfig turns file/env/flag settings into adapter hooks.
func SnapshotterConfig(cfg *config.Config, logger *zap.Logger) (imagesnapshot.Config, error) {
	launcher, err := browser.NewLauncher(cfg.Driver)
	if err != nil {
		return imagesnapshot.Config{}, err
	}
	waitUntil, err := browser.ParseWaitUntil(cfg.Goto.WaitUntil)
	if err != nil {
		return imagesnapshot.Config{}, err
	}

	out := imagesnapshot.Config{
		StorybookURL:         cfg.StorybookURL,
		ChromeExecutablePath: cfg.ChromeExecutablePath,
		Headed:               !cfg.Headless,
		Launcher:             launcher,
		Matcher:              &snapshot.Matcher{Update: cfg.Snapshot.Update, CI: cfg.Snapshot.CI},
		SnapshotsDir:         cfg.Snapshot.Dir,
		Logger:               logger,
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		out.Viewport = &browser.Viewport{Width: cfg.Viewport.Width, Height: cfg.Viewport.Height}
	}

	gotoOpts := browser.GotoOptions{
		WaitUntil: waitUntil,
		Timeout:   time.Duration(cfg.Goto.TimeoutMs) * time.Millisecond,
	}
	out.GetGotoOptions = func(imagesnapshot.HookArgs) browser.GotoOptions { return gotoOpts }

	shotOpts := browser.ScreenshotOptions{
		FullPage:       cfg.Screenshot.FullPage,
		OmitBackground: cfg.Screenshot.OmitBackground,
	}
	out.GetScreenshotOptions = func(imagesnapshot.HookArgs) browser.ScreenshotOptions { return shotOpts }

	matchOpts := snapshot.Options{
		SnapshotsDir:           cfg.Snapshot.Dir,
		DiffDir:                cfg.Snapshot.DiffDir,
		Threshold:              cfg.Snapshot.Threshold,
		IncludeAA:              cfg.Snapshot.IncludeAA,
		FailureThreshold:       cfg.Snapshot.FailureThreshold,
		FailureThresholdType:   snapshot.ThresholdType(cfg.Snapshot.FailureThresholdType),
		AllowSizeMismatch:      cfg.Snapshot.AllowSizeMismatch,
		DiffDirection:          snapshot.Direction(cfg.Snapshot.DiffDirection),
		StoreReceivedOnFailure: cfg.Snapshot.StoreReceivedOnFailure,
	}
	out.GetMatchOptions = func(imagesnapshot.HookArgs) snapshot.Options { return matchOpts }

	if sel, delay := cfg.Screenshot.WaitSelector, time.Duration(cfg.Screenshot.DelayMs)*time.Millisecond; sel != "" || delay > 0 {
		out.BeforeScreenshot = func(ctx context.Context, page browser.Page, args imagesnapshot.HookArgs) error {
			if sel != "" {
				if err := page.WaitForSelector(ctx, sel, gotoOpts.Timeout); err != nil {
					return fmt.Errorf("wait for %q: %w", sel, err)
				}
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		}
	}
	return out, nil
}
