package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"storyshot/internal/browser"
	"storyshot/internal/config"
	"storyshot/internal/storyid"

	"github.com/spf13/cobra"
)

// newCaptureCmd builds the capture command. A nil launcher selects the driver
// named in the config.
func newCaptureCmd(launcher browser.Launcher) *cobra.Command {
	var (
		id, kind, name, out string
		flags              runFlags
	)
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Screenshot a single story to a PNG file without comparing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &flags)
			if err != nil {
				return err
			}
			if id == "" {
				if id, err = storyid.ToID(kind, name); err != nil {
					return fmt.Errorf("need --id or --kind and --name: %w", err)
				}
			}
			if out == "" {
				out = id + ".png"
			}
			l := launcher
			if l == nil {
				if l, err = browser.NewLauncher(cfg.Driver); err != nil {
					return err
				}
			}
			target, err := captureStory(cmd.Context(), cfg, l, id, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Captured %s at %s\n", target, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "story id")
	cmd.Flags().StringVar(&kind, "kind", "", "story kind (title)")
	cmd.Flags().StringVar(&name, "name", "", "story name")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default <id>.png)")
	flags.register(cmd.Flags())
	return cmd
}

// captureStory renders one story and writes its screenshot to out. It returns
// the story URL.
func captureStory(ctx context.Context, cfg *config.Config, launcher browser.Launcher, id, out string) (string, error) {
	target, err := storyid.ConstructURL(cfg.StorybookURL, id)
	if err != nil {
		return "", err
	}
	waitUntil, err := browser.ParseWaitUntil(cfg.Goto.WaitUntil)
	if err != nil {
		return "", err
	}
	timeout := time.Duration(cfg.Goto.TimeoutMs) * time.Millisecond

	var vp *browser.Viewport
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		vp = &browser.Viewport{Width: cfg.Viewport.Width, Height: cfg.Viewport.Height}
	}
	b, err := launcher.Launch(ctx, browser.LaunchOptions{
		ExecutablePath: cfg.ChromeExecutablePath,
		Headless:       cfg.Headless,
		Args:           browser.DefaultArgs,
		Viewport:       vp,
	})
	if err != nil {
		return "", err
	}
	defer b.Close()

	page, err := b.NewPage(ctx)
	if err != nil {
		return "", err
	}
	if err := page.Goto(ctx, target, browser.GotoOptions{WaitUntil: waitUntil, Timeout: timeout}); err != nil {
		return "", err
	}
	if cfg.Screenshot.WaitSelector != "" {
		if err := page.WaitForSelector(ctx, cfg.Screenshot.WaitSelector, timeout); err != nil {
			return "", fmt.Errorf("wait for %q: %w", cfg.Screenshot.WaitSelector, err)
		}
	}
	img, err := page.Screenshot(ctx, browser.ScreenshotOptions{
		FullPage:       cfg.Screenshot.FullPage,
		OmitBackground: cfg.Screenshot.OmitBackground,
	})
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(out, img, 0o644); err != nil {
		return "", err
	}
	return target, nil
}
