package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"storyshot/internal/catalog"
	"storyshot/internal/config"
	"storyshot/internal/runner"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// runFlags are applied over the loaded config only when set on the command line.
type runFlags struct {
	url        string
	driver     string
	chrome     string
	framework  string
	headless   bool
	update     bool
	ci         bool
	dir        string
	waitUntil  string
	timeout    time.Duration
	include    []string
	exclude    []string
	jsonOutput bool
}

func (f *runFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.url, "url", "", "Storybook URL")
	fs.StringVar(&f.driver, "driver", "", "browser driver: playwright or rod")
	fs.StringVar(&f.chrome, "chrome", runner.DiscoverChromePath(), "Chrome executable path")
	fs.StringVar(&f.framework, "framework", "", "Storybook framework (react-native stories are skipped)")
	fs.BoolVar(&f.headless, "headless", true, "run the browser headless")
	fs.BoolVarP(&f.update, "update", "u", false, "rewrite baselines that do not match")
	fs.BoolVar(&f.ci, "ci", false, "do not write missing baselines")
	fs.StringVar(&f.dir, "snapshots-dir", "", "baseline directory")
	fs.StringVar(&f.waitUntil, "wait-until", "", "navigation event: load, domcontentloaded or networkidle")
	fs.DurationVar(&f.timeout, "timeout", 0, "navigation timeout")
	fs.StringSliceVar(&f.include, "include", nil, "only stories whose id contains one of these")
	fs.StringSliceVar(&f.exclude, "exclude", nil, "skip stories whose id contains one of these")
	fs.BoolVar(&f.jsonOutput, "json", false, "print the run manifest as JSON")
}

func (f *runFlags) apply(fs *pflag.FlagSet, cfg *config.Config) error {
	if fs.Changed("url") {
		cfg.StorybookURL = f.url
	}
	if fs.Changed("driver") {
		cfg.Driver = f.driver
	}
	if fs.Changed("chrome") || (cfg.ChromeExecutablePath == "" && f.chrome != "") {
		cfg.ChromeExecutablePath = f.chrome
	}
	if fs.Changed("framework") {
		cfg.Framework = f.framework
	}
	if fs.Changed("headless") {
		cfg.Headless = f.headless
	}
	if fs.Changed("update") {
		cfg.Snapshot.Update = f.update
	}
	if fs.Changed("ci") {
		cfg.Snapshot.CI = f.ci
	}
	if fs.Changed("snapshots-dir") {
		cfg.Snapshot.Dir = f.dir
	}
	if fs.Changed("wait-until") {
		cfg.Goto.WaitUntil = f.waitUntil
	}
	if fs.Changed("timeout") {
		cfg.Goto.TimeoutMs = int(f.timeout.Milliseconds())
	}
	if fs.Changed("include") {
		cfg.Stories.Include = f.include
	}
	if fs.Changed("exclude") {
		cfg.Stories.Exclude = f.exclude
	}
	return cfg.Validate()
}

func loadConfig(cmd *cobra.Command, flags *runFlags) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if flags != nil {
		if err := flags.apply(cmd.Flags(), cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Snapshot every story and compare with the baselines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := runner.Run(ctx, runner.Options{Config: cfg, Console: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			if flags.jsonOutput {
				b, _ := json.MarshalIndent(res.Manifest, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
			} else {
				printSummary(cmd, res)
			}
			if res.Failed() {
				return fmt.Errorf("%d failed, %d errored (run %s)",
					res.Manifest.Summary.Failed, res.Manifest.Summary.Errored, res.RunID)
			}
			return nil
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func printSummary(cmd *cobra.Command, res runner.Result) {
	out := cmd.OutOrStdout()
	for _, s := range res.Manifest.Stories {
		fmt.Fprintf(out, "%-8s %s\n", s.Outcome, s.ID)
		if s.Message != "" && s.Outcome != "passed" {
			fmt.Fprintf(out, "         %s\n", s.Message)
		}
	}
	sum := res.Manifest.Summary
	fmt.Fprintf(out, "\n%d stories: %d passed, %d added, %d updated, %d failed, %d errored, %d skipped\n",
		sum.Total, sum.Passed, sum.Added, sum.Updated, sum.Failed, sum.Errored, sum.Skipped)
	fmt.Fprintf(out, "manifest: %s\n", filepath.Join(res.RunDir, "run.json"))
}

func newStoriesCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "stories",
		Short: "List the stories served by a Storybook",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			if url != "" {
				cfg.StorybookURL = url
			}
			entries, err := catalog.Fetch(cmd.Context(), nil, cfg.StorybookURL)
			if err != nil {
				return err
			}
			for _, e := range catalog.Filter(entries, cfg.Stories.Include, cfg.Stories.Exclude) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s / %s\n", e.ID, e.Title, e.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Storybook URL")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List run ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			runs, err := runner.FindRuns(cfg.Workspace)
			if err != nil {
				return err
			}
			for _, id := range runs {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}
