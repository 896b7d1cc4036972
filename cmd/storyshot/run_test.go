package main

import (
	"testing"
	"time"

	"storyshot/internal/config"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFlagsOverrideOnlyWhenSet(t *testing.T) {
	t.Setenv("STORYSHOT_CHROME_EXECUTABLE_PATH", "")
	t.Setenv("CHROME_PATH", "")
	t.Setenv("PUPPETEER_EXECUTABLE_PATH", "")

	var f runFlags
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	f.register(fs)
	require.NoError(t, fs.Parse([]string{
		"--url", "http://sb.local:6006",
		"-u",
		"--driver", "rod",
		"--timeout", "5s",
		"--exclude", "legacy,deprecated",
	}))

	cfg := config.Default()
	cfg.Snapshot.Dir = "custom"
	require.NoError(t, f.apply(fs, cfg))

	assert.Equal(t, "http://sb.local:6006", cfg.StorybookURL)
	assert.True(t, cfg.Snapshot.Update)
	assert.Equal(t, "rod", cfg.Driver)
	assert.Equal(t, int((5 * time.Second).Milliseconds()), cfg.Goto.TimeoutMs)
	assert.Equal(t, []string{"legacy", "deprecated"}, cfg.Stories.Exclude)
	assert.Equal(t, "custom", cfg.Snapshot.Dir, "unset flags keep config values")
	assert.True(t, cfg.Headless)
}

func TestRunFlagsValidate(t *testing.T) {
	var f runFlags
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	f.register(fs)
	require.NoError(t, fs.Parse([]string{"--wait-until", "forever"}))

	assert.Error(t, f.apply(fs, config.Default()))
}
