package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"storyshot/internal/browser"
	"storyshot/internal/catalog"
	"storyshot/internal/config"
	"storyshot/internal/imagesnapshot"
	"storyshot/internal/logging"
	"storyshot/internal/snapshot"
	"storyshot/internal/storyid"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options configure a run.
type Options struct {
	Config *config.Config
	// Stories overrides discovery from the storybook index.
	Stories []imagesnapshot.Context
	// Launcher overrides the driver named in Config.
	Launcher   browser.Launcher
	HTTPClient *http.Client
	// Console receives human readable logs; nil keeps the run quiet.
	Console io.Writer
}

// Result contains the run location and manifest.
type Result struct {
	RunID    string
	RunDir   string
	Manifest Manifest
	LogPath  string
}

// Failed reports whether any story failed or errored.
func (r Result) Failed() bool {
	return r.Manifest.Summary.Failed > 0 || r.Manifest.Summary.Errored > 0
}

// Story outcomes in the manifest, beyond the snapshot outcomes.
const (
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Manifest is persisted to run.json.
type Manifest struct {
	RunID        string        `json:"run_id"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	StorybookURL string        `json:"storybook_url"`
	Driver       string        `json:"driver"`
	SnapshotsDir string        `json:"snapshots_dir"`
	Update       bool          `json:"update,omitempty"`
	CI           bool          `json:"ci,omitempty"`
	Summary      Summary       `json:"summary"`
	Stories      []StoryResult `json:"stories"`
	LogPath      string        `json:"log_path"`
}

// Summary counts story outcomes.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errored int `json:"errored"`
}

// StoryResult is one story's entry in the manifest.
type StoryResult struct {
	ID           string  `json:"id"`
	Kind         string  `json:"kind"`
	Name         string  `json:"name"`
	URL          string  `json:"url,omitempty"`
	Outcome      string  `json:"outcome"`
	Message      string  `json:"message,omitempty"`
	Screenshot   string  `json:"screenshot,omitempty"`
	BaselinePath string  `json:"baseline_path,omitempty"`
	DiffPath     string  `json:"diff_path,omitempty"`
	ReceivedPath string  `json:"received_path,omitempty"`
	DiffPixels   int     `json:"diff_pixels,omitempty"`
	DiffRatio    float64 `json:"diff_ratio,omitempty"`
	DurationMs   int64   `json:"duration_ms"`
}

// Run snapshots every selected story against its baseline and records the
// outcome under <workspace>/runs/<run id>.
func Run(ctx context.Context, opts Options) (Result, error) {
	cfg := opts.Config
	if cfg == nil {
		return Result{}, errors.New("config is required")
	}
	workspace := cfg.Workspace
	if workspace == "" {
		workspace = GuessWorkspace()
	}

	runID := uuid.NewString()
	runDir := filepath.Join(workspace, "runs", runID)
	artifactsDir := filepath.Join(runDir, "artifacts")
	logsDir := filepath.Join(runDir, "logs")
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return Result{}, err
	}

	logPath := filepath.Join(logsDir, "runner.ndjson")
	logFile, err := os.Create(logPath)
	if err != nil {
		return Result{}, err
	}
	defer logFile.Close()
	logger, err := logging.New(cfg.Log.Level, opts.Console, logFile)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("runner").With(zap.String("run_id", runID))

	stories := opts.Stories
	if stories == nil {
		log.Info("discovering stories", zap.String("storybook_url", cfg.StorybookURL))
		entries, err := catalog.Fetch(ctx, opts.HTTPClient, cfg.StorybookURL)
		if err != nil {
			return Result{}, fmt.Errorf("discover stories: %w", err)
		}
		stories = FromCatalog(entries, cfg.Framework)
	}
	stories = filterStories(stories, cfg.Stories.Include, cfg.Stories.Exclude)
	log.Info("stories selected", zap.Int("count", len(stories)))

	snapCfg, err := SnapshotterConfig(cfg, logger)
	if err != nil {
		return Result{}, err
	}
	if opts.Launcher != nil {
		snapCfg.Launcher = opts.Launcher
	}
	shots := make(map[string]string)
	snapCfg.AfterScreenshot = func(ctx context.Context, image []byte, story imagesnapshot.Context) error {
		name := story.ID + ".png"
		if err := os.WriteFile(filepath.Join(artifactsDir, name), image, 0o644); err != nil {
			log.Warn("write screenshot artifact failed", zap.Error(err))
			return nil
		}
		shots[story.ID] = filepath.Join("runs", runID, "artifacts", name)
		return nil
	}
	s, err := imagesnapshot.New(snapCfg)
	if err != nil {
		return Result{}, err
	}

	manifest := Manifest{
		RunID:        runID,
		StartedAt:    time.Now(),
		StorybookURL: cfg.StorybookURL,
		Driver:       cfg.Driver,
		SnapshotsDir: snapCfg.SnapshotsDir,
		Update:       cfg.Snapshot.Update,
		CI:           cfg.Snapshot.CI,
		Stories:      make([]StoryResult, 0, len(stories)),
		LogPath:      logPath,
	}

	log.Info("starting browser", zap.String("driver", cfg.Driver))
	if err := s.BeforeAll(ctx); err != nil {
		return Result{}, fmt.Errorf("start browser: %w", err)
	}

	for _, story := range stories {
		if err := ctx.Err(); err != nil {
			log.Warn("run cancelled", zap.Error(err))
			break
		}
		start := time.Now()
		res, err := s.Snapshot(ctx, story)
		sr := storyResult(story, res, err)
		sr.Screenshot = shots[sr.ID]
		sr.DurationMs = time.Since(start).Milliseconds()
		manifest.Stories = append(manifest.Stories, sr)
		manifest.Summary.add(sr.Outcome)

		fields := []zap.Field{zap.String("id", sr.ID), zap.String("outcome", sr.Outcome)}
		switch sr.Outcome {
		case string(snapshot.Failed), OutcomeError:
			log.Warn("story did not match", append(fields, zap.String("message", sr.Message))...)
		default:
			log.Info("story checked", fields...)
		}
	}

	if err := s.AfterAll(context.Background()); err != nil {
		log.Warn("close browser", zap.Error(err))
	}
	manifest.FinishedAt = time.Now()

	manifestPath := filepath.Join(runDir, "run.json")
	if err := writeManifest(manifestPath, manifest); err != nil {
		log.Warn("write manifest failed", zap.Error(err))
	}
	log.Info("run finished",
		zap.Int("passed", manifest.Summary.Passed),
		zap.Int("failed", manifest.Summary.Failed),
		zap.Int("added", manifest.Summary.Added),
		zap.Int("errored", manifest.Summary.Errored))

	return Result{
		RunID:    runID,
		RunDir:   runDir,
		Manifest: manifest,
		LogPath:  logPath,
	}, nil
}

func storyResult(story imagesnapshot.Context, res imagesnapshot.Result, err error) StoryResult {
	sr := StoryResult{
		ID:   res.Story.ID,
		Kind: story.Kind,
		Name: story.Name,
		URL:  res.URL,
	}
	if sr.ID == "" {
		sr.ID = story.ID
	}
	switch {
	case err != nil:
		sr.Outcome = OutcomeError
		sr.Message = err.Error()
	case res.Skipped:
		sr.Outcome = OutcomeSkipped
	default:
		m := res.Match
		sr.Outcome = string(m.Outcome)
		sr.Message = m.Message
		sr.BaselinePath = m.BaselinePath
		sr.DiffPath = m.DiffPath
		sr.ReceivedPath = m.ReceivedPath
		sr.DiffPixels = m.DiffPixels
		sr.DiffRatio = m.DiffRatio
	}
	return sr
}

func (s *Summary) add(outcome string) {
	s.Total++
	switch outcome {
	case string(snapshot.Passed):
		s.Passed++
	case string(snapshot.Failed):
		s.Failed++
	case string(snapshot.Added):
		s.Added++
	case string(snapshot.Updated):
		s.Updated++
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Errored++
	}
}

// FromCatalog converts index entries into story contexts.
func FromCatalog(entries []catalog.Entry, framework string) []imagesnapshot.Context {
	out := make([]imagesnapshot.Context, 0, len(entries))
	for _, e := range entries {
		out = append(out, imagesnapshot.Context{
			ID:        e.ID,
			Kind:      e.Kind(),
			Name:      e.Name,
			Framework: framework,
		})
	}
	return out
}

// filterStories keeps the order of stories. Stories without an id are matched
// on the id their kind and name would produce.
func filterStories(stories []imagesnapshot.Context, include, exclude []string) []imagesnapshot.Context {
	if len(include) == 0 && len(exclude) == 0 {
		return stories
	}
	var out []imagesnapshot.Context
	for _, s := range stories {
		id := s.ID
		if id == "" {
			id, _ = storyid.ToID(s.Kind, s.Name)
		}
		if catalog.Selected(id, include, exclude) {
			out = append(out, s)
		}
	}
	return out
}

func writeManifest(path string, manifest Manifest) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(manifest)
}

// LoadManifest reads a manifest from disk.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// FindRuns returns run directories under workspace/runs.
func FindRuns(workspace string) ([]string, error) {
	runsDir := filepath.Join(workspace, "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// GuessWorkspace tries to pick a reasonable workspace root.
func GuessWorkspace() string {
	cwd, _ := os.Getwd()
	return cwd
}

// DiscoverChromePath returns a Chrome binary configured through the environment
// variables other browser tooling already honours.
func DiscoverChromePath() string {
	for _, key := range []string{"STORYSHOT_CHROME_EXECUTABLE_PATH", "CHROME_PATH", "PUPPETEER_EXECUTABLE_PATH"} {
		if p := strings.TrimSpace(os.Getenv(key)); p != "" {
			return p
		}
	}
	return ""
}
