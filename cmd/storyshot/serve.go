package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"storyshot/internal/config"
	"storyshot/internal/imagesnapshot"
	"storyshot/internal/logging"
	"storyshot/internal/runner"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run manifests and artifacts over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			gin.SetMode(gin.ReleaseMode)
			s := newServer(cfg, logger)
			addr := fmt.Sprintf(":%d", port)
			logger.Info("serve listening", zap.String("addr", addr), zap.String("workspace", s.workspace))
			return http.ListenAndServe(addr, s.routes())
		},
	}
	cmd.Flags().IntVar(&port, "port", 8787, "port to listen on")
	return cmd
}

type server struct {
	cfg          *config.Config
	workspace    string
	snapshotsDir string
	log          *zap.Logger

	// one run at a time; each run owns a browser
	running sync.Mutex
	run     func(*gin.Context, *config.Config) (runner.Result, error)
}

func newServer(cfg *config.Config, logger *zap.Logger) *server {
	workspace := cfg.Workspace
	if workspace == "" {
		workspace = runner.GuessWorkspace()
	}
	snapshotsDir := cfg.Snapshot.Dir
	if snapshotsDir == "" {
		snapshotsDir = imagesnapshot.DefaultSnapshotsDir
	}
	if abs, err := filepath.Abs(snapshotsDir); err == nil {
		snapshotsDir = abs
	}
	return &server{
		cfg:          cfg,
		workspace:    workspace,
		snapshotsDir: snapshotsDir,
		log:          logger.Named("serve"),
		run: func(c *gin.Context, cfg *config.Config) (runner.Result, error) {
			return runner.Run(c.Request.Context(), runner.Options{Config: cfg})
		},
	}
}

func (s *server) routes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), withCORS())
	r.GET("/health", s.health)
	r.GET("/v1/runs", s.listRuns)
	r.POST("/v1/runs", s.createRun)
	r.GET("/v1/runs/:id", s.getRun)
	r.GET("/v1/runs/:id/logs", s.getRunLogs)
	r.Static("/runs", filepath.Join(s.workspace, "runs"))
	r.Static("/snapshots", s.snapshotsDir)
	return r
}

func (s *server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": "true"})
}

func (s *server) listRuns(c *gin.Context) {
	ids, err := runner.FindRuns(s.workspace)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": ids})
}

type runRequest struct {
	StorybookURL string   `json:"storybook_url"`
	Update       *bool    `json:"update"`
	Include      []string `json:"include"`
	Exclude      []string `json:"exclude"`
}

func (s *server) createRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.running.TryLock() {
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in progress"})
		return
	}
	defer s.running.Unlock()

	cfg := *s.cfg
	cfg.Workspace = s.workspace
	if req.StorybookURL != "" {
		cfg.StorybookURL = req.StorybookURL
	}
	if req.Update != nil {
		cfg.Snapshot.Update = *req.Update
	}
	if req.Include != nil {
		cfg.Stories.Include = req.Include
	}
	if req.Exclude != nil {
		cfg.Stories.Exclude = req.Exclude
	}
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.run(c, &cfg)
	if err != nil {
		s.log.Warn("run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.publicManifest(res.Manifest))
}

func (s *server) getRun(c *gin.Context) {
	runID := c.Param("id")
	manifestPath := filepath.Join(s.workspace, "runs", filepath.Base(runID), "run.json")
	if _, err := os.Stat(manifestPath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	manifest, err := runner.LoadManifest(manifestPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.publicManifest(manifest))
}

func (s *server) getRunLogs(c *gin.Context) {
	logPath := filepath.Join(s.workspace, "runs", filepath.Base(c.Param("id")), "logs", "runner.ndjson")
	if _, err := os.Stat(logPath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Header("Content-Type", "application/x-ndjson")
	c.File(logPath)
}

// publicManifest rewrites artifact paths into URLs under /runs and /snapshots.
// Paths outside both trees are dropped since nothing serves them. The log path
// points at the logs endpoint.
func (s *server) publicManifest(m runner.Manifest) runner.Manifest {
	out := m
	out.LogPath = ""
	if m.RunID != "" {
		out.LogPath = "/v1/runs/" + m.RunID + "/logs"
	}
	out.Stories = make([]runner.StoryResult, len(m.Stories))
	for i, st := range m.Stories {
		st.Screenshot = s.publicPath(st.Screenshot)
		st.BaselinePath = s.publicPath(st.BaselinePath)
		st.DiffPath = s.publicPath(st.DiffPath)
		st.ReceivedPath = s.publicPath(st.ReceivedPath)
		out.Stories[i] = st
	}
	return out
}

func (s *server) publicPath(p string) string {
	if p == "" {
		return ""
	}
	if slash := filepath.ToSlash(p); strings.HasPrefix(slash, "runs/") {
		return "/" + slash
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return ""
	}
	if rel, ok := within(s.snapshotsDir, abs); ok {
		return "/snapshots/" + rel
	}
	if rel, ok := within(filepath.Join(s.workspace, "runs"), abs); ok {
		return "/runs/" + rel
	}
	return ""
}

func within(root, p string) (string, bool) {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func withCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
