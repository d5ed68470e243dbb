// Package emulator is a local stand-in for the managed training platform:
// it serves the control API the client speaks, an object store for dataset
// uploads and artifact reads, and runs a simulated training loop per
// accepted job that produces real profiling output.
//
// It exists as a test double for local verification. Nothing in the client
// depends on emulator internals, only on the wire API.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stepscope/stepscope/internal/models"
	"github.com/stepscope/stepscope/internal/platform"
)

type Options struct {
	// DataDir is the root of the emulated object store. Uploaded datasets
	// and job artifacts live under it.
	DataDir string
	// AuthSecret enables bearer-JWT auth on the job API when non-empty.
	AuthSecret string
	// PublicURL is the base URL clients reach the storage endpoints at,
	// e.g. http://127.0.0.1:8943. Set late via SetPublicURL when the
	// listener address is not known up front.
	PublicURL string
	// MaxConcurrentJobs is the submission quota: submissions beyond this
	// many non-terminal jobs are rejected with quota_exceeded.
	MaxConcurrentJobs int
	// ServiceVersion is reported by the version endpoint.
	ServiceVersion string
	// Verbose enables gin's per-request logger.
	Verbose bool
}

type Server struct {
	opts   Options
	router *gin.Engine

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	jobs    map[string]*models.JobInfo
	order   []string
	running int
}

func New(opts Options) (*Server, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = 4
	}
	if opts.ServiceVersion == "" {
		opts.ServiceVersion = "dev"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.Verbose {
		router.Use(gin.Logger())
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:   opts,
		router: router,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*models.JobInfo),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.Use(RateLimitMiddleware(NewRateLimiter()))

	s.router.GET("/healthz", s.handleHealth)

	api := s.router.Group("/api/v1")
	api.GET("/version", s.handleVersion)

	jobs := api.Group("/jobs")
	if s.opts.AuthSecret != "" {
		jobs.Use(AuthMiddleware(s.opts.AuthSecret))
	}
	jobs.POST("", s.handleSubmit)
	jobs.GET("", s.handleListJobs)
	jobs.GET("/:id", s.handleGetJob)

	// Storage carries its access control in the URI, like pre-signed
	// object-store URLs, so these endpoints stay open.
	objects := s.router.Group("/storage")
	objects.PUT("/*path", s.handlePutObject)
	objects.GET("/*path", s.handleGetObject)
}

// Handler exposes the routing table, primarily for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetPublicURL fixes the storage base URL once the listener address is
// known.
func (s *Server) SetPublicURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.PublicURL = strings.TrimSuffix(u, "/")
}

// Run serves until the context ends, then stops the trainers and shuts the
// listener down.
func (s *Server) Run(ctx context.Context, addr string) error {
	if s.opts.PublicURL == "" {
		s.SetPublicURL("http://" + addr)
	}

	srv := &http.Server{Addr: addr, Handler: s.router}
	go func() {
		<-ctx.Done()
		s.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[EMULATOR] listening on %s (data dir %s)", addr, s.opts.DataDir)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("emulator server failed: %w", err)
	}
	return nil
}

// Shutdown cancels running trainers and waits for them to finish.
func (s *Server) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

type submitRequest struct {
	Spec   models.JobSpec                    `json:"spec"`
	Inputs map[string]models.DatasetLocation `json:"inputs"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     "stepscope-emulator",
		"version":     s.opts.ServiceVersion,
		"api_version": platform.SupportedAPIVersion,
	})
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, platform.CodeInvalidSpec, fmt.Sprintf("malformed request: %v", err))
		return
	}
	if err := req.Spec.Validate(); err != nil {
		apiError(c, http.StatusBadRequest, platform.CodeInvalidSpec, err.Error())
		return
	}

	s.mu.Lock()
	if s.running >= s.opts.MaxConcurrentJobs {
		s.mu.Unlock()
		apiError(c, http.StatusTooManyRequests, platform.CodeQuotaExceeded,
			fmt.Sprintf("concurrent job quota of %d exhausted", s.opts.MaxConcurrentJobs))
		return
	}

	id := uuid.NewString()
	job := &models.JobInfo{
		ID:                 id,
		Spec:               req.Spec,
		Inputs:             req.Inputs,
		Status:             models.JobStatusPending,
		ProfilingOutputURI: s.opts.PublicURL + "/storage/jobs/" + id + "/output",
		SubmitTime:         time.Now().UTC(),
	}
	s.jobs[id] = job
	s.order = append(s.order, id)
	s.running++
	s.mu.Unlock()

	log.Printf("[EMULATOR] job %s submitted (%s on %dx %s)",
		id, req.Spec.Name, req.Spec.InstanceCount, req.Spec.InstanceType)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runTrainer(s.ctx, id)
	}()

	c.JSON(http.StatusCreated, gin.H{"job": s.snapshot(id)})
}

func (s *Server) handleGetJob(c *gin.Context) {
	id := c.Param("id")
	s.mu.RLock()
	_, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		apiError(c, http.StatusNotFound, "not_found", fmt.Sprintf("no job %s", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": s.snapshot(id)})
}

func (s *Server) handleListJobs(c *gin.Context) {
	s.mu.RLock()
	jobs := make([]models.JobInfo, 0, len(s.order))
	// Newest first.
	for i := len(s.order) - 1; i >= 0; i-- {
		jobs = append(jobs, *s.jobs[s.order[i]])
	}
	s.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) handlePutObject(c *gin.Context) {
	full, err := s.objectPath(c.Param("path"))
	if err != nil {
		apiError(c, http.StatusBadRequest, "bad_path", err.Error())
		return
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		apiError(c, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	out, err := os.Create(full)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	defer out.Close()

	if _, err := io.Copy(out, c.Request.Body); err != nil {
		apiError(c, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) handleGetObject(c *gin.Context) {
	full, err := s.objectPath(c.Param("path"))
	if err != nil {
		apiError(c, http.StatusBadRequest, "bad_path", err.Error())
		return
	}
	if info, err := os.Stat(full); err != nil || info.IsDir() {
		c.Status(http.StatusNotFound)
		return
	}
	c.File(full)
}

// objectPath maps a storage URL path onto the data dir, refusing escapes.
func (s *Server) objectPath(p string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimPrefix(p, "/"))
	if clean == "/" || strings.Contains(clean, "..") {
		return "", fmt.Errorf("invalid object path %q", p)
	}
	return filepath.Join(s.opts.DataDir, filepath.FromSlash(clean)), nil
}

// snapshot returns a value copy of a job for responses.
func (s *Server) snapshot(id string) models.JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.jobs[id]
}

// transition moves a job to a new status, stamping start and end times.
func (s *Server) transition(id string, status models.JobStatus, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return
	}
	wasTerminal := job.Status.Terminal()
	now := time.Now().UTC()
	job.Status = status
	job.Message = message
	switch {
	case status == models.JobStatusRunning && job.StartTime == nil:
		job.StartTime = &now
	case status.Terminal() && !wasTerminal:
		job.EndTime = &now
		s.running--
	}
}

func apiError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
	c.Abort()
}
