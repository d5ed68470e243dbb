// Package dashboard serves the correlation chart over HTTP: a rendered page,
// JSON endpoints with the padded columnar series and the raw metric tables,
// and a websocket that announces when fresh profiling artifacts changed the
// series.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stepscope/stepscope/internal/chart"
	"github.com/stepscope/stepscope/internal/correlation"
	"github.com/stepscope/stepscope/internal/models"
)

// SeriesFunc produces the current correlated series. The dashboard calls it
// on every page view and on every refresh tick, so it should re-read the
// artifact store each time.
type SeriesFunc func(ctx context.Context) (*correlation.Series, error)

// TablesFunc returns the raw metric tables behind the series.
type TablesFunc func(ctx context.Context) ([]models.SystemMetricRecord, []models.FrameworkMetricRecord, error)

const socketPath = "/ws"

type Options struct {
	Title    string
	Subtitle string
	// Refresh is the artifact re-read interval for websocket announcements.
	Refresh time.Duration
	// Tables, when set, exposes the raw records under /api/v1/metrics.
	Tables  TablesFunc
	Verbose bool
}

type Server struct {
	opts   Options
	router *gin.Engine
	hub    *Hub
	load   SeriesFunc
	start  sync.Once
}

func New(load SeriesFunc, opts Options) (*Server, error) {
	if load == nil {
		return nil, fmt.Errorf("series source is required")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.Verbose {
		router.Use(gin.Logger())
	}

	s := &Server{
		opts:   opts,
		router: router,
		hub:    NewHub(load, opts.Refresh),
		load:   load,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/", s.handleIndex)
	s.router.GET("/api/v1/correlation", s.handleCorrelation)
	if s.opts.Tables != nil {
		s.router.GET("/api/v1/metrics/system", s.handleSystemTable)
		s.router.GET("/api/v1/metrics/framework", s.handleFrameworkTable)
	}
	s.router.GET(socketPath, s.handleSocket)
}

// Handler exposes the routing table, primarily for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start launches the refresh hub. Run does this itself; call Start directly
// only when serving through Handler.
func (s *Server) Start(ctx context.Context) {
	s.start.Do(func() {
		go s.hub.Run(ctx)
	})
}

// Run serves until the context ends.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.Start(ctx)
	defer s.hub.Stop()

	srv := &http.Server{Addr: addr, Handler: s.router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[DASH] serving correlation dashboard on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard server failed: %w", err)
	}
	return nil
}

func (s *Server) handleIndex(c *gin.Context) {
	series, err := s.load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	err = chart.Render(c.Writer, series, chart.Config{
		Title:          s.opts.Title,
		Subtitle:       s.opts.Subtitle,
		LiveSocketPath: socketPath,
	})
	if err != nil {
		// Headers are out; all that is left is the log.
		log.Printf("[DASH] render failed: %v", err)
	}
}

func (s *Server) handleCorrelation(c *gin.Context) {
	series, err := s.load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, SeriesPayload{Series: series.DataSource(), Summary: series.Summary()})
}

func (s *Server) handleSystemTable(c *gin.Context) {
	system, _, err := s.opts.Tables(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(system), "records": system})
}

func (s *Server) handleFrameworkTable(c *gin.Context) {
	_, framework, err := s.opts.Tables(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(framework), "records": framework})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard binds locally, so any page origin may subscribe.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[DASH] websocket upgrade failed: %v", err)
		return
	}

	cl := &client{
		id:   c.ClientIP() + "-" + uuid.NewString()[:8],
		conn: ws,
		send: make(chan Message, 16),
	}
	select {
	case s.hub.register <- cl:
	case <-s.hub.done:
		ws.Close()
		return
	}
	go s.hub.writePump(cl)
	go s.hub.readPump(cl)
}
