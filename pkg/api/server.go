// Package api exposes a peripheral, read-only HTTP surface: a snapshot
// endpoint, a Prometheus metrics endpoint, and a rate-limited websocket
// trace feed. None of it participates in scheduling decisions; it only
// reads Scheduler.Snapshot and Scheduler.Stats.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/AndrewWarb/human-scheduler/pkg/sched"
)

// Config parameterizes the server.
type Config struct {
	Addr           string
	JWTSecret      []byte
	TraceRateLimit rate.Limit // websocket pushes per second, per connection
	TraceBurst     int
}

// Server is the thin peripheral API wrapping a running Scheduler.
type Server struct {
	cfg    Config
	sched  *sched.Scheduler
	now    func() int64 // current simulation clock, supplied by the engine/cmd driver
	logger zerolog.Logger

	router   *gin.Engine
	upgrader websocket.Upgrader
}

func New(cfg Config, s *sched.Scheduler, now func() int64, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	srv := &Server{
		cfg:    cfg,
		sched:  s,
		now:    now,
		logger: logger,
		router: gin.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.router.Use(gin.Recovery())

	guarded := s.router.Group("/")
	if len(s.cfg.JWTSecret) > 0 {
		guarded.Use(requireBearer(s.cfg.JWTSecret))
	}

	guarded.GET("/snapshot", s.handleSnapshot)
	guarded.GET("/trace/ws", s.handleTraceWS)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.sched.Stats().Registry(), promhttp.HandlerOpts{})))
	s.router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.sched.Snapshot(s.now()))
}

// handleTraceWS streams newly appended trace lines to the client, rate
// limited per connection so a slow/malicious client can't force the server
// to buffer unboundedly fast pushes.
func (s *Server) handleTraceWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("trace websocket upgrade failed")
		return
	}
	connID := uuid.NewString()
	defer conn.Close()

	limiter := rate.NewLimiter(s.cfg.TraceRateLimit, s.cfg.TraceBurst)
	lastSent := 0
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		lines := s.sched.Stats().Trace.Lines()
		if lastSent >= len(lines) {
			continue
		}
		if !limiter.Allow() {
			continue
		}
		batch := lines[lastSent:]
		lastSent = len(lines)
		for _, line := range batch {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				s.logger.Debug().Str("conn", connID).Err(err).Msg("trace websocket closed")
				return
			}
		}
	}
}
