package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"signal-trader/internal/engine"
	"signal-trader/internal/events"
	"signal-trader/internal/history"
	"signal-trader/pkg/db"
)

// EventStore reads the event journal.
type EventStore interface {
	ListEvents(ctx context.Context, f db.EventFilter) ([]db.EventRecord, error)
}

// HistoryReporter summarises closed exchange positions.
type HistoryReporter interface {
	Report(ctx context.Context, recent int) (history.Report, error)
}

// Deps are the collaborators the HTTP layer needs. Journal, History and
// Metrics are optional; their routes answer 503 / are not mounted when nil.
type Deps struct {
	Engine  engine.Service
	Bus     *events.Bus
	Journal EventStore
	History HistoryReporter
	Metrics http.Handler
	Logger  zerolog.Logger

	RateLimit float64
	Burst     int
}

// Server wires HTTP endpoints around the engine.
type Server struct {
	Router  *gin.Engine
	Engine  engine.Service
	Bus     *events.Bus
	Journal EventStore
	History HistoryReporter
	log     zerolog.Logger
	limiter *IPLimiter
}

func NewServer(d Deps) *Server {
	r := gin.New()
	log := d.Logger.With().Str("component", "api").Logger()
	limiter := NewIPLimiter(d.RateLimit, d.Burst)

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware(limiter, log))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:  r,
		Engine:  d.Engine,
		Bus:     d.Bus,
		Journal: d.Journal,
		History: d.History,
		log:     log,
		limiter: limiter,
	}
	s.routes(d.Metrics)
	return s
}

func (s *Server) routes(metrics http.Handler) {
	s.Router.GET("/healthz", s.health)
	s.Router.GET("/ws", s.websocket)
	if metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := s.Router.Group("/api/v1")
	{
		v1.GET("/status", s.getSystemStatus)
		v1.GET("/events", s.listEvents)
		v1.GET("/positions/history", s.getPositionsHistory)

		campaigns := v1.Group("/campaigns")
		campaigns.POST("", s.startCampaign)
		campaigns.GET("", s.listCampaigns)
		campaigns.DELETE("", s.stopAllCampaigns)
		campaigns.GET("/:id", s.getCampaign)
		campaigns.DELETE("/:id", s.stopCampaign)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HTTPServer wraps the router for graceful shutdown by the caller.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Run serves until ctx ends, then drains connections.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := s.HTTPServer(addr)
	go s.limiter.Sweep(ctx, 5*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
