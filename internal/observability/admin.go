package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/tagctl/internal/logging"
	"github.com/danmuck/tagctl/internal/node"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const adminVersion = "0.1.0"

var _ node.Unit = (*Admin)(nil)

// Admin is the coordinator's HTTP surface: health, readiness, metrics and the
// live state feed.
type Admin struct {
	ID      string
	Addr    string
	Started time.Time

	logger zerolog.Logger
	router *gin.Engine
	feed   *Feed

	mu    sync.RWMutex
	phase string
	ready bool
}

func NewAdmin(id, addr string, corsOrigins []string) *Admin {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	logger := logging.Component("admin")
	origins := normalizeOrigins(corsOrigins)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observeRequests(id, logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		ID:      id,
		Addr:    addr,
		Started: time.Now(),
		logger:  logger,
		router:  r,
		feed:    NewFeed(logger, origins),
		phase:   "collecting",
	}
	a.registerRoutes()
	return a
}

func (a *Admin) NodeID() string { return a.ID }

func (a *Admin) Kind() string { return "admin" }

func (a *Admin) HTTPRouter() *gin.Engine { return a.router }

func (a *Admin) Feed() *Feed { return a.feed }

// Update records the phase and readiness and pushes state to watchers.
func (a *Admin) Update(phase string, ready bool, state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.phase = phase
	a.ready = ready
	a.mu.Unlock()
	a.feed.Broadcast(data)
	return nil
}

func (a *Admin) status() (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.phase, a.ready
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		phase, _ := a.status()
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.Started).String(),
			"node":    a.ID,
			"phase":   phase,
			"version": adminVersion,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/ready", func(c *gin.Context) {
		phase, ready := a.status()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"phase":   phase,
			"node":    a.ID,
			"version": adminVersion,
		})
	})

	a.router.GET("/state", func(c *gin.Context) {
		latest := a.feed.Latest()
		if latest == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no state published yet"})
			return
		}
		c.Data(http.StatusOK, "application/json", latest)
	})

	a.router.GET("/state/stream", func(c *gin.Context) {
		a.feed.ServeWS(c.Writer, c.Request)
	})
}

// Run serves until ctx is done, then shuts down gracefully.
func (a *Admin) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

func (a *Admin) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	a.logger.Info().Str("addr", ln.Addr().String()).Msg("observability.Admin.Serve listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	a.feed.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
