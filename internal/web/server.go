// Package web serves the gateway's JSON API.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/storage"
	"github.com/user/edgegate/internal/util"
	"github.com/user/edgegate/internal/vmanage"
)

const shutdownTimeout = 30 * time.Second

// Pinger runs local pings.
type Pinger interface {
	Ping(ctx context.Context, host string, count int, timeout time.Duration) (*model.PingResult, error)
}

// Tracer runs local traceroutes.
type Tracer interface {
	Trace(ctx context.Context, host string, maxHops int, timeout time.Duration) (*model.TracerouteResult, error)
}

// PortScanner runs TCP connect scans.
type PortScanner interface {
	Scan(ctx context.Context, target string, ports []int, timeout time.Duration) (*model.PortScanResult, error)
}

// CommandRunner executes commands on network devices.
type CommandRunner interface {
	Execute(ctx context.Context, req model.CommandRequest) (*model.CommandResult, error)
	PushConfig(ctx context.Context, req model.CommandRequest) (*model.CommandResult, error)
	Backup(ctx context.Context, req model.CommandRequest) (*model.CommandResult, error)
	Logs(ctx context.Context, req model.CommandRequest, scope string) (*model.CommandResult, error)
}

// StatsFetcher serves controller statistics.
type StatsFetcher interface {
	Fetch(ctx context.Context, q model.StatQuery) (*model.StatSeries, error)
	CacheLen() int
}

// Deps are the components behind the API. Controller routes answer 503 when
// Sessions is nil; History may be nil to disable recording.
type Deps struct {
	Sessions   *vmanage.Manager
	Controller *vmanage.Client
	Stats      StatsFetcher
	Commands   CommandRunner
	Ping       Pinger
	Trace      Tracer
	Scan       PortScanner
	History    *storage.HistoryStore
	Status     func() *model.DaemonStatus
	// TriggerJob runs a background job on the next scheduler tick.
	TriggerJob func(name string) bool
	Version    string
}

// Server is the web server.
type Server struct {
	config *util.Config
	deps   Deps
	router *gin.Engine
	srv    *http.Server
}

// NewServer creates a new web server.
func NewServer(cfg *util.Config, deps Deps) *Server {
	s := &Server{config: cfg, deps: deps}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), requestID(), requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)
		api.POST("/jobs/:name/run", s.handleTriggerJob)

		api.POST("/ping", s.handlePing)
		api.POST("/traceroute", s.handleTraceroute)
		api.POST("/portscan", s.handlePortScan)
		api.POST("/device/command", s.handleDeviceCommand)
		api.POST("/device/config", s.handleDeviceConfig)
		api.POST("/device/backup", s.handleDeviceBackup)
		api.POST("/device/logs", s.handleDeviceLogs)

		api.GET("/history", s.handleHistory)
		api.GET("/history/stats", s.handleHistoryStats)
		api.GET("/history/:id", s.handleHistoryEntry)

		ctl := api.Group("", s.requireController)
		ctl.POST("/stats", s.handleStats)
		ctl.GET("/tenants", s.handleTenants)
		ctl.POST("/tenant/switch", s.handleTenantSwitch)
		ctl.GET("/devices", s.handleDevices)
		ctl.GET("/devices/:ip/:view", s.handleDeviceState)
		ctl.POST("/controller/ping", s.handleRemotePing)
		ctl.POST("/controller/traceroute", s.handleRemoteTraceroute)
		ctl.POST("/controller/nslookup", s.handleRemoteNslookup)
		ctl.GET("/config/running/:id", s.handleRunningConfig)
		ctl.GET("/templates", s.handleTemplates)
		ctl.GET("/policies", s.handlePolicies)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on the configured listen address until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         s.config.Web.Listen,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.srv.Shutdown(sctx)
	}()

	util.Info("Web server listening on %s", s.config.Web.Listen)

	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
