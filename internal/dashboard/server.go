package dashboard

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"kryptometer/config"
	"kryptometer/internal/export"
	"kryptometer/logger"
	"kryptometer/models"
	"kryptometer/processor"
	"kryptometer/reader/binance"
)

//go:embed templates/*.tmpl
var embeddedFS embed.FS

// Server hosts the Gin-powered price dashboard for Kryptometer.
type Server struct {
	cfg               config.DashboardConfig
	log               *logger.Log
	engine            *processor.Engine
	feed              *binance.StreamReader
	logStore          *logStore
	resourceSampler   *resourceSampler
	httpServer        *http.Server
	refreshIntervalMs int
}

// NewServer constructs a dashboard server when the dashboard feature is enabled.
// When the dashboard is disabled the returned server will be nil.
func NewServer(cfg config.DashboardConfig, log *logger.Log, engine *processor.Engine, feed *binance.StreamReader) *Server {
	if !cfg.Enabled {
		return nil
	}

	cfg.Address = normalizeAddress(cfg.Address)

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.ResourceHistory <= 0 {
		cfg.ResourceHistory = 200
	}

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	sampler := newResourceSampler(cfg.ResourceHistory, cfg.RefreshInterval)

	server := &Server{
		cfg:               cfg,
		log:               log,
		engine:            engine,
		feed:              feed,
		logStore:          logStore,
		resourceSampler:   sampler,
		refreshIntervalMs: int(cfg.RefreshInterval / time.Millisecond),
	}

	if server.refreshIntervalMs <= 0 {
		server.refreshIntervalMs = int((5 * time.Second) / time.Millisecond)
	}

	return server
}

// Run starts the dashboard HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	if s.resourceSampler != nil {
		s.resourceSampler.start(ctx)
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) cleanup() {
	if s.logStore != nil {
		s.logStore.close()
	}
	if s.resourceSampler != nil {
		s.resourceSampler.stop()
	}
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	// Allow running behind load balancers and accessing the dashboard from
	// public networks by trusting all proxies by default. Users can
	// override Gin's trusted proxy list via the GIN_TRUSTED_PROXIES
	// environment variable if needed.
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	tmpl := template.Must(template.New("dashboard").ParseFS(embeddedFS, "templates/index.tmpl"))
	router.SetHTMLTemplate(tmpl)

	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.tmpl", gin.H{
			"AppName":           appName,
			"RefreshIntervalMs": s.refreshIntervalMs,
		})
	})

	api := router.Group("/api")

	api.GET("/symbols", s.handleSymbols)

	api.GET("/watchlist", s.handleWatchlist)
	api.POST("/watchlist", s.handleAddSymbol)
	api.DELETE("/watchlist/:symbol", s.handleRemoveSymbol)
	api.POST("/watchlist/refresh", s.handleRefresh)
	api.GET("/watchlist/export", s.handleExport)
	api.POST("/watchlist/import", s.handleImport)

	api.GET("/alerts", s.handleAlerts)
	api.POST("/alerts", s.handleAddAlert)
	api.DELETE("/alerts/:id", s.handleRemoveAlert)
	api.POST("/alerts/:id/toggle", s.handleToggleAlert)
	api.POST("/alerts/:id/reset", s.handleResetAlert)

	api.GET("/portfolio", s.handlePortfolio)
	api.POST("/portfolio", s.handleAddHolding)
	api.PUT("/portfolio/:symbol", s.handleUpdateHolding)
	api.DELETE("/portfolio/:symbol", s.handleRemoveHolding)

	api.GET("/preferences", s.handleGetPreferences)
	api.PUT("/preferences", s.handleSetPreferences)

	api.GET("/status", s.handleStatus)
	api.POST("/feed/reconnect", s.handleReconnect)

	api.GET("/logs", s.handleLogs)
	api.GET("/resources", s.handleResources)

	return router, nil
}

func (s *Server) handleSymbols(c *gin.Context) {
	states, err := s.engine.States()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": states})
}

func (s *Server) handleWatchlist(c *gin.Context) {
	symbols, err := s.engine.Watchlist()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"watchlist": symbols})
}

func (s *Server) handleAddSymbol(c *gin.Context) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.AddSymbol(req.Symbol); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRemoveSymbol(c *gin.Context) {
	if err := s.engine.RemoveSymbol(c.Param("symbol")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRefresh(c *gin.Context) {
	if err := s.engine.Refresh(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleExport(c *gin.Context) {
	symbols, err := s.engine.Watchlist()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	format := strings.ToLower(c.DefaultQuery("format", "json"))
	var buf strings.Builder

	switch format {
	case "csv":
		if err := export.ExportCSV(&buf, symbols); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", `attachment; filename="watchlist.csv"`)
		c.Data(http.StatusOK, "text/csv", []byte(buf.String()))
	case "json":
		if err := export.ExportJSON(&buf, symbols); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", `attachment; filename="watchlist.json"`)
		c.Data(http.StatusOK, "application/json", []byte(buf.String()))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported format " + format})
	}
}

func (s *Server) handleImport(c *gin.Context) {
	data, err := importPayload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	symbols, err := export.Import(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.ImportWatchlist(symbols); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "count": len(symbols)})
}

// importPayload accepts either a multipart file upload under the "file"
// field or a raw request body.
func importPayload(c *gin.Context) ([]byte, error) {
	if file, err := c.FormFile("file"); err == nil {
		f, err := file.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	return io.ReadAll(c.Request.Body)
}

func (s *Server) handleAlerts(c *gin.Context) {
	alerts, err := s.engine.Alerts()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) handleAddAlert(c *gin.Context) {
	var req struct {
		Symbol string  `json:"symbol"`
		Type   string  `json:"type"`
		Price  float64 `json:"price"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alert, err := s.engine.AddAlert(req.Symbol, models.AlertType(req.Type), req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": alert})
}

func (s *Server) handleRemoveAlert(c *gin.Context) {
	if err := s.engine.RemoveAlert(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleToggleAlert(c *gin.Context) {
	if err := s.engine.ToggleAlert(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleResetAlert(c *gin.Context) {
	if err := s.engine.ResetAlert(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handlePortfolio(c *gin.Context) {
	view, err := s.engine.Portfolio()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleAddHolding(c *gin.Context) {
	var req struct {
		Symbol   string  `json:"symbol"`
		Quantity float64 `json:"quantity"`
		Price    float64 `json:"price"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.AddHolding(req.Symbol, req.Quantity, req.Price); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleUpdateHolding(c *gin.Context) {
	var req struct {
		Quantity float64 `json:"quantity"`
		Price    float64 `json:"price"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.UpdateHolding(c.Param("symbol"), req.Quantity, req.Price); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRemoveHolding(c *gin.Context) {
	if err := s.engine.RemoveHolding(c.Param("symbol")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleGetPreferences(c *gin.Context) {
	prefs, err := s.engine.Preferences()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"preferences": prefs})
}

func (s *Server) handleSetPreferences(c *gin.Context) {
	var prefs map[string]interface{}
	if err := c.ShouldBindJSON(&prefs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.SetPreferences(prefs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.engine.Status()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	payload := gin.H{"engine": status}
	if s.feed != nil {
		payload["feed"] = s.feed.Status()
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Server) handleReconnect(c *gin.Context) {
	s.engine.ReconnectFeed()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleLogs(c *gin.Context) {
	logsSnapshot := s.logStore.snapshot()
	payload := make([]gin.H, 0, len(logsSnapshot))
	for _, l := range logsSnapshot {
		payload = append(payload, gin.H{
			"timestamp": l.Timestamp.Format(time.RFC3339Nano),
			"level":     l.Level,
			"component": l.Component,
			"message":   l.Message,
			"fields":    l.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": payload})
}

func (s *Server) handleResources(c *gin.Context) {
	snapshots := s.resourceSampler.snapshot()
	payload := make([]gin.H, 0, len(snapshots))
	for _, snap := range snapshots {
		payload = append(payload, gin.H{
			"timestamp":    snap.Timestamp.Format(time.RFC3339Nano),
			"cpu_percent":  snap.CPUPercent,
			"mem_alloc_mb": snap.MemAllocMB,
			"mem_sys_mb":   snap.MemSysMB,
			"disk_used_gb": snap.DiskUsedGB,
			"disk_free_gb": snap.DiskFreeGB,
			"goroutines":   snap.Goroutines,
		})
	}
	c.JSON(http.StatusOK, gin.H{"resources": payload})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
