package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fleetwatch/fleetwatch/internal/model"
	"github.com/gin-gonic/gin"
)

// Store is the narrow store contract required by the HTTP API.
type Store interface {
	model.DeviceReader
	model.DeviceWriter
	model.AlertReader
	model.CategoryStore

	ModulesByDevice(deviceID string) ([]model.Module, error)
	AddAggregator(token, version, ip string) (*model.Aggregator, error)
	AggregatorByToken(token string) (*model.Aggregator, error)
	DeviceCount() (int64, error)
	AlertCount() (int64, error)
}

// Server provides the fleetwatch REST API.
type Server struct {
	addr      string
	store     Store
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, store Store) *Server {
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	s.registerRoutes(r)

	s.server = &http.Server{
		Handler:           r,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/api/health", s.handleHealth)

	r.GET("/api/devices", s.handleListDevices)
	r.POST("/api/devices", s.handleUpsertDevice)
	r.GET("/api/devices/:id", s.handleGetDevice)
	r.PUT("/api/devices/:id/static/:key", s.handleReplaceStatic)
	r.GET("/api/devices/:id/alerts", s.handleDeviceAlerts)
	r.GET("/api/devices/:id/modules", s.handleDeviceModules)

	r.GET("/api/categories", s.handleListCategories)
	r.POST("/api/categories", s.handleAddCategory)
	r.DELETE("/api/categories/:id", s.handleDeleteCategory)

	r.POST("/api/aggregators", s.handleAddAggregator)
	r.POST("/api/aggregators/login", s.handleAggregatorLogin)
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// writeError maps store error kinds onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	devices, err := s.store.DeviceCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}
	alerts, err := s.store.AlertCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"uptime":       time.Since(s.startTime).String(),
		"device_count": devices,
		"alert_count":  alerts,
	})
}

// pageFromQuery reads page/amount query params. Absent params leave the
// zero PageRequest (pagination disabled); non-numeric values surface as
// invalid input through PageRequest validation downstream.
func pageFromQuery(c *gin.Context) (model.PageRequest, error) {
	var page model.PageRequest
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
		}
		page.Page = n
	}
	if raw := c.Query("amount"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
		}
		page.Amount = n
	}
	return page, nil
}

func (s *Server) handleListDevices(c *gin.Context) {
	if hostname := c.Query("hostname"); hostname != "" {
		device, err := s.store.DeviceByHostname(hostname)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, model.DevicePage{Total: 1, Devices: []model.Device{*device}})
		return
	}

	page, err := pageFromQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := s.store.DevicesByCategory(c.QueryArray("category"), page)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleUpsertDevice(c *gin.Context) {
	var req struct {
		Hostname   string `json:"hostname" binding:"required"`
		CategoryID string `json:"category_id"`
		IP         string `json:"ip"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing hostname"})
		return
	}

	device, err := s.store.UpsertDevice(req.Hostname, req.CategoryID, req.IP)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

func (s *Server) handleGetDevice(c *gin.Context) {
	device, err := s.store.DeviceByID(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

func (s *Server) handleReplaceStatic(c *gin.Context) {
	var value any
	if err := c.ShouldBindJSON(&value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	if err := s.store.ReplaceStatic(c.Param("id"), c.Param("key"), value); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleDeviceAlerts(c *gin.Context) {
	page, err := pageFromQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}

	filter := model.AlertFilter{Page: page}
	if raw := c.Query("min_severity"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
			return
		}
		filter.MinSeverity = n
	}
	if raw := c.Query("max_severity"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
			return
		}
		filter.MaxSeverity = n
	}
	if raw := c.Query("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(c, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
			return
		}
		filter.Since = ts
	}
	if raw := c.Query("until"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(c, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
			return
		}
		filter.Until = ts
	}

	alerts, total, err := s.store.AlertsByDevice(c.Param("id"), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "alerts": alerts})
}

func (s *Server) handleDeviceModules(c *gin.Context) {
	modules, err := s.store.ModulesByDevice(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"modules": modules})
}

func (s *Server) handleListCategories(c *gin.Context) {
	categories, err := s.store.ListCategories()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (s *Server) handleAddCategory(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing name"})
		return
	}

	category, err := s.store.AddCategory(req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

func (s *Server) handleDeleteCategory(c *gin.Context) {
	if err := s.store.DeleteCategory(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleAddAggregator(c *gin.Context) {
	var req struct {
		Token   string `json:"token" binding:"required"`
		Version string `json:"version"`
		IP      string `json:"ip"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing token"})
		return
	}

	ag, err := s.store.AddAggregator(req.Token, req.Version, req.IP)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ag)
}

func (s *Server) handleAggregatorLogin(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing token"})
		return
	}

	ag, err := s.store.AggregatorByToken(req.Token)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown token"})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ag)
}
