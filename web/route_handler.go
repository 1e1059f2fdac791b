// Package web serves the HTTP API of the importer.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/RezaEskandarii/csvimport/internal/state"
	"github.com/RezaEskandarii/csvimport/internal/store"
	"github.com/RezaEskandarii/csvimport/types"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	maxUploadBytes  = 32 << 20
	shutdownTimeout = 10 * time.Second
	uploadMessage   = "Upload successful. Processing started in background."
	PageSize        = 15
)

// Importer is the submission and polling side used by the routes.
type Importer interface {
	Submit(ctx context.Context, ownerID *int64, filename string, r io.Reader) (int64, error)
	GetJob(ctx context.Context, jobID int64) (*types.JobView, error)
	ListJobs(ctx context.Context, page, pageSize int, statuses []state.JobStatus) (*types.PaginationResult[types.Job], error)
	Redispatch(ctx context.Context, jobID int64) error
}

type HttpRouteHandler struct {
	importer Importer
	users    store.UserStore
	health   func(ctx context.Context) error
	Port     uint
}

type RouteOption func(*HttpRouteHandler)

// WithHealthCheck makes /healthz report 503 while check fails.
func WithHealthCheck(check func(ctx context.Context) error) RouteOption {
	return func(h *HttpRouteHandler) {
		h.health = check
	}
}

func NewRouteHandler(importer Importer, users store.UserStore, port uint, opts ...RouteOption) *HttpRouteHandler {
	h := &HttpRouteHandler{
		importer: importer,
		users:    users,
		Port:     port,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the gin engine with every route registered.
func (handler *HttpRouteHandler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestIDMiddleware())
	r.MaxMultipartMemory = maxUploadBytes

	r.GET("/", handler.handleIndex)
	r.GET("/healthz", handler.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/auth/register", handler.handleRegister)
	r.POST("/upload", authMiddleware(handler.users), handler.handleUpload)
	r.GET("/jobs", handler.handleListJobs)
	r.GET("/jobs/:id", handler.handleGetJob)
	r.POST("/jobs/:id/redispatch", authMiddleware(handler.users), handler.handleRedispatch)
	return r
}

// Serve listens on Port until ctx is cancelled, then shuts down gracefully.
func (handler *HttpRouteHandler) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", handler.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		printBanner(addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		log.Println("HTTP server stopped")
		return nil
	}
}

func (handler *HttpRouteHandler) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "CSV async processor is running"})
}

func (handler *HttpRouteHandler) handleHealth(c *gin.Context) {
	if handler.health != nil {
		if err := handler.health(c.Request.Context()); err != nil {
			logger(c).Warnf("health check failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
}

func (handler *HttpRouteHandler) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and a password of at least 6 characters are required"})
		return
	}

	ctx := c.Request.Context()
	existing, err := handler.users.FindByUsername(ctx, req.Username)
	if err != nil {
		writeError(c, err)
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "username already registered"})
		return
	}

	id, err := handler.users.Create(ctx, req.Username, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "username": req.Username})
}

func (handler *HttpRouteHandler) handleUpload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}

	f, err := file.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()

	var ownerID *int64
	if id, ok := c.Get(userIDKey); ok {
		if v, ok := id.(int64); ok {
			ownerID = &v
		}
	}

	jobID, err := handler.importer.Submit(c.Request.Context(), ownerID, file.Filename, f)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  jobID,
		"status":  state.StatusPending,
		"message": uploadMessage,
	})
}

func (handler *HttpRouteHandler) handleGetJob(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}

	view, err := handler.importer.GetJob(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (handler *HttpRouteHandler) handleListJobs(c *gin.Context) {
	pageNumber, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	pageNumber, pageSize = types.NormalizePage(pageNumber, pageSize, PageSize)

	var statuses []state.JobStatus
	if statusParam := strings.TrimSpace(c.Query("status")); statusParam != "" {
		for _, s := range strings.Split(statusParam, ",") {
			statuses = append(statuses, state.JobStatus(strings.ToUpper(strings.TrimSpace(s))))
		}
	}

	jobs, err := handler.importer.ListJobs(c.Request.Context(), pageNumber, pageSize, statuses)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (handler *HttpRouteHandler) handleRedispatch(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}

	if err := handler.importer.Redispatch(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id, "status": state.StatusPending})
}

func jobIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job id must be a positive integer"})
		return 0, false
	}
	return id, true
}
