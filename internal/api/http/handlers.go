package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"github.com/GriffinCanCode/sentinel/internal/api/middleware"
	"github.com/GriffinCanCode/sentinel/internal/orchestrator"
	"github.com/GriffinCanCode/sentinel/internal/quarantine"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Analyzer is the verdict pipeline behind the API.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) *analysis.Result
	Stats() orchestrator.Statistics
}

// QuarantineLister exposes quarantined samples.
type QuarantineLister interface {
	List() ([]quarantine.Entry, error)
}

// Status reports which tiers are available.
type Status struct {
	GuestModuleLoaded bool `json:"guest_module_loaded"`
	NativeEnabled     bool `json:"native_enabled"`
}

// Options configure the handler set.
type Options struct {
	MaxUploadBytes int64
	Version        string
	Status         func() Status
	Quarantine     QuarantineLister // nil disables the endpoint
	Logger         *zap.Logger
}

// Handlers contains all HTTP handlers
type Handlers struct {
	analyzer Analyzer
	opts     Options
	logger   *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(analyzer Analyzer, opts Options) *Handlers {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 64 << 20
	}
	if opts.Status == nil {
		opts.Status = func() Status { return Status{} }
	}
	return &Handlers{analyzer: analyzer, opts: opts, logger: opts.Logger}
}

// Register mounts the routes on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	v1.POST("/analyze", h.AnalyzeUpload)
	v1.POST("/analyze/raw", h.AnalyzeRaw)
	v1.GET("/stats", h.Stats)
	if h.opts.Quarantine != nil {
		v1.GET("/quarantine", h.ListQuarantine)
	}
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "sentinel",
		"version": h.opts.Version,
	})
}

// Health reports tier availability. It is healthy as long as the process
// can answer, since every tier degrades rather than failing.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"tiers":  h.opts.Status(),
	})
}

// AnalyzeUpload analyzes the multipart "file" field
func (h *Handlers) AnalyzeUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes+1<<20)

	fh, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			h.tooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	if fh.Size > h.opts.MaxUploadBytes {
		h.tooLarge(c)
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return
	}
	defer f.Close()

	data, err := readLimited(f, h.opts.MaxUploadBytes)
	if err != nil {
		h.readError(c, err)
		return
	}
	h.analyze(c, data, fh.Filename, c.PostForm("timeout"))
}

// AnalyzeRaw analyzes the request body. The file name comes from the
// filename query parameter.
func (h *Handlers) AnalyzeRaw(c *gin.Context) {
	data, err := readLimited(c.Request.Body, h.opts.MaxUploadBytes)
	if err != nil {
		h.readError(c, err)
		return
	}
	name := c.Query("filename")
	if name == "" {
		name = "upload"
	}
	h.analyze(c, data, name, c.Query("timeout"))
}

func (h *Handlers) analyze(c *gin.Context, data []byte, filename, timeout string) {
	req := analysis.Request{Data: data, Filename: filename}
	if timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timeout must be a positive duration such as 5s"})
			return
		}
		req.Timeout = d
	}
	if id := c.GetHeader(middleware.RequestIDHeader); id != "" {
		h.logger.Debug("Analysis requested", zap.String("request_id", id), zap.String("filename", filename), zap.Int("size", len(data)))
	}
	c.JSON(http.StatusOK, h.analyzer.Analyze(c.Request.Context(), req))
}

// Stats returns the orchestrator's rolling counters
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.analyzer.Stats())
}

// ListQuarantine lists quarantined samples, newest first
func (h *Handlers) ListQuarantine(c *gin.Context) {
	entries, err := h.opts.Quarantine.List()
	if err != nil {
		h.logger.Error("Failed to list quarantine", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quarantine unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

var errTooLarge = errors.New("upload too large")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, errTooLarge
	}
	return data, nil
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.Is(err, errTooLarge) || errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

func (h *Handlers) readError(c *gin.Context, err error) {
	if isTooLarge(err) {
		h.tooLarge(c)
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
}

func (h *Handlers) tooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds upload limit", "limit_bytes": h.opts.MaxUploadBytes})
}
