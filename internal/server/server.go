package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rezonia/vat-compliance/internal/compliance"
	"github.com/rezonia/vat-compliance/internal/logger"
	"github.com/rezonia/vat-compliance/internal/model"
	"github.com/rezonia/vat-compliance/internal/store"
)

const (
	// filing attempts are bounded at 30s each, four attempts at most
	filingDeadline        = 2*time.Minute + 30*time.Second
	defaultMaxUploadBytes = 32 << 20
)

// Config holds server configuration. MaxUploadBytes caps an upload body;
// zero means 32 MiB.
type Config struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Debug          bool
	MaxUploadBytes int64
}

// Server represents the HTTP API server
type Server struct {
	config  *Config
	router  *gin.Engine
	service *compliance.Service
	log     zerolog.Logger
}

// NewServer creates a new API server
func NewServer(config *Config, service *compliance.Service) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:  config,
		router:  gin.New(),
		service: service,
		log:     logger.WithComponent("server"),
	}

	s.router.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		// Uploads and detection
		v1.POST("/uploads", s.handleUpload)
		v1.POST("/uploads/:id/detect", s.handleDetect)

		// Findings and fixes
		v1.GET("/findings", s.handleListFindings)
		v1.GET("/findings/:id/preview", s.handlePreview)
		v1.POST("/findings/:id/fix", s.handleFix)
		v1.POST("/fixes/bulk", s.handleBulkFix)
		v1.POST("/fixes/:id/undo", s.handleUndo)

		// Invoices
		v1.GET("/invoices/:id", s.handleGetInvoice)
		v1.GET("/invoices/:id/fixes", s.handleFixHistory)

		// Company views
		v1.GET("/companies/:id/health", s.handleHealthScore)
		v1.GET("/companies/:id/ledger", s.handleLedger)
		v1.GET("/companies/:id/submissions", s.handleListSubmissions)

		// Filing
		v1.GET("/authorities", s.handleAuthorities)
		v1.POST("/filings", s.handleSubmit)
		v1.GET("/filings/:country/:id", s.handleSubmissionStatus)
	}
}

// Run starts the HTTP server and shuts it down when ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)

		start := time.Now()
		c.Next()

		l := logger.WithRequestID(id)
		ev := l.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = l.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	status, code := "ok", http.StatusOK
	if err := s.service.Ping(c.Request.Context()); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.uploadLimit())

	var body io.Reader
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		file, err := c.FormFile("file")
		if err != nil {
			s.writeBodyError(c, err, "missing file field")
			return
		}
		f, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to open uploaded file"})
			return
		}
		defer f.Close()
		body = f
	} else {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			s.writeBodyError(c, err, "failed to read request body")
			return
		}
		if len(raw) == 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty request body"})
			return
		}
		body = bytes.NewReader(raw)
	}

	res, err := s.service.Ingest(c.Request.Context(), c.Query("upload_id"), body)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) uploadLimit() int64 {
	if s.config.MaxUploadBytes > 0 {
		return s.config.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}

// writeBodyError answers 413 when the body hit the upload limit and 400 otherwise
func (s *Server) writeBodyError(c *gin.Context, err error, msg string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: fmt.Sprintf("upload exceeds %d bytes", s.uploadLimit()),
			Kind:  "too_large",
		})
		return
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func (s *Server) handleDetect(c *gin.Context) {
	res, err := s.service.DetectErrors(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleListFindings(c *gin.Context) {
	var q FindingQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid query", Details: err.Error()})
		return
	}

	findings, err := s.service.Findings(c.Request.Context(), store.FindingFilter{
		UploadID:  q.UploadID,
		InvoiceID: q.InvoiceID,
		CompanyID: q.CompanyID,
		Status:    model.FindingStatus(q.Status),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, FindingsResponse{Findings: findings, Count: len(findings)})
}

func (s *Server) handlePreview(c *gin.Context) {
	diff, err := s.service.PreviewFix(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, diff)
}

func (s *Server) handleFix(c *gin.Context) {
	var req FixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Details: err.Error()})
		return
	}

	res, err := s.service.ExecuteFix(c.Request.Context(), c.Param("id"), req.ActorID, req.Approve)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleBulkFix(c *gin.Context) {
	var req BulkFixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Details: err.Error()})
		return
	}

	c.JSON(http.StatusOK, s.service.BulkFix(c.Request.Context(), req.FindingIDs, req.ActorID, req.Approve))
}

func (s *Server) handleUndo(c *gin.Context) {
	var req UndoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Details: err.Error()})
		return
	}

	res, err := s.service.UndoFix(c.Request.Context(), c.Param("id"), req.ActorID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetInvoice(c *gin.Context) {
	inv, err := s.service.Invoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *Server) handleFixHistory(c *gin.Context) {
	fixes, err := s.service.FixHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fixes": fixes})
}

func (s *Server) handleHealthScore(c *gin.Context) {
	h, err := s.service.HealthScore(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) handleLedger(c *gin.Context) {
	entries, err := s.service.Ledger(c.Request.Context(), c.Param("id"), c.Query("period"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleListSubmissions(c *gin.Context) {
	subs, err := s.service.Submissions(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": subs})
}

func (s *Server) handleAuthorities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"countries": s.service.Countries()})
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Details: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), filingDeadline)
	defer cancel()

	sub, err := s.service.SubmitReturn(ctx, req.CompanyID, req.Country, req.Period, req.TaxID)
	if err != nil {
		if sub == nil {
			s.writeError(c, err)
			return
		}
		c.JSON(statusFor(err), SubmissionResponse{Submission: sub, Error: err.Error(), Kind: model.Kind(err)})
		return
	}
	c.JSON(http.StatusOK, SubmissionResponse{Submission: sub})
}

func (s *Server) handleSubmissionStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), filingDeadline)
	defer cancel()

	sub, err := s.service.CheckSubmissionStatus(ctx, c.Param("country"), c.Param("id"))
	if err != nil {
		if sub == nil {
			s.writeError(c, err)
			return
		}
		c.JSON(statusFor(err), SubmissionResponse{Submission: sub, Error: err.Error(), Kind: model.Kind(err)})
		return
	}
	c.JSON(http.StatusOK, SubmissionResponse{Submission: sub})
}

func (s *Server) writeError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.JSON(code, ErrorResponse{Error: err.Error(), Kind: model.Kind(err)})
}

// statusFor maps an error kind to its HTTP status
func statusFor(err error) int {
	switch model.Kind(err) {
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindNoStrategy, model.KindValidation:
		return http.StatusUnprocessableEntity
	case model.KindConflict, model.KindApprovalRequired:
		return http.StatusConflict
	case model.KindTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
