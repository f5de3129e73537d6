package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ntrivedi/adviceparser/internal/batch"
	"github.com/ntrivedi/adviceparser/internal/common"
	"github.com/ntrivedi/adviceparser/internal/entity"
	"github.com/ntrivedi/adviceparser/internal/export"
	"github.com/ntrivedi/adviceparser/internal/extract"
	"github.com/ntrivedi/adviceparser/internal/pipeline"
	"github.com/ntrivedi/adviceparser/internal/store"
)

// Server exposes the parsing engine and batch orchestration over HTTP.
// Uploaded documents are spooled to the upload directory so failed items
// can be reprocessed from disk later.
type Server struct {
	engine *gin.Engine
	orch   *batch.Orchestrator
	pipe   *pipeline.Pipeline
	export *export.Service
	store  store.Store

	uploadDir string
	logger   *slog.Logger
}

func New(orch *batch.Orchestrator, pipe *pipeline.Pipeline, exp *export.Service, st store.Store, uploadDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orch:     orch,
		pipe:     pipe,
		export:   exp,
		store:    st,
		uploadDir: uploadDir,
		logger:   logger,
	}

	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery(), s.requestLog())

	e.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := e.Group("/api/v1")
	{
		v1.POST("/batches", s.submitBatch)
		v1.GET("/batches/:id", s.getBatch)
		v1.GET("/batches/:id/status", s.getBatchStatus)
		v1.POST("/batches/:id/reprocess", s.reprocessBatch)
		v1.GET("/batches/:id/export", s.exportBatch)

		v1.POST("/advices", s.parseSingle)
		v1.GET("/advices", s.listAdvices)
		v1.GET("/advices/export", s.exportAdvices)
		v1.GET("/advices/:id", s.getAdvice)

		v1.GET("/customers", s.listCustomers)
	}

	s.engine = e
	return s
}

// Handler returns the http.Handler for mounting or testing.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// submitBatch accepts a multipart upload of advice documents and queues
// them as one batch. Responds 202 with the queued snapshot.
func (s *Server) submitBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required: " + err.Error()})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files provided"})
		return
	}
	customer := c.PostForm("customer")

	items := make([]entity.BatchItem, 0, len(files))
	for _, fh := range files {
		ref, err := s.spool(fh)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store upload: " + err.Error()})
			return
		}
		items = append(items, entity.BatchItem{
			DocumentRef: ref,
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
		})
	}

	job, err := s.orch.Submit(c.Request.Context(), customer, items)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"batch_id": job.ID,
		"status":   job.Status,
		"total":    job.TotalCount,
	})
}

func (s *Server) getBatch(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	job, err := s.orch.GetBatch(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) getBatchStatus(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	sum, err := s.orch.GetStatus(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) reprocessBatch(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	sum, err := s.orch.ReprocessFailed(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sum)
}

func (s *Server) exportBatch(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	data, err := s.export.BatchResultsXLSX(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	name := fmt.Sprintf("batch-%s.xlsx", id)
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// parseSingle processes one uploaded document synchronously and returns
// the persisted advice.
func (s *Server) parseSingle(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required: " + err.Error()})
		return
	}
	customer := c.PostForm("customer")

	ref, err := s.spool(fh)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store upload: " + err.Error()})
		return
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read upload: " + err.Error()})
		return
	}

	res, err := s.pipe.Process(c.Request.Context(), extract.Document{
		Ref:         ref,
		Data:        data,
		ContentType: fh.Header.Get("Content-Type"),
	}, customer)
	if err != nil {
		s.respondError(c, err)
		return
	}

	adv, err := s.store.GetAdvice(c.Request.Context(), res.AdviceID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"advice":   adv,
		"parser":   res.ParserUsed,
		"warnings": res.Warnings,
	})
}

func (s *Server) listAdvices(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	advs, err := s.store.ListAdvices(c.Request.Context(), c.Query("customer"), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"advices": advs, "count": len(advs)})
}

func (s *Server) getAdvice(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	adv, err := s.store.GetAdvice(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, adv)
}

func (s *Server) exportAdvices(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "1000"))
	data, err := s.export.AdvicesXLSX(c.Request.Context(), c.Query("customer"), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="payment-advices.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (s *Server) listCustomers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"customers": s.pipe.SupportedCustomers()})
}

// spool writes an upload into the inbox directory under a unique name and
// returns the path used as the item's document ref.
func (s *Server) spool(fh *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", err
	}
	name := uuid.NewString() + "_" + filepath.Base(fh.Filename)
	dst := filepath.Join(s.uploadDir, name)

	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		os.Remove(dst)
		return "", err
	}
	return dst, nil
}

func (s *Server) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrUnknownCustomer):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrDuplicateRejected), errors.Is(err, common.ErrDuplicatePersist),
		errors.Is(err, common.ErrNoFailedItems):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
