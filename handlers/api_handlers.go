package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gradebook-server-go/db"
	"gradebook-server-go/models"
	"gradebook-server-go/processor"
	"pkt.systems/pslog"
)

// CatalogLister lists the courses known to the lookup service
type CatalogLister interface {
	List(ctx context.Context) ([]models.CatalogEntry, error)
}

// CacheInvalidator drops a cached course validation
type CacheInvalidator interface {
	Invalidate(ctx context.Context, code string) error
}

// APIHandler holds the dependencies of the admin HTTP API
type APIHandler struct {
	Store     *db.RecordStore
	Processor *processor.Processor
	Catalog   CatalogLister
	Cache     CacheInvalidator // nil when the validation cache is disabled
	logger    pslog.Logger
}

// NewAPIHandler creates a new APIHandler. cache may be nil.
func NewAPIHandler(store *db.RecordStore, proc *processor.Processor, catalog CatalogLister, cache CacheInvalidator, logger pslog.Logger) *APIHandler {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &APIHandler{
		Store:     store,
		Processor: proc,
		Catalog:   catalog,
		Cache:     cache,
		logger:    logger.With("subsystem", "http.api"),
	}
}

// NewRouter wires the API routes. gatherer may be nil to omit /metrics.
func NewRouter(h *APIHandler, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.GET("/ping", PingHandler)

		// Grade routes
		api.GET("/grades", h.GetAllGrades)
		api.GET("/grades/:studentId", h.GetGradesByStudent)

		// Catalog route, proxied to the lookup service
		api.GET("/catalog", h.GetCatalog)
		api.DELETE("/cache/:code", h.InvalidateCourse)

		// Spreadsheet routes
		api.POST("/import/grades", h.ImportGrades)
		api.GET("/export/grades", h.ExportGrades)
	}
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return router
}

// --- Grade Handlers ---

// GetAllGrades handles GET /api/grades
func (h *APIHandler) GetAllGrades(c *gin.Context) {
	records, err := h.Store.ReadAll()
	if err != nil {
		h.logger.Error("http.api.grades.read_failed", "error", err)
		c.JSON(http.StatusInternalServerError, models.Failure("Failed to retrieve grades"))
		return
	}
	c.JSON(http.StatusOK, models.Success("", records))
}

// GetGradesByStudent handles GET /api/grades/:studentId
func (h *APIHandler) GetGradesByStudent(c *gin.Context) {
	studentID := c.Param("studentId")
	if studentID == "" {
		c.JSON(http.StatusBadRequest, models.Failure("Student ID is required"))
		return
	}

	records, err := h.Store.FindByID(studentID)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, models.Failure("No se encontraron calificaciones para ese ID"))
		return
	}
	if err != nil {
		h.logger.Error("http.api.grades.find_failed", "id", studentID, "error", err)
		c.JSON(http.StatusInternalServerError, models.Failure("Failed to retrieve grades"))
		return
	}
	c.JSON(http.StatusOK, models.Success("", records))
}

// --- Catalog Handler ---

// GetCatalog handles GET /api/catalog
func (h *APIHandler) GetCatalog(c *gin.Context) {
	entries, err := h.Catalog.List(c.Request.Context())
	if err != nil {
		h.logger.Warn("http.api.catalog.failed", "error", err)
		c.JSON(http.StatusBadGateway, models.Failure(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.Success("", entries))
}

// InvalidateCourse handles DELETE /api/cache/:code
func (h *APIHandler) InvalidateCourse(c *gin.Context) {
	if h.Cache == nil {
		c.JSON(http.StatusNotFound, models.Failure("Validation cache is disabled"))
		return
	}
	code := c.Param("code")
	if err := h.Cache.Invalidate(c.Request.Context(), code); err != nil {
		h.logger.Warn("http.api.cache.invalidate_failed", "code", code, "error", err)
		c.JSON(http.StatusInternalServerError, models.Failure(err.Error()))
		return
	}
	h.logger.Info("http.api.cache.invalidated", "code", code)
	c.JSON(http.StatusOK, models.Success("Course "+code+" removed from cache", nil))
}

// --- Spreadsheet Handlers ---

// ImportGrades handles POST /api/import/grades. Every row is executed as
// an "agregar" request.
func (h *APIHandler) ImportGrades(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.Failure("Error retrieving uploaded file: "+err.Error()))
		return
	}
	defer file.Close()

	h.logger.Info("http.api.import.received", "filename", header.Filename)

	grades, skipped, err := db.ReadGradesFromExcel(file, h.logger)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.Failure("Failed to import grades: "+err.Error()))
		return
	}

	imported := 0
	rejected := []gin.H{}
	for _, g := range grades {
		resp := h.Processor.Execute(c.Request.Context(), models.Request{Action: processor.ActionAdd, Data: &g})
		if resp.Status != models.StatusSuccess {
			rejected = append(rejected, gin.H{"id": g.ID, "materia": g.CourseCode, "mensaje": resp.Message})
			continue
		}
		imported++
	}

	h.logger.Info("http.api.import.done", "imported", imported, "rejected", len(rejected), "skipped", skipped)
	c.JSON(http.StatusOK, models.Success("Import finished", gin.H{
		"importedCount": imported,
		"skippedRows":   skipped,
		"rejected":      rejected,
	}))
}

// ExportGrades handles GET /api/export/grades
func (h *APIHandler) ExportGrades(c *gin.Context) {
	records, err := h.Store.ReadAll()
	if err != nil {
		h.logger.Error("http.api.export.read_failed", "error", err)
		c.JSON(http.StatusInternalServerError, models.Failure("Failed to retrieve grades"))
		return
	}
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", `attachment; filename="calificaciones.xlsx"`)
	c.Status(http.StatusOK)
	if err := db.WriteGradesToExcel(c.Writer, records); err != nil {
		h.logger.Error("http.api.export.write_failed", "error", err)
	}
}

// --- Ping Handler ---

// PingHandler handles GET /api/ping
func PingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Pong!"})
}
