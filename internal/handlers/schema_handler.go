package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"nkit/internal/fault"
	"nkit/internal/responses"
	"nkit/internal/services"
)

// SchemaVersionHeader carries the version of the schema a response was
// built from.
const SchemaVersionHeader = "X-Schema-Version"

var snapshotContentTypes = map[services.Format]string{
	services.FormatJSON: "application/json; charset=utf-8",
	services.FormatXML:  "application/xml; charset=utf-8",
	services.FormatYAML: responses.MIMEYAML + "; charset=utf-8",
}

type SchemaHandler struct {
	schemaService *services.SchemaService
	faults        *fault.Handler
}

func NewSchemaHandler(schemaService *services.SchemaService, faults *fault.Handler) *SchemaHandler {
	return &SchemaHandler{
		schemaService: schemaService,
		faults:        faults,
	}
}

// GetSchema handles GET /api/v1/schema
func (h *SchemaHandler) GetSchema(c *gin.Context) {
	db, version, err := h.schemaService.Database()
	if err != nil {
		fail(c, h.faults, err, "Failed to read schema")
		return
	}
	c.Header(SchemaVersionHeader, fmt.Sprint(version))
	responses.Success(c, http.StatusOK, db, "")
}

// ExportSchema handles GET /api/v1/schema/export?format=json|xml|yaml
func (h *SchemaHandler) ExportSchema(c *gin.Context) {
	format, err := services.ParseFormat(c.Query("format"))
	if err != nil {
		fail(c, h.faults, fmt.Errorf("%w: %v", errInvalidBody, err), "Invalid snapshot format")
		return
	}
	db, _, err := h.schemaService.Database()
	if err != nil {
		fail(c, h.faults, err, "Failed to read schema")
		return
	}

	c.Header("Content-Type", snapshotContentTypes[format])
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, db.Name, format))
	c.Status(http.StatusOK)
	if err := services.EncodeSnapshot(c.Writer, db, format); err != nil && h.faults != nil {
		// headers are already sent
		h.faults.Report(c.Request.Context(), err, "schema export")
	}
}

// ImportSchema handles POST /api/v1/schema/import?format=json|xml|yaml
func (h *SchemaHandler) ImportSchema(c *gin.Context) {
	format, err := services.ParseFormat(c.Query("format"))
	if err != nil {
		fail(c, h.faults, fmt.Errorf("%w: %v", errInvalidBody, err), "Invalid snapshot format")
		return
	}
	if err := h.schemaService.Import(c.Request.Body, format); err != nil {
		fail(c, h.faults, err, "Failed to import schema")
		return
	}

	_, version, _ := h.schemaService.Database()
	responses.Success(c, http.StatusOK, gin.H{"version": version}, "Schema imported")
}

// RefreshSchema handles POST /api/v1/schema/refresh
func (h *SchemaHandler) RefreshSchema(c *gin.Context) {
	if err := h.schemaService.Refresh(c.Request.Context()); err != nil {
		fail(c, h.faults, err, "Failed to refresh schema")
		return
	}

	db, version, _ := h.schemaService.Database()
	responses.Success(c, http.StatusOK, gin.H{
		"version": version,
		"tables":  len(db.Tables),
	}, "Schema refreshed")
}

// VisualizeSchema handles GET /api/v1/schema/visualize
func (h *SchemaHandler) VisualizeSchema(c *gin.Context) {
	mermaidDiagram, err := h.schemaService.Visualize()
	if err != nil {
		fail(c, h.faults, err, "Failed to visualize schema")
		return
	}

	responses.Success(c, http.StatusOK, gin.H{
		"mermaid": mermaidDiagram,
	}, "Schema visualization generated successfully")
}
