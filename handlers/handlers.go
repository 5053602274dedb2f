package handlers

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"warrn-service/auth"
	"warrn-service/coordinator"
	"warrn-service/database"
	"warrn-service/models"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	geojson "github.com/paulmach/go.geojson"
)

// maxImageSize caps uploaded image reads at 10 MB.
const maxImageSize = 10 << 20

// Handlers holds all HTTP handlers
type Handlers struct {
	coord       *coordinator.Coordinator
	db          *database.Database
	authService *auth.Service
}

// NewHandlers creates a new handlers instance
func NewHandlers(coord *coordinator.Coordinator, db *database.Database, authService *auth.Service) *Handlers {
	return &Handlers{
		coord:       coord,
		db:          db,
		authService: authService,
	}
}

// SubmitReport handles a new incident submission (multipart form).
func (h *Handlers) SubmitReport(c *gin.Context) {
	latitude, err := strconv.ParseFloat(c.PostForm("latitude"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "latitude must be a number"})
		return
	}
	longitude, err := strconv.ParseFloat(c.PostForm("longitude"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "longitude must be a number"})
		return
	}

	req := coordinator.SubmitRequest{
		Latitude:      latitude,
		Longitude:     longitude,
		AnimalType:    c.PostForm("animal_type"),
		Condition:     c.PostForm("condition"),
		Description:   c.PostForm("description"),
		ReporterEmail: c.PostForm("reporter_email"),
	}

	if image, ext, ok := readImageFile(c, "image"); ok {
		req.Image = image
		req.ImageExt = ext
	}

	report, warnings, err := h.coord.Submit(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response := gin.H{"report": report.Projection()}
	if len(warnings) > 0 {
		response["warnings"] = warnings
	}
	c.JSON(http.StatusCreated, response)
}

// ListReports returns reports, newest first, optionally filtered by
// status and creation date range.
func (h *Handlers) ListReports(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reports, err := h.coord.List(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}

	projections := make([]models.ReportProjection, 0, len(reports))
	for i := range reports {
		projections = append(projections, reports[i].Projection())
	}
	c.JSON(http.StatusOK, gin.H{"reports": projections, "count": len(projections)})
}

// ReportsGeoJSON returns all reports as a GeoJSON FeatureCollection for
// the map view.
func (h *Handlers) ReportsGeoJSON(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reports, err := h.coord.List(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}

	fc := geojson.NewFeatureCollection()
	for i := range reports {
		r := &reports[i]
		feature := geojson.NewPointFeature([]float64{r.Longitude, r.Latitude})
		feature.SetProperty("id", r.ID)
		feature.SetProperty("animal_type", r.AnimalType)
		feature.SetProperty("condition", r.Condition)
		feature.SetProperty("status", string(r.Status))
		if r.AISuggestion != "" {
			feature.SetProperty("ai_suggestion", r.AISuggestion)
		}
		if r.ImageRef != "" {
			feature.SetProperty("image_ref", r.ImageRef)
		}
		feature.SetProperty("created_at", r.CreatedAt.Format(time.RFC3339))
		fc.AddFeature(feature)
	}
	c.JSON(http.StatusOK, fc)
}

// ClaimReport lets the authenticated responder claim a report.
func (h *Handlers) ClaimReport(c *gin.Context) {
	reportID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
		return
	}

	report, err := h.coord.Claim(c.Request.Context(), reportID, identityFromContext(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report.Projection()})
}

// ResolveReport lets the claiming responder mark a report resolved
// (multipart form with notes and an optional resolution image).
func (h *Handlers) ResolveReport(c *gin.Context) {
	reportID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
		return
	}

	notes := c.PostForm("resolution_notes")
	var image []byte
	var ext string
	if data, e, ok := readImageFile(c, "resolution_image"); ok {
		image = data
		ext = e
	}

	report, warnings, err := h.coord.Resolve(c.Request.Context(), reportID, identityFromContext(c), notes, image, ext)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response := gin.H{"report": report.Projection()}
	if len(warnings) > 0 {
		response["warnings"] = warnings
	}
	c.JSON(http.StatusOK, response)
}

// Register creates a new responder account.
func (h *Handlers) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.authService.Register(c.Request.Context(), req)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			c.JSON(http.StatusConflict, gin.H{"error": "user already exists"})
			return
		}
		log.Errorf("Failed to register user: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// Login authenticates a responder and returns an access token.
func (h *Handlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokenResp, err := h.authService.Login(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, tokenResp)
}

// Analytics returns report aggregations for the admin dashboard.
func (h *Handlers) Analytics(c *gin.Context) {
	summary, err := h.db.GetAnalytics(c.Request.Context())
	if err != nil {
		log.Errorf("Failed to load analytics: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load analytics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// writeError maps coordinator errors to HTTP responses.
func (h *Handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrAlreadyClaimed):
		c.JSON(http.StatusConflict, gin.H{"error": "report already claimed"})
	case errors.Is(err, models.ErrNotClaimant):
		c.JSON(http.StatusForbidden, gin.H{"error": "report not claimed by this responder"})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
	default:
		log.Errorf("Request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// identityFromContext builds the acting identity from values set by the
// auth middleware.
func identityFromContext(c *gin.Context) coordinator.Identity {
	return coordinator.Identity{
		ID:       c.GetInt64("user_id"),
		Username: c.GetString("username"),
		Role:     c.GetString("role"),
	}
}

// readImageFile reads an optional uploaded image from the form. Returns
// ok=false when no file was supplied.
func readImageFile(c *gin.Context, field string) ([]byte, string, bool) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		return nil, "", false
	}

	f, err := fileHeader.Open()
	if err != nil {
		log.Warnf("Failed to open uploaded file: %v", err)
		return nil, "", false
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxImageSize))
	if err != nil {
		log.Warnf("Failed to read uploaded file: %v", err)
		return nil, "", false
	}

	ext := strings.TrimPrefix(filepath.Ext(fileHeader.Filename), ".")
	return data, ext, true
}

func parseFilter(c *gin.Context) (models.ReportFilter, error) {
	var filter models.ReportFilter

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.ReportStatus(statusStr)
		filter.Status = &status
	}
	if fromStr := c.Query("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return filter, errors.New("from must be an RFC3339 timestamp")
		}
		filter.From = &from
	}
	if toStr := c.Query("to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return filter, errors.New("to must be an RFC3339 timestamp")
		}
		filter.To = &to
	}
	return filter, nil
}
