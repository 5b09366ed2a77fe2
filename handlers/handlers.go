package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"adscan-pipeline/browser"
	"adscan-pipeline/database"
	"adscan-pipeline/models"
	"adscan-pipeline/service"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

const serviceName = "adscan-pipeline"

// Scanner runs one page scan.
type Scanner interface {
	Scan(ctx context.Context, rawURL string) (models.ScanResult, error)
}

// ReportStore reads back stored scan results.
type ReportStore interface {
	RecentReports(ctx context.Context, limit int) ([]database.AdSlotReport, error)
}

// Handlers represents the HTTP handlers
type Handlers struct {
	scanner Scanner
	reports ReportStore
	apiKey  string
}

// NewHandlers creates new HTTP handlers. reports may be nil when no
// database sink is configured.
func NewHandlers(scanner Scanner, reports ReportStore, apiKey string) *Handlers {
	return &Handlers{
		scanner: scanner,
		reports: reports,
		apiKey:  apiKey,
	}
}

// RegisterRoutes mounts the API on router
func (h *Handlers) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/health", h.HealthCheck)
		api.GET("/debug", h.Debug)
		api.POST("/scan", h.Scan)
		api.GET("/reports", h.GetRecentReports)
	}

	// Legacy path used by existing web clients
	router.POST("/api/scrap", h.Scan)
}

// ScanRequest is the body of a scan request
type ScanRequest struct {
	URL string `json:"url"`
}

// ScanResponse is the body of a successful scan
type ScanResponse struct {
	Ads models.ScanResult `json:"ads"`
}

// Scan loads the requested page and returns its classified ad slots
func (h *Handlers) Scan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "URL is required",
		})
		return
	}
	if req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "URL is required",
		})
		return
	}

	ads, err := h.scanner.Scan(c.Request.Context(), req.URL)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error": errorMessage(err),
		})
		return
	}
	if ads == nil {
		ads = models.ScanResult{}
	}

	c.JSON(http.StatusOK, ScanResponse{Ads: ads})
}

func statusFor(err error) int {
	if service.IsClientError(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func errorMessage(err error) string {
	var launchErr *browser.LaunchError
	if errors.As(err, &launchErr) {
		return "Browser Launch Failed: " + causeOf(launchErr, launchErr.Err)
	}
	var navErr *browser.NavigationSetupError
	if errors.As(err, &navErr) {
		return "Navigation Failed: " + causeOf(navErr, navErr.Err)
	}
	if service.IsClientError(err) {
		return err.Error()
	}
	log.WithError(err).Error("Unhandled scan error")
	return err.Error()
}

func causeOf(wrapper, cause error) string {
	if cause == nil {
		return wrapper.Error()
	}
	return cause.Error()
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
	})
}

// Debug reports whether the inference credential is configured without revealing it
func (h *Handlers) Debug(c *gin.Context) {
	if h.apiKey == "" {
		c.JSON(http.StatusOK, gin.H{
			"status":  "Missing",
			"length":  0,
			"prefix":  "",
			"message": "GEMINI_API_KEY is not set",
		})
		return
	}

	prefix := h.apiKey
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "Present",
		"length":  len(h.apiKey),
		"prefix":  prefix + "...",
		"message": "GEMINI_API_KEY is configured",
	})
}

// GetRecentReports returns the most recently stored ad slots
func (h *Handlers) GetRecentReports(c *gin.Context) {
	if h.reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Report storage is not enabled",
		})
		return
	}

	limit := database.DefaultReportsLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid limit",
			})
			return
		}
		limit = n
	}

	reports, err := h.reports.RecentReports(c.Request.Context(), limit)
	if err != nil {
		log.WithError(err).Error("Failed to read recent reports")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get reports",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"count":   len(reports),
	})
}
