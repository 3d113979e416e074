package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelero/avelero/internal/controlplane/service"
	"github.com/avelero/avelero/internal/dnsverify"
)

// DomainHandler handles HTTP requests for the custom-domain verification flow.
// Consumed service-to-service by the dashboard backend, not by browsers.
type DomainHandler struct {
	svc    *service.DomainService
	logger *zap.Logger
}

// NewDomainHandler creates a DomainHandler.
func NewDomainHandler(svc *service.DomainService, logger *zap.Logger) *DomainHandler {
	return &DomainHandler{svc: svc, logger: logger}
}

// Register mounts the custom-domain routes on the given router group.
func (h *DomainHandler) Register(rg *gin.RouterGroup) {
	domains := rg.Group("/domains")
	{
		domains.POST("", h.StartVerification)
		domains.GET("", h.ListDomains)
		domains.GET("/:id", h.GetDomain)
		domains.GET("/:id/instructions", h.GetInstructions)
		domains.POST("/:id/verify", h.VerifyDomain)
	}
}

// StartVerification handles POST /domains.
//
// Request body: {"brand_id": "<uuid>", "domain": "passport.nike.com"}
//
// Response: the pending record plus the DNS records the brand must publish.
func (h *DomainHandler) StartVerification(c *gin.Context) {
	var req struct {
		BrandID uuid.UUID `json:"brand_id" binding:"required"`
		Domain  string    `json:"domain" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, pair, err := h.svc.Start(c.Request.Context(), req.BrandID, req.Domain)
	if err != nil {
		switch {
		case errors.Is(err, dnsverify.ErrInvalidDomain):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid domain"})
		case errors.Is(err, service.ErrDomainTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "domain already registered"})
		default:
			h.logger.Error("start domain verification", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register domain"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"domain":       d,
		"instructions": pair,
	})
}

// ListDomains handles GET /domains?brand_id=<uuid> — a brand's records,
// newest first.
func (h *DomainHandler) ListDomains(c *gin.Context) {
	brandID, err := uuid.Parse(c.Query("brand_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "brand_id query parameter is required"})
		return
	}

	ds, err := h.svc.ListByBrand(c.Request.Context(), brandID)
	if err != nil {
		h.logger.Error("list domains", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list domains"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"domains": ds})
}

// GetDomain handles GET /domains/:id — returns the record's current status.
func (h *DomainHandler) GetDomain(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid domain ID"})
		return
	}

	d, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrDomainNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "domain not found"})
			return
		}
		h.logger.Error("get domain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get domain"})
		return
	}

	c.JSON(http.StatusOK, d)
}

// GetInstructions handles GET /domains/:id/instructions — recomputes the DNS
// setup records for display in the dashboard.
func (h *DomainHandler) GetInstructions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid domain ID"})
		return
	}

	pair, err := h.svc.Instructions(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrDomainNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "domain not found"})
			return
		}
		h.logger.Error("get domain instructions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to derive instructions"})
		return
	}

	c.JSON(http.StatusOK, pair)
}

// VerifyDomain handles POST /domains/:id/verify. It runs one live DNS check
// and persists the verdict. A failed check answers 422 with the user-safe
// reason and whatever TXT values were found, so the dashboard can show the
// brand what is actually published.
func (h *DomainHandler) VerifyDomain(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid domain ID"})
		return
	}

	d, res, err := h.svc.Verify(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrDomainNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "domain not found"})
			return
		}
		h.logger.Error("verify domain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification error"})
		return
	}

	RecordVerification(res.Success)

	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{
		"success":       res.Success,
		"error":         res.Error,
		"found_records": res.FoundRecords,
		"domain":        d,
	})
}
