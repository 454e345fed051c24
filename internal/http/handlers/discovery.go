package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/trendsift/trendsift-backend/internal/http/middleware"
	"github.com/trendsift/trendsift-backend/internal/http/response"
	"github.com/trendsift/trendsift-backend/internal/platform/dbctx"
	"github.com/trendsift/trendsift-backend/internal/services"
)

type DiscoveryHandler struct {
	svc *services.DiscoveryService
}

func NewDiscoveryHandler(svc *services.DiscoveryService) *DiscoveryHandler {
	return &DiscoveryHandler{svc: svc}
}

type submitJobRequest struct {
	Platform          string   `json:"platform"`
	SearchMode        string   `json:"search_mode"`
	Keywords          []string `json:"keywords"`
	TargetHandle      string   `json:"target_handle"`
	TargetResultCount int      `json:"target_result_count"`
	CampaignID        *string  `json:"campaign_id"`
}

// POST /api/discovery/jobs
func (h *DiscoveryHandler) SubmitJob(c *gin.Context) {
	userID, ok := middleware.RequestUserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", fmt.Errorf("no request user"))
		return
	}

	var body submitJobRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	var campaignID *uuid.UUID
	if body.CampaignID != nil && *body.CampaignID != "" {
		id, err := uuid.Parse(*body.CampaignID)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_campaign_id", err)
			return
		}
		campaignID = &id
	}

	job, err := h.svc.Submit(dbctx.New(c.Request.Context()), services.SubmitRequest{
		UserID:            userID,
		CampaignID:        campaignID,
		Platform:          body.Platform,
		SearchMode:        body.SearchMode,
		Keywords:          body.Keywords,
		TargetHandle:      body.TargetHandle,
		TargetResultCount: body.TargetResultCount,
	})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"job": job})
}

// GET /api/discovery/jobs/:id
func (h *DiscoveryHandler) GetJob(c *gin.Context) {
	userID, ok := middleware.RequestUserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", fmt.Errorf("no request user"))
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}

	job, err := h.svc.GetJobForUser(dbctx.New(c.Request.Context()), userID, jobID)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// GET /api/discovery/jobs
func (h *DiscoveryHandler) ListJobs(c *gin.Context) {
	userID, ok := middleware.RequestUserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", fmt.Errorf("no request user"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	jobs, err := h.svc.ListJobs(dbctx.New(c.Request.Context()), userID, limit)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs})
}

// GET /api/discovery/jobs/:id/events
func (h *DiscoveryHandler) ListEvents(c *gin.Context) {
	userID, ok := middleware.RequestUserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", fmt.Errorf("no request user"))
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}

	events, err := h.svc.ListEvents(dbctx.New(c.Request.Context()), userID, jobID)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"events": events})
}

// GET /api/discovery/jobs/:id/creators
func (h *DiscoveryHandler) ListCreators(c *gin.Context) {
	userID, ok := middleware.RequestUserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", fmt.Errorf("no request user"))
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	creators, err := h.svc.ListCreators(dbctx.New(c.Request.Context()), userID, jobID, offset, limit)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"creators": creators, "count": len(creators)})
}
