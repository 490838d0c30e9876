package handlers

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/troikatech/calling-agent/internal/broadcast/dispatch"
	"github.com/troikatech/calling-agent/internal/broadcast/domain"
	"github.com/troikatech/calling-agent/internal/broadcast/store"
	"github.com/troikatech/calling-agent/internal/broadcast/template"
	"github.com/troikatech/calling-agent/internal/broadcast/tts"
	"github.com/troikatech/calling-agent/pkg/audit"
	"github.com/troikatech/calling-agent/pkg/env"
	"github.com/troikatech/calling-agent/pkg/errors"
	"github.com/troikatech/calling-agent/pkg/mongo"
	"github.com/troikatech/calling-agent/pkg/storage"
	"github.com/troikatech/calling-agent/pkg/utils"
)

const (
	minContacts = 1
	maxContacts = 10000
)

// BroadcastHandler serves the Broadcast Dispatch Engine's HTTP surface
// (spec §6), additive to the teacher's existing campaigns.go/webhooks.go.
type BroadcastHandler struct {
	cfg         *env.Config
	store       *store.Gateway
	engine      *dispatch.Engine
	tts         *tts.Materializer
	uploader    storage.Uploader
	mongoClient *mongo.Client
	logger      *zap.Logger
}

func NewBroadcastHandler(cfg *env.Config, gateway *store.Gateway, engine *dispatch.Engine, materializer *tts.Materializer, uploader storage.Uploader, mongoClient *mongo.Client, logger *zap.Logger) *BroadcastHandler {
	return &BroadcastHandler{cfg: cfg, store: gateway, engine: engine, tts: materializer, uploader: uploader, mongoClient: mongoClient, logger: logger}
}

// Store exposes the Persistence Gateway for the Script Generator's
// resolve callback, which is wired outside this package in main.go.
func (h *BroadcastHandler) Store() *store.Gateway {
	return h.store
}

type startBroadcastRequest struct {
	Name            string            `json:"name" binding:"required"`
	MessageTemplate string            `json:"messageTemplate" binding:"required"`
	Voice           domain.Voice      `json:"voice"`
	Contacts        []contactRequest  `json:"contacts" binding:"required"`
	MaxConcurrent   int               `json:"maxConcurrent"`
	MaxRetries      int               `json:"maxRetries"`
	Compliance      domain.Compliance `json:"compliance"`
}

type contactRequest struct {
	Phone        string            `json:"phone" binding:"required"`
	Name         string            `json:"name"`
	CustomFields map[string]string `json:"customFields"`
}

// StartBroadcast serves POST /broadcast/start.
func (h *BroadcastHandler) StartBroadcast(c *gin.Context) {
	var req startBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}

	if len(req.Contacts) < minContacts || len(req.Contacts) > maxContacts {
		errors.BadRequest(c, fmt.Sprintf("contacts must contain between %d and %d entries", minContacts, maxContacts))
		return
	}
	if err := template.Validate(req.MessageTemplate); err != nil {
		errors.UnprocessableEntity(c, err.Error())
		return
	}

	userID, _ := c.Get("user_id")
	userIDStr, _ := userID.(string)

	maxConcurrent := req.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = h.cfg.DefaultMaxConcurrent
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = h.cfg.DefaultMaxRetries
	}

	campaign := domain.Campaign{
		Name:     req.Name,
		Template: req.MessageTemplate,
		Voice:    req.Voice,
		Status:   domain.CampaignDraft,
		Config: domain.CampaignConfig{
			MaxConcurrent: maxConcurrent,
			MaxRetries:    maxRetries,
			RetryDelay:    h.cfg.DefaultRetryDelay,
			Compliance:    req.Compliance,
		},
		OwnerID: userIDStr,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 35*time.Second)
	defer cancel()

	campaignID, err := h.store.CreateCampaign(ctx, campaign)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	campaign.ID = campaignID

	asset, created, err := h.tts.Materialize(ctx, &campaign, req.MessageTemplate, req.Voice)
	if err != nil {
		errors.TTSUnavailable(c, err.Error())
		return
	}
	if created {
		if err := h.store.AddAudioAsset(ctx, campaignID, asset); err != nil {
			errors.InternalError(c, err, h.logger)
			return
		}
	}

	calls := make([]domain.Call, 0, len(req.Contacts))
	for _, contact := range req.Contacts {
		personalized, err := template.Render(req.MessageTemplate, contact.CustomFields)
		if err != nil {
			personalized = req.MessageTemplate
		}
		calls = append(calls, domain.Call{
			BroadcastID: campaignID,
			Contact: domain.Contact{
				Phone:        contact.Phone,
				Name:         contact.Name,
				CustomFields: contact.CustomFields,
			},
			PersonalizedMessage: domain.PersonalizedMessage{
				Text:         personalized,
				AudioURL:     asset.AudioURL,
				AudioAssetID: asset.UniqueKey,
			},
		})
	}

	if _, err := h.store.InsertCalls(ctx, calls); err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	if _, err := h.store.UpdateCampaignStatus(ctx, campaignID, domain.CampaignQueued, []domain.CampaignStatus{domain.CampaignDraft}); err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	h.engine.Start(campaignID)

	audit.Log(h.mongoClient, userIDStr, string(audit.ActionCreate), "broadcast_campaign", campaignID, map[string]interface{}{
		"name":     req.Name,
		"contacts": len(req.Contacts),
	})

	c.JSON(http.StatusCreated, gin.H{
		"id":            campaignID,
		"name":          req.Name,
		"status":        domain.CampaignQueued,
		"totalContacts": len(req.Contacts),
	})
}

// GetBroadcastStatus serves GET /broadcast/status/:id.
func (h *BroadcastHandler) GetBroadcastStatus(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if _, err := h.store.RecomputeStats(ctx, id); err != nil && err != store.ErrNotFound {
		errors.InternalError(c, err, h.logger)
		return
	}

	campaign, err := h.store.GetCampaign(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			errors.NotFound(c, "campaign not found")
			return
		}
		errors.InternalError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, campaign)
}

// CancelBroadcast serves POST /broadcast/:id/cancel.
func (h *BroadcastHandler) CancelBroadcast(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := h.engine.Cancel(ctx, id); err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	userID, _ := c.Get("user_id")
	userIDStr, _ := userID.(string)
	audit.Log(h.mongoClient, userIDStr, string(audit.ActionCancel), "broadcast_campaign", id, nil)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListBroadcastCalls serves GET /broadcast/:id/calls.
func (h *BroadcastHandler) ListBroadcastCalls(c *gin.Context) {
	id := c.Param("id")
	status := c.Query("status")
	pagination := utils.ParsePagination(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	calls, err := h.store.ListCalls(ctx, id, status, pagination.Page, pagination.Limit)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, utils.PaginatedResponse{
		Data:  calls,
		Page:  pagination.Page,
		Limit: pagination.Limit,
		Count: len(calls),
	})
}

// ListBroadcasts serves GET /broadcast/list.
func (h *BroadcastHandler) ListBroadcasts(c *gin.Context) {
	status := c.Query("status")
	pagination := utils.ParsePagination(c)
	userID, _ := c.Get("user_id")
	userIDStr, _ := userID.(string)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	campaigns, err := h.store.ListCampaigns(ctx, userIDStr, status, pagination.Page, pagination.Limit)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, utils.PaginatedResponse{
		Data:  campaigns,
		Page:  pagination.Page,
		Limit: pagination.Limit,
		Count: len(campaigns),
	})
}

// DeleteBroadcast serves DELETE /broadcast/:id.
func (h *BroadcastHandler) DeleteBroadcast(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	err := h.engine.Delete(ctx, id, func(audioURL string) error {
		key := path.Base(audioURL)
		return h.uploader.Delete(h.cfg.CDNFolder, key)
	})
	if err != nil {
		if err == store.ErrNotFound {
			errors.NotFound(c, "campaign not found")
			return
		}
		errors.InternalError(c, err, h.logger)
		return
	}

	userID, _ := c.Get("user_id")
	userIDStr, _ := userID.(string)
	audit.Log(h.mongoClient, userIDStr, string(audit.ActionDelete), "broadcast_campaign", id, nil)

	c.JSON(http.StatusOK, gin.H{"success": true})
}
