// Package webhook is the Webhook Sink of spec §4.F: it reconciles
// provider status callbacks and keypress events against the
// Persistence Gateway, adapting the teacher's ExotelWebhook handler and
// pkg/webhook.VerifyExotelSignature to the broadcast call model.
package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/troikatech/calling-agent/internal/broadcast/domain"
	"github.com/troikatech/calling-agent/internal/broadcast/fanout"
	"github.com/troikatech/calling-agent/internal/broadcast/provider"
	"github.com/troikatech/calling-agent/internal/broadcast/store"
	"github.com/troikatech/calling-agent/pkg/errors"
	"github.com/troikatech/calling-agent/pkg/webhook"
)

const idempotencyTTL = 24 * time.Hour

// optOutKeypress is the digit that opts a recipient out, per spec §4.F.
const optOutKeypress = "9"

type Sink struct {
	store  *store.Gateway
	redis  *redis.Client
	pub    fanout.Publisher
	secret string
	logger *zap.Logger
}

func New(gateway *store.Gateway, redisClient *redis.Client, pub fanout.Publisher, signingSecret string, logger *zap.Logger) *Sink {
	return &Sink{store: gateway, redis: redisClient, pub: pub, secret: signingSecret, logger: logger}
}

// SignatureMiddleware verifies the X-Exotel-Signature header the same
// way the teacher's ProcessWebhook already does, responding 403 with no
// diagnostic body on failure (spec §7).
func (s *Sink) SignatureMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.secret == "" {
			c.Next()
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			errors.BadRequest(c, "invalid form data")
			c.Abort()
			return
		}
		signature := c.GetHeader("X-Exotel-Signature")
		if err := webhook.VerifyExotelSignature(s.secret, c.Request.PostForm, signature); err != nil {
			s.logger.Warn("webhook signature verification failed", zap.Error(err))
			errors.SignatureInvalid(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

type statusPayload struct {
	CallSid  string `form:"CallSid"`
	Status   string `form:"Status"`
	Duration string `form:"Duration"`
}

// HandleStatus serves POST /broadcast/:callId/status.
func (s *Sink) HandleStatus(c *gin.Context) {
	internalCallID := c.Param("callId")

	var payload statusPayload
	if err := c.ShouldBind(&payload); err != nil {
		errors.BadRequest(c, "invalid payload")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	idemKey := "broadcast:webhook:" + payload.CallSid
	if payload.CallSid != "" {
		taken, err := s.redis.SetNX(ctx, idemKey, "processing", idempotencyTTL).Result()
		if err == nil && !taken {
			c.JSON(http.StatusOK, gin.H{"message": "already processed"})
			return
		}
	}

	call, err := s.store.ReconcileBySIDOrInternalID(ctx, internalCallID, payload.CallSid)
	if err != nil {
		if err == store.ErrNotFound {
			errors.NotFound(c, "call not found")
			return
		}
		errors.InternalError(c, err, s.logger)
		return
	}

	mapped := provider.MapStatus(payload.Status)
	duration := provider.ParseDuration(payload.Duration)

	var updated *domain.Call
	switch mapped {
	case domain.CallCompleted:
		updated, err = s.store.MarkCompleted(ctx, call.ID, duration)
	case domain.CallBusy, domain.CallNoAnswer, domain.CallFailed:
		campaign, cErr := s.store.GetCampaign(ctx, call.BroadcastID)
		if cErr != nil {
			errors.InternalError(c, cErr, s.logger)
			return
		}
		updated, err = s.store.MarkFailed(ctx, call.ID, campaign.Config.MaxRetries, campaign.Config.RetryDelay,
			string(mapped), payload.Status, provider.IsRetryable(mapped))
	default:
		updated = call
	}
	if err != nil {
		errors.InternalError(c, err, s.logger)
		return
	}

	s.pub.Publish("broadcast:"+updated.BroadcastID, "call_update", updated)
	if stats, err := s.store.RecomputeStats(ctx, updated.BroadcastID); err == nil {
		s.pub.Publish("broadcast:"+updated.BroadcastID, "broadcast_update", stats)
	}

	c.JSON(http.StatusOK, gin.H{"message": "webhook processed"})
}

type keypressPayload struct {
	CallSid string `form:"CallSid"`
	Digits  string `form:"Digits"`
}

// HandleKeypress serves POST /broadcast/keypress.
func (s *Sink) HandleKeypress(c *gin.Context) {
	var payload keypressPayload
	if err := c.ShouldBind(&payload); err != nil {
		errors.BadRequest(c, "invalid payload")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if payload.Digits != optOutKeypress {
		c.String(http.StatusOK, "<Response><Say>Invalid option.</Say><Hangup/></Response>")
		return
	}

	call, err := s.store.GetCallByProviderSID(ctx, payload.CallSid)
	if err != nil {
		errors.NotFound(c, "call not found")
		return
	}

	if err := s.store.UpsertOptOut(ctx, call.Contact.Phone, domain.OptOutKeypress, store.DefaultOptOutTTL, nil); err != nil {
		errors.InternalError(c, err, s.logger)
		return
	}
	updated, err := s.store.MarkOptedOut(ctx, call.ID)
	if err != nil {
		errors.InternalError(c, err, s.logger)
		return
	}

	s.pub.Publish("broadcast:"+updated.BroadcastID, "call_update", updated)
	c.String(http.StatusOK, "<Response><Say>You have been removed from this list.</Say><Hangup/></Response>")
}
