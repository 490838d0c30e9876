// Package dispatch is the Dispatch Engine of spec §4.G: one periodic
// task per active campaign, each guarded against re-entrancy, pulling
// fresh-then-retryable calls and dialing them through the Compliance
// Filter and Provider Adapter.
//
// The teacher has no per-campaign scheduler of its own — only a single
// global ticker in cmd/server/main.go's startJobsWorker — so this engine
// generalizes that ticker shape into a per-campaign registry, borrowing
// the mutex-guarded-struct idiom from pkg/circuitbreaker.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/calling-agent/internal/broadcast/compliance"
	"github.com/troikatech/calling-agent/internal/broadcast/domain"
	"github.com/troikatech/calling-agent/internal/broadcast/fanout"
	"github.com/troikatech/calling-agent/internal/broadcast/provider"
	"github.com/troikatech/calling-agent/internal/broadcast/store"
)

// PollInterval is T_poll from spec §4.G.
const PollInterval = 5 * time.Second

// ScriptURLBuilder produces the Script Generator URL a placed call will
// fetch, embedding audioUrl/disclaimerText as query parameters.
type ScriptURLBuilder func(callID, audioURL, disclaimerText string) string

type dispatchHandle struct {
	ticker   *time.Ticker
	cancel   context.CancelFunc
	inFlight atomic.Bool
}

// Engine owns one dispatchHandle per active campaign.
type Engine struct {
	mu              sync.Mutex
	activeCampaigns map[string]*dispatchHandle

	store      *store.Gateway
	compliance *compliance.Filter
	provider   *provider.Adapter
	pub        fanout.Publisher
	scriptURL  ScriptURLBuilder
	logger     *zap.Logger
}

func New(gateway *store.Gateway, filter *compliance.Filter, adapter *provider.Adapter, pub fanout.Publisher, scriptURL ScriptURLBuilder, logger *zap.Logger) *Engine {
	return &Engine{
		activeCampaigns: make(map[string]*dispatchHandle),
		store:           gateway,
		compliance:      filter,
		provider:        adapter,
		pub:             pub,
		scriptURL:       scriptURL,
		logger:          logger,
	}
}

// Start registers a campaign for periodic dispatch. Idempotent: a
// campaign already registered logs a warning and does nothing.
func (e *Engine) Start(campaignID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.activeCampaigns[campaignID]; exists {
		e.logger.Warn("dispatch already running for campaign", zap.String("campaign_id", campaignID))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle := &dispatchHandle{
		ticker: time.NewTicker(PollInterval),
		cancel: cancel,
	}
	e.activeCampaigns[campaignID] = handle

	go e.run(ctx, campaignID, handle)
}

func (e *Engine) run(ctx context.Context, campaignID string, handle *dispatchHandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-handle.ticker.C:
			if !handle.inFlight.CompareAndSwap(false, true) {
				continue
			}
			e.Tick(ctx, campaignID)
			handle.inFlight.Store(false)
		}
	}
}

// stopLocked stops and removes a campaign's handle. Caller must hold e.mu.
func (e *Engine) stopLocked(campaignID string) {
	if handle, ok := e.activeCampaigns[campaignID]; ok {
		handle.ticker.Stop()
		handle.cancel()
		delete(e.activeCampaigns, campaignID)
	}
}

func (e *Engine) stop(campaignID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked(campaignID)
}

// Tick implements steps 1-7 of spec §4.G. Exported so a single tick can
// be driven directly in tests without waiting on the ticker.
func (e *Engine) Tick(ctx context.Context, campaignID string) {
	campaign, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		if err == store.ErrNotFound {
			e.stop(campaignID)
			return
		}
		e.logger.Error("tick: load campaign failed", zap.String("campaign_id", campaignID), zap.Error(err))
		return
	}

	if campaign.Status == domain.CampaignCompleted || campaign.Status == domain.CampaignCancelled {
		e.stop(campaignID)
		return
	}

	if campaign.Status == domain.CampaignQueued {
		if ok, err := e.store.UpdateCampaignStatus(ctx, campaignID, domain.CampaignInProgress, []domain.CampaignStatus{domain.CampaignQueued}); err == nil && ok {
			e.store.MarkCampaignStarted(ctx, campaignID)
			e.pub.Publish("broadcast:"+campaignID, "broadcast_update", campaign)
		}
	}

	active, err := e.store.CountActive(ctx, campaignID)
	if err != nil {
		e.logger.Error("tick: count active failed", zap.String("campaign_id", campaignID), zap.Error(err))
		return
	}
	slots := campaign.Config.MaxConcurrent - active
	if slots <= 0 {
		return
	}

	batch, err := e.store.GetFresh(ctx, campaignID, slots)
	if err != nil {
		e.logger.Error("tick: get fresh failed", zap.String("campaign_id", campaignID), zap.Error(err))
		return
	}
	if len(batch) < slots {
		retryable, err := e.store.GetRetryable(ctx, campaignID, campaign.Config.MaxRetries, slots-len(batch))
		if err != nil {
			e.logger.Error("tick: get retryable failed", zap.String("campaign_id", campaignID), zap.Error(err))
		} else {
			batch = append(batch, retryable...)
		}
	}

	if len(batch) == 0 {
		pending, err := e.store.CountPending(ctx, campaignID)
		if err == nil && pending == 0 {
			if ok, _ := e.store.UpdateCampaignStatus(ctx, campaignID, domain.CampaignCompleted, nil); ok {
				stats, _ := e.store.RecomputeStats(ctx, campaignID)
				e.pub.Publish("broadcast:"+campaignID, "broadcast_update", stats)
				e.pub.Publish(fanout.GlobalRoom, "broadcast_list_update", campaignID)
			}
			e.stop(campaignID)
		}
		return
	}

	var wg sync.WaitGroup
	for _, call := range batch {
		wg.Add(1)
		go func(c domain.Call) {
			defer wg.Done()
			e.dialOne(ctx, campaign, c)
		}(call)
	}
	wg.Wait()
}

// dialOne runs steps a-f of the dial pipeline for a single call.
func (e *Engine) dialOne(ctx context.Context, campaign *domain.Campaign, call domain.Call) {
	call.Status = domain.CallCalling
	e.pub.Publish("broadcast:"+campaign.ID, "call_update", call)

	outcome, err := e.compliance.Evaluate(ctx, campaign.Config.Compliance, call.Contact.Phone)
	if err != nil {
		e.logger.Error("compliance check failed", zap.String("call_id", call.ID), zap.Error(err))
		return
	}
	if !outcome.Dial {
		var updated *domain.Call
		var err error
		if outcome.FinalState == domain.CallOptedOut {
			updated, err = e.store.MarkOptedOut(ctx, call.ID)
		} else {
			updated, err = e.store.MarkFailed(ctx, call.ID, campaign.Config.MaxRetries, campaign.Config.RetryDelay, outcome.Reason, outcome.Reason, false)
		}
		if err == nil {
			e.pub.Publish("broadcast:"+campaign.ID, "call_update", updated)
		}
		return
	}

	scriptURL := e.scriptURL(call.ID, call.PersonalizedMessage.AudioURL, campaign.Config.Compliance.DisclaimerText)

	providerSID, placeErr := e.provider.PlaceCall(call.ID, call.Contact.Phone, scriptURL)
	if placeErr != nil {
		e.handleDialFailure(ctx, campaign, call, "provider_rejection", placeErr.Error())
		return
	}

	updated, markErr := e.store.MarkCalling(ctx, call.ID, providerSID)
	if markErr != nil {
		e.handleDialFailure(ctx, campaign, call, "mark_calling_failed", markErr.Error())
		return
	}

	e.pub.Publish("broadcast:"+campaign.ID, "call_update", updated)
}

func (e *Engine) handleDialFailure(ctx context.Context, campaign *domain.Campaign, call domain.Call, code, message string) {
	updated, err := e.store.MarkFailed(ctx, call.ID, campaign.Config.MaxRetries, campaign.Config.RetryDelay, code, message, true)
	if err != nil {
		e.logger.Error("mark failed errored", zap.String("call_id", call.ID), zap.Error(err))
		return
	}
	e.pub.Publish("broadcast:"+campaign.ID, "call_update", updated)
}

// Cancel implements spec §4.G cancellation: stop the ticker, bulk-cancel
// queued calls, mark the campaign cancelled. In-flight provider calls are
// deliberately left alone (spec.md Design Notes).
func (e *Engine) Cancel(ctx context.Context, campaignID string) error {
	e.stop(campaignID)

	if _, err := e.store.CancelQueuedCalls(ctx, campaignID); err != nil {
		return fmt.Errorf("cancel queued calls: %w", err)
	}
	if _, err := e.store.UpdateCampaignStatus(ctx, campaignID, domain.CampaignCancelled, nil); err != nil {
		return fmt.Errorf("cancel campaign: %w", err)
	}

	stats, _ := e.store.RecomputeStats(ctx, campaignID)
	e.pub.Publish("broadcast:"+campaignID, "broadcast_update", stats)
	e.pub.Publish(fanout.GlobalRoom, "broadcast_list_update", campaignID)
	return nil
}

// Delete implements spec §4.G deletion: cancel first if in-progress, then
// remove CDN assets and cascade-delete calls and the campaign.
func (e *Engine) Delete(ctx context.Context, campaignID string, deleteAsset func(audioURL string) error) error {
	campaign, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}

	if campaign.Status == domain.CampaignInProgress || campaign.Status == domain.CampaignQueued {
		if err := e.Cancel(ctx, campaignID); err != nil {
			return err
		}
	}

	for _, asset := range campaign.AudioAssets {
		if deleteAsset != nil {
			if err := deleteAsset(asset.AudioURL); err != nil {
				e.logger.Warn("failed to delete audio asset", zap.String("audio_url", asset.AudioURL), zap.Error(err))
			}
		}
	}

	return e.store.DeleteCampaignCascade(ctx, campaignID)
}

// IsRunning reports whether the engine currently holds a live ticker for
// campaignID, mainly useful for tests and diagnostics.
func (e *Engine) IsRunning(campaignID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.activeCampaigns[campaignID]
	return ok
}
