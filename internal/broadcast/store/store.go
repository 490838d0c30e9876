// Package store is the Persistence Gateway: typed CRUD and aggregation
// over campaigns, calls, and opt-outs, built on top of pkg/mongo's
// Client the same way the teacher's handlers use it, but with typed
// documents and atomic per-call mutations instead of loose maps.
package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/troikatech/calling-agent/internal/broadcast/domain"
	"github.com/troikatech/calling-agent/pkg/mongo"
)

const (
	campaignsCollection = "broadcast_campaigns"
	callsCollection     = "broadcast_calls"
	optOutsCollection   = "broadcast_opt_outs"
)

var ErrNotFound = errors.New("not found")

// DefaultOptOutTTL is used whenever a caller upserts an opt-out without an
// explicit expiry (keypress and manual opt-outs) — long enough that it
// effectively never needs renewing, while still honoring the spec's
// requirement that the store enforce auto-expiry rather than treat the
// record as permanent.
const DefaultOptOutTTL = 2 * 365 * 24 * time.Hour

// Gateway is the Persistence Gateway of spec §4.A.
type Gateway struct {
	client *mongo.Client
}

func New(client *mongo.Client) *Gateway {
	return &Gateway{client: client}
}

func (g *Gateway) campaigns() *mongodriver.Collection {
	return g.client.Collection(campaignsCollection)
}

func (g *Gateway) calls() *mongodriver.Collection {
	return g.client.Collection(callsCollection)
}

func (g *Gateway) optOuts() *mongodriver.Collection {
	return g.client.Collection(optOutsCollection)
}

// campaignDoc/callDoc mirror the domain structs but carry a real
// primitive.ObjectID _id so Mongo can generate and filter on it; the
// domain structs themselves stay storage-agnostic and use the hex string.
type campaignDoc struct {
	domain.Campaign `bson:",inline"`
	ObjectID        primitive.ObjectID `bson:"_id,omitempty"`
}

type callDoc struct {
	domain.Call `bson:",inline"`
	ObjectID    primitive.ObjectID `bson:"_id,omitempty"`
}

// TemplateKey computes the AudioAsset dedup key (spec §4.C/§3).
func TemplateKey(template string) string {
	sum := md5.Sum([]byte(template))
	return hex.EncodeToString(sum[:])
}

// --- Campaigns ---

func (g *Gateway) CreateCampaign(ctx context.Context, c domain.Campaign) (string, error) {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.ID = ""
	doc := campaignDoc{Campaign: c}
	res, err := g.campaigns().InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return res.InsertedID.(primitive.ObjectID).Hex(), nil
}

func (g *Gateway) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var doc campaignDoc
	err = g.campaigns().FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err == mongodriver.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	doc.Campaign.ID = doc.ObjectID.Hex()
	return &doc.Campaign, nil
}

func (g *Gateway) ListCampaigns(ctx context.Context, ownerID, status string, page, limit int) ([]domain.Campaign, error) {
	filter := bson.M{}
	if ownerID != "" {
		filter["owner_id"] = ownerID
	}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64((page - 1) * limit)).
		SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := g.campaigns().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []campaignDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode campaigns: %w", err)
	}
	out := make([]domain.Campaign, len(docs))
	for i, d := range docs {
		d.Campaign.ID = d.ObjectID.Hex()
		out[i] = d.Campaign
	}
	return out, nil
}

// UpdateCampaignStatus performs a monotonic transition, only applying
// the update when the campaign is currently in fromAny (or fromAny is
// empty, meaning unconditional). Returns false without error if the
// campaign was already past this transition (idempotent start/stop).
func (g *Gateway) UpdateCampaignStatus(ctx context.Context, id string, to domain.CampaignStatus, fromAny []domain.CampaignStatus) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, ErrNotFound
	}
	filter := bson.M{"_id": oid}
	if len(fromAny) > 0 {
		filter["status"] = bson.M{"$in": fromAny}
	}
	update := bson.M{"$set": bson.M{"status": to, "updated_at": time.Now().UTC()}}
	res, err := g.campaigns().UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("update campaign status: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// MarkCampaignStarted records startedAt exactly once (spec §4.G step 2).
func (g *Gateway) MarkCampaignStarted(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	_, err = g.campaigns().UpdateOne(ctx,
		bson.M{"_id": oid, "started_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"started_at": now, "updated_at": now}},
	)
	return err
}

func (g *Gateway) AddAudioAsset(ctx context.Context, campaignID string, asset domain.AudioAsset) error {
	oid, err := primitive.ObjectIDFromHex(campaignID)
	if err != nil {
		return ErrNotFound
	}
	_, err = g.campaigns().UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$push": bson.M{"audio_assets": asset}, "$set": bson.M{"updated_at": time.Now().UTC()}},
	)
	return err
}

// RecomputeStats is the authoritative aggregation path (spec §4.F open
// question): always derive stats from the calls collection rather than
// trust incremental counters.
func (g *Gateway) RecomputeStats(ctx context.Context, campaignID string) (domain.Stats, error) {
	counts, err := g.AggregateByStatus(ctx, campaignID)
	if err != nil {
		return domain.Stats{}, err
	}
	stats := domain.Stats{}
	for status, n := range counts {
		stats.Total += n
		switch domain.CallStatus(status) {
		case domain.CallQueued:
			stats.Queued += n
		case domain.CallCalling, domain.CallRinging, domain.CallInProgress:
			stats.Calling += n
		case domain.CallAnswered:
			stats.Answered += n
		case domain.CallCompleted:
			stats.Completed += n
		case domain.CallFailed, domain.CallBusy, domain.CallNoAnswer:
			stats.Failed += n
		case domain.CallOptedOut:
			stats.OptedOut += n
		case domain.CallCancelled:
			stats.Cancelled += n
		}
	}

	oid, err := primitive.ObjectIDFromHex(campaignID)
	if err != nil {
		return stats, ErrNotFound
	}
	_, err = g.campaigns().UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"stats": stats, "updated_at": time.Now().UTC()}},
	)
	return stats, err
}

func (g *Gateway) AggregateByStatus(ctx context.Context, campaignID string) (map[string]int, error) {
	pipeline := mongodriver.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"broadcast_id": campaignID}}},
		bson.D{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := g.calls().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate by status: %w", err)
	}
	defer cursor.Close(ctx)

	type row struct {
		Status string `bson:"_id"`
		Count  int    `bson:"count"`
	}
	var rows []row
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode aggregate: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

func (g *Gateway) DeleteCampaignCascade(ctx context.Context, campaignID string) error {
	oid, err := primitive.ObjectIDFromHex(campaignID)
	if err != nil {
		return ErrNotFound
	}
	if _, err := g.calls().DeleteMany(ctx, bson.M{"broadcast_id": campaignID}); err != nil {
		return fmt.Errorf("delete calls: %w", err)
	}
	if _, err := g.campaigns().DeleteOne(ctx, bson.M{"_id": oid}); err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	return nil
}

// --- Calls ---

func (g *Gateway) InsertCalls(ctx context.Context, calls []domain.Call) ([]string, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	docs := make([]interface{}, len(calls))
	for i, c := range calls {
		c.Status = domain.CallQueued
		c.CreatedAt = now
		c.UpdatedAt = now
		c.ID = ""
		docs[i] = callDoc{Call: c}
	}
	res, err := g.calls().InsertMany(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("insert calls: %w", err)
	}
	ids := make([]string, len(res.InsertedIDs))
	for i, v := range res.InsertedIDs {
		ids[i] = v.(primitive.ObjectID).Hex()
	}
	return ids, nil
}

func (g *Gateway) decodeCalls(ctx context.Context, cursor *mongodriver.Cursor) ([]domain.Call, error) {
	defer cursor.Close(ctx)
	var docs []callDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode calls: %w", err)
	}
	out := make([]domain.Call, len(docs))
	for i, d := range docs {
		d.Call.ID = d.ObjectID.Hex()
		out[i] = d.Call
	}
	return out, nil
}

// GetFresh returns unattempted queued calls, oldest first (spec §4.A/§4.G).
func (g *Gateway) GetFresh(ctx context.Context, campaignID string, limit int) ([]domain.Call, error) {
	if limit <= 0 {
		return nil, nil
	}
	filter := bson.M{
		"broadcast_id": campaignID,
		"status":       domain.CallQueued,
		"attempts":     0,
	}
	opts := options.Find().SetLimit(int64(limit)).SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := g.calls().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("get fresh: %w", err)
	}
	return g.decodeCalls(ctx, cursor)
}

// GetRetryable returns queued calls that have been attempted before and
// whose retryAfter has elapsed, ordered by retryAfter ascending.
func (g *Gateway) GetRetryable(ctx context.Context, campaignID string, maxRetries, limit int) ([]domain.Call, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	filter := bson.M{
		"broadcast_id": campaignID,
		"status":       domain.CallQueued,
		"attempts":     bson.M{"$gt": 0, "$lt": maxRetries + 1},
		"retry_after":  bson.M{"$lte": now},
	}
	opts := options.Find().SetLimit(int64(limit)).SetSort(bson.D{{Key: "retry_after", Value: 1}})
	cursor, err := g.calls().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("get retryable: %w", err)
	}
	return g.decodeCalls(ctx, cursor)
}

func (g *Gateway) CountActive(ctx context.Context, campaignID string) (int, error) {
	n, err := g.calls().CountDocuments(ctx, bson.M{
		"broadcast_id": campaignID,
		"status":       bson.M{"$in": []domain.CallStatus{domain.CallCalling, domain.CallRinging, domain.CallInProgress}},
	})
	return int(n), err
}

func (g *Gateway) CountPending(ctx context.Context, campaignID string) (int, error) {
	n, err := g.calls().CountDocuments(ctx, bson.M{
		"broadcast_id": campaignID,
		"status": bson.M{"$in": []domain.CallStatus{
			domain.CallQueued, domain.CallCalling, domain.CallRinging, domain.CallInProgress,
		}},
	})
	return int(n), err
}

// MarkCalling atomically transitions a fresh/retryable call to calling,
// bumping attempts and stamping the provider SID. Only succeeds from a
// non-terminal state so a late mark can't regress a webhook-completed call.
func (g *Gateway) MarkCalling(ctx context.Context, callID, providerSID string) (*domain.Call, error) {
	oid, err := primitive.ObjectIDFromHex(callID)
	if err != nil {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	filter := bson.M{"_id": oid, "status": bson.M{"$nin": terminalList()}}
	update := bson.M{
		"$set": bson.M{
			"status":      domain.CallCalling,
			"start_time":  now,
			"provider_sid": providerSID,
			"updated_at":  now,
		},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc callDoc
	err = g.calls().FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == mongodriver.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark calling: %w", err)
	}
	doc.Call.ID = doc.ObjectID.Hex()
	return &doc.Call, nil
}

// MarkCompleted sets the terminal completed state with duration/endTime.
func (g *Gateway) MarkCompleted(ctx context.Context, callID string, duration int) (*domain.Call, error) {
	return g.setStatusFields(ctx, callID, nil, bson.M{
		"status":   domain.CallCompleted,
		"duration": duration,
		"end_time": time.Now().UTC(),
	})
}

// MarkFailed implements the retry policy: retry=true and attempts budget
// remaining re-queues with retryAfter; otherwise the call becomes terminal
// failed (spec §4.A).
func (g *Gateway) MarkFailed(ctx context.Context, callID string, maxRetries int, retryDelay time.Duration, code, message string, retry bool) (*domain.Call, error) {
	current, err := g.get(ctx, callID)
	if err != nil {
		return nil, err
	}

	fields := bson.M{
		"provider_error": domain.ProviderError{Code: code, Message: message},
	}
	if retry && current.Attempts < maxRetries+1 {
		retryAfter := time.Now().UTC().Add(retryDelay)
		fields["status"] = domain.CallQueued
		fields["retry_after"] = retryAfter
	} else {
		fields["status"] = domain.CallFailed
		fields["end_time"] = time.Now().UTC()
	}
	return g.setStatusFields(ctx, callID, nil, fields)
}

func (g *Gateway) MarkOptedOut(ctx context.Context, callID string) (*domain.Call, error) {
	return g.setStatusFields(ctx, callID, nil, bson.M{
		"status":    domain.CallOptedOut,
		"opted_out": true,
	})
}

// setStatusFields applies an atomic $set, refusing to touch a call that
// has already reached a terminal state (unless from explicitly narrows it).
func (g *Gateway) setStatusFields(ctx context.Context, callID string, from []domain.CallStatus, fields bson.M) (*domain.Call, error) {
	oid, err := primitive.ObjectIDFromHex(callID)
	if err != nil {
		return nil, ErrNotFound
	}
	filter := bson.M{"_id": oid, "status": bson.M{"$nin": terminalList()}}
	if len(from) > 0 {
		filter["status"] = bson.M{"$in": from}
	}
	fields["updated_at"] = time.Now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc callDoc
	err = g.calls().FindOneAndUpdate(ctx, filter, bson.M{"$set": fields}, opts).Decode(&doc)
	if err == mongodriver.ErrNoDocuments {
		// Either not found or already terminal: treat as no-op, fetch current.
		return g.get(ctx, callID)
	}
	if err != nil {
		return nil, fmt.Errorf("set status fields: %w", err)
	}
	doc.Call.ID = doc.ObjectID.Hex()
	return &doc.Call, nil
}

func (g *Gateway) get(ctx context.Context, callID string) (*domain.Call, error) {
	oid, err := primitive.ObjectIDFromHex(callID)
	if err != nil {
		return nil, ErrNotFound
	}
	var doc callDoc
	err = g.calls().FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err == mongodriver.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get call: %w", err)
	}
	doc.Call.ID = doc.ObjectID.Hex()
	return &doc.Call, nil
}

func (g *Gateway) GetCall(ctx context.Context, callID string) (*domain.Call, error) {
	return g.get(ctx, callID)
}

func (g *Gateway) GetCallByProviderSID(ctx context.Context, sid string) (*domain.Call, error) {
	var doc callDoc
	err := g.calls().FindOne(ctx, bson.M{"provider_sid": sid}).Decode(&doc)
	if err == mongodriver.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get call by sid: %w", err)
	}
	doc.Call.ID = doc.ObjectID.Hex()
	return &doc.Call, nil
}

// ReconcileBySIDOrInternalID implements the dual-lookup race fix of
// spec §4.F/§9: try providerSID first, else fall back to the internal
// call id named in the callback URL and atomically backfill providerSID
// if it was still missing.
func (g *Gateway) ReconcileBySIDOrInternalID(ctx context.Context, internalCallID, providerSID string) (*domain.Call, error) {
	if providerSID != "" {
		if call, err := g.GetCallByProviderSID(ctx, providerSID); err == nil {
			return call, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	oid, err := primitive.ObjectIDFromHex(internalCallID)
	if err != nil {
		return nil, ErrNotFound
	}

	if providerSID != "" {
		opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
		var doc callDoc
		err := g.calls().FindOneAndUpdate(ctx,
			bson.M{"_id": oid, "$or": []bson.M{{"provider_sid": ""}, {"provider_sid": bson.M{"$exists": false}}}},
			bson.M{"$set": bson.M{"provider_sid": providerSID, "updated_at": time.Now().UTC()}},
			opts,
		).Decode(&doc)
		if err == nil {
			doc.Call.ID = doc.ObjectID.Hex()
			return &doc.Call, nil
		}
		if err != mongodriver.ErrNoDocuments {
			return nil, fmt.Errorf("backfill sid: %w", err)
		}
	}

	return g.get(ctx, internalCallID)
}

func (g *Gateway) CancelQueuedCalls(ctx context.Context, campaignID string) (int64, error) {
	res, err := g.calls().UpdateMany(ctx,
		bson.M{"broadcast_id": campaignID, "status": domain.CallQueued},
		bson.M{"$set": bson.M{"status": domain.CallCancelled, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return 0, fmt.Errorf("cancel queued calls: %w", err)
	}
	return res.ModifiedCount, nil
}

func (g *Gateway) ListCalls(ctx context.Context, campaignID, status string, page, limit int) ([]domain.Call, error) {
	filter := bson.M{"broadcast_id": campaignID}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64((page - 1) * limit)).
		SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := g.calls().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	return g.decodeCalls(ctx, cursor)
}

func terminalList() []domain.CallStatus {
	out := make([]domain.CallStatus, 0, len(domain.TerminalStatuses))
	for s := range domain.TerminalStatuses {
		out = append(out, s)
	}
	return out
}

// --- Opt-outs ---

func (g *Gateway) UpsertOptOut(ctx context.Context, phone string, source domain.OptOutSource, ttl time.Duration, metadata map[string]string) error {
	now := time.Now().UTC()
	_, err := g.optOuts().UpdateOne(ctx,
		bson.M{"phone": phone},
		bson.M{"$set": bson.M{
			"phone":        phone,
			"source":       source,
			"opted_out_at": now,
			"expires_at":   now.Add(ttl),
			"metadata":     metadata,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert opt-out: %w", err)
	}
	return nil
}

func (g *Gateway) IsActiveOptOut(ctx context.Context, phone string) (bool, error) {
	n, err := g.optOuts().CountDocuments(ctx, bson.M{
		"phone":      phone,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	})
	if err != nil {
		return false, fmt.Errorf("check opt-out: %w", err)
	}
	return n > 0, nil
}

func (g *Gateway) EnsureIndexes(ctx context.Context) error {
	_, err := g.calls().Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "broadcast_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "broadcast_id", Value: 1}, {Key: "attempts", Value: 1}, {Key: "retry_after", Value: 1}}},
		{Keys: bson.D{{Key: "provider_sid", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("call indexes: %w", err)
	}
	_, err = g.optOuts().Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "phone", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	})
	if err != nil {
		return fmt.Errorf("opt-out indexes: %w", err)
	}
	return nil
}
