// Package tts is the TTS Materializer of spec §4.C: it turns a campaign
// template into a CDN-hosted audio asset, generating it once per distinct
// template within a campaign. Only the campaign's own audioAssets are
// checked for a match; assets are not shared across campaigns.
package tts

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/calling-agent/internal/broadcast/domain"
	"github.com/troikatech/calling-agent/internal/broadcast/store"
	"github.com/troikatech/calling-agent/pkg/ai"
	"github.com/troikatech/calling-agent/pkg/storage"
)

// wordsPerSecond approximates spoken cadence for a duration estimate when
// the provider doesn't return one; ceil(wordCount/2.5) seconds, matching
// the fallback the platform already used for voicebot scripts.
const wordsPerSecond = 2.5

type Materializer struct {
	tts      *ai.TTSService
	uploader storage.Uploader
	folder   string
	logger   *zap.Logger
}

func New(ttsService *ai.TTSService, uploader storage.Uploader, folder string, logger *zap.Logger) *Materializer {
	return &Materializer{tts: ttsService, uploader: uploader, folder: folder, logger: logger}
}

// Materialize returns the cached AudioAsset for template/voice if the
// campaign already generated one with a matching key, otherwise it
// synthesizes fresh audio, uploads it, and returns the new asset to be
// appended to the campaign.
func (m *Materializer) Materialize(ctx context.Context, campaign *domain.Campaign, template string, voice domain.Voice) (domain.AudioAsset, bool, error) {
	key := store.TemplateKey(template)
	for _, a := range campaign.AudioAssets {
		if a.UniqueKey == key {
			return a, false, nil
		}
	}

	if !m.tts.IsAvailable() {
		return domain.AudioAsset{}, false, fmt.Errorf("tts provider not configured")
	}

	audio, err := m.tts.TextToSpeech(ctx, &ai.TTSRequest{
		Text:    template,
		VoiceID: voice.VoiceID,
	})
	if err != nil {
		return domain.AudioAsset{}, false, fmt.Errorf("synthesize: %w", err)
	}

	assetKey := fmt.Sprintf("%s.mp3", key)
	url, err := m.uploader.Upload(m.folder, assetKey, bytes.NewReader(audio), "audio/mpeg")
	if err != nil {
		return domain.AudioAsset{}, false, fmt.Errorf("upload: %w", err)
	}

	asset := domain.AudioAsset{
		UniqueKey:   key,
		Text:        template,
		AudioURL:    url,
		Duration:    EstimateDuration(template),
		GeneratedAt: time.Now().UTC(),
	}
	m.logger.Info("materialized audio asset",
		zap.String("campaign_id", campaign.ID),
		zap.String("unique_key", key),
		zap.Int("duration_sec", asset.Duration),
	)
	return asset, true, nil
}

// EstimateDuration is the fallback estimate used until a real duration is
// reported back by the provider (spec §4.C).
func EstimateDuration(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) / wordsPerSecond))
}
