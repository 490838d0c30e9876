package tts

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/calling-agent/internal/broadcast/domain"
	"github.com/troikatech/calling-agent/internal/broadcast/store"
	"github.com/troikatech/calling-agent/pkg/ai"
)

func TestMaterializer_MaterializeReusesCachedAsset(t *testing.T) {
	template := "Hello {{.Name}}, your appointment is tomorrow."
	key := store.TemplateKey(template)

	cached := domain.AudioAsset{
		UniqueKey:   key,
		Text:        template,
		AudioURL:    "https://cdn.example.com/broadcast-audio/" + key + ".mp3",
		Duration:    5,
		GeneratedAt: time.Now().UTC(),
	}
	campaign := &domain.Campaign{
		ID:          "campaign-1",
		AudioAssets: []domain.AudioAsset{cached},
	}

	// An unconfigured TTS service would error if Materialize tried to
	// synthesize, proving the cache hit path never calls it.
	unconfigured := ai.NewTTSService("", "", "", "", time.Second, zap.NewNop())
	m := New(unconfigured, nil, "broadcast-audio", zap.NewNop())

	asset, created, err := m.Materialize(context.Background(), campaign, template, domain.Voice{})
	if err != nil {
		t.Fatalf("Materialize() unexpected error: %v", err)
	}
	if created {
		t.Error("expected created=false for a cache hit")
	}
	if asset.UniqueKey != key {
		t.Errorf("UniqueKey = %q, want %q", asset.UniqueKey, key)
	}
	if asset.AudioURL != cached.AudioURL {
		t.Errorf("AudioURL = %q, want %q", asset.AudioURL, cached.AudioURL)
	}
}

func TestMaterializer_MaterializeErrorsWhenTTSUnconfigured(t *testing.T) {
	campaign := &domain.Campaign{ID: "campaign-2"}
	unconfigured := ai.NewTTSService("", "", "", "", time.Second, zap.NewNop())
	m := New(unconfigured, nil, "broadcast-audio", zap.NewNop())

	_, created, err := m.Materialize(context.Background(), campaign, "Hello, this is new wording.", domain.Voice{})
	if err == nil {
		t.Fatal("expected an error when no template matches and TTS is unconfigured")
	}
	if created {
		t.Error("expected created=false on error")
	}
}

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty text", text: "", want: 0},
		{name: "single word", text: "Hello", want: 1},
		{name: "rounds up", text: "one two three four five six seven", want: 3}, // ceil(7/2.5)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateDuration(tt.text); got != tt.want {
				t.Errorf("EstimateDuration(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}
