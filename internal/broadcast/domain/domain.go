// Package domain holds the typed shapes the broadcast dispatch engine
// operates on. The Persistence Gateway wraps these in its own typed
// bson documents and stores them through native mongo-driver collections.
package domain

import "time"

type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "draft"
	CampaignQueued     CampaignStatus = "queued"
	CampaignInProgress CampaignStatus = "in_progress"
	CampaignCompleted  CampaignStatus = "completed"
	CampaignCancelled  CampaignStatus = "cancelled"
)

type CallStatus string

const (
	CallQueued     CallStatus = "queued"
	CallCalling    CallStatus = "calling"
	CallRinging    CallStatus = "ringing"
	CallInProgress CallStatus = "in_progress"
	CallAnswered   CallStatus = "answered"
	CallCompleted  CallStatus = "completed"
	CallFailed     CallStatus = "failed"
	CallBusy       CallStatus = "busy"
	CallNoAnswer   CallStatus = "no_answer"
	CallCancelled  CallStatus = "cancelled"
	CallOptedOut   CallStatus = "opted_out"
)

// TerminalStatuses are the statuses from which no further transition is
// accepted (spec §8 invariant).
var TerminalStatuses = map[CallStatus]bool{
	CallCompleted: true,
	CallFailed:    true,
	CallCancelled: true,
	CallOptedOut:  true,
}

type OptOutSource string

const (
	OptOutKeypress OptOutSource = "broadcast_keypress"
	OptOutManual   OptOutSource = "manual"
	OptOutDND      OptOutSource = "dnd_registry"
	OptOutAPI      OptOutSource = "api"
)

type Voice struct {
	Provider string `bson:"provider" json:"provider"`
	VoiceID  string `bson:"voice_id" json:"voiceId"`
	Language string `bson:"language" json:"language"`
}

type Compliance struct {
	DisclaimerText string `bson:"disclaimer_text" json:"disclaimerText"`
	OptOutEnabled  bool   `bson:"opt_out_enabled" json:"optOutEnabled"`
	DNDRespect     bool   `bson:"dnd_respect" json:"dndRespect"`
}

type CampaignConfig struct {
	MaxConcurrent int           `bson:"max_concurrent" json:"maxConcurrent"`
	MaxRetries    int           `bson:"max_retries" json:"maxRetries"`
	RetryDelay    time.Duration `bson:"retry_delay" json:"retryDelay"`
	Compliance    Compliance    `bson:"compliance" json:"compliance"`
}

type Stats struct {
	Total     int `bson:"total" json:"total"`
	Queued    int `bson:"queued" json:"queued"`
	Calling   int `bson:"calling" json:"calling"`
	Answered  int `bson:"answered" json:"answered"`
	Completed int `bson:"completed" json:"completed"`
	Failed    int `bson:"failed" json:"failed"`
	OptedOut  int `bson:"opted_out" json:"optedOut"`
	Cancelled int `bson:"cancelled" json:"cancelled"`
}

type AudioAsset struct {
	UniqueKey   string    `bson:"unique_key" json:"uniqueKey"`
	Text        string    `bson:"text" json:"text"`
	AudioURL    string    `bson:"audio_url" json:"audioUrl"`
	Duration    int       `bson:"duration" json:"duration"`
	GeneratedAt time.Time `bson:"generated_at" json:"generatedAt"`
}

type Campaign struct {
	ID          string         `bson:"_id,omitempty" json:"id"`
	Name        string         `bson:"name" json:"name"`
	Template    string         `bson:"template" json:"template"`
	Voice       Voice          `bson:"voice" json:"voice"`
	AudioAssets []AudioAsset   `bson:"audio_assets" json:"audioAssets"`
	Status      CampaignStatus `bson:"status" json:"status"`
	Stats       Stats          `bson:"stats" json:"stats"`
	Config      CampaignConfig `bson:"config" json:"config"`
	OwnerID     string         `bson:"owner_id" json:"ownerId"`
	CreatedAt   time.Time      `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time      `bson:"updated_at" json:"updatedAt"`
	StartedAt   *time.Time     `bson:"started_at,omitempty" json:"startedAt,omitempty"`
}

type Contact struct {
	Phone         string            `bson:"phone" json:"phone"`
	Name          string            `bson:"name" json:"name"`
	CustomFields  map[string]string `bson:"custom_fields,omitempty" json:"customFields,omitempty"`
}

type PersonalizedMessage struct {
	Text         string `bson:"text" json:"text"`
	AudioURL     string `bson:"audio_url" json:"audioUrl"`
	AudioAssetID string `bson:"audio_asset_id" json:"audioAssetId"`
}

type ProviderError struct {
	Code    string `bson:"code" json:"code"`
	Message string `bson:"message" json:"message"`
}

type Call struct {
	ID                  string              `bson:"_id,omitempty" json:"id"`
	BroadcastID         string              `bson:"broadcast_id" json:"broadcastId"`
	Contact             Contact             `bson:"contact" json:"contact"`
	PersonalizedMessage PersonalizedMessage `bson:"personalized_message" json:"personalizedMessage"`
	ProviderSID         string              `bson:"provider_sid,omitempty" json:"providerSid,omitempty"`
	Status              CallStatus          `bson:"status" json:"status"`
	Attempts            int                 `bson:"attempts" json:"attempts"`
	RetryAfter          *time.Time          `bson:"retry_after,omitempty" json:"retryAfter,omitempty"`
	Duration            int                 `bson:"duration" json:"duration"`
	StartTime           *time.Time          `bson:"start_time,omitempty" json:"startTime,omitempty"`
	AnswerTime          *time.Time          `bson:"answer_time,omitempty" json:"answerTime,omitempty"`
	EndTime             *time.Time          `bson:"end_time,omitempty" json:"endTime,omitempty"`
	ProviderError       *ProviderError      `bson:"provider_error,omitempty" json:"providerError,omitempty"`
	DNDStatus           string              `bson:"dnd_status,omitempty" json:"dndStatus,omitempty"`
	OptedOut            bool                `bson:"opted_out" json:"optedOut"`
	Metadata            map[string]string   `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt           time.Time           `bson:"created_at" json:"createdAt"`
	UpdatedAt           time.Time           `bson:"updated_at" json:"updatedAt"`
}

type OptOut struct {
	Phone      string            `bson:"phone" json:"phone"`
	Source     OptOutSource      `bson:"source" json:"source"`
	OptedOutAt time.Time         `bson:"opted_out_at" json:"optedOutAt"`
	ExpiresAt  time.Time         `bson:"expires_at" json:"expiresAt"`
	Metadata   map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// Eligible reports whether a queued call with the given attempts/retryAfter
// is dialable right now (spec §3 Call invariant).
func (c Call) Eligible(now time.Time) bool {
	if c.Status != CallQueued {
		return false
	}
	if c.Attempts == 0 {
		return true
	}
	return c.RetryAfter != nil && !c.RetryAfter.After(now)
}
