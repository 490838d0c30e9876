// Package provider is the Provider Adapter of spec §4.D: it narrows the
// full Exotel client down to the handful of operations the dispatch
// engine needs and translates Exotel's call states into domain.CallStatus.
package provider

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/troikatech/calling-agent/internal/broadcast/domain"
	"github.com/troikatech/calling-agent/pkg/exotel"
)

// Adapter is the narrow surface the Dispatch Engine and Webhook Sink
// depend on, so neither has to know about Exotel's voicebot/HCall
// parameter quirks.
type Adapter struct {
	client     *exotel.Client
	exophone   string
	callbackFn func(internalCallID string) string
}

func New(client *exotel.Client, exophone string, callbackFn func(internalCallID string) string) *Adapter {
	return &Adapter{client: client, exophone: exophone, callbackFn: callbackFn}
}

// PlaceCall dials a single contact with the campaign's script URL as the
// voicebot applet target and returns the provider's call SID.
func (a *Adapter) PlaceCall(internalCallID, toPhone, scriptURL string) (string, error) {
	resp, err := a.client.ConnectCall(exotel.ConnectCallRequest{
		From:        toPhone,
		To:          toPhone,
		CallerID:    a.exophone,
		CallType:    "trans",
		CallbackURL: a.callbackFn(internalCallID),
		Url:         scriptURL,
	})
	if err != nil {
		return "", fmt.Errorf("place call: %w", err)
	}
	return resp.Call.Sid, nil
}

// TerminateCall hangs up an in-flight call by its provider SID. The
// Dispatch Engine's Cancel does not call it; cancelled campaigns leave
// in-flight calls to finish on their own.
func (a *Adapter) TerminateCall(providerSID string) error {
	return a.client.TerminateCall(providerSID)
}

// MapStatus translates an Exotel call status string into a domain
// CallStatus. Unrecognized values map to CallFailed rather than silently
// dropping the update, so an upstream schema change surfaces as a failed
// call instead of a stuck one.
func MapStatus(exotelStatus string) domain.CallStatus {
	switch strings.ToLower(exotelStatus) {
	case "queued":
		return domain.CallQueued
	case "ringing":
		return domain.CallRinging
	case "in-progress", "in_progress":
		return domain.CallInProgress
	case "completed":
		return domain.CallCompleted
	case "busy":
		return domain.CallBusy
	case "no-answer", "no_answer", "noanswer":
		return domain.CallNoAnswer
	case "failed":
		return domain.CallFailed
	case "canceled", "cancelled":
		return domain.CallCancelled
	default:
		return domain.CallFailed
	}
}

// IsRetryable reports whether a terminal Exotel status should feed back
// into the retry queue rather than close the call out permanently.
func IsRetryable(status domain.CallStatus) bool {
	switch status {
	case domain.CallBusy, domain.CallNoAnswer, domain.CallFailed:
		return true
	default:
		return false
	}
}

// ParseDuration converts Exotel's string duration field (seconds) to an
// int, defaulting to 0 on malformed input rather than failing the update.
func ParseDuration(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}
