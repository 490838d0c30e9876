package provider

import (
	"testing"

	"github.com/troikatech/calling-agent/internal/broadcast/domain"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   domain.CallStatus
	}{
		{name: "queued", status: "queued", want: domain.CallQueued},
		{name: "ringing", status: "ringing", want: domain.CallRinging},
		{name: "in progress hyphen", status: "in-progress", want: domain.CallInProgress},
		{name: "in progress underscore", status: "in_progress", want: domain.CallInProgress},
		{name: "completed", status: "completed", want: domain.CallCompleted},
		{name: "busy", status: "busy", want: domain.CallBusy},
		{name: "no answer variants", status: "noanswer", want: domain.CallNoAnswer},
		{name: "cancelled", status: "canceled", want: domain.CallCancelled},
		{name: "case insensitive", status: "COMPLETED", want: domain.CallCompleted},
		{name: "unknown falls back to failed", status: "something-new", want: domain.CallFailed},
		{name: "empty falls back to failed", status: "", want: domain.CallFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapStatus(tt.status)
			if got != tt.want {
				t.Errorf("MapStatus(%q) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name   string
		status domain.CallStatus
		want   bool
	}{
		{name: "busy is retryable", status: domain.CallBusy, want: true},
		{name: "no answer is retryable", status: domain.CallNoAnswer, want: true},
		{name: "failed is retryable", status: domain.CallFailed, want: true},
		{name: "completed is not retryable", status: domain.CallCompleted, want: false},
		{name: "cancelled is not retryable", status: domain.CallCancelled, want: false},
		{name: "opted out is not retryable", status: domain.CallOptedOut, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.status); got != tt.want {
				t.Errorf("IsRetryable(%q) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{name: "plain seconds", raw: "42", want: 42},
		{name: "padded with whitespace", raw: "  17 ", want: 17},
		{name: "empty defaults to zero", raw: "", want: 0},
		{name: "malformed defaults to zero", raw: "not-a-number", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseDuration(tt.raw); got != tt.want {
				t.Errorf("ParseDuration(%q) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}
