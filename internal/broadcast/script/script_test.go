package script

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func TestHandler_RendersDisclaimerAndGather(t *testing.T) {
	gin.SetMode(gin.TestMode)

	resolve := func(ctx context.Context, callID string) (Params, error) {
		return Params{
			DisclaimerText: "This is a promotional message.",
			AudioURL:       "https://cdn.example.com/broadcast-audio/abc.mp3",
			KeypressURL:    "https://api.example.com/broadcast/keypress",
			OptOutEnabled:  true,
		}, nil
	}

	router := gin.New()
	router.GET("/broadcast/twiml", Handler(zap.NewNop(), resolve))

	req := httptest.NewRequest(http.MethodGet, "/broadcast/twiml?callId=call-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/xml") {
		t.Errorf("Content-Type = %q, want text/xml", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "This is a promotional message.") {
		t.Errorf("body missing disclaimer: %s", body)
	}
	if !strings.Contains(body, "<Gather") {
		t.Errorf("body missing Gather when OptOutEnabled: %s", body)
	}
	if !strings.Contains(body, "abc.mp3") {
		t.Errorf("body missing audio URL: %s", body)
	}
}

func TestHandler_OmitsGatherWhenOptOutDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)

	resolve := func(ctx context.Context, callID string) (Params, error) {
		return Params{
			DisclaimerText: "Reminder call.",
			AudioURL:       "https://cdn.example.com/broadcast-audio/xyz.mp3",
			OptOutEnabled:  false,
		}, nil
	}

	router := gin.New()
	router.GET("/broadcast/twiml", Handler(zap.NewNop(), resolve))

	req := httptest.NewRequest(http.MethodGet, "/broadcast/twiml?callId=call-2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if strings.Contains(rec.Body.String(), "<Gather") {
		t.Errorf("expected no Gather element when opt-out is disabled: %s", rec.Body.String())
	}
}

func TestHandler_DegradesToMinimalOnResolveError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	resolve := func(ctx context.Context, callID string) (Params, error) {
		return Params{}, errors.New("call not found")
	}

	router := gin.New()
	router.GET("/broadcast/twiml", Handler(zap.NewNop(), resolve))

	req := httptest.NewRequest(http.MethodGet, "/broadcast/twiml?callId=missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (Exotel expects a valid document even on failure)", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "unable to load") {
		t.Errorf("expected a degraded apology message, got: %s", rec.Body.String())
	}
}
