// Package script is the Script/TwiML Generator of spec §4.E: it renders
// the Exotel-compatible XML document a voicebot applet fetches when a
// dialed call connects, with the compliance disclaimer, the opt-out
// keypress prompt, and the materialized audio.
package script

import (
	"context"
	"encoding/xml"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Document is the minimal Exotel applet response shape: say the
// disclaimer, gather a keypress with a short timeout, play the audio,
// hang up.
type Document struct {
	XMLName xml.Name  `xml:"Response"`
	Say     []Say     `xml:"Say"`
	Gather  *Gather   `xml:"Gather"`
	Play    *Play     `xml:"Play"`
	Hangup  *struct{} `xml:"Hangup"`
}

type Say struct {
	Text string `xml:",chardata"`
}

type Gather struct {
	Action    string `xml:"action,attr"`
	Method    string `xml:"method,attr"`
	Timeout   int    `xml:"timeout,attr"`
	NumDigits int    `xml:"numDigits,attr"`
	Say       *Say   `xml:"Say,omitempty"`
	Play      *Play  `xml:"Play,omitempty"`
}

type Play struct {
	URL string `xml:",chardata"`
}

const keypressTimeout = 3 * time.Second

// Params describes the single campaign/call this document renders for.
type Params struct {
	DisclaimerText string
	AudioURL       string
	KeypressURL    string
	OptOutEnabled  bool
}

// Handler returns a gin.HandlerFunc serving GET/POST /broadcast/twiml.
// resolve looks up the Params for the call named by the request (the
// internal call id is passed as a query parameter by the Provider
// Adapter when it places the call).
func Handler(logger *zap.Logger, resolve func(ctx context.Context, callID string) (Params, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		callID := c.Query("callId")
		params, err := resolve(c.Request.Context(), callID)
		if err != nil {
			logger.Warn("script resolve failed, degrading to minimal response",
				zap.String("call_id", callID), zap.Error(err))
			writeMinimal(c, "We were unable to load this message.")
			return
		}

		probeAudioReachable(params.AudioURL, logger)

		doc := Document{Hangup: &struct{}{}}
		if params.DisclaimerText != "" {
			doc.Say = append(doc.Say, Say{Text: params.DisclaimerText})
		}
		if params.OptOutEnabled {
			doc.Gather = &Gather{
				Action:    params.KeypressURL,
				Method:    "POST",
				Timeout:   int(keypressTimeout.Seconds()),
				NumDigits: 1,
				Say:       &Say{Text: "Press 9 to stop receiving these calls."},
				Play:      &Play{URL: params.AudioURL},
			}
		} else {
			doc.Play = &Play{URL: params.AudioURL}
		}

		writeXML(c, doc)
	}
}

func writeXML(c *gin.Context, doc Document) {
	c.Header("Content-Type", "text/xml")
	c.Header("Cache-Control", "no-cache")
	c.XML(http.StatusOK, doc)
}

func writeMinimal(c *gin.Context, message string) {
	doc := Document{
		Say:    []Say{{Text: message}},
		Hangup: &struct{}{},
	}
	writeXML(c, doc)
}

// probeAudioReachable is a best-effort, non-blocking HEAD check used only
// to log a warning early if the CDN asset has gone missing; it never
// fails the response since the provider will surface a play error on its
// own if the URL is truly dead.
func probeAudioReachable(audioURL string, logger *zap.Logger) {
	if audioURL == "" {
		return
	}
	go func() {
		client := &http.Client{Timeout: keypressTimeout}
		req, err := http.NewRequest(http.MethodHead, audioURL, nil)
		if err != nil {
			return
		}
		resp, err := client.Do(req)
		if err != nil {
			logger.Warn("audio asset unreachable", zap.String("audio_url", audioURL), zap.Error(err))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			logger.Warn("audio asset returned error status",
				zap.String("audio_url", audioURL), zap.Int("status", resp.StatusCode))
		}
	}()
}
