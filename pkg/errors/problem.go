package errors

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ProblemDetail represents an RFC 7807 Problem Details response
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// ErrorResponse sends a problem+json error response
func ErrorResponse(c *gin.Context, status int, title, detail string) {
	traceID := c.GetString("trace_id")
	if traceID == "" {
		traceID = c.GetString("request_id")
	}

	problem := ProblemDetail{
		Type:    getProblemType(status),
		Title:   title,
		Status:  status,
		Detail:  detail,
		TraceID: traceID,
		Instance: c.Request.URL.Path,
	}

	c.Header("Content-Type", "application/problem+json")
	c.JSON(status, problem)
}

// InternalError logs and sends a 500 error
func InternalError(c *gin.Context, err error, logger *zap.Logger) {
	logger.Error("Internal server error",
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
	)

	ErrorResponse(c, http.StatusInternalServerError,
		"Internal Server Error",
		"An unexpected error occurred. Please try again later.",
	)
}

// BadRequest sends a 400 error
func BadRequest(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusBadRequest,
		"Bad Request",
		detail,
	)
}

// Unauthorized sends a 401 error
func Unauthorized(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusUnauthorized,
		"Unauthorized",
		detail,
	)
}

// Forbidden sends a 403 error
func Forbidden(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusForbidden,
		"Forbidden",
		detail,
	)
}

// NotFound sends a 404 error
func NotFound(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusNotFound,
		"Not Found",
		detail,
	)
}

// Conflict sends a 409 error
func Conflict(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusConflict,
		"Conflict",
		detail,
	)
}

// TooManyRequests sends a 429 error
func TooManyRequests(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusTooManyRequests,
		"Too Many Requests",
		detail,
	)
}

// UnprocessableEntity sends a 422 error, used when a campaign or call
// payload is well-formed but fails a domain invariant (bad template
// variables, unreachable audio URL).
func UnprocessableEntity(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusUnprocessableEntity,
		"Unprocessable Entity",
		detail,
	)
}

// ServiceUnavailable sends a 503 error, used when a downstream dependency
// (TTS provider, CDN, telephony provider) is unreachable or rejects the
// request outright.
func ServiceUnavailable(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusServiceUnavailable,
		"Service Unavailable",
		detail,
	)
}

// TTSUnavailable sends a 503 when the configured TTS provider can't be
// reached or has no API key configured.
func TTSUnavailable(c *gin.Context, detail string) {
	ServiceUnavailable(c, detail)
}

// CDNUnavailable sends a 503 when the asset CDN rejects or can't serve
// an upload/delete request.
func CDNUnavailable(c *gin.Context, detail string) {
	ServiceUnavailable(c, detail)
}

// ProviderRejection sends a 502-style problem (surfaced as 503 to callers
// since it's this service's dependency, not the caller's fault) carrying
// the telephony provider's own error code/message.
func ProviderRejection(c *gin.Context, code, message string) {
	ErrorResponse(c, http.StatusServiceUnavailable,
		"Provider Rejection",
		fmt.Sprintf("%s: %s", code, message),
	)
}

// ProviderUnreachable sends a 503 when the telephony provider's API
// couldn't be reached at all (network error, timeout).
func ProviderUnreachable(c *gin.Context, detail string) {
	ServiceUnavailable(c, detail)
}

// SignatureInvalid sends a bare 403 with no diagnostic body, since
// leaking why a webhook signature failed helps an attacker iterate.
func SignatureInvalid(c *gin.Context) {
	ErrorResponse(c, http.StatusForbidden, "Forbidden", "")
}

func getProblemType(status int) string {
	baseURL := "https://api.troikatech.in/problems"
	switch status {
	case http.StatusBadRequest:
		return baseURL + "/bad-request"
	case http.StatusUnauthorized:
		return baseURL + "/unauthorized"
	case http.StatusForbidden:
		return baseURL + "/forbidden"
	case http.StatusNotFound:
		return baseURL + "/not-found"
	case http.StatusConflict:
		return baseURL + "/conflict"
	case http.StatusTooManyRequests:
		return baseURL + "/rate-limit-exceeded"
	case http.StatusUnprocessableEntity:
		return baseURL + "/unprocessable-entity"
	case http.StatusServiceUnavailable:
		return baseURL + "/service-unavailable"
	case http.StatusInternalServerError:
		return baseURL + "/internal-error"
	default:
		return baseURL + "/error"
	}
}

