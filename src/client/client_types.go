package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"personal/discord_client/src/gateway"
)

type GatewayBot struct {
	URL               string                    `json:"url"`
	Shards            int                       `json:"shards"`
	SessionStartLimit gateway.SessionStartLimit `json:"session_start_limit"`
}

var (
	ErrNotFound     = errors.New("client: not found")
	ErrUnauthorized = errors.New("client: unauthorized")
	ErrRateLimited  = errors.New("client: rate limited")
)

// APIError is a non-2xx REST response.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	// RetryAfter is set on 429 responses.
	RetryAfter time.Duration `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d (code %d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d", e.Status)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	}
	return false
}

func newAPIError(res *http.Response, body []byte) *APIError {
	apiErr := &APIError{Status: res.StatusCode}
	// Error bodies are best effort; proxies answer with HTML.
	_ = json.Unmarshal(body, apiErr)

	if res.StatusCode == http.StatusTooManyRequests {
		var limited struct {
			RetryAfter float64 `json:"retry_after"`
		}
		if json.Unmarshal(body, &limited) == nil && limited.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(limited.RetryAfter * float64(time.Second))
		} else if seconds, err := strconv.ParseFloat(res.Header.Get("Retry-After"), 64); err == nil {
			apiErr.RetryAfter = time.Duration(seconds * float64(time.Second))
		}
	}
	return apiErr
}
