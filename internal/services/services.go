package services

import (
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/sharelist/internal/shared"
)

// Liveness is the oracle's verdict on an access token.
type Liveness int

const (
	Live Liveness = iota
	Expired
	TransportError
)

func (l Liveness) String() string {
	switch l {
	case Live:
		return "live"
	case Expired:
		return "expired"
	default:
		return "transport_error"
	}
}

// APIError is a non-2xx reply from the Spotify Web API.
//
// It unwraps to [shared.ErrTokenExpired] for 401 and [shared.ErrAPIRequest] otherwise.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spotify API error: status %d: %s", e.Status, e.Body)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return shared.ErrTokenExpired
	}
	return shared.ErrAPIRequest
}

// NewHTTPClient returns a client whose every request is bounded by timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
