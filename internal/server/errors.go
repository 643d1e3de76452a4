package server

import (
	"errors"
	"net/http"

	"github.com/desertthunder/sharelist/internal/services"
	"github.com/desertthunder/sharelist/internal/shared"
	"github.com/desertthunder/sharelist/internal/tokens"
	"github.com/go-chi/render"
)

// ErrorResponse is the JSON body of every failed request.
//
// Status and Details echo Spotify's reply when the failure came from upstream.
type ErrorResponse struct {
	Error   string `json:"error"`
	Status  int    `json:"status,omitempty"`
	Details string `json:"details,omitempty"`
}

// WriteJSON renders v with status.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// WriteError translates err into a status code and [ErrorResponse].
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	WriteJSON(w, r, status, body)
}

func classify(err error) (int, ErrorResponse) {
	var te *tokens.Error
	if errors.As(err, &te) {
		return classifyToken(te)
	}

	var ae *services.APIError
	if errors.As(err, &ae) {
		if ae.Status == http.StatusUnauthorized {
			return http.StatusUnauthorized, ErrorResponse{Error: "spotify rejected the owner's access token", Status: ae.Status, Details: ae.Body}
		}
		return http.StatusBadGateway, ErrorResponse{Error: "spotify request failed", Status: ae.Status, Details: ae.Body}
	}

	switch {
	case errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrMissingArgument),
		errors.Is(err, shared.ErrInvalidArgument):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error()}
	case errors.Is(err, shared.ErrShareNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "share not found"}
	case errors.Is(err, shared.ErrAPIRequest):
		return http.StatusBadGateway, ErrorResponse{Error: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	}
}

func classifyToken(te *tokens.Error) (int, ErrorResponse) {
	switch te.Kind {
	case tokens.KindValidation:
		return http.StatusBadRequest, ErrorResponse{Error: te.Reason}
	case tokens.KindRecordNotFound:
		return http.StatusNotFound, ErrorResponse{Error: "share not found"}
	case tokens.KindTokenRefreshFailed:
		msg := "token refresh failed"
		if te.Reason != "" {
			msg += ": " + te.Reason
		}
		resp := ErrorResponse{Error: msg, Status: te.Status, Details: te.Body}
		if te.Status >= http.StatusInternalServerError {
			return http.StatusBadGateway, resp
		}
		return http.StatusUnauthorized, resp
	case tokens.KindProviderTransport:
		resp := ErrorResponse{Error: "spotify unreachable", Details: te.Reason}
		if resp.Details == "" && te.Err != nil {
			resp.Details = te.Err.Error()
		}
		return http.StatusBadGateway, resp
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	}
}

// classifyRefresh maps a direct refresh failure. Unreachable Spotify is a 502; anything else is a 500.
func classifyRefresh(err error) (int, ErrorResponse) {
	var re *services.RefreshError
	if !errors.As(err, &re) {
		return http.StatusInternalServerError, ErrorResponse{Error: "failed to refresh token"}
	}
	if re.Transport {
		return http.StatusBadGateway, ErrorResponse{Error: "spotify unreachable", Details: re.Reason}
	}

	resp := ErrorResponse{Error: "failed to refresh token", Status: re.Status, Details: re.Body}
	if re.Reason != "" {
		resp.Error += ": " + re.Reason
	}
	return http.StatusInternalServerError, resp
}
