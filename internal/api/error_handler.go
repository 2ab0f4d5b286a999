package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/triboar/guild-sync/internal/core/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusMapping ties a domain error to the status and client message it renders as.
// An empty message means err.Error() is safe to show.
type statusMapping struct {
	target  error
	status  int
	message string
}

var statusMappings = []statusMapping{
	{domain.ErrUserNotFound, http.StatusNotFound, "user not found"},
	{domain.ErrRunInProgress, http.StatusConflict, "a full sync is already running"},
	{domain.ErrInvalidRecord, http.StatusUnprocessableEntity, ""},
	{domain.ErrUnknownEventType, http.StatusUnprocessableEntity, ""},
	{domain.ErrInvalidTransition, http.StatusUnprocessableEntity, ""},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "upstream timeout"},
	{domain.ErrFetchFailure, http.StatusBadGateway, "billing backend unavailable"},
	{domain.ErrMutationFailure, http.StatusBadGateway, "billing backend unavailable"},
}

// NewHTTPErrorHandler renders every error as {"error": "..."}. Domain errors get
// fixed status codes; anything else is logged and returned as a bare 500.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	log = log.With().Str("component", "http").Logger()
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, msg := resolveError(err)
		if code >= http.StatusInternalServerError {
			log.Error().
				Err(err).
				Int("status", code).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Msg("request failed")
		}
		_ = c.JSON(code, errorResponse{Error: msg})
	}
}

func resolveError(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprintf("%v", he.Message)
	}

	for _, m := range statusMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		if m.message == "" {
			return m.status, err.Error()
		}
		return m.status, m.message
	}
	return http.StatusInternalServerError, "internal server error"
}
