package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/triboar/guild-sync/internal/core/domain"
	"github.com/triboar/guild-sync/internal/core/ports"
	"github.com/triboar/guild-sync/internal/metrics"
)

// EventQueue is the interface the handler uses to enqueue billing events.
type EventQueue interface {
	Enqueue(ctx context.Context, event ports.BillingEventInput) error
}

// WebhookHandler handles billing webhook ingestion.
type WebhookHandler struct {
	queue EventQueue
	log   zerolog.Logger
}

func NewWebhookHandler(queue EventQueue, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{queue: queue, log: log.With().Str("component", "webhook").Logger()}
}

// Receive handles POST /webhooks/billing. Known events are queued for
// incremental sync; unknown types are acknowledged and dropped so the
// backend does not keep retrying them. The payload of an unknown type is
// never validated: other event families carry no discordId.
//
// @Summary      Receive a billing event
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      billingEventRequest  true  "Billing event"
// @Success      202   {object}  acceptedResponse
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      403   {object}  map[string]string
// @Failure      422   {object}  map[string]string
// @Failure      503   {object}  map[string]string
// @Router       /webhooks/billing [post]
func (h *WebhookHandler) Receive(c echo.Context) error {
	var req billingEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if req.Type != "" {
		if _, err := domain.ParseBillingEventKind(req.Type); err != nil {
			metrics.BillingEventsTotal.WithLabelValues("unknown").Inc()
			h.log.Warn().Str("type", req.Type).Msg("unknown billing event type ignored")
			return c.JSON(http.StatusAccepted, acceptedResponse{Message: "event ignored"})
		}
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	event := ports.BillingEventInput{Type: req.Type, DiscordID: req.Data.DiscordID}
	if err := h.queue.Enqueue(c.Request().Context(), event); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event queue unavailable")
	}

	metrics.BillingEventsTotal.WithLabelValues(req.Type).Inc()
	h.log.Info().Str("type", req.Type).Str("user_id", req.Data.DiscordID).Msg("billing event accepted")
	return c.JSON(http.StatusAccepted, acceptedResponse{Message: "event accepted"})
}
