package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/triboar/guild-sync/internal/core/domain"
	"github.com/triboar/guild-sync/internal/core/ports"
)

const defaultRunsLimit = 20

// FullSyncTrigger starts a guarded full reconciliation run.
type FullSyncTrigger interface {
	RunOnce(ctx context.Context, trigger string) (*domain.Run, error)
}

// AdminHandler serves the operator endpoints.
type AdminHandler struct {
	sync       FullSyncTrigger
	runs       ports.RunRepository
	reconciler ports.Reconciler
	background *Background
	log        zerolog.Logger
}

func NewAdminHandler(sync FullSyncTrigger, runs ports.RunRepository, reconciler ports.Reconciler, background *Background, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		sync:       sync,
		runs:       runs,
		reconciler: reconciler,
		background: background,
		log:        log.With().Str("component", "admin").Logger(),
	}
}

// TriggerSync handles POST /admin/sync. The run continues after the response
// on the server-lifetime context, so shutdown cancels and drains it.
//
// @Summary      Start a full sync
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      202  {object}  acceptedResponse
// @Failure      401  {object}  map[string]string
// @Failure      403  {object}  map[string]string
// @Router       /admin/sync [post]
func (h *AdminHandler) TriggerSync(c echo.Context) error {
	h.background.Go(func(ctx context.Context) {
		run, err := h.sync.RunOnce(ctx, "manual")
		switch {
		case errors.Is(err, domain.ErrRunInProgress):
			h.log.Info().Msg("manual sync skipped, run in progress")
		case err != nil:
			h.log.Error().Err(err).Msg("manual sync failed")
		case run != nil:
			h.log.Info().Str("run_id", run.ID).Msg("manual sync finished")
		}
	})
	return c.JSON(http.StatusAccepted, acceptedResponse{Message: "full sync started"})
}

// ListRuns handles GET /admin/runs?limit=N, newest first.
//
// @Summary      List recent reconciliation runs
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        limit  query     int  false  "Maximum number of runs"
// @Success      200    {object}  runsResponse
// @Failure      400    {object}  map[string]string
// @Failure      401    {object}  map[string]string
// @Failure      403    {object}  map[string]string
// @Failure      501    {object}  map[string]string
// @Router       /admin/runs [get]
func (h *AdminHandler) ListRuns(c echo.Context) error {
	if h.runs == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "run history is not configured")
	}

	limit := defaultRunsLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	summaries, err := h.runs.Recent(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toRunsResponse(summaries))
}

// SetReminders handles PUT /admin/users/:discordId/reminders.
//
// @Summary      Enable or disable grace reminders for a user
// @Tags         admin
// @Accept       json
// @Security     BearerAuth
// @Param        discordId  path  string                     true  "Discord user id"
// @Param        body       body  reminderPreferenceRequest  true  "Preference"
// @Success      204
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      403  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      422  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /admin/users/{discordId}/reminders [put]
func (h *AdminHandler) SetReminders(c echo.Context) error {
	discordID := c.Param("discordId")
	if discordID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "discordId is required")
	}

	var req reminderPreferenceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	if err := h.reconciler.SetReminderPreference(c.Request().Context(), discordID, *req.Enabled); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func toRunsResponse(summaries []domain.RunSummary) runsResponse {
	out := runsResponse{Runs: make([]runResponse, 0, len(summaries))}
	for _, s := range summaries {
		r := runResponse{
			ID:         s.ID,
			Kind:       string(s.Kind),
			Trigger:    s.Trigger,
			StartedAt:  s.StartedAt,
			FinishedAt: s.FinishedAt,
			Succeeded:  s.Succeeded,
			FetchError: s.FetchError,
			Steps:      s.Steps,
			Failures:   make([]failureResponse, 0, len(s.Failures)),
		}
		for _, f := range s.Failures {
			r.Failures = append(r.Failures, failureResponse{
				DiscordID: f.DiscordID,
				Step:      string(f.Step),
				Class:     string(f.Class),
				Error:     f.Error,
			})
		}
		out.Runs = append(out.Runs, r)
	}
	return out
}
