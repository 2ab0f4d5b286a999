package handler

import "time"

type billingEventData struct {
	DiscordID string `json:"discordId" validate:"required,numeric"`
}

// billingEventRequest is the webhook body sent by the billing backend.
// Only type and data.discordId are consumed.
type billingEventRequest struct {
	Type string           `json:"type" validate:"required"`
	Data billingEventData `json:"data"`
}

type acceptedResponse struct {
	Message string `json:"message"`
}

type reminderPreferenceRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type runsResponse struct {
	Runs []runResponse `json:"runs"`
}

type runResponse struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Trigger    string            `json:"trigger"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Succeeded  bool              `json:"succeeded"`
	FetchError string            `json:"fetch_error,omitempty"`
	Steps      int               `json:"steps"`
	Failures   []failureResponse `json:"failures"`
}

type failureResponse struct {
	DiscordID string `json:"discord_id"`
	Step      string `json:"step"`
	Class     string `json:"error_class"`
	Error     string `json:"error"`
}
