// Package backend talks to the billing backend's REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/triboar/guild-sync/internal/core/domain"
	"github.com/triboar/guild-sync/internal/core/ports"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

// Config holds configuration for the backend client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client implements ports.BackendClient over HTTP with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	validate   *validator.Validate
	log        zerolog.Logger
}

// NewClient returns a backend client rooted at cfg.BaseURL + "/api".
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("backend: invalid base URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/") + "/api",
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		validate:   validator.New(),
		log:        log.With().Str("component", "backend").Logger(),
	}, nil
}

var _ ports.BackendClient = (*Client)(nil)

// listEntry is one row of /lists/subscribed or /lists/grace.
type listEntry struct {
	UserID         string     `json:"userId"`
	DiscordID      string     `json:"discordId"`
	ExpiresAt      *time.Time `json:"expiresAt"`
	GraceEndsAt    *time.Time `json:"graceEndsAt"`
	GraceDMEnabled *bool      `json:"graceDmEnabled"`
}

type listResponse struct {
	List *[]listEntry `json:"list" validate:"required"`
}

type userSearchResponse struct {
	Users []struct {
		ID string `json:"id" validate:"required"`
	} `json:"users" validate:"dive"`
}

type graceRequest struct {
	UserID    string `json:"userId"`
	DiscordID string `json:"discordId"`
}

type preferenceRequest struct {
	DMEnabled bool `json:"dmEnabled"`
}

type auditRequest struct {
	UserID    string         `json:"userId,omitempty"`
	DiscordID string         `json:"discordId,omitempty"`
	EventType string         `json:"eventType"`
	Payload   map[string]any `json:"payload"`
}

// ActiveSubscribers returns the Active list.
func (c *Client) ActiveSubscribers(ctx context.Context) ([]domain.SubscriberRecord, error) {
	return c.fetchList(ctx, "/lists/subscribed", domain.StatusActive)
}

// GraceSubscribers returns the Grace list.
func (c *Client) GraceSubscribers(ctx context.Context) ([]domain.SubscriberRecord, error) {
	return c.fetchList(ctx, "/lists/grace", domain.StatusGrace)
}

func (c *Client) EnterGracePeriod(ctx context.Context, userID, discordID string) error {
	return c.mutate(ctx, http.MethodPost, "/admin/grace-period/add", graceRequest{userID, discordID})
}

func (c *Client) ExitGracePeriod(ctx context.Context, userID, discordID string) error {
	return c.mutate(ctx, http.MethodPost, "/admin/grace-period/remove", graceRequest{userID, discordID})
}

func (c *Client) ExpireGracePeriod(ctx context.Context, userID, discordID string) error {
	return c.mutate(ctx, http.MethodPost, "/admin/grace-period/expire", graceRequest{userID, discordID})
}

// ResolveUserID looks up the backend user id for a Discord id.
func (c *Client) ResolveUserID(ctx context.Context, discordID string) (string, error) {
	q := url.Values{"discord_id": {discordID}, "limit": {"1"}}

	var out userSearchResponse
	if err := c.get(ctx, "/admin/users/search?"+q.Encode(), &out); err != nil {
		return "", err
	}
	if err := c.validate.Struct(&out); err != nil {
		return "", fmt.Errorf("%w: user search response: %w", domain.ErrFetchFailure, err)
	}
	if len(out.Users) == 0 {
		return "", fmt.Errorf("discord id %s: %w", discordID, domain.ErrUserNotFound)
	}
	return out.Users[0].ID, nil
}

func (c *Client) SetGraceReminderPreference(ctx context.Context, userID string, enabled bool) error {
	path := "/admin/users/" + url.PathEscape(userID) + "/grace-dm-preference"
	return c.mutate(ctx, http.MethodPut, path, preferenceRequest{DMEnabled: enabled})
}

// WriteAudit posts a bot action to the backend audit log as eventType "bot.<action>".
func (c *Client) WriteAudit(ctx context.Context, rec ports.AuditRecord) error {
	payload := rec.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return c.mutate(ctx, http.MethodPost, "/admin/audit-log", auditRequest{
		UserID:    rec.UserID,
		DiscordID: rec.DiscordID,
		EventType: "bot." + rec.Action,
		Payload:   payload,
	})
}

func (c *Client) fetchList(ctx context.Context, path string, status domain.SubscriberStatus) ([]domain.SubscriberRecord, error) {
	var out listResponse
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(&out); err != nil {
		return nil, fmt.Errorf("%w: %s: malformed response: %w", domain.ErrFetchFailure, path, err)
	}

	records := make([]domain.SubscriberRecord, 0, len(*out.List))
	for _, e := range *out.List {
		notify := true
		if e.GraceDMEnabled != nil {
			notify = *e.GraceDMEnabled
		}
		records = append(records, domain.SubscriberRecord{
			UserID:           e.UserID,
			DiscordID:        e.DiscordID,
			Status:           status,
			ExpiresAt:        e.ExpiresAt,
			GraceEndsAt:      e.GraceEndsAt,
			NotifyPreference: notify,
		})
	}

	c.log.Debug().Str("path", path).Int("count", len(records)).Msg("fetched subscriber list")
	return records, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %w", domain.ErrFetchFailure, path, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: GET %s: decode: %w", domain.ErrFetchFailure, path, err)
	}
	return nil
}

func (c *Client) mutate(ctx context.Context, method, path string, body any) error {
	resp, err := c.request(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", domain.ErrMutationFailure, method, path, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// request sends one authenticated JSON request. Any status >= 400 is an error;
// 404 additionally wraps domain.ErrUserNotFound.
func (c *Client) request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %w", domain.ErrUserNotFound, err)
		}
		return nil, err
	}
	return resp, nil
}
