package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunKind distinguishes the engine entry point that produced a run.
type RunKind string

const (
	RunFull        RunKind = "full"
	RunIncremental RunKind = "incremental"
	RunMemberJoin  RunKind = "member_join"
)

// Step names the per-user operation a result belongs to.
type Step string

const (
	StepValidate      Step = "validate"
	StepRoleGrant     Step = "role_grant"
	StepRoleRevoke    Step = "role_revoke"
	StepNotify        Step = "notify"
	StepGraceExpire   Step = "grace_expire"
	StepGraceExit     Step = "grace_exit"
	StepGraceLookup   Step = "grace_lookup"
	StepResolveUser   Step = "resolve_user"
	StepSetPreference Step = "set_preference"
)

// UserResult is the outcome of one per-user step.
type UserResult struct {
	DiscordID string     `json:"discord_id"`
	Step      Step       `json:"step"`
	Status    string     `json:"status"`
	Class     ErrorClass `json:"error_class,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Failed reports whether this step failed.
func (r UserResult) Failed() bool { return r.Class != ClassNone }

// Run is one reconciliation pass. It is ephemeral: it holds the results of the
// pass and is discarded (or summarised) once the pass completes.
type Run struct {
	ID         string
	Kind       RunKind
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time
	// FetchErr is set when a list fetch failed; nothing was applied in that case.
	FetchErr error

	mu      sync.Mutex
	results []UserResult
}

// NewRun starts a run of the given kind.
func NewRun(kind RunKind, trigger string, now time.Time) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		Trigger:   trigger,
		StartedAt: now,
	}
}

// Record appends a per-user result. Safe for concurrent use.
func (r *Run) Record(res UserResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

// RecordError appends a failed step for discordID.
func (r *Run) RecordError(discordID string, step Step, err error) {
	r.Record(UserResult{
		DiscordID: discordID,
		Step:      step,
		Status:    "failed",
		Class:     ClassOf(err),
		Error:     err.Error(),
	})
}

// Results returns a copy of the recorded results.
func (r *Run) Results() []UserResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]UserResult, len(r.results))
	copy(out, r.results)
	return out
}

// Failures returns the failed results only.
func (r *Run) Failures() []UserResult {
	var out []UserResult
	for _, res := range r.Results() {
		if res.Failed() {
			out = append(out, res)
		}
	}
	return out
}

// Succeeded reports overall run success: the list fetch worked, regardless of
// individual per-user outcomes.
func (r *Run) Succeeded() bool { return r.FetchErr == nil }

// Finish stamps the completion time.
func (r *Run) Finish(now time.Time) { r.FinishedAt = now }

// Duration is the wall time of a finished run.
func (r *Run) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// RunSummary is the persisted, subscriber-free view of a finished run.
type RunSummary struct {
	ID         string       `json:"id"`
	Kind       RunKind      `json:"kind"`
	Trigger    string       `json:"trigger"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Succeeded  bool         `json:"succeeded"`
	FetchError string       `json:"fetch_error,omitempty"`
	Steps      int          `json:"steps"`
	Failures   []UserResult `json:"failures,omitempty"`
}

// Summary condenses the run for reporting.
func (r *Run) Summary() RunSummary {
	s := RunSummary{
		ID:         r.ID,
		Kind:       r.Kind,
		Trigger:    r.Trigger,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Succeeded:  r.Succeeded(),
		Steps:      len(r.Results()),
		Failures:   r.Failures(),
	}
	if r.FetchErr != nil {
		s.FetchError = r.FetchErr.Error()
	}
	return s
}
