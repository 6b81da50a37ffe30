// Package scheduler implements the daily highlight delivery batch for the
// Tomorrow platform: candidate loading, the send-window time filter, content
// selection, provider sends with per-user failure isolation, and the
// append-only audit trail. It also carries the retention job that archives
// and prunes old audit records.
//
// This file defines the shared types for the cron multiplexer. The
// TriggerPayload is the JSON structure sent by EventBridge rules to the
// cron-worker Lambda; the TaskType constant determines which service method
// handles the request.
package scheduler

import "tomorrow/internal/types"

// TaskType identifies which job the cron-worker should run for an
// EventBridge event.
type TaskType string

const (
	// TaskDaily runs the delivery batch against the default daily send time.
	TaskDaily TaskType = "daily"
	// TaskSweep runs the delivery batch against the current wall clock. It is
	// invoked every few minutes so users with non-default send times are
	// caught inside their tolerance window.
	TaskSweep TaskType = "sweep"
	// TaskTest sends one connectivity-test email to the configured address.
	TaskTest TaskType = "test"
	// TaskRetention archives and deletes expired audit records.
	TaskRetention TaskType = "retention"
)

// TriggerPayload is the JSON payload sent by EventBridge to the cron-worker
// Lambda. Time optionally overrides the compared send time for manual
// invocation; ForceAll bypasses the time filter entirely.
//
//	{
//	  "task": "daily",
//	  "time": "06:00",      // optional
//	  "force_all": false    // optional
//	}
type TriggerPayload struct {
	Task     TaskType `json:"task"`
	Time     string   `json:"time,omitempty"`
	ForceAll bool     `json:"force_all,omitempty"`
}

// RunOptions controls a single delivery batch.
type RunOptions struct {
	// TargetTime substitutes the compared current-time string ("HH:MM").
	// The tolerance filter still applies; only ForceAll bypasses it.
	TargetTime string
	// ForceAll sends to every candidate regardless of send time.
	ForceAll bool
	// OnlyRandom restricts the batch to random-mode preferences.
	OnlyRandom bool
	// OnlySpecific restricts the batch to pinned-highlight preferences.
	OnlySpecific bool
	// Kind tags the audit records written by this batch. Defaults to
	// KindScheduled.
	Kind types.SendKind
}

// BatchResult aggregates one delivery batch. Processed counts every
// iterated candidate, so a completed batch satisfies Processed == Total ==
// Sent + Skipped + Failed.
type BatchResult struct {
	Total     int          `json:"total"`
	Processed int          `json:"processed"`
	Sent      int          `json:"sent"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Errors    []string     `json:"errors,omitempty"`
	Users     []UserResult `json:"users,omitempty"`
}

// UserResult is the per-user line item in a batch result. Email is redacted
// before it enters the result; the raw address never leaves the send path.
type UserResult struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Status string `json:"status"` // "sent", "skipped" or "failed"
	Reason string `json:"reason,omitempty"`
}

// UserResult status values.
const (
	StatusSent    = "sent"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)
