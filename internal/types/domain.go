// Package types defines the shared domain model for the Tomorrow platform:
// highlights, books, per-user delivery preferences, and the append-only
// delivery audit log. It also provides the application error type and
// request-scoped context helpers used across all other packages.
package types

import "time"

// SelectionMode is the per-user policy for choosing each day's highlight.
type SelectionMode string

const (
	// SelectionRandom picks uniformly at random from the user's highlights.
	SelectionRandom SelectionMode = "random"
	// SelectionSpecific always delivers the pinned highlight.
	SelectionSpecific SelectionMode = "specific"
)

// Outcome is the terminal result of one delivery attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "error"
)

// SendKind tags audit records so scheduled batch sends can be distinguished
// from operator-triggered test sends.
type SendKind string

const (
	KindScheduled SendKind = "scheduled_email"
	KindTest      SendKind = "test_email"
)

// DefaultSendTime is the delivery time assigned when a preference does not
// specify one. Format: "HH:MM" in 24h, reference timezone.
const DefaultSendTime = "06:00"

// DeliveryPreference is a user's email delivery configuration. At most one
// active record exists per user.
type DeliveryPreference struct {
	UserID      string        `json:"user_id"`
	SendTime    string        `json:"send_time"` // "HH:MM", 24h
	Mode        SelectionMode `json:"mode"`
	HighlightID string        `json:"highlight_id,omitempty"` // required iff Mode == SelectionSpecific
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Candidate is one row of the due-user query: a user with a configured
// delivery preference and a non-empty contact address. Users without either
// are excluded at the source, not filtered downstream.
type Candidate struct {
	UserID      string
	Email       string
	Name        string
	SendTime    string
	Mode        SelectionMode
	HighlightID string
}

// Highlight is a single saved book passage.
type Highlight struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	BookID    string    `json:"book_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Book is the source a highlight was taken from.
type Book struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Author string `json:"author"`
}

// Fallback display values used when a highlight's book join produces nothing.
// A missing join must never block delivery.
const (
	UnknownBookTitle  = "Unknown Book"
	UnknownBookAuthor = "Unknown Author"
)

// HighlightWithBook is a highlight hydrated with its book's display fields.
// BookTitle and BookAuthor are always populated, falling back to the Unknown*
// constants when the book row is absent or has empty fields.
type HighlightWithBook struct {
	Highlight
	BookTitle  string `json:"book_title"`
	BookAuthor string `json:"book_author"`
}

// DeliveryAttemptRecord is one append-only audit log entry, written at the
// end of each per-user delivery attempt. Records are never mutated or
// deleted by the delivery path; only the retention job removes old rows.
type DeliveryAttemptRecord struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Outcome   Outcome       `json:"status"`
	Detail    AttemptDetail `json:"details"`
	Kind      SendKind      `json:"type"`
	CreatedAt time.Time     `json:"created_at"`
}

// AttemptDetail is the structured payload stored with each audit record.
// Exactly one of MessageID or Error is meaningful depending on the outcome.
type AttemptDetail struct {
	HighlightID string `json:"highlight_id,omitempty"`
	BookTitle   string `json:"book_title,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SendInput is the transport-agnostic description of one outbound email.
// The provider client maps it to its wire format and returns the provider's
// message id for audit correlation.
type SendInput struct {
	To      string
	From    EmailAddress
	Subject string
	Text    string
	// ReferenceID correlates the provider's delivery events with the
	// originating attempt. Optional.
	ReferenceID string
}

// EmailAddress pairs an address with an optional display name.
type EmailAddress struct {
	Address string
	Name    string
}
