// Package handlers contains the HTTP handler implementations for the
// Tomorrow API: the operator trigger endpoints that start delivery batches
// and the per-user settings and audit surface.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tomorrow/internal/core"
	"tomorrow/internal/email"
	"tomorrow/internal/scheduler"
	"tomorrow/internal/types"
)

// testPickLimit bounds the pool the ad-hoc test send draws from: the most
// recently saved highlights across all users.
const testPickLimit = 10

// --- Service Interfaces ---

// BatchRunner is the scheduler contract the trigger endpoints drive.
// Defined locally to keep the handler decoupled from the scheduler package's
// concrete type.
type BatchRunner interface {
	Run(ctx context.Context, opts scheduler.RunOptions) (*scheduler.BatchResult, error)
	SendTest(ctx context.Context, recipient string) (string, error)
}

// HighlightPicker supplies content for ad-hoc test sends. These reads are
// not owner-scoped; the recipient is an operator-supplied address, not a
// highlight owner.
type HighlightPicker interface {
	ListRecent(ctx context.Context, limit int) ([]types.HighlightWithBook, error)
	Get(ctx context.Context, highlightID string) (*types.HighlightWithBook, error)
}

// EmailSender transmits one composed message and returns the provider
// message id.
type EmailSender interface {
	Send(ctx context.Context, input types.SendInput) (string, error)
}

// --- Request / Response Models ---

// SendScheduledRequest is the body of POST /v1/send-scheduled. Both fields
// are optional; an empty body runs the batch against the current time.
type SendScheduledRequest struct {
	Time     string `json:"time" validate:"omitempty,hhmm"`
	ForceAll bool   `json:"forceAll"`
}

// TestTriggerRequest is the body of POST /v1/test-trigger. Test mode sends
// one ad-hoc email; real mode runs a filtered batch.
type TestTriggerRequest struct {
	Mode        string `json:"mode" validate:"required,oneof=test real"`
	TestEmail   string `json:"testEmail" validate:"omitempty,email"`
	Option      string `json:"option" validate:"omitempty,oneof=all morning random specific"`
	HighlightID string `json:"highlightId"`
}

// TestSendResult is the result payload of a test-mode trigger.
type TestSendResult struct {
	MessageID string               `json:"id"`
	To        string               `json:"to"`
	Highlight TestHighlightSummary `json:"highlight"`
}

// TestHighlightSummary describes which highlight the test email carried.
type TestHighlightSummary struct {
	ID         string `json:"id"`
	BookTitle  string `json:"bookTitle"`
	BookAuthor string `json:"bookAuthor"`
	Content    string `json:"content"`
}

// TriggerHandler maps the operator trigger endpoints onto the scheduler.
// All routes it registers must sit behind the admin key middleware.
type TriggerHandler struct {
	runner        BatchRunner
	highlights    HighlightPicker
	sender        EmailSender
	composer      *email.Composer
	validator     *core.Validator
	logger        *slog.Logger
	dailySendTime string
	testRecipient string
	randFn        func(n int) int
}

// TriggerOption customizes a TriggerHandler.
type TriggerOption func(*TriggerHandler)

// WithTriggerRandFn overrides the random source used to pick the test-send
// highlight. Tests inject a deterministic pick.
func WithTriggerRandFn(fn func(n int) int) TriggerOption {
	return func(h *TriggerHandler) { h.randFn = fn }
}

// NewTriggerHandler creates a new TriggerHandler with the provided
// dependencies. dailySendTime is the fixed time the daily cron compares
// against; testRecipient is the configured connectivity-test address.
func NewTriggerHandler(
	runner BatchRunner,
	highlights HighlightPicker,
	sender EmailSender,
	composer *email.Composer,
	v *core.Validator,
	logger *slog.Logger,
	dailySendTime string,
	testRecipient string,
	opts ...TriggerOption,
) *TriggerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if dailySendTime == "" {
		dailySendTime = types.DefaultSendTime
	}
	h := &TriggerHandler{
		runner:        runner,
		highlights:    highlights,
		sender:        sender,
		composer:      composer,
		validator:     v,
		logger:        logger,
		dailySendTime: dailySendTime,
		testRecipient: testRecipient,
		randFn:        rand.Intn,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the trigger endpoints onto the mux. The caller is
// responsible for wrapping the group in admin key auth.
func (h *TriggerHandler) RegisterRoutes(r chi.Router) {
	r.Post("/send-scheduled", h.HandleSendScheduled)
	r.Get("/cron/daily", h.HandleCronDaily)
	r.Post("/cron/daily", h.HandleCronDaily)
	r.Get("/cron/test", h.HandleCronTest)
	r.Post("/test-trigger", h.HandleTestTrigger)
}

// --- Handler Methods ---

// HandleSendScheduled handles POST /v1/send-scheduled. Runs a delivery
// batch, optionally substituting the compared time or bypassing the time
// filter entirely.
func (h *TriggerHandler) HandleSendScheduled(w http.ResponseWriter, r *http.Request) {
	var req SendScheduledRequest
	if r.ContentLength > 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		if err := h.validator.ValidateStruct(req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	result, err := h.runner.Run(r.Context(), scheduler.RunOptions{
		TargetTime: req.Time,
		ForceAll:   req.ForceAll,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.Success(w, r, "scheduled batch completed", result)
}

// HandleCronDaily handles GET|POST /v1/cron/daily: the fixed daily trigger.
// The batch is compared against the configured daily send time rather than
// the invocation time, so a late-firing cron still matches its users.
func (h *TriggerHandler) HandleCronDaily(w http.ResponseWriter, r *http.Request) {
	result, err := h.runner.Run(r.Context(), scheduler.RunOptions{
		TargetTime: h.dailySendTime,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.Success(w, r, "daily batch completed", result)
}

// HandleCronTest handles GET /v1/cron/test: a connectivity-test send to the
// configured test address.
func (h *TriggerHandler) HandleCronTest(w http.ResponseWriter, r *http.Request) {
	msgID, err := h.runner.SendTest(r.Context(), h.testRecipient)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.Success(w, r, "test email sent", map[string]string{
		"id": msgID,
		"to": h.testRecipient,
	})
}

// HandleTestTrigger handles POST /v1/test-trigger: the operator-facing
// manual trigger. Test mode sends one ad-hoc email to an operator-supplied
// address; real mode runs a batch with the chosen filter.
func (h *TriggerHandler) HandleTestTrigger(w http.ResponseWriter, r *http.Request) {
	var req TestTriggerRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Mode == "test" {
		h.handleAdHocSend(w, r, req)
		return
	}

	// "all" (and an omitted option) runs the same daily-send-time batch as
	// "morning"; "random" and "specific" compare against the current time
	// with the mode filter applied.
	var opts scheduler.RunOptions
	switch req.Option {
	case "random":
		opts.OnlyRandom = true
	case "specific":
		opts.OnlySpecific = true
	default:
		opts.TargetTime = h.dailySendTime
	}

	result, err := h.runner.Run(r.Context(), opts)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	option := req.Option
	if option == "" {
		option = "all"
	}
	core.Success(w, r, fmt.Sprintf("manual trigger completed (%s)", option), result)
}

// handleAdHocSend builds and sends one test email outside the scheduler:
// the pinned highlight when an id is given, otherwise a random pick from
// the most recent saves, otherwise a sample so an empty database still
// produces a deliverable message.
func (h *TriggerHandler) handleAdHocSend(w http.ResponseWriter, r *http.Request, req TestTriggerRequest) {
	if req.TestEmail == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"testEmail is required in test mode",
			nil,
		))
		return
	}

	hl, err := h.pickTestHighlight(r.Context(), req.HighlightID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	input := h.composer.DailyHighlight(req.TestEmail, "", *hl)
	input.ReferenceID = uuid.New().String()

	msgID, err := h.sender.Send(r.Context(), input)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "ad-hoc test email sent",
		"to", email.RedactEmail(req.TestEmail),
		"highlight_id", hl.ID,
		"message_id", msgID,
	)

	core.Success(w, r, fmt.Sprintf("test email sent to %s", req.TestEmail), TestSendResult{
		MessageID: msgID,
		To:        req.TestEmail,
		Highlight: TestHighlightSummary{
			ID:         hl.ID,
			BookTitle:  hl.BookTitle,
			BookAuthor: hl.BookAuthor,
			Content:    hl.Content,
		},
	})
}

func (h *TriggerHandler) pickTestHighlight(ctx context.Context, highlightID string) (*types.HighlightWithBook, error) {
	if highlightID != "" {
		return h.highlights.Get(ctx, highlightID)
	}

	recent, err := h.highlights.ListRecent(ctx, testPickLimit)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return sampleHighlight(), nil
	}
	pick := recent[h.randFn(len(recent))]
	return &pick, nil
}

// sampleHighlight is the fallback content for test sends against an empty
// database.
func sampleHighlight() *types.HighlightWithBook {
	hl := types.HighlightWithBook{
		BookTitle:  "Tomorrow App",
		BookAuthor: "Admin",
	}
	hl.ID = "sample"
	hl.Content = "This is a sample highlight for a Tomorrow test email."
	return &hl
}
