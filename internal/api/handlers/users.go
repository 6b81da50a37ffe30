package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tomorrow/internal/core"
	"tomorrow/internal/types"
)

const (
	defaultLogsLimit = 50
	maxLogsLimit     = 200
)

// --- Service Interfaces ---

// PreferenceStore is the settings persistence contract for the user handler.
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (*types.DeliveryPreference, error)
	Upsert(ctx context.Context, pref *types.DeliveryPreference) error
	Delete(ctx context.Context, userID string) error
}

// AttemptLogReader exposes a user's recent delivery audit records.
type AttemptLogReader interface {
	ListRecentByUser(ctx context.Context, userID string, limit int) ([]*types.DeliveryAttemptRecord, error)
}

// --- Request Models ---

// PreferenceRequest is the body of PUT /v1/users/{userID}/preferences.
type PreferenceRequest struct {
	SendTime    string `json:"sendTime" validate:"required,hhmm"`
	Mode        string `json:"mode" validate:"required,selection_mode"`
	HighlightID string `json:"highlightId"`
}

// UserHandler serves the per-user settings and audit surface: delivery
// preferences and the recent delivery log. A missing preference is reported
// as 404; clients render defaults in that case.
type UserHandler struct {
	prefs     PreferenceStore
	logs      AttemptLogReader
	validator *core.Validator
	logger    *slog.Logger
}

// NewUserHandler creates a new UserHandler with the provided dependencies.
func NewUserHandler(
	prefs PreferenceStore,
	logs AttemptLogReader,
	v *core.Validator,
	logger *slog.Logger,
) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{
		prefs:     prefs,
		logs:      logs,
		validator: v,
		logger:    logger,
	}
}

// RegisterRoutes mounts the user settings endpoints onto the mux.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/preferences", h.HandleGetPreferences)
		r.Put("/preferences", h.HandlePutPreferences)
		r.Delete("/preferences", h.HandleDeletePreferences)
		r.Get("/logs", h.HandleListLogs)
	})
}

// --- Handler Methods ---

// HandleGetPreferences handles GET /v1/users/{userID}/preferences.
func (h *UserHandler) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	pref, err := h.prefs.Get(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.Success(w, r, "", pref)
}

// HandlePutPreferences handles PUT /v1/users/{userID}/preferences. Creates
// or replaces the user's delivery preference. A pinned highlight id is
// required when the mode is specific and discarded when it is random, so a
// stale pin can never resurface after switching modes.
func (h *UserHandler) HandlePutPreferences(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req PreferenceRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	mode := types.SelectionMode(req.Mode)
	if mode == types.SelectionSpecific && req.HighlightID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationPinnedMissing,
			"highlightId is required when mode is specific",
			nil,
		))
		return
	}
	if mode == types.SelectionRandom {
		req.HighlightID = ""
	}

	pref := &types.DeliveryPreference{
		UserID:      userID,
		SendTime:    req.SendTime,
		Mode:        mode,
		HighlightID: req.HighlightID,
	}
	if err := h.prefs.Upsert(r.Context(), pref); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "delivery preference updated",
		"user_id", userID,
		"send_time", pref.SendTime,
		"mode", pref.Mode,
	)
	core.Success(w, r, "preferences saved", pref)
}

// HandleDeletePreferences handles DELETE /v1/users/{userID}/preferences,
// unsubscribing the user from the daily email.
func (h *UserHandler) HandleDeletePreferences(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := h.prefs.Delete(r.Context(), userID); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "delivery preference removed", "user_id", userID)
	core.Success(w, r, "preferences removed", nil)
}

// HandleListLogs handles GET /v1/users/{userID}/logs. Returns the user's
// most recent delivery attempts, newest first.
func (h *UserHandler) HandleListLogs(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := defaultLogsLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 || parsed > maxLogsLimit {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"limit must be a number between 1 and 200",
				nil,
			))
			return
		}
		limit = parsed
	}

	records, err := h.logs.ListRecentByUser(r.Context(), userID, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if records == nil {
		records = []*types.DeliveryAttemptRecord{}
	}

	core.Success(w, r, "", map[string]any{
		"logs":  records,
		"count": len(records),
	})
}
