package core

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tomorrow/internal/types"
)

type preferenceRequest struct {
	SendTime    string `json:"sendTime" validate:"required,hhmm"`
	Mode        string `json:"mode" validate:"required,selection_mode"`
	Email       string `json:"email" validate:"omitempty,email"`
	HighlightID string `json:"highlightId" validate:"omitempty"`
}

func validRequest() preferenceRequest {
	return preferenceRequest{SendTime: "06:00", Mode: "random"}
}

func TestValidateStruct(t *testing.T) {
	v := NewValidator(slog.Default())

	tests := []struct {
		name     string
		mutate   func(*preferenceRequest)
		wantCode types.ErrorCode
	}{
		{"valid", func(*preferenceRequest) {}, ""},
		{"missing send time", func(r *preferenceRequest) { r.SendTime = "" }, types.ErrCodeValidationMissingField},
		{"bad send time", func(r *preferenceRequest) { r.SendTime = "25:00" }, types.ErrCodeValidationInvalidTime},
		{"not hh:mm", func(r *preferenceRequest) { r.SendTime = "6am" }, types.ErrCodeValidationInvalidTime},
		{"bad mode", func(r *preferenceRequest) { r.Mode = "sometimes" }, types.ErrCodeValidationInvalidMode},
		{"bad email", func(r *preferenceRequest) { r.Email = "not-an-email" }, types.ErrCodeValidationInvalidEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := v.ValidateStruct(req)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}

			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}
}

func TestValidateStruct_ReportsAllFields(t *testing.T) {
	v := NewValidator(slog.Default())

	err := v.ValidateStruct(preferenceRequest{SendTime: "noon", Mode: "sometimes"})

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Len(t, appErr.Details, 2, "every failing field appears in details")
	assert.Equal(t, "hhmm", appErr.Details["sendtime"])
	assert.Equal(t, "selection_mode", appErr.Details["mode"])
}

func TestValidateHHMMBoundaries(t *testing.T) {
	v := NewValidator(slog.Default())

	// Single-digit hours are accepted, matching what the settings form sends.
	for _, good := range []string{"00:00", "23:59", "06:05", "6:30"} {
		req := validRequest()
		req.SendTime = good
		assert.NoError(t, v.ValidateStruct(req), good)
	}
	for _, bad := range []string{"24:00", "12:60", "morning", "0600"} {
		req := validRequest()
		req.SendTime = bad
		assert.Error(t, v.ValidateStruct(req), bad)
	}
}
