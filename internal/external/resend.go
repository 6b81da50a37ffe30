package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tomorrow/internal/types"
)

// resendAPIBase is the default Resend API base URL.
// Overridable in tests via ResendClientConfig.BaseURL.
const resendAPIBase = "https://api.resend.com"

// ResendClientConfig holds the configuration for creating a ResendClient.
type ResendClientConfig struct {
	APIKey  string
	BaseURL string // Override for testing; defaults to resendAPIBase
	Logger  *slog.Logger
}

// ResendClient implements EmailProvider by making direct HTTP calls to the
// Resend /emails API through BaseClient, so every send goes through the
// platform's resilience infrastructure (circuit breaker, retries, error
// mapping) and tests run against httptest servers.
type ResendClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

// NewResendClient creates a new ResendClient. The httpClient timeout bounds
// each attempt; the retry policy bounds total time.
func NewResendClient(
	httpClient *http.Client,
	cfg ResendClientConfig,
) *ResendClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = resendAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"resend",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"Tomorrow/1.0",
	)

	return &ResendClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// NewResendClientWithBase creates a ResendClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration (e.g., disable retries).
func NewResendClientWithBase(
	base *BaseClient,
	cfg ResendClientConfig,
) *ResendClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = resendAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ResendClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Send transmits an email via POST /emails and returns the message id from
// the response body on success.
//
// Error mapping:
//   - 403 Forbidden -> types.ErrCodeEmailBlocked (recipient suppressed/blocked)
//   - 429 Too Many Requests -> handled by BaseClient (retry + ErrCodeUpstreamRateLimited)
//   - 5xx -> handled by BaseClient (retry + ErrCodeUpstreamUnavailable)
//   - Other 4xx -> types.ErrCodeUpstreamEmail
func (c *ResendClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	payload := buildResendPayload(input)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to marshal Resend email payload",
			err,
		)
	}

	reqURL := c.baseURL + "/emails"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create Resend send request",
			err,
		)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.base.Do(req)
	if err != nil {
		return "", c.wrapTransportError("Send", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		var out resendSendResponse
		if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
			return "", types.NewAppError(
				types.ErrCodeUpstreamEmail,
				"Send: Resend accepted the email but the response body was unreadable",
				decErr,
			)
		}
		return out.ID, nil
	}

	return "", c.handleErrorResponse(resp, "Send")
}

// resendEmailPayload is the JSON request body for POST /emails.
type resendEmailPayload struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	Text    string            `json:"text"`
	Headers map[string]string `json:"headers,omitempty"`
}

// resendSendResponse is the JSON success body for POST /emails.
type resendSendResponse struct {
	ID string `json:"id"`
}

// buildResendPayload maps a domain types.SendInput to the Resend payload.
// The from field uses the "Name <address>" form when a display name is set.
func buildResendPayload(input types.SendInput) resendEmailPayload {
	from := input.From.Address
	if input.From.Name != "" {
		from = fmt.Sprintf("%s <%s>", input.From.Name, input.From.Address)
	}

	payload := resendEmailPayload{
		From:    from,
		To:      []string{input.To},
		Subject: input.Subject,
		Text:    input.Text,
	}

	// X-Entity-Ref-ID correlates the provider's events with the originating
	// attempt and lets Resend deduplicate replays of the same reference.
	if input.ReferenceID != "" {
		payload.Headers = map[string]string{
			"X-Entity-Ref-ID": input.ReferenceID,
		}
	}

	return payload
}

// resendErrorResponse is the JSON error body returned by Resend.
type resendErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

// handleErrorResponse reads a Resend error response and maps it to a
// types.AppError.
func (c *ResendClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamEmail,
			fmt.Sprintf("%s: Resend returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var rsErr resendErrorResponse
	errMsg := ""
	if jsonErr := json.Unmarshal(body, &rsErr); jsonErr == nil && rsErr.Message != "" {
		errMsg = rsErr.Message
	} else {
		errMsg = string(body)
	}

	return c.mapResendError(operation, resp.StatusCode, errMsg)
}

// mapResendError translates a Resend HTTP error into a types.AppError.
func (c *ResendClient) mapResendError(operation string, statusCode int, message string) error {
	switch {
	case statusCode == http.StatusForbidden:
		// 403: recipient suppressed or sender blocked.
		return types.NewAppError(
			types.ErrCodeEmailBlocked,
			fmt.Sprintf("%s: Resend blocked delivery: %s", operation, message),
			nil,
		)
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Resend rate limit exceeded", operation),
			nil,
		)
	case statusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Resend server error: %s", operation, message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamEmail,
			fmt.Sprintf("%s: Resend error (%d): %s", operation, statusCode, message),
			nil,
		)
	}
}

// wrapTransportError wraps a BaseClient transport error with context.
func (c *ResendClient) wrapTransportError(operation string, err error) error {
	// AppErrors from BaseClient (circuit breaker, retries exhausted) already
	// carry the right error code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamEmail,
		fmt.Sprintf("%s: Resend request failed: %v", operation, err),
		err,
	)
}

// Compile-time assertion that ResendClient satisfies EmailProvider.
var _ EmailProvider = (*ResendClient)(nil)
