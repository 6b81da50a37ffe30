package external

import (
	"context"

	"tomorrow/internal/types"
)

// EmailProvider abstracts the transactional email vendor (Resend).
// Implementations transmit pre-rendered content and return the provider's
// message id for audit correlation.
type EmailProvider interface {
	// Send transmits one email. Returns the provider's message ID.
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}
