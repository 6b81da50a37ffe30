// Package email builds the outbound messages the delivery scheduler sends:
// the daily highlight email and the operator-triggered test email. Rendering
// is plain text; the provider client handles transmission.
package email

import (
	"fmt"
	"strings"
	"time"

	"tomorrow/internal/types"
)

// Composer builds provider-ready SendInputs from domain objects. It carries
// the sender identity and the public site URL used for footer links.
type Composer struct {
	From    types.EmailAddress
	SiteURL string
}

// NewComposer creates a Composer. siteURL should have no trailing slash.
func NewComposer(from types.EmailAddress, siteURL string) *Composer {
	return &Composer{
		From:    from,
		SiteURL: strings.TrimSuffix(siteURL, "/"),
	}
}

// DailyHighlight builds the scheduled daily email for one recipient. The
// subject names the book so the inbox line carries meaning; the body quotes
// the highlight and attributes it.
func (c *Composer) DailyHighlight(to, name string, hl types.HighlightWithBook) types.SendInput {
	var b strings.Builder

	if name != "" {
		fmt.Fprintf(&b, "Hi %s,\n\n", name)
	} else {
		b.WriteString("Hi,\n\n")
	}

	fmt.Fprintf(&b, "Here is today's highlight from %s by %s:\n\n", hl.BookTitle, hl.BookAuthor)
	fmt.Fprintf(&b, "%q\n\n", hl.Content)
	b.WriteString("—\n")
	fmt.Fprintf(&b, "Change your delivery time or unsubscribe: %s/settings\n", c.SiteURL)

	return types.SendInput{
		To:      to,
		From:    c.From,
		Subject: fmt.Sprintf("Your Daily Highlight from %s", hl.BookTitle),
		Text:    b.String(),
	}
}

// Test builds the operator test email used to verify provider configuration
// end to end. The timestamp makes repeated tests distinguishable in an inbox.
func (c *Composer) Test(to string, now time.Time) types.SendInput {
	body := fmt.Sprintf(
		"This is a test email from Tomorrow.\n\n"+
			"If you are reading this, outbound email delivery is configured correctly.\n\n"+
			"Sent at: %s\n",
		now.Format(time.RFC3339),
	)

	return types.SendInput{
		To:      to,
		From:    c.From,
		Subject: "Tomorrow delivery test",
		Text:    body,
	}
}
