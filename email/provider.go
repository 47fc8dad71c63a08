// Package email renders and sends the digest and confirmation mails via a
// pluggable provider.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"seminar-hub/pkg/seminar"
)

// Provider defines the interface for mail sending implementations. Business
// rejections (bounced or invalid addresses) come back as error results,
// never as panics.
type Provider interface {
	// Send delivers one HTML email. Extra headers (List-Unsubscribe and the
	// like) are passed through to the transport.
	Send(ctx context.Context, to, subject, htmlBody string, headers map[string]string) error
}

// Sender composes and sends seminar mails using a pluggable provider.
type Sender struct {
	provider   Provider
	logger     *slog.Logger
	baseURL    string // for confirm/unsubscribe links in bodies
	loc        *time.Location
	confirmTTL time.Duration // quoted in the confirmation mail's expiry note
}

// New creates a mail sender.
func New(provider Provider, baseURL string, loc *time.Location, confirmTTL time.Duration, logger *slog.Logger) *Sender {
	return &Sender{
		provider:   provider,
		logger:     logger,
		baseURL:    baseURL,
		loc:        loc,
		confirmTTL: confirmTTL,
	}
}

// SendDigest sends the weekly events mail to one subscriber. weekStart is
// the Monday the digest window opens on; unsubToken is embedded in the
// footer link and the List-Unsubscribe header.
func (s *Sender) SendDigest(ctx context.Context, sub *seminar.Subscriber, events []seminar.Event, weekStart time.Time, unsubToken string) error {
	if len(events) == 0 {
		return nil
	}

	subject := "Helsinki GSE Seminars — Week of " + weekStart.Format("2 Jan 2006")
	unsubURL := fmt.Sprintf("%s/unsubscribe?token=%s", s.baseURL, url.QueryEscape(unsubToken))
	body := s.formatDigestBody(events, unsubURL)
	headers := map[string]string{"List-Unsubscribe": "<" + unsubURL + ">"}

	s.logger.Info("Sending digest email",
		"to", sub.Email,
		"subscriber_id", sub.ID,
		"event_count", len(events))

	return s.provider.Send(ctx, sub.Email, subject, body, headers)
}

// SendConfirmation sends the double-opt-in mail with the confirm link.
func (s *Sender) SendConfirmation(ctx context.Context, email, confirmToken string) error {
	confirmURL := fmt.Sprintf("%s/confirm?token=%s", s.baseURL, url.QueryEscape(confirmToken))
	body := s.formatConfirmationBody(confirmURL)

	s.logger.Info("Sending confirmation email", "to", email)

	return s.provider.Send(ctx, email, "Confirm your Helsinki GSE seminar subscription", body, nil)
}
