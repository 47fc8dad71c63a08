package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry-go"
)

const sendgridAPIURL = "https://api.sendgrid.com/v3/mail/send"

// SendGridProvider sends mail via the SendGrid v3 API.
type SendGridProvider struct {
	apiKey     string
	fromAddr   string
	fromName   string
	apiURL     string
	retryDelay time.Duration
	client     *http.Client
	logger     *slog.Logger
}

// NewSendGridProvider creates a SendGrid provider.
func NewSendGridProvider(apiKey, fromAddr, fromName string, logger *slog.Logger) *SendGridProvider {
	return &SendGridProvider{
		apiKey:     apiKey,
		fromAddr:   fromAddr,
		fromName:   fromName,
		apiURL:     sendgridAPIURL,
		retryDelay: time.Second,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// sendgridSendRequest represents the SendGrid v3 mail send request.
type sendgridSendRequest struct {
	Personalizations []sendgridPersonalization `json:"personalizations"`
	From             sendgridContact           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendgridContent         `json:"content"`
	Headers          map[string]string         `json:"headers,omitempty"`
}

type sendgridPersonalization struct {
	To []sendgridContact `json:"to"`
}

type sendgridContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Send delivers one email via the SendGrid API. A 4xx response other than
// 429 is a definitive rejection and is not retried; transport errors, 429
// and 5xx responses are retried with backoff.
func (p *SendGridProvider) Send(ctx context.Context, to, subject, htmlBody string, headers map[string]string) error {
	reqBody := sendgridSendRequest{
		Personalizations: []sendgridPersonalization{
			{To: []sendgridContact{{Email: to}}},
		},
		From:    sendgridContact{Email: p.fromAddr, Name: p.fromName},
		Subject: subject,
		Content: []sendgridContent{{Type: "text/html", Value: htmlBody}},
		Headers: headers,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(
		func() error {
			start := time.Now()
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(jsonData))
			if reqErr != nil {
				return fmt.Errorf("create request: %w", reqErr)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+p.apiKey)

			resp, doErr := p.client.Do(req)
			duration := time.Since(start)
			if doErr != nil {
				p.logger.Warn("SendGrid request failed, will retry",
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"error", doErr)
				return doErr
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					p.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				p.logger.Info("SendGrid request completed",
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"status_code", resp.StatusCode)
				return nil
			}

			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			sendErr := fmt.Errorf("sendgrid HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				p.logger.Warn("SendGrid rejected the message",
					"to", to,
					"status_code", resp.StatusCode)
				return retry.Unrecoverable(sendErr)
			}
			p.logger.Warn("SendGrid returned retryable status",
				"to", to,
				"status_code", resp.StatusCode)
			return sendErr
		},
		retry.Attempts(3),
		retry.Delay(p.retryDelay),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*p.retryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			p.logger.Info("Retrying SendGrid send after error", "attempt", n, "error", retryErr)
		}),
	)
}
