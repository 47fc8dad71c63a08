package email

import (
	"context"
	"log/slog"
)

// MockProvider logs emails instead of sending them. Used when no SendGrid
// API key is configured, which keeps local development offline.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a provider that only logs.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Send logs the email instead of delivering it.
func (p *MockProvider) Send(_ context.Context, to, subject, htmlBody string, headers map[string]string) error {
	p.logger.Info("MOCK EMAIL (not actually sent)",
		"to", to,
		"subject", subject,
		"body_length", len(htmlBody),
		"headers", headers)
	return nil
}
