package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testCodec(at time.Time) *Codec {
	c := New([]byte("test-secret"))
	c.now = func() time.Time { return at }
	return c
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	now := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		purpose string
		subject string
	}{
		{"confirm token", PurposeConfirm, "person@example.com"},
		{"unsubscribe token", PurposeUnsubscribe, "person@example.com"},
		{"subject with plus tag", PurposeConfirm, "person+tag@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCodec(now)
			tok := c.Issue(tt.purpose, tt.subject, time.Hour)
			got, err := c.Verify(tok, tt.purpose)
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if got != tt.subject {
				t.Errorf("Verify() = %q, want %q", got, tt.subject)
			}
		})
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	now := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	c := testCodec(now)
	tok := c.Issue(PurposeConfirm, "person@example.com", time.Hour)
	payload, sig, _ := strings.Cut(tok, ".")

	other := New([]byte("another-secret"))
	other.now = c.now
	forged := other.Issue(PurposeConfirm, "person@example.com", time.Hour)

	tests := []struct {
		name string
		tok  string
	}{
		{"empty", ""},
		{"no separator", payload},
		{"garbage", "not-a-token"},
		{"bad signature encoding", payload + ".%%%"},
		{"truncated signature", payload + "." + sig[:len(sig)-2]},
		{"swapped payload", c.Issue(PurposeConfirm, "other@example.com", time.Hour)[:10] + tok[10:]},
		{"signed with different secret", forged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Verify(tt.tok, PurposeConfirm); !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("Verify(%q) error = %v, want ErrInvalidSignature", tt.tok, err)
			}
		})
	}
}

func TestVerifyExpired(t *testing.T) {
	issued := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	c := testCodec(issued)
	tok := c.Issue(PurposeConfirm, "person@example.com", time.Hour)

	c.now = func() time.Time { return issued.Add(time.Hour + time.Second) }
	if _, err := c.Verify(tok, PurposeConfirm); !errors.Is(err, ErrExpired) {
		t.Errorf("Verify() error = %v, want ErrExpired", err)
	}

	// Exactly at expiry the token is still accepted.
	c.now = func() time.Time { return issued.Add(time.Hour) }
	if _, err := c.Verify(tok, PurposeConfirm); err != nil {
		t.Errorf("Verify() at expiry error = %v, want nil", err)
	}
}

func TestVerifyPurposeMismatch(t *testing.T) {
	now := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	c := testCodec(now)

	tok := c.Issue(PurposeConfirm, "person@example.com", time.Hour)
	if _, err := c.Verify(tok, PurposeUnsubscribe); !errors.Is(err, ErrPurposeMismatch) {
		t.Errorf("Verify() error = %v, want ErrPurposeMismatch", err)
	}

	// Purpose is checked before expiry, so a stale cross-purpose token still
	// reports the mismatch.
	c.now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := c.Verify(tok, PurposeUnsubscribe); !errors.Is(err, ErrPurposeMismatch) {
		t.Errorf("Verify() on expired cross-purpose token error = %v, want ErrPurposeMismatch", err)
	}
}
