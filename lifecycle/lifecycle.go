// Package lifecycle drives subscriber rows through the double-opt-in flow.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"seminar-hub/pkg/seminar"
	"seminar-hub/token"
)

// ErrInvalidTransition reports a confirm link used after the address already
// unsubscribed; the terminal state wins.
var ErrInvalidTransition = errors.New("lifecycle: invalid status transition")

// Outcome classifies what Subscribe did with an address.
type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomePending       Outcome = "pending"
	OutcomeAlreadyActive Outcome = "already_active"
	OutcomeReactivated   Outcome = "reactivated"
)

// Store is the slice of subscriber storage the lifecycle mutates. The
// transition methods report whether their guarded update changed a row.
type Store interface {
	SubscriberByEmail(ctx context.Context, email string) (*seminar.Subscriber, error)
	CreateSubscriber(ctx context.Context, email string) (*seminar.Subscriber, error)
	ActivateSubscriber(ctx context.Context, email string) (bool, error)
	ReactivateSubscriber(ctx context.Context, email string) (bool, error)
	UnsubscribeSubscriber(ctx context.Context, email string) (bool, error)
}

// Service owns subscriber status transitions. Nothing else writes
// subscriber rows.
type Service struct {
	store          Store
	codec          *token.Codec
	logger         *slog.Logger
	confirmTTL     time.Duration
	unsubscribeTTL time.Duration
}

// New creates the lifecycle service.
func New(store Store, codec *token.Codec, confirmTTL, unsubscribeTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:          store,
		codec:          codec,
		logger:         logger,
		confirmTTL:     confirmTTL,
		unsubscribeTTL: unsubscribeTTL,
	}
}

// NormalizeEmail is the canonical address form used wherever a subscriber
// row is keyed: trimmed and lower-cased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SubscribeResult reports what Subscribe did. ConfirmToken is empty when no
// confirmation mail should go out (already-active addresses).
type SubscribeResult struct {
	Email        string
	Outcome      Outcome
	ConfirmToken string
}

// Subscribe registers an address, restarting the opt-in cycle when it had
// unsubscribed. A pending address gets a fresh token instead of a second
// row; an active one is left alone.
func (s *Service) Subscribe(ctx context.Context, email string) (SubscribeResult, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return SubscribeResult{}, errors.New("subscribe: empty email")
	}

	created := false
	sub, err := s.store.SubscriberByEmail(ctx, email)
	if errors.Is(err, seminar.ErrNotFound) {
		created = true
		sub, err = s.store.CreateSubscriber(ctx, email)
	}
	if err != nil {
		return SubscribeResult{}, fmt.Errorf("subscribe %s: %w", email, err)
	}

	switch sub.Status {
	case seminar.StatusActive:
		s.logger.Info("Subscribe for already-active address", "email", email)
		return SubscribeResult{Email: email, Outcome: OutcomeAlreadyActive}, nil

	case seminar.StatusUnsubscribed:
		changed, err := s.store.ReactivateSubscriber(ctx, email)
		if err != nil {
			return SubscribeResult{}, fmt.Errorf("reactivate %s: %w", email, err)
		}
		if !changed {
			// Lost a race; the row moved on. Classify what it is now.
			cur, err := s.store.SubscriberByEmail(ctx, email)
			if err != nil {
				return SubscribeResult{}, fmt.Errorf("subscribe %s: %w", email, err)
			}
			if cur.Status == seminar.StatusActive {
				return SubscribeResult{Email: email, Outcome: OutcomeAlreadyActive}, nil
			}
			return SubscribeResult{Email: email, Outcome: OutcomePending, ConfirmToken: s.confirmToken(email)}, nil
		}
		s.logger.Info("Subscriber reactivation started", "email", email)
		return SubscribeResult{Email: email, Outcome: OutcomeReactivated, ConfirmToken: s.confirmToken(email)}, nil

	default: // pending
		outcome := OutcomePending
		if created {
			outcome = OutcomeCreated
		}
		s.logger.Info("Confirmation token issued", "email", email, "outcome", string(outcome))
		return SubscribeResult{Email: email, Outcome: outcome, ConfirmToken: s.confirmToken(email)}, nil
	}
}

// ConfirmResult reports a processed confirmation. Activated is the one-shot
// signal that this call flipped the row, telling the caller to send the
// immediate digest.
type ConfirmResult struct {
	Email     string
	Activated bool
}

// Confirm activates the pending subscription named by a confirm token.
// Confirming twice is a no-op; confirming after an unsubscribe fails with
// ErrInvalidTransition and changes nothing.
func (s *Service) Confirm(ctx context.Context, tok string) (ConfirmResult, error) {
	email, err := s.codec.Verify(tok, token.PurposeConfirm)
	if err != nil {
		return ConfirmResult{}, err
	}

	changed, err := s.store.ActivateSubscriber(ctx, email)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("confirm %s: %w", email, err)
	}
	if changed {
		s.logger.Info("Subscriber confirmed", "email", email)
		return ConfirmResult{Email: email, Activated: true}, nil
	}

	// Zero rows affected: the row is not pending. Re-read and classify.
	sub, err := s.store.SubscriberByEmail(ctx, email)
	if err != nil {
		return ConfirmResult{}, err
	}
	switch sub.Status {
	case seminar.StatusActive:
		return ConfirmResult{Email: email, Activated: false}, nil
	case seminar.StatusUnsubscribed:
		return ConfirmResult{}, fmt.Errorf("confirm %s: %w", email, ErrInvalidTransition)
	default:
		return ConfirmResult{}, fmt.Errorf("confirm %s: unexpected status %q", email, sub.Status)
	}
}

// UnsubscribeResult reports a processed unsubscribe. Changed is false when
// the address had already unsubscribed.
type UnsubscribeResult struct {
	Email   string
	Changed bool
}

// Unsubscribe moves the subscription named by an unsubscribe token to the
// terminal state, from any state. Repeats are no-ops.
func (s *Service) Unsubscribe(ctx context.Context, tok string) (UnsubscribeResult, error) {
	email, err := s.codec.Verify(tok, token.PurposeUnsubscribe)
	if err != nil {
		return UnsubscribeResult{}, err
	}

	changed, err := s.store.UnsubscribeSubscriber(ctx, email)
	if err != nil {
		return UnsubscribeResult{}, fmt.Errorf("unsubscribe %s: %w", email, err)
	}
	if !changed {
		// Distinguish "already unsubscribed" from an address that never
		// existed.
		if _, err := s.store.SubscriberByEmail(ctx, email); err != nil {
			return UnsubscribeResult{}, err
		}
	}
	s.logger.Info("Unsubscribe processed", "email", email, "changed", changed)
	return UnsubscribeResult{Email: email, Changed: changed}, nil
}

// UnsubscribeToken issues the footer-link token for one digest recipient.
// Token policy (purpose, TTL) lives here with the rest of the lifecycle
// rules.
func (s *Service) UnsubscribeToken(email string) string {
	return s.codec.Issue(token.PurposeUnsubscribe, NormalizeEmail(email), s.unsubscribeTTL)
}

func (s *Service) confirmToken(email string) string {
	return s.codec.Issue(token.PurposeConfirm, email, s.confirmTTL)
}
