package server

import (
	"net/http"
	"strings"

	"seminar-hub/lifecycle"
)

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Rate limiting by IP
	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded", "ip", ip)
		http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	if !isValidEmail(email) {
		http.Error(w, "Invalid email address", http.StatusBadRequest)
		return
	}

	res, err := s.lifecycle.Subscribe(r.Context(), email)
	if err != nil {
		s.logger.Error("Subscribe failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if res.Outcome != lifecycle.OutcomeAlreadyActive {
		if err := s.emailer.SendConfirmation(r.Context(), res.Email, res.ConfirmToken); err != nil {
			// Log but render the same page; the subscriber can retry the form.
			s.logger.Warn("Failed to send confirmation email", "email", res.Email, "error", err)
		}
	}

	s.logger.Info("Subscribe request handled", "email", res.Email, "outcome", string(res.Outcome), "ip", ip)

	// The page is the same whatever the outcome, so the form never reveals
	// whether an address is already on the list.
	s.render(w, http.StatusOK, "check_inbox.tmpl", map[string]string{"Email": res.Email})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Rate limiting by IP to prevent token enumeration
	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded", "ip", ip)
		http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
		return
	}

	tok := r.URL.Query().Get("token")
	if tok == "" {
		s.render(w, http.StatusBadRequest, "rejected.tmpl", nil)
		return
	}

	res, err := s.lifecycle.Confirm(r.Context(), tok)
	if err != nil {
		if rejectedToken(err) {
			s.logger.Warn("Confirmation link rejected", "error", err, "ip", ip)
			s.render(w, http.StatusBadRequest, "rejected.tmpl", nil)
			return
		}
		s.logger.Error("Confirm failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	digestSent := false
	if res.Activated {
		sent, err := s.batch.SendImmediate(r.Context(), res.Email)
		if err != nil {
			// The subscription is active either way; the weekly run covers it.
			s.logger.Warn("Immediate digest failed", "email", res.Email, "error", err)
		} else {
			digestSent = sent
		}
	}

	s.logger.Info("Subscription confirmed", "email", res.Email, "activated", res.Activated, "digest_sent", digestSent)

	s.render(w, http.StatusOK, "confirmed.tmpl", map[string]any{
		"Email":         res.Email,
		"AlreadyActive": !res.Activated,
		"DigestSent":    digestSent,
	})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Rate limiting by IP to prevent token enumeration
	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded", "ip", ip)
		http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
		return
	}

	tok := r.URL.Query().Get("token")
	if tok == "" {
		s.render(w, http.StatusBadRequest, "rejected.tmpl", nil)
		return
	}

	res, err := s.lifecycle.Unsubscribe(r.Context(), tok)
	if err != nil {
		if rejectedToken(err) {
			s.logger.Warn("Unsubscribe link rejected", "error", err, "ip", ip)
			s.render(w, http.StatusBadRequest, "rejected.tmpl", nil)
			return
		}
		s.logger.Error("Unsubscribe failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Unsubscribed", "email", res.Email, "changed", res.Changed, "ip", ip)

	s.render(w, http.StatusOK, "unsubscribed.tmpl", map[string]string{"Email": res.Email})
}
