// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"seminar-hub/lifecycle"
	"seminar-hub/pkg/seminar"
	"seminar-hub/token"
)

//go:embed tmpl/*.tmpl
var templateFS embed.FS

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// Templates.
	templates = template.Must(template.ParseFS(templateFS, "tmpl/*.tmpl"))
)

// Lifecycle interface for the double-opt-in subscriber flow.
type Lifecycle interface {
	Subscribe(ctx context.Context, email string) (lifecycle.SubscribeResult, error)
	Confirm(ctx context.Context, tok string) (lifecycle.ConfirmResult, error)
	Unsubscribe(ctx context.Context, tok string) (lifecycle.UnsubscribeResult, error)
}

// Emailer interface for sending confirmation mail.
type Emailer interface {
	SendConfirmation(ctx context.Context, email, confirmToken string) error
}

// Batch interface for triggering digest runs.
type Batch interface {
	Run(ctx context.Context) error
	SendImmediate(ctx context.Context, email string) (bool, error)
	Scrape(ctx context.Context) (stored, skipped int, err error)
}

// Feeds renders per-series calendar feeds.
type Feeds interface {
	Render(ctx context.Context, seriesKey string) ([]byte, error)
}

// Server handles HTTP requests.
type Server struct {
	lifecycle Lifecycle
	emailer   Emailer
	batch     Batch
	feeds     Feeds
	series    map[string]string
	logger    *slog.Logger
	limiter   *rateLimiter
}

// Config holds server configuration.
type Config struct {
	Lifecycle Lifecycle
	Emailer   Emailer
	Batch     Batch
	Feeds     Feeds
	Series    map[string]string
	Logger    *slog.Logger
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		lifecycle: cfg.Lifecycle,
		emailer:   cfg.Emailer,
		batch:     cfg.Batch,
		feeds:     cfg.Feeds,
		series:    cfg.Series,
		logger:    cfg.Logger,
		limiter:   newRateLimiter(),
	}
}

// Handler returns the route table for the service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/subscribe", s.handleSubscribe)
	mux.HandleFunc("/confirm", s.handleConfirm)
	mux.HandleFunc("/unsubscribe", s.handleUnsubscribe)
	mux.HandleFunc("/calendar/", s.handleCalendar)
	mux.HandleFunc("/digestz", s.handleDigest)
	mux.HandleFunc("/scrapez", s.handleScrape)
	return mux
}

// HTTPServer builds the listener with timeouts to prevent resource exhaustion.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,  // Time to read request headers and body
		WriteTimeout:      30 * time.Second,  // Time to write response
		IdleTimeout:       120 * time.Second, // Time to keep connection alive between requests
		ReadHeaderTimeout: 5 * time.Second,   // Time to read request headers only
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	type seriesData struct {
		Key   string
		Label string
	}
	series := make([]seriesData, 0, len(s.series))
	for key, label := range s.series {
		series = append(series, seriesData{Key: key, Label: label})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Label < series[j].Label })

	s.render(w, http.StatusOK, "index.tmpl", map[string]any{"Series": series})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Digest endpoint triggered")

	if err := s.batch.Run(r.Context()); err != nil {
		s.logger.Error("Digest run failed", "error", err)
		http.Error(w, "Run failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"completed"}`); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Scrape endpoint triggered")

	stored, skipped, err := s.batch.Scrape(r.Context())
	if err != nil {
		s.logger.Error("Scrape failed", "error", err)
		http.Error(w, "Scrape failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, `{"status":"completed","stored":%d,"skipped":%d}`, stored, skipped); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// render writes an HTML page with the hardening headers every HTML response
// carries.
func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
	w.WriteHeader(status)

	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("Failed to render template", "template", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// rejectedToken reports whether an error from the lifecycle means the link is
// bad or stale rather than the service broken. The rejection page never says
// which, so a token cannot be used to probe for addresses.
func rejectedToken(err error) bool {
	return errors.Is(err, token.ErrInvalidSignature) ||
		errors.Is(err, token.ErrExpired) ||
		errors.Is(err, token.ErrPurposeMismatch) ||
		errors.Is(err, seminar.ErrNotFound) ||
		errors.Is(err, lifecycle.ErrInvalidTransition)
}

func isValidEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}

	// Use mail.ParseAddress for robust validation
	_, err := mail.ParseAddress(email)
	return err == nil && emailRegex.MatchString(email)
}

// Rate limiter for mutating endpoints (max 10 per IP per hour).
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string][]time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		clients: make(map[string][]time.Time),
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Hour)

	// Clean old entries
	timestamps := rl.clients[ip]
	var recent []time.Time
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= 10 {
		return false
	}

	recent = append(recent, now)
	rl.clients[ip] = recent
	return true
}

func clientIP(r *http.Request) string {
	// Check X-Forwarded-For header (reverse proxy)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Fallback to RemoteAddr
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
