// Package scraper fetches and parses helsinkigse.fi event pages.
package scraper

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry-go"
	"golang.org/x/net/html"

	"seminar-hub/pkg/seminar"
)

const (
	userAgent    = "HGSE-SeminarHub-Bot/1.0 (+weekly digest service)"
	maxBodyBytes = 10 << 20
)

// Scraper discovers event pages under one source site and parses them into
// raw event records.
type Scraper struct {
	client    *http.Client
	logger    *slog.Logger
	sourceURL string
	delay     time.Duration // politeness pause between detail-page fetches
	labels    []string      // configured series labels; scraped chips outside this set are dropped
}

// New creates a scraper rooted at sourceURL.
func New(client *http.Client, sourceURL string, delay time.Duration, seriesLabels []string, logger *slog.Logger) *Scraper {
	return &Scraper{
		client:    client,
		logger:    logger,
		sourceURL: strings.TrimSuffix(sourceURL, "/"),
		delay:     delay,
		labels:    seriesLabels,
	}
}

// FetchEvents discovers and parses every event page currently published on
// the source site. A detail page that cannot be fetched or carries no date
// is logged and skipped; only failed discovery aborts the scrape.
func (s *Scraper) FetchEvents(ctx context.Context) ([]seminar.RawEvent, error) {
	urls, err := s.discoverEventURLs(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Event pages discovered", "count", len(urls))

	var events []seminar.RawEvent
	for _, pageURL := range urls {
		select {
		case <-ctx.Done():
			return events, ctx.Err()
		case <-time.After(s.delay):
		}

		doc, err := s.fetchDocument(ctx, pageURL)
		if err != nil {
			s.logger.Warn("Skipping event page", "url", pageURL, "error", err)
			continue
		}
		ev, err := parseEventPage(doc, pageURL, s.labels)
		if err != nil {
			s.logger.Warn("Skipping event page", "url", pageURL, "error", err)
			continue
		}
		events = append(events, ev)
	}

	s.logger.Info("Scrape completed", "pages", len(urls), "events", len(events))
	return events, nil
}

// discoverEventURLs collects event detail URLs from the listing page,
// falling back to the sitemap when the listing yields nothing.
func (s *Scraper) discoverEventURLs(ctx context.Context) ([]string, error) {
	listingURL := s.sourceURL + "/events"
	doc, err := s.fetchDocument(ctx, listingURL)
	if err != nil {
		s.logger.Warn("Event listing fetch failed, trying sitemap", "url", listingURL, "error", err)
	} else if urls := collectEventLinks(doc, s.sourceURL); len(urls) > 0 {
		return urls, nil
	} else {
		s.logger.Warn("Event listing had no event links, trying sitemap", "url", listingURL)
	}

	urls, sitemapErr := s.sitemapEventURLs(ctx)
	if sitemapErr != nil {
		if err != nil {
			return nil, fmt.Errorf("event discovery failed: listing: %w; sitemap: %w", err, sitemapErr)
		}
		return nil, fmt.Errorf("event discovery failed: %w", sitemapErr)
	}
	return urls, nil
}

func (s *Scraper) sitemapEventURLs(ctx context.Context) ([]string, error) {
	body, err := s.fetch(ctx, s.sourceURL+"/sitemap.xml")
	if err != nil {
		return nil, err
	}

	var sitemap struct {
		URLs []struct {
			Loc string `xml:"loc"`
		} `xml:"url"`
	}
	if err := xml.Unmarshal(body, &sitemap); err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}

	seen := make(map[string]bool)
	var urls []string
	for _, u := range sitemap.URLs {
		eventURL := normalizeEventURL(u.Loc, s.sourceURL)
		if eventURL == "" || seen[eventURL] {
			continue
		}
		seen[eventURL] = true
		urls = append(urls, eventURL)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("sitemap lists no event pages")
	}
	return urls, nil
}

func collectEventLinks(doc *goquery.Document, sourceURL string) []string {
	seen := make(map[string]bool)
	var urls []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		eventURL := normalizeEventURL(href, sourceURL)
		if eventURL == "" || seen[eventURL] {
			return
		}
		seen[eventURL] = true
		urls = append(urls, eventURL)
	})
	return urls
}

// normalizeEventURL resolves href against the source site and reports the
// canonical detail URL, or "" when the link is not an event page.
func normalizeEventURL(href, sourceURL string) string {
	href = strings.TrimSpace(href)
	switch {
	case strings.HasPrefix(href, "/"):
		href = sourceURL + href
	case strings.HasPrefix(href, sourceURL+"/"):
	default:
		return ""
	}
	if i := strings.IndexAny(href, "?#"); i != -1 {
		href = href[:i]
	}
	href = strings.TrimSuffix(href, "/")

	slug, ok := strings.CutPrefix(href, sourceURL+"/events/")
	if !ok || slug == "" || strings.Contains(slug, "/") {
		return ""
	}
	return href
}

func (s *Scraper) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, err := s.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return doc, nil
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	var body []byte

	err := retry.Do(
		func() error {
			s.logger.Info("HTTP request starting", "method", "GET", "url", pageURL)

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("User-Agent", userAgent)
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

			start := time.Now()
			resp, err := s.client.Do(req)
			duration := time.Since(start)
			if err != nil {
				s.logger.Warn("HTTP request failed, will retry",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			s.logger.Info("HTTP request completed",
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds(),
				"content_length", resp.ContentLength)

			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return retry.Unrecoverable(fmt.Errorf("HTTP %d", resp.StatusCode))
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying fetch after error", "attempt", n, "url", pageURL, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch %s after retries: %w", pageURL, err)
	}
	return body, nil
}

var (
	dateRe       = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4}|\d{2})\b`)
	clockRangeRe = regexp.MustCompile(`\b(\d{1,2})[.:](\d{2})\s*[-\x{2013}\x{2014}]\s*(\d{1,2})[.:](\d{2})\b`)
	clockOnlyRe  = regexp.MustCompile(`^(\d{1,2})[.:](\d{2})$`)
	speakerRe    = regexp.MustCompile(`^([^()]{2,80}?)\s*\(([^()]{2,80})\)$`)
)

// parseEventPage extracts one raw event from a detail page. Pages without a
// parseable date are not events (series landing pages, news posts) and come
// back as an error so the caller skips them.
func parseEventPage(doc *goquery.Document, pageURL string, labels []string) (seminar.RawEvent, error) {
	ev := seminar.RawEvent{URL: pageURL}

	ev.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	if ev.Title == "" {
		title, _ := doc.Find(`meta[property="og:title"]`).First().Attr("content")
		ev.Title = strings.TrimSpace(title)
	}

	lines := textLines(doc)

	dateIdx := -1
	for i, line := range lines {
		if d, ok := parseDottedDate(line); ok {
			ev.Date = d
			dateIdx = i
			break
		}
	}
	if dateIdx == -1 {
		return seminar.RawEvent{}, fmt.Errorf("no event date on page")
	}

	ev.StartTime, ev.EndTime = findClock(lines, dateIdx)

	// Speaker lines read "Name (Institution)". Digits rule out venue lines
	// like "Economicum (room 3)".
	for _, line := range lines {
		if line == ev.Title {
			continue
		}
		if m := speakerRe.FindStringSubmatch(line); m != nil && !strings.ContainsAny(m[1], "0123456789") {
			ev.Speaker = strings.TrimSpace(m[1])
			ev.Institution = strings.TrimSpace(m[2])
			break
		}
	}

	ev.Location = findLocation(lines, dateIdx, ev, labels)
	ev.Categories = findCategories(doc, labels)

	// The abstract is the first substantial paragraph.
	doc.Find("p").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if len(text) >= 120 {
			ev.Description = text
			return false
		}
		return true
	})

	for _, line := range lines {
		if rest, ok := strings.CutPrefix(line, "Organizer:"); ok {
			ev.Organizer = strings.TrimSpace(rest)
			break
		}
		if rest, ok := strings.CutPrefix(line, "Organiser:"); ok {
			ev.Organizer = strings.TrimSpace(rest)
			break
		}
	}

	return ev, nil
}

// findClock scans for a start-to-end clock pair, then for a line that is a
// bare clock. The date line is excluded so "03.09" in it cannot read as a
// time.
func findClock(lines []string, dateIdx int) (start, end string) {
	for i, line := range lines {
		if i == dateIdx {
			continue
		}
		if m := clockRangeRe.FindStringSubmatch(line); m != nil {
			sh, sm := atoiPair(m[1], m[2])
			eh, em := atoiPair(m[3], m[4])
			if clockValid(sh, sm) && clockValid(eh, em) {
				return fmt.Sprintf("%02d:%02d", sh, sm), fmt.Sprintf("%02d:%02d", eh, em)
			}
		}
	}
	for i, line := range lines {
		if i == dateIdx {
			continue
		}
		if m := clockOnlyRe.FindStringSubmatch(line); m != nil {
			h, min := atoiPair(m[1], m[2])
			if clockValid(h, min) {
				return fmt.Sprintf("%02d:%02d", h, min), ""
			}
		}
	}
	return "", ""
}

// findLocation takes the first plain line after the date that is not a
// clock, another date, the speaker line, or a series chip.
func findLocation(lines []string, dateIdx int, ev seminar.RawEvent, labels []string) string {
	for _, line := range lines[dateIdx+1:] {
		if dateRe.MatchString(line) || clockRangeRe.MatchString(line) || clockOnlyRe.MatchString(line) {
			continue
		}
		if line == ev.Title || (ev.Speaker != "" && strings.HasPrefix(line, ev.Speaker)) {
			continue
		}
		if isSeriesLabel(line, labels) {
			continue
		}
		if len(line) < 3 || len(line) > 120 {
			continue
		}
		return line
	}
	return ""
}

func findCategories(doc *goquery.Document, labels []string) []string {
	seen := make(map[string]bool)
	var categories []string
	doc.Find(`[class*="chip"], [class*="tag"], [class*="category"], [class*="badge"]`).Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		for _, label := range labels {
			if strings.EqualFold(text, label) && !seen[label] {
				seen[label] = true
				categories = append(categories, label)
			}
		}
	})
	return categories
}

func isSeriesLabel(line string, labels []string) bool {
	for _, label := range labels {
		if strings.EqualFold(line, label) {
			return true
		}
	}
	return false
}

// textLines flattens the page into trimmed text-node lines, in document
// order, skipping script and style subtrees.
func textLines(doc *goquery.Document) []string {
	var lines []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == html.TextNode {
			if line := strings.TrimSpace(n.Data); line != "" {
				lines = append(lines, line)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, root := range doc.Nodes {
		walk(root)
	}
	return lines
}

// parseDottedDate parses the site's DD.MM.YY or DD.MM.YYYY date style.
func parseDottedDate(line string) (time.Time, bool) {
	m := dateRe.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if year < 100 {
		year += 2000
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != time.Month(month) {
		return time.Time{}, false
	}
	return t, true
}

func atoiPair(a, b string) (int, int) {
	x, _ := strconv.Atoi(a)
	y, _ := strconv.Atoi(b)
	return x, y
}

func clockValid(hour, minute int) bool {
	return hour >= 0 && hour <= 23 && minute >= 0 && minute <= 59
}
