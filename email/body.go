package email

import (
	"fmt"
	"html"
	"strings"

	"seminar-hub/pkg/seminar"
)

func (s *Sender) formatDigestBody(events []seminar.Event, unsubURL string) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 720px; margin: 0 auto; padding: 20px; background: #fff; }\n")
	b.WriteString(".event { margin-bottom: 25px; padding-bottom: 25px; border-bottom: 1px solid #ecf0f1; }\n")
	b.WriteString(".event:last-of-type { border-bottom: none; padding-bottom: 0; margin-bottom: 0; }\n")
	b.WriteString(".when { color: #16537e; font-weight: 600; font-size: 0.95em; }\n")
	b.WriteString(".title { font-size: 1.15em; font-weight: 600; margin: 4px 0; }\n")
	b.WriteString(".speaker { color: #555; }\n")
	b.WriteString(".venue { color: #7f8c8d; font-size: 0.9em; }\n")
	b.WriteString(".series { margin-top: 6px; }\n")
	b.WriteString(".badge { display: inline-block; background: #eef3f7; color: #16537e; border-radius: 10px; padding: 1px 10px; font-size: 0.8em; margin-right: 6px; }\n")
	b.WriteString(".links { margin-top: 8px; font-size: 0.9em; }\n")
	b.WriteString(".links a { margin-right: 14px; }\n")
	b.WriteString(".footer { margin-top: 30px; padding-top: 15px; border-top: 1px solid #ddd; font-size: 0.9em; color: #7f8c8d; }\n")
	b.WriteString(".footer a { color: #7f8c8d; text-decoration: underline; }\n")
	b.WriteString("a { color: #16537e; text-decoration: none; }\n")
	b.WriteString("a:hover { text-decoration: underline; }\n")
	b.WriteString("@media (prefers-color-scheme: dark) {\n")
	b.WriteString("body { background: #1a1a1a; color: #e0e0e0; }\n")
	b.WriteString(".event { border-bottom-color: #333; }\n")
	b.WriteString(".when { color: #5aa2d0; }\n")
	b.WriteString(".speaker { color: #c0c0c0; }\n")
	b.WriteString(".venue { color: #a0a0a0; }\n")
	b.WriteString(".badge { background: #253544; color: #5aa2d0; }\n")
	b.WriteString(".footer { border-top-color: #444; color: #a0a0a0; }\n")
	b.WriteString(".footer a { color: #a0a0a0; }\n")
	b.WriteString("a { color: #5aa2d0; }\n")
	b.WriteString("}\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	// One card per event; the subject line already names the week, so no
	// redundant header.
	for _, ev := range events {
		b.WriteString("<div class=\"event\">\n")
		b.WriteString(fmt.Sprintf("<div class=\"when\">%s</div>\n", html.EscapeString(eventWhen(ev))))
		if ev.URL != "" {
			b.WriteString(fmt.Sprintf("<div class=\"title\"><a href=\"%s\">%s</a></div>\n", html.EscapeString(ev.URL), html.EscapeString(ev.Title)))
		} else {
			b.WriteString(fmt.Sprintf("<div class=\"title\">%s</div>\n", html.EscapeString(ev.Title)))
		}
		if speaker := speakerLine(ev); speaker != "" {
			b.WriteString(fmt.Sprintf("<div class=\"speaker\">%s</div>\n", html.EscapeString(speaker)))
		}
		if ev.Location != "" {
			b.WriteString(fmt.Sprintf("<div class=\"venue\">%s</div>\n", html.EscapeString(ev.Location)))
		}
		if len(ev.Categories) > 0 {
			b.WriteString("<div class=\"series\">\n")
			for _, c := range ev.Categories {
				b.WriteString(fmt.Sprintf("<span class=\"badge\">%s</span>\n", html.EscapeString(c)))
			}
			b.WriteString("</div>\n")
		}
		b.WriteString("<div class=\"links\">\n")
		b.WriteString(fmt.Sprintf("<a href=\"%s\">Google Calendar</a>\n", html.EscapeString(googleCalendarURL(ev, s.loc))))
		b.WriteString(fmt.Sprintf("<a href=\"%s\">Outlook</a>\n", html.EscapeString(outlookCalendarURL(ev, s.loc))))
		b.WriteString("</div>\n")
		b.WriteString("</div>\n")
	}

	b.WriteString("<div class=\"footer\">\n")
	b.WriteString("<p>You get this weekly digest because you confirmed a subscription at Helsinki GSE Seminar Hub.</p>\n")
	b.WriteString(fmt.Sprintf("<a href=\"%s\">Unsubscribe</a>\n", html.EscapeString(unsubURL)))
	b.WriteString("</div>\n")

	b.WriteString("</body>\n</html>")

	return b.String()
}

func (s *Sender) formatConfirmationBody(confirmURL string) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; background: #fff; }\n")
	b.WriteString(".header { border-bottom: 2px solid #16537e; padding-bottom: 10px; margin-bottom: 20px; }\n")
	b.WriteString(".content { background: #f8f9fa; padding: 20px; border-radius: 8px; margin: 15px 0; }\n")
	b.WriteString(".button { display: inline-block; background: #16537e; color: #fff !important; padding: 10px 24px; border-radius: 6px; font-weight: 600; }\n")
	b.WriteString(".info { color: #7f8c8d; font-size: 0.9em; margin: 15px 0; }\n")
	b.WriteString("a { color: #16537e; text-decoration: none; }\n")
	b.WriteString("a:hover { text-decoration: underline; }\n")
	b.WriteString("@media (prefers-color-scheme: dark) {\n")
	b.WriteString("body { background: #1a1a1a; color: #e0e0e0; }\n")
	b.WriteString(".header { border-bottom-color: #5aa2d0; }\n")
	b.WriteString(".content { background: #2a2a2a; }\n")
	b.WriteString(".button { background: #5aa2d0; }\n")
	b.WriteString(".info { color: #a0a0a0; }\n")
	b.WriteString("a { color: #5aa2d0; }\n")
	b.WriteString("}\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	b.WriteString("<div class=\"header\">\n")
	b.WriteString("<h2>Helsinki GSE Seminar Hub</h2>\n")
	b.WriteString("</div>\n")

	b.WriteString("<div class=\"content\">\n")
	b.WriteString("<p>Confirm your email address to start receiving the weekly seminar digest every Monday morning.</p>\n")
	b.WriteString(fmt.Sprintf("<p><a href=\"%s\" class=\"button\">Confirm subscription</a></p>\n", html.EscapeString(confirmURL)))
	b.WriteString(fmt.Sprintf("<p>Or paste this link into your browser:<br>%s</p>\n", html.EscapeString(confirmURL)))
	b.WriteString("</div>\n")

	b.WriteString("<div class=\"info\">\n")
	if hours := int(s.confirmTTL.Hours()); hours > 0 {
		b.WriteString(fmt.Sprintf("<p>The link expires in %d hours. If you didn't request this, you can ignore this email.</p>\n", hours))
	} else {
		b.WriteString("<p>If you didn't request this, you can ignore this email.</p>\n")
	}
	b.WriteString("</div>\n")

	b.WriteString("</body>\n</html>")

	return b.String()
}

// eventWhen renders the card's date line: "Mon 2 Feb" plus the clock range
// when one is known.
func eventWhen(ev seminar.Event) string {
	day := ev.Date.Format("Mon 2 Jan")
	switch {
	case ev.StartTime == "":
		return day
	case ev.EndTime == "":
		return day + ", " + ev.StartTime
	default:
		return day + ", " + ev.StartTime + "–" + ev.EndTime
	}
}

// speakerLine renders "Name (Institution)" with whichever parts are known.
func speakerLine(ev seminar.Event) string {
	if ev.Speaker == "" {
		return ev.Institution
	}
	if ev.Institution == "" {
		return ev.Speaker
	}
	return ev.Speaker + " (" + ev.Institution + ")"
}
