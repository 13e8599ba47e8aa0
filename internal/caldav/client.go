// Package caldav retrieves calendar events from CalDAV servers with
// partial protocol support. Discovery runs as a strict four-stage chain
// (principal, calendar home, default calendar, retrieval) and retrieval
// itself degrades through REPORT, multiget, per-resource GET and direct
// export fallbacks.
package caldav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"calnote/internal/ics"
	appLog "calnote/internal/log"
	"calnote/internal/model"
)

var (
	// ErrAuth is returned on 401 responses. The whole sync aborts.
	ErrAuth = errors.New("caldav: authentication failed")
	// ErrNoCalendarData is returned when every retrieval fallback has
	// been exhausted without usable calendar data.
	ErrNoCalendarData = errors.New("caldav: no calendar data available")
)

const (
	// multigetBatchSize bounds the size of one multiget REPORT body.
	multigetBatchSize = 50
	// maxIndividualGets bounds total requests in the per-resource
	// fallback.
	maxIndividualGets = 200
)

const timeRangeLayout = "20060102T150405Z"

// Client talks to one CalDAV server with Basic authentication.
type Client struct {
	serverURL string
	username  string
	password  string
	http      *http.Client
	dec       *ics.Decoder
}

// New builds a Client. dec must not be nil.
func New(serverURL, username, password string, dec *ics.Decoder) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		username:  username,
		password:  password,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		dec: dec,
	}
}

// FetchEvents runs the full discovery and retrieval chain and returns all
// concrete event occurrences intersecting [qStart, qEnd).
func (c *Client) FetchEvents(ctx context.Context, qStart, qEnd time.Time) ([]model.CalendarEvent, error) {
	principal, err := c.discoverPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	home, err := c.discoverCalendarHome(ctx, principal)
	if err != nil {
		return nil, err
	}
	calURL := c.resolveDefaultCalendar(ctx, home)
	appLog.Info("caldav discovery complete", "principal", principal, "home", home, "calendar", calURL)
	return c.retrieve(ctx, calURL, qStart, qEnd)
}

// discoverPrincipal asks the server root for current-user-principal.
// 401 is an authentication failure; anything other than 207 means the
// endpoint does not speak CalDAV.
func (c *Client) discoverPrincipal(ctx context.Context) (string, error) {
	status, body, err := c.do(ctx, "PROPFIND", c.serverURL, "0", propfindCurrentUserPrincipal)
	if err != nil {
		return "", fmt.Errorf("caldav: principal discovery: %w", err)
	}
	if status == http.StatusUnauthorized {
		return "", fmt.Errorf("%w (principal discovery, status 401)", ErrAuth)
	}
	if status != http.StatusMultiStatus {
		return "", fmt.Errorf("caldav: principal discovery: unexpected status %d", status)
	}
	ms, err := parseMultistatus(body)
	if err != nil {
		return "", fmt.Errorf("caldav: principal discovery: %w", err)
	}
	href := ms.firstProp(func(p prop) string { return p.CurrentUserPrincipal.Href })
	if href == "" {
		return "", errors.New("caldav: principal discovery: no current-user-principal in response")
	}
	return c.resolveHref(c.serverURL, href), nil
}

// discoverCalendarHome asks the principal URL for calendar-home-set.
// Failure at this stage is fatal: without a calendar home there is
// nothing left to try.
func (c *Client) discoverCalendarHome(ctx context.Context, principalURL string) (string, error) {
	status, body, err := c.do(ctx, "PROPFIND", principalURL, "0", propfindCalendarHomeSet)
	if err != nil {
		return "", fmt.Errorf("caldav: calendar-home discovery: %w", err)
	}
	if status == http.StatusUnauthorized {
		return "", fmt.Errorf("%w (calendar-home discovery, status 401)", ErrAuth)
	}
	if status != http.StatusMultiStatus {
		return "", fmt.Errorf("caldav: calendar-home discovery: unexpected status %d", status)
	}
	ms, err := parseMultistatus(body)
	if err != nil {
		return "", fmt.Errorf("caldav: calendar-home discovery: %w", err)
	}
	href := ms.firstProp(func(p prop) string { return p.CalendarHomeSet.Href })
	if href == "" {
		return "", errors.New("caldav: no calendar home found")
	}
	return c.resolveHref(principalURL, href), nil
}

// resolveDefaultCalendar lists the calendar home and picks the first
// collection whose resourcetype advertises a calendar. Some servers serve
// events directly from the home collection, so a failed or empty listing
// falls back to the home URL itself.
func (c *Client) resolveDefaultCalendar(ctx context.Context, homeURL string) string {
	status, body, err := c.do(ctx, "PROPFIND", homeURL, "1", propfindCalendarList)
	if err != nil || status != http.StatusMultiStatus {
		appLog.Info("caldav: calendar listing unavailable, using home URL", "status", status)
		return homeURL
	}
	ms, err := parseMultistatus(body)
	if err != nil {
		return homeURL
	}
	for _, r := range ms.Responses {
		for _, ps := range r.Propstats {
			if ps.Prop.ResourceType.Calendar != nil && r.Href != "" {
				return c.resolveHref(homeURL, r.Href)
			}
		}
	}
	return homeURL
}

// retrieve implements the fallback chain of §event retrieval: REPORT with
// inline data, REPORT hrefs + multiget, per-resource GET, then direct
// export URLs.
func (c *Client) retrieve(ctx context.Context, calURL string, qStart, qEnd time.Time) ([]model.CalendarEvent, error) {
	hrefs, events, err := c.calendarQuery(ctx, calURL, qStart, qEnd)
	if err == nil && len(events) > 0 {
		return events, nil
	}
	if errors.Is(err, ErrAuth) {
		return nil, err
	}
	if err != nil {
		appLog.Info("caldav: calendar-query REPORT unusable, listing resources", "reason", err.Error())
		hrefs, err = c.listResources(ctx, calURL)
		if err != nil {
			appLog.Info("caldav: resource listing unavailable, trying export URLs", "reason", err.Error())
			return c.exportFallback(ctx, calURL, qStart, qEnd)
		}
	}
	if len(hrefs) == 0 {
		return c.exportFallback(ctx, calURL, qStart, qEnd)
	}

	events, err = c.multiget(ctx, calURL, hrefs, qStart, qEnd)
	if err == nil && len(events) > 0 {
		return events, nil
	}
	if err != nil {
		appLog.Info("caldav: multiget REPORT unsupported, fetching resources individually", "reason", err.Error())
	}

	events = c.individualGets(ctx, calURL, hrefs, qStart, qEnd)
	if len(events) > 0 {
		return events, nil
	}
	return c.exportFallback(ctx, calURL, qStart, qEnd)
}

// calendarQuery issues a calendar-query REPORT with a VEVENT time-range
// filter. It returns decoded events when the server embeds calendar data
// inline, or the bare hrefs when it only returns references.
func (c *Client) calendarQuery(ctx context.Context, calURL string, qStart, qEnd time.Time) ([]string, []model.CalendarEvent, error) {
	body := calendarQueryBody(
		qStart.UTC().Format(timeRangeLayout),
		qEnd.UTC().Format(timeRangeLayout),
	)
	status, respBody, err := c.do(ctx, "REPORT", calURL, "1", body)
	if err != nil {
		return nil, nil, fmt.Errorf("calendar-query: %w", err)
	}
	if status == http.StatusUnauthorized {
		return nil, nil, fmt.Errorf("%w (calendar-query, status 401)", ErrAuth)
	}
	if status != http.StatusMultiStatus {
		return nil, nil, fmt.Errorf("calendar-query: unexpected status %d", status)
	}
	ms, err := parseMultistatus(respBody)
	if err != nil {
		return nil, nil, fmt.Errorf("calendar-query: %w", err)
	}

	events := make([]model.CalendarEvent, 0)
	hrefs := make([]string, 0)
	sawInline := false
	for _, r := range ms.Responses {
		data := responseCalendarData(r)
		if data != "" {
			sawInline = true
			evs, derr := c.dec.Decode(decodeCalendarData(data), qStart, qEnd)
			if derr != nil {
				appLog.Error("caldav: undecodable calendar data, skipping resource", derr, "href", r.Href)
				continue
			}
			events = append(events, evs...)
			continue
		}
		if h := strings.TrimSpace(r.Href); h != "" && !strings.HasSuffix(h, "/") {
			hrefs = append(hrefs, h)
		}
	}
	if sawInline {
		return nil, events, nil
	}
	return hrefs, nil, nil
}

// listResources is the PROPFIND-based replacement for resource discovery
// when calendar-query REPORT is not supported at all.
func (c *Client) listResources(ctx context.Context, calURL string) ([]string, error) {
	status, body, err := c.do(ctx, "PROPFIND", calURL, "1", propfindResourceList)
	if err != nil {
		return nil, fmt.Errorf("resource listing: %w", err)
	}
	if status == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w (resource listing, status 401)", ErrAuth)
	}
	if status != http.StatusMultiStatus {
		return nil, fmt.Errorf("resource listing: unexpected status %d", status)
	}
	ms, err := parseMultistatus(body)
	if err != nil {
		return nil, fmt.Errorf("resource listing: %w", err)
	}
	hrefs := make([]string, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		h := strings.TrimSpace(r.Href)
		if h == "" || strings.HasSuffix(h, "/") {
			continue
		}
		hrefs = append(hrefs, h)
	}
	return hrefs, nil
}

// multiget fetches the given hrefs via calendar-multiget REPORTs in
// batches of multigetBatchSize.
func (c *Client) multiget(ctx context.Context, calURL string, hrefs []string, qStart, qEnd time.Time) ([]model.CalendarEvent, error) {
	events := make([]model.CalendarEvent, 0)
	for i := 0; i < len(hrefs); i += multigetBatchSize {
		end := i + multigetBatchSize
		if end > len(hrefs) {
			end = len(hrefs)
		}
		batch := hrefs[i:end]

		status, body, err := c.do(ctx, "REPORT", calURL, "1", calendarMultigetBody(batch))
		if err != nil {
			return nil, fmt.Errorf("calendar-multiget: %w", err)
		}
		if status == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w (calendar-multiget, status 401)", ErrAuth)
		}
		if status != http.StatusMultiStatus {
			return nil, fmt.Errorf("calendar-multiget: unexpected status %d", status)
		}
		ms, err := parseMultistatus(body)
		if err != nil {
			return nil, fmt.Errorf("calendar-multiget: %w", err)
		}
		for _, r := range ms.Responses {
			data := responseCalendarData(r)
			if data == "" {
				continue
			}
			evs, derr := c.dec.Decode(decodeCalendarData(data), qStart, qEnd)
			if derr != nil {
				appLog.Error("caldav: undecodable calendar data, skipping resource", derr, "href", r.Href)
				continue
			}
			events = append(events, evs...)
		}
	}
	return events, nil
}

// individualGets fetches each resource with a plain GET, capped at
// maxIndividualGets. A single resource failure is isolated: it is logged
// and the remaining resources are still fetched.
func (c *Client) individualGets(ctx context.Context, calURL string, hrefs []string, qStart, qEnd time.Time) []model.CalendarEvent {
	if len(hrefs) > maxIndividualGets {
		appLog.Info("caldav: too many resources for individual GET, truncating",
			"total", len(hrefs), "cap", maxIndividualGets)
		hrefs = hrefs[:maxIndividualGets]
	}

	events := make([]model.CalendarEvent, 0)
	for _, h := range hrefs {
		u := c.resolveHref(calURL, h)
		status, body, err := c.do(ctx, http.MethodGet, u, "", "")
		if err != nil || status != http.StatusOK {
			appLog.Error("caldav: resource GET failed, skipping", err, "href", h, "status", status)
			continue
		}
		evs, derr := c.dec.Decode(decodeCalendarData(string(body)), qStart, qEnd)
		if derr != nil {
			appLog.Error("caldav: undecodable resource, skipping", derr, "href", h)
			continue
		}
		events = append(events, evs...)
	}
	return events
}

// exportFallback tries the well-known calendar export URLs and finally a
// raw GET on the calendar URL, accepting any body that carries a calendar
// envelope.
func (c *Client) exportFallback(ctx context.Context, calURL string, qStart, qEnd time.Time) ([]model.CalendarEvent, error) {
	candidates := []string{
		calURL + ".ics",
		calURL + "/calendar.ics",
		calURL + "?export",
		calURL,
	}
	for _, u := range candidates {
		status, body, err := c.do(ctx, http.MethodGet, u, "", "")
		if err != nil || status != http.StatusOK {
			continue
		}
		text := decodeCalendarData(string(body))
		if !strings.Contains(text, "BEGIN:VCALENDAR") {
			continue
		}
		evs, derr := c.dec.Decode(text, qStart, qEnd)
		if derr != nil {
			appLog.Error("caldav: undecodable export body, trying next URL", derr, "url", u)
			continue
		}
		appLog.Info("caldav: events retrieved via export URL", "url", u, "event_count", len(evs))
		return evs, nil
	}
	return nil, ErrNoCalendarData
}

func responseCalendarData(r response) string {
	for _, ps := range r.Propstats {
		if d := strings.TrimSpace(ps.Prop.CalendarData); d != "" {
			return d
		}
	}
	return ""
}

// do issues one authenticated request and returns the status code and the
// full response body.
func (c *Client) do(ctx context.Context, method, rawURL, depth, body string) (int, []byte, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return 0, nil, err
	}
	req.SetBasicAuth(c.username, c.password)
	if depth != "" {
		req.Header.Set("Depth", depth)
	}
	if body != "" {
		req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// resolveHref resolves a possibly relative DAV href against a base URL.
func (c *Client) resolveHref(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}
