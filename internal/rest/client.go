// Package rest fetches calendar events from the vendor REST API using a
// persisted OAuth token pair. Per-calendar failures are isolated so one
// broken calendar cannot abort the whole retrieval.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"calnote/internal/ics"
	appLog "calnote/internal/log"
	"calnote/internal/model"
	"calnote/internal/tokenstore"
)

// Options configures a Client.
type Options struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string

	Policy   ics.Policy
	Classify func(title string) model.Category
	Store    *tokenstore.Store
}

// Client is the authenticated REST calendar client.
type Client struct {
	baseURL      string
	http         *http.Client
	conf         *oauth2.Config
	store        *tokenstore.Store
	policy       ics.Policy
	classify     func(title string) model.Category
	refreshGroup singleflight.Group
}

func New(opts Options) *Client {
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		conf: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  opts.AuthURL,
				TokenURL: opts.TokenURL,
			},
		},
		store:    opts.Store,
		policy:   opts.Policy,
		classify: opts.Classify,
	}
}

// Calendar is one calendar visible to the account.
type Calendar struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Role is the account's role on this calendar: owner, writer or
	// reader.
	Role string `json:"role"`
}

// eventItem is the raw wire shape of one calendar item.
type eventItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	IsAllDay  bool   `json:"isAllDay"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	// RepeatFlag carries the recurrence rule, optionally prefixed with
	// "RRULE:".
	RepeatFlag string `json:"repeatFlag"`
}

// envelope is the application-level response wrapper. Both the HTTP
// status and Code are checked; a non-zero/non-200 Code is fatal for that
// call.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Calendars lists the calendars where the account holds the owner or
// writer role. Reader-only calendars are excluded: the API refuses
// write-back for that role, so their events are deliberately out of
// scope.
func (c *Client) Calendars(ctx context.Context) ([]Calendar, error) {
	var all []Calendar
	if err := c.getJSON(ctx, c.baseURL+"/calendars", &all); err != nil {
		return nil, err
	}
	writable := make([]Calendar, 0, len(all))
	for _, cal := range all {
		switch strings.ToLower(cal.Role) {
		case "owner", "writer":
			writable = append(writable, cal)
		default:
			appLog.Debug("rest: skipping read-only calendar", "calendar", cal.Name, "role", cal.Role)
		}
	}
	return writable, nil
}

// FetchEvents retrieves, classifies and expands events from every
// writable calendar, deduplicating occurrences that appear through
// multiple calendar memberships. One calendar's failure is logged and
// does not abort the others.
func (c *Client) FetchEvents(ctx context.Context, qStart, qEnd time.Time) ([]model.CalendarEvent, error) {
	cals, err := c.Calendars(ctx)
	if err != nil {
		return nil, err
	}

	events := make([]model.CalendarEvent, 0)
	seen := make(map[string]bool)
	for _, cal := range cals {
		evs, err := c.calendarEvents(ctx, cal, qStart, qEnd)
		if err != nil {
			appLog.Error("rest: calendar fetch failed, skipping", err, "calendar", cal.Name)
			continue
		}
		for _, ev := range evs {
			// The same occurrence can be visible through several
			// calendars; (title, start) identifies it across them.
			key := ev.Title + "|" + ev.Start.UTC().Format(time.RFC3339)
			if seen[key] {
				continue
			}
			seen[key] = true
			events = append(events, ev)
		}
	}
	return events, nil
}

func (c *Client) calendarEvents(ctx context.Context, cal Calendar, qStart, qEnd time.Time) ([]model.CalendarEvent, error) {
	q := url.Values{}
	q.Set("from", qStart.UTC().Format(time.RFC3339))
	q.Set("to", qEnd.UTC().Format(time.RFC3339))
	endpoint := fmt.Sprintf("%s/calendars/%s/events?%s", c.baseURL, url.PathEscape(cal.ID), q.Encode())

	var items []eventItem
	if err := c.getJSON(ctx, endpoint, &items); err != nil {
		return nil, err
	}

	out := make([]model.CalendarEvent, 0, len(items))
	for _, item := range items {
		if strings.EqualFold(item.Status, "cancelled") {
			continue
		}
		start, err := parseItemTime(item.StartDate, item.IsAllDay, c.policy)
		if err != nil {
			appLog.Debug("rest: skipping item with bad start", "id", item.ID, "start", item.StartDate)
			continue
		}
		end, err := parseItemTime(item.EndDate, item.IsAllDay, c.policy)
		if err != nil || !end.After(start) {
			end = start.Add(defaultDuration(c.policy))
		}
		if item.IsAllDay {
			end = start.Add(defaultDuration(c.policy))
		}

		cat := model.CategoryMeeting
		if c.classify != nil {
			cat = c.classify(item.Title)
		}

		base := model.CalendarEvent{
			ID:       item.ID,
			Title:    item.Title,
			Start:    start,
			End:      end,
			Category: cat,
			Origin:   model.OriginRemote,
			RemoteID: item.ID,
		}

		if rule := strings.TrimPrefix(item.RepeatFlag, "RRULE:"); rule != "" && item.RepeatFlag != "" {
			starts, _ := ics.Expand(start, end.Sub(start), ics.ParseRule(rule), qStart, qEnd)
			for i, s := range starts {
				ev := base
				ev.ID = fmt.Sprintf("%s#%d", item.ID, i)
				ev.Start = s
				ev.End = s.Add(end.Sub(start))
				out = append(out, ev)
			}
			continue
		}
		if base.Overlaps(qStart, qEnd) {
			out = append(out, base)
		}
	}
	return out, nil
}

// getJSON performs an authenticated GET, checks both the HTTP status and
// the embedded application code, and unmarshals the data payload.
func (c *Client) getJSON(ctx context.Context, endpoint string, dst any) error {
	accessToken, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w (status 401)", ErrNotAuthenticated)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rest: %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("rest: %s: decode envelope: %w", endpoint, err)
	}
	if env.Code != 0 && env.Code != 200 {
		return fmt.Errorf("rest: %s: application error code %d: %s", endpoint, env.Code, env.Message)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("rest: %s: decode data: %w", endpoint, err)
	}
	return nil
}

// parseItemTime accepts the vendor timestamp shapes: RFC 3339, the
// millisecond offset form, and the date-only all-day form.
func parseItemTime(v string, allDay bool, policy ics.Policy) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if allDay || !strings.Contains(v, "T") {
		day, err := time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			return time.Time{}, err
		}
		hour := policy.AllDayStartHour
		if hour <= 0 || hour > 23 {
			hour = ics.DefaultPolicy().AllDayStartHour
		}
		return day.Add(time.Duration(hour) * time.Hour), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05.000-0700", v)
}

func defaultDuration(policy ics.Policy) time.Duration {
	if policy.DefaultDuration > 0 {
		return policy.DefaultDuration
	}
	return time.Hour
}
