package platform

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yarnnn/orchestrator/pkg/models"
)

const defaultCalendarBaseURL = "https://www.googleapis.com/calendar/v3"

// CalendarClient pulls upcoming events through the Google Calendar REST
// API. Resources are calendar IDs. Pulls run incrementally on the sync
// token carried in the registry cursor; a 410 from the provider falls back
// to a full lookahead-window pull and a fresh token.
type CalendarClient struct {
	door      *Door
	baseURL   string
	lookahead time.Duration
	logger    *slog.Logger
}

// NewCalendarClient creates the Calendar platform client.
func NewCalendarClient(door *Door, lookahead time.Duration) *CalendarClient {
	return &CalendarClient{
		door:      door,
		baseURL:   defaultCalendarBaseURL,
		lookahead: lookahead,
		logger:    slog.Default().With("component", "calendar-client"),
	}
}

// WithBaseURL points the client at a mock server for tests.
func (c *CalendarClient) WithBaseURL(base string) *CalendarClient {
	c.baseURL = base
	return c
}

// Platform implements Client.
func (c *CalendarClient) Platform() models.Platform { return models.PlatformCalendar }

// Discover catalogs the account's calendars.
func (c *CalendarClient) Discover(ctx context.Context, creds *Credentials) ([]models.Resource, error) {
	var resp struct {
		Items []struct {
			ID      string `json:"id"`
			Summary string `json:"summary"`
			Primary bool   `json:"primary"`
		} `json:"items"`
	}
	err := c.door.DoJSON(ctx, &Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/users/me/calendarList",
		Token:  creds.AccessToken,
	}, &resp)
	if err != nil {
		return nil, err
	}

	resources := make([]models.Resource, 0, len(resp.Items))
	for _, cal := range resp.Items {
		resources = append(resources, models.Resource{
			ID:       cal.ID,
			Name:     cal.Summary,
			Kind:     "calendar",
			Metadata: map[string]any{"primary": cal.Primary},
		})
	}
	return resources, nil
}

type calendarEvent struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
	Start   struct {
		DateTime string `json:"dateTime"`
		Date     string `json:"date"`
	} `json:"start"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Attendees   []struct {
		Email string `json:"email"`
	} `json:"attendees"`
	HTMLLink string `json:"htmlLink"`
}

// Fetch pulls one calendar's events. With a cursor it runs incrementally;
// without one, or after the provider expires the token with 410 Gone, it
// pulls the full lookahead window.
func (c *CalendarClient) Fetch(ctx context.Context, creds *Credentials, calendarID string, opts FetchOptions) (*FetchResult, error) {
	if opts.Cursor != "" {
		result, err := c.list(ctx, creds, calendarID, url.Values{"syncToken": {opts.Cursor}})
		if err == nil {
			return result, nil
		}
		if !IsGone(err) {
			return nil, err
		}
		c.logger.Info("Calendar sync token expired, falling back to full window",
			"calendar_id", calendarID)
	}

	now := time.Now().UTC()
	return c.list(ctx, creds, calendarID, url.Values{
		"timeMin":      {now.Format(time.RFC3339)},
		"timeMax":      {now.Add(c.lookahead).Format(time.RFC3339)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
	})
}

func (c *CalendarClient) list(ctx context.Context, creds *Credentials, calendarID string, query url.Values) (*FetchResult, error) {
	var items []models.PlatformContent
	nextSyncToken := ""
	for {
		var resp struct {
			Items         []calendarEvent `json:"items"`
			NextPageToken string          `json:"nextPageToken"`
			NextSyncToken string          `json:"nextSyncToken"`
		}
		err := c.door.DoJSON(ctx, &Request{
			Method: http.MethodGet,
			URL:    c.baseURL + "/calendars/" + url.PathEscape(calendarID) + "/events",
			Query:  query,
			Token:  creds.AccessToken,
		}, &resp)
		if err != nil {
			return nil, err
		}

		for _, ev := range resp.Items {
			if ev.Status == "cancelled" {
				continue
			}
			items = append(items, eventContent(calendarID, ev))
		}
		if resp.NextSyncToken != "" {
			nextSyncToken = resp.NextSyncToken
		}
		if resp.NextPageToken == "" {
			break
		}
		query.Set("pageToken", resp.NextPageToken)
	}
	return &FetchResult{Items: items, Cursor: nextSyncToken}, nil
}

func eventContent(calendarID string, ev calendarEvent) models.PlatformContent {
	start := parseEventStart(ev)

	var body strings.Builder
	body.WriteString(ev.Summary)
	if !start.IsZero() {
		body.WriteString(" — " + start.Format("Mon Jan 2 15:04 MST"))
	}
	if ev.Location != "" {
		body.WriteString("\nLocation: " + ev.Location)
	}
	if len(ev.Attendees) > 0 {
		var emails []string
		for _, a := range ev.Attendees {
			emails = append(emails, a.Email)
		}
		body.WriteString("\nAttendees: " + strings.Join(emails, ", "))
	}
	if ev.Description != "" {
		body.WriteString("\n" + ev.Description)
	}

	return models.PlatformContent{
		Platform:        models.PlatformCalendar,
		ResourceID:      calendarID,
		SourceRef:       ev.ID,
		Title:           ev.Summary,
		Body:            body.String(),
		SourceTimestamp: start,
		Metadata: map[string]any{
			"event_id": ev.ID,
			"link":     ev.HTMLLink,
			"location": ev.Location,
		},
	}
}

func parseEventStart(ev calendarEvent) time.Time {
	if ev.Start.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, ev.Start.DateTime); err == nil {
			return t.UTC()
		}
	}
	if ev.Start.Date != "" {
		if t, err := time.Parse("2006-01-02", ev.Start.Date); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
