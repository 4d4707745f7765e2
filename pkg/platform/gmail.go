package platform

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/yarnnn/orchestrator/pkg/models"
)

const defaultGmailBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// GmailClient pulls labeled mail through the Gmail REST API. Resources are
// label IDs; items are individual messages.
type GmailClient struct {
	door     *Door
	baseURL  string
	perLabel int
	lookback time.Duration
}

// NewGmailClient creates the Gmail platform client.
func NewGmailClient(door *Door, messagesPerLabel int, lookback time.Duration) *GmailClient {
	return &GmailClient{
		door:     door,
		baseURL:  defaultGmailBaseURL,
		perLabel: messagesPerLabel,
		lookback: lookback,
	}
}

// WithBaseURL points the client at a mock server for tests.
func (c *GmailClient) WithBaseURL(base string) *GmailClient {
	c.baseURL = base
	return c
}

// Platform implements Client.
func (c *GmailClient) Platform() models.Platform { return models.PlatformGmail }

// Discover catalogs the account's labels.
func (c *GmailClient) Discover(ctx context.Context, creds *Credentials) ([]models.Resource, error) {
	var resp struct {
		Labels []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"labels"`
	}
	err := c.door.DoJSON(ctx, &Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/labels",
		Token:  creds.AccessToken,
	}, &resp)
	if err != nil {
		return nil, err
	}

	resources := make([]models.Resource, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		// Hide Gmail's internal category labels; users select real ones.
		if strings.HasPrefix(l.ID, "CATEGORY_") {
			continue
		}
		resources = append(resources, models.Resource{
			ID:       l.ID,
			Name:     l.Name,
			Kind:     "label",
			Metadata: map[string]any{"type": l.Type},
		})
	}
	return resources, nil
}

// Fetch pulls the most recent messages under one label, bounded by the
// lookback window.
func (c *GmailClient) Fetch(ctx context.Context, creds *Credentials, labelID string, opts FetchOptions) (*FetchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = c.perLabel
	}
	lookbackDays := int(c.lookback.Hours() / 24)
	if lookbackDays < 1 {
		lookbackDays = 1
	}

	var listResp struct {
		Messages []struct {
			ID       string `json:"id"`
			ThreadID string `json:"threadId"`
		} `json:"messages"`
	}
	err := c.door.DoJSON(ctx, &Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/messages",
		Query: url.Values{
			"labelIds":   {labelID},
			"q":          {fmt.Sprintf("newer_than:%dd", lookbackDays)},
			"maxResults": {fmt.Sprint(limit)},
		},
		Token: creds.AccessToken,
	}, &listResp)
	if err != nil {
		return nil, err
	}

	items := make([]models.PlatformContent, 0, len(listResp.Messages))
	for _, m := range listResp.Messages {
		item, err := c.fetchMessage(ctx, creds, labelID, m.ID, m.ThreadID)
		if err != nil {
			// One unreadable message does not sink the label.
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		items = append(items, *item)
	}
	return &FetchResult{Items: items}, nil
}

func (c *GmailClient) fetchMessage(ctx context.Context, creds *Credentials, labelID, messageID, threadID string) (*models.PlatformContent, error) {
	var msg struct {
		Snippet      string `json:"snippet"`
		InternalDate string `json:"internalDate"`
		Payload      struct {
			Headers []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"headers"`
		} `json:"payload"`
	}
	err := c.door.DoJSON(ctx, &Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/messages/" + messageID,
		Query: url.Values{
			"format":          {"metadata"},
			"metadataHeaders": {"Subject", "From", "To"},
		},
		Token: creds.AccessToken,
	}, &msg)
	if err != nil {
		return nil, err
	}

	var subject, from string
	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "Subject":
			subject = h.Value
		case "From":
			from = h.Value
		}
	}

	var ts time.Time
	if ms, err := parseMillis(msg.InternalDate); err == nil {
		ts = ms
	}

	return &models.PlatformContent{
		Platform:        models.PlatformGmail,
		ResourceID:      labelID,
		SourceRef:       messageID,
		Title:           subject,
		Body:            msg.Snippet,
		SourceTimestamp: ts,
		Metadata: map[string]any{
			"thread_id": threadID,
			"from":      from,
		},
	}, nil
}

// SendEmail sends a plain RFC 822 message from the connected account.
// Returns the Gmail message ID.
func (c *GmailClient) SendEmail(ctx context.Context, creds *Credentials, to, subject, htmlBody string) (string, error) {
	return c.submit(ctx, creds, "/messages/send", map[string]any{
		"raw": encodeRFC822(to, subject, htmlBody),
	})
}

// CreateDraft files the message as a draft instead of sending it.
func (c *GmailClient) CreateDraft(ctx context.Context, creds *Credentials, to, subject, htmlBody string) (string, error) {
	return c.submit(ctx, creds, "/drafts", map[string]any{
		"message": map[string]any{"raw": encodeRFC822(to, subject, htmlBody)},
	})
}

// ReplyInThread sends a reply attached to an existing thread.
func (c *GmailClient) ReplyInThread(ctx context.Context, creds *Credentials, threadID, to, subject, htmlBody string) (string, error) {
	return c.submit(ctx, creds, "/messages/send", map[string]any{
		"raw":      encodeRFC822(to, subject, htmlBody),
		"threadId": threadID,
	})
}

func (c *GmailClient) submit(ctx context.Context, creds *Credentials, path string, body map[string]any) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := c.door.DoJSON(ctx, &Request{
		Method: http.MethodPost,
		URL:    c.baseURL + path,
		Body:   body,
		Token:  creds.AccessToken,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// encodeRFC822 builds the base64url message body Gmail's send API wants.
func encodeRFC822(to, subject, htmlBody string) string {
	addr := to
	if parsed, err := mail.ParseAddress(to); err == nil {
		addr = parsed.Address
	}
	raw := strings.Join([]string{
		"To: " + addr,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
		"",
		htmlBody,
	}, "\r\n")
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func parseMillis(s string) (time.Time, error) {
	var ms int64
	if _, err := fmt.Sscanf(s, "%d", &ms); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
