package platform

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/yarnnn/orchestrator/pkg/models"
)

// SlackClient pulls channel history through the slack-go SDK and carries
// the send surface the Slack exporter delivers through. Tokens are
// per-connection, so the SDK client is built per call.
type SlackClient struct {
	apiURL  string // override for tests; empty uses the real API
	history int    // messages per channel per pull
	logger  *slog.Logger
}

// NewSlackClient creates the Slack platform client.
func NewSlackClient(messagesPerChannel int) *SlackClient {
	return &SlackClient{
		history: messagesPerChannel,
		logger:  slog.Default().With("component", "slack-client"),
	}
}

// NewSlackClientWithAPIURL targets a custom API URL, for tests against a
// mock server.
func NewSlackClientWithAPIURL(messagesPerChannel int, apiURL string) *SlackClient {
	c := NewSlackClient(messagesPerChannel)
	c.apiURL = apiURL
	return c
}

// Platform implements Client.
func (c *SlackClient) Platform() models.Platform { return models.PlatformSlack }

func (c *SlackClient) api(creds *Credentials) *goslack.Client {
	opts := []goslack.Option{}
	if c.apiURL != "" {
		opts = append(opts, goslack.OptionAPIURL(c.apiURL))
	}
	return goslack.New(creds.AccessToken, opts...)
}

// Discover catalogs the channels the workspace token can see.
func (c *SlackClient) Discover(ctx context.Context, creds *Credentials) ([]models.Resource, error) {
	api := c.api(creds)
	var resources []models.Resource
	cursor := ""
	for {
		channels, next, err := api.GetConversationsContext(ctx, &goslack.GetConversationsParameters{
			Types:           []string{"public_channel", "private_channel"},
			ExcludeArchived: true,
			Limit:           200,
			Cursor:          cursor,
		})
		if err != nil {
			return nil, c.wrap("conversations.list", err)
		}
		for _, ch := range channels {
			resources = append(resources, models.Resource{
				ID:   ch.ID,
				Name: "#" + ch.Name,
				Kind: "channel",
				Metadata: map[string]any{
					"is_private": ch.IsPrivate,
					"is_member":  ch.IsMember,
				},
			})
		}
		if next == "" {
			return resources, nil
		}
		cursor = next
	}
}

// Fetch pulls recent messages from one channel. Public channels the bot
// has not joined are auto-joined and retried once; private channels the
// token cannot read surface the provider error for the caller to skip.
func (c *SlackClient) Fetch(ctx context.Context, creds *Credentials, channelID string, opts FetchOptions) (*FetchResult, error) {
	api := c.api(creds)
	limit := opts.Limit
	if limit <= 0 {
		limit = c.history
	}

	params := &goslack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Limit:     limit,
	}
	if !opts.Since.IsZero() {
		params.Oldest = fmt.Sprintf("%d", opts.Since.Unix())
	}

	history, err := api.GetConversationHistoryContext(ctx, params)
	if err != nil && err.Error() == "not_in_channel" {
		c.logger.Info("Joining channel before history pull", "channel_id", channelID)
		if _, _, _, joinErr := api.JoinConversationContext(ctx, channelID); joinErr != nil {
			return nil, c.wrap("conversations.join", joinErr)
		}
		history, err = api.GetConversationHistoryContext(ctx, params)
	}
	if err != nil {
		return nil, c.wrap("conversations.history", err)
	}

	items := make([]models.PlatformContent, 0, len(history.Messages))
	for _, msg := range history.Messages {
		if msg.SubType != "" && msg.SubType != "thread_broadcast" {
			continue // joins, topic changes, and other channel noise
		}
		items = append(items, models.PlatformContent{
			Platform:        models.PlatformSlack,
			ResourceID:      channelID,
			SourceRef:       msg.Timestamp,
			Body:            msg.Text,
			SourceTimestamp: slackTimestamp(msg.Timestamp),
			Metadata: map[string]any{
				"user":      msg.User,
				"thread_ts": msg.ThreadTimestamp,
			},
		})
	}
	return &FetchResult{Items: items}, nil
}

// PostMessage sends markdown-ish text to a channel, optionally threaded.
// Returns the message timestamp for permalinking.
func (c *SlackClient) PostMessage(ctx context.Context, creds *Credentials, channelID, text, threadTS string) (string, error) {
	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil)),
		goslack.MsgOptionText(text, false),
	}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}
	_, ts, err := c.api(creds).PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", c.wrap("chat.postMessage", err)
	}
	return ts, nil
}

// OpenDMByEmail resolves a workspace user by email and opens a DM channel
// with them. Used by the dm_draft delivery format.
func (c *SlackClient) OpenDMByEmail(ctx context.Context, creds *Credentials, email string) (string, error) {
	api := c.api(creds)
	user, err := api.GetUserByEmailContext(ctx, email)
	if err != nil {
		return "", c.wrap("users.lookupByEmail", err)
	}
	channel, _, _, err := api.OpenConversationContext(ctx, &goslack.OpenConversationParameters{
		Users: []string{user.ID},
	})
	if err != nil {
		return "", c.wrap("conversations.open", err)
	}
	return channel.ID, nil
}

// wrap converts slack-go errors, whose Error() is the provider code, into
// the shared APIError taxonomy.
func (c *SlackClient) wrap(call string, err error) error {
	code := err.Error()
	apiErr := &APIError{Platform: models.PlatformSlack, Code: code, Message: call + " failed"}
	switch code {
	case "invalid_auth", "token_revoked", "account_inactive":
		return &AuthError{Platform: models.PlatformSlack, Reason: code}
	case "ratelimited", "rate_limited":
		apiErr.StatusCode = 429
	case "channel_not_found":
		apiErr.StatusCode = 404
	case "not_in_channel", "missing_scope", "restricted_action":
		apiErr.StatusCode = 403
	default:
		apiErr.Message = fmt.Sprintf("%s failed: %v", call, err)
	}
	return apiErr
}

// slackTimestamp converts Slack's "1234567890.123456" ts into a time.
func slackTimestamp(ts string) time.Time {
	secs, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(int64(secs), 0).UTC()
}
