// Package slack looks up conversation threads referenced by work items.
//
// This is a thin pass-through over the Slack Web API with no retry or
// backoff. Lookup problems are reported inside the conversation payload so
// a ticket detail view can render without thread data.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://slack.com/api"

// Message is one thread message.
type Message struct {
	User     string `json:"user,omitempty"`
	Username string `json:"username"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
	Files    []File `json:"files,omitempty"`
}

// File is an attachment on a message.
type File struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
}

// Conversation is the thread lookup result. Error is set (and Messages
// empty) when the lookup could not be served.
type Conversation struct {
	Channel  string    `json:"channel"`
	Messages []Message `json:"messages"`
	Error    string    `json:"error,omitempty"`
}

// Client calls the Slack Web API.
type Client struct {
	token   string
	baseURL string
	httpc   *http.Client
	logger  *zap.Logger
}

// New creates a Slack client. An empty token yields a client whose lookups
// report a configuration error instead of failing.
func New(token string, logger *zap.Logger) *Client {
	return &Client{
		token:   token,
		baseURL: defaultBaseURL,
		httpc:   &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

type apiMessage struct {
	User     string `json:"user"`
	Username string `json:"username"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
	Files    []struct {
		Name            string `json:"name"`
		PrettyType      string `json:"pretty_type"`
		Mimetype        string `json:"mimetype"`
		URLPrivate      string `json:"url_private"`
		PermalinkPublic string `json:"permalink_public"`
	} `json:"files"`
}

type historyResponse struct {
	OK       bool         `json:"ok"`
	Error    string       `json:"error"`
	Messages []apiMessage `json:"messages"`
}

// GetConversation fetches channel history, or the replies of a single
// thread when messageTS is non-empty.
func (c *Client) GetConversation(ctx context.Context, channelID, messageTS string) *Conversation {
	conv := &Conversation{Channel: channelID, Messages: []Message{}}

	if c.token == "" {
		conv.Error = "Slack token not configured. Add SLACK_BOT_TOKEN to .env"
		return conv
	}

	endpoint := "/conversations.history"
	params := url.Values{"channel": {channelID}, "limit": {"50"}}
	if messageTS != "" {
		endpoint = "/conversations.replies"
		params.Set("ts", messageTS)
	}

	var resp historyResponse
	if err := c.get(ctx, endpoint, params, &resp); err != nil {
		c.logger.Warn("slack conversation lookup failed",
			zap.String("channel", channelID), zap.Error(err))
		conv.Error = err.Error()
		return conv
	}
	if !resp.OK {
		conv.Error = resp.Error
		if conv.Error == "" {
			conv.Error = "failed to fetch Slack messages"
		}
		return conv
	}

	for _, m := range resp.Messages {
		msg := Message{
			User:     m.User,
			Username: m.Username,
			Text:     m.Text,
			TS:       m.TS,
			ThreadTS: m.ThreadTS,
		}
		if msg.Username == "" && m.User != "" {
			if name := c.userName(ctx, m.User); name != "" {
				msg.Username = name
			}
		}
		if msg.Username == "" {
			msg.Username = "Unknown"
		}
		for _, f := range m.Files {
			file := File{Name: f.Name, Type: f.PrettyType, Mimetype: f.Mimetype, URL: f.URLPrivate}
			if file.Type == "" {
				file.Type = f.Mimetype
			}
			if file.Type == "" {
				file.Type = "file"
			}
			if file.URL == "" {
				file.URL = f.PermalinkPublic
			}
			msg.Files = append(msg.Files, file)
		}
		conv.Messages = append(conv.Messages, msg)
	}

	return conv
}

type userInfoResponse struct {
	OK   bool `json:"ok"`
	User struct {
		Name     string `json:"name"`
		RealName string `json:"real_name"`
	} `json:"user"`
}

func (c *Client) userName(ctx context.Context, userID string) string {
	var resp userInfoResponse
	if err := c.get(ctx, "/users.info", url.Values{"user": {userID}}, &resp); err != nil || !resp.OK {
		return ""
	}
	if resp.User.RealName != "" {
		return resp.User.RealName
	}
	return resp.User.Name
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}
