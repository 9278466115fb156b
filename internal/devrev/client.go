package devrev

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// pageLimit is the page size requested from works.list.
	pageLimit = 100

	// interPageDelay spaces out page requests to stay under remote rate
	// limits. Fixed by design, not configurable per call.
	interPageDelay = 100 * time.Millisecond

	// maxPages bounds the cursor loop. A remote that keeps returning a
	// non-null cursor past this many pages is treated as misbehaving and
	// the fetch fails rather than looping forever.
	maxPages = 1000

	requestTimeout = 30 * time.Second
)

// ProgressFunc is invoked after every fetched page with the cumulative item
// count and the next cursor ("" once the final page has been received).
// It is purely observational and has no effect on the fetch.
type ProgressFunc func(count int, nextCursor string)

// Client talks to the DevRev REST API.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *zap.Logger
}

// NewClient creates a DevRev API client. The bearer token is required.
func NewClient(baseURL, token string, logger *zap.Logger) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("devrev: API token is not set")
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}, nil
}

type listRequest struct {
	Limit  int      `json:"limit"`
	Cursor string   `json:"cursor,omitempty"`
	Type   []string `json:"type,omitempty"`
}

type listResponse struct {
	Works      []Work  `json:"works"`
	NextCursor *string `json:"next_cursor"`
}

// FetchAllWorks retrieves every work item of the given types, following
// cursor pagination until the remote reports no further pages. The full
// result set is buffered in memory; on any transport or API error the
// entire fetch fails with no partial results.
func (c *Client) FetchAllWorks(ctx context.Context, types []string, onProgress ProgressFunc) ([]Work, error) {
	var all []Work
	cursor := ""

	for page := 1; ; page++ {
		if page > maxPages {
			return nil, fmt.Errorf("devrev: works.list exceeded %d pages without a final cursor", maxPages)
		}

		c.logger.Debug("fetching works page", zap.Int("page", page))

		req := listRequest{Limit: pageLimit, Type: types}
		if cursor != "" {
			req.Cursor = cursor
		}

		var resp listResponse
		if err := c.post(ctx, "/works.list", req, &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch works from DevRev: %w", err)
		}

		all = append(all, resp.Works...)

		cursor = ""
		if resp.NextCursor != nil {
			cursor = *resp.NextCursor
		}

		if onProgress != nil {
			onProgress(len(all), cursor)
		}

		if cursor == "" {
			break
		}

		select {
		case <-time.After(interPageDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.logger.Info("fetched works from DevRev", zap.Int("total", len(all)))
	return all, nil
}

// FetchIssuesAndTickets retrieves all issue and ticket work items.
func (c *Client) FetchIssuesAndTickets(ctx context.Context, onProgress ProgressFunc) ([]Work, error) {
	return c.FetchAllWorks(ctx, []string{"issue", "ticket"}, onProgress)
}

type discussionsRequest struct {
	Work  workRef `json:"work"`
	Limit int     `json:"limit"`
}

type workRef struct {
	ID string `json:"id"`
}

type discussionsResponse struct {
	Comments []json.RawMessage `json:"comments"`
}

// FetchWorkDiscussions returns the internal discussion comments attached to
// a work item. Lookup failures degrade to an empty list: discussions are an
// enrichment, never a reason to fail a detail view.
func (c *Client) FetchWorkDiscussions(ctx context.Context, workID string) []json.RawMessage {
	var resp discussionsResponse
	err := c.post(ctx, "/work_comments.list", discussionsRequest{Work: workRef{ID: workID}, Limit: 100}, &resp)
	if err != nil {
		c.logger.Warn("failed to fetch work discussions", zap.String("work_id", workID), zap.Error(err))
		return nil
	}
	return resp.Comments
}

// post issues an authenticated JSON POST and decodes the response into out.
// Non-2xx responses surface the remote error payload in the returned error.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, string(data))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
