package swapsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Skillswap HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Swap represents a negotiation between two users.
type Swap struct {
	ID             string     `json:"id"`
	RequesterID    string     `json:"requester_id"`
	ResponderID    string     `json:"responder_id"`
	OfferedSkill   string     `json:"offered_skill_id"`
	RequestedSkill string     `json:"requested_skill_id"`
	Status         string     `json:"status"`
	Message        string     `json:"message,omitempty"`
	Reason         *string    `json:"reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	RejectedAt     *time.Time `json:"rejected_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// SwapPage is one page of a user's swaps.
type SwapPage struct {
	Items    []Swap `json:"items"`
	PageInfo struct {
		Page       int   `json:"page"`
		Limit      int   `json:"limit"`
		Total      int64 `json:"total"`
		TotalPages int   `json:"total_pages"`
		HasNext    bool  `json:"has_next"`
	} `json:"page_info"`
}

// Feedback is a rating left after a completed swap.
type Feedback struct {
	ID         string    `json:"id"`
	SwapID     string    `json:"swap_id"`
	FromUserID string    `json:"from_user_id"`
	ToUserID   string    `json:"to_user_id"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	IsPublic   bool      `json:"is_public"`
	CreatedAt  time.Time `json:"created_at"`
}

type Reputation struct {
	UserID        string  `json:"user_id"`
	AverageRating float64 `json:"average_rating"`
	TotalRatings  int64   `json:"total_ratings"`
}

type FeedbackStats struct {
	UserID        string  `json:"user_id"`
	Total         int64   `json:"total"`
	Given         int64   `json:"given"`
	Received      int64   `json:"received"`
	AverageRating float64 `json:"average_rating"`
}

type Skill struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	Active     bool   `json:"active"`
	UsageCount int64  `json:"usage_count"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code carries the error envelope code
// when the body could be decoded.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateSwap proposes a swap to responderID.
func (c *Client) CreateSwap(ctx context.Context, responderID, offeredSkillID, requestedSkillID, message string) (Swap, error) {
	body := map[string]any{
		"responder_id":       responderID,
		"offered_skill_id":   offeredSkillID,
		"requested_skill_id": requestedSkillID,
	}
	if message != "" {
		body["message"] = message
	}
	var resp Swap
	err := c.do(ctx, http.MethodPost, "swaps", body, &resp)
	return resp, err
}

func (c *Client) GetSwap(ctx context.Context, swapID string) (Swap, error) {
	var resp Swap
	err := c.do(ctx, http.MethodGet, "swaps/"+url.PathEscape(swapID), nil, &resp)
	return resp, err
}

// Transition applies accept, reject, cancel or complete.
func (c *Client) Transition(ctx context.Context, swapID, action, reason string) (Swap, error) {
	body := map[string]any{"action": action}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Swap
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("swaps/%s/transition", url.PathEscape(swapID)), body, &resp)
	return resp, err
}

func (c *Client) Accept(ctx context.Context, swapID string) (Swap, error) {
	return c.Transition(ctx, swapID, "accept", "")
}

func (c *Client) Reject(ctx context.Context, swapID, reason string) (Swap, error) {
	return c.Transition(ctx, swapID, "reject", reason)
}

func (c *Client) Cancel(ctx context.Context, swapID, reason string) (Swap, error) {
	return c.Transition(ctx, swapID, "cancel", reason)
}

func (c *Client) Complete(ctx context.Context, swapID string) (Swap, error) {
	return c.Transition(ctx, swapID, "complete", "")
}

// DeleteSwap withdraws a pending swap.
func (c *Client) DeleteSwap(ctx context.Context, swapID string) (Swap, error) {
	var resp Swap
	err := c.do(ctx, http.MethodDelete, "swaps/"+url.PathEscape(swapID), nil, &resp)
	return resp, err
}

// SubmitFeedback rates the other party of a completed swap. toUserID may be
// empty.
func (c *Client) SubmitFeedback(ctx context.Context, swapID, toUserID string, rating int, comment string, public bool) (Feedback, error) {
	body := map[string]any{
		"rating":    rating,
		"is_public": public,
	}
	if toUserID != "" {
		body["to_user_id"] = toUserID
	}
	if comment != "" {
		body["comment"] = comment
	}
	var resp Feedback
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("swaps/%s/feedback", url.PathEscape(swapID)), body, &resp)
	return resp, err
}

// UserSwaps lists the caller's swaps. status may be empty.
func (c *Client) UserSwaps(ctx context.Context, userID, status string, page, limit int) (SwapPage, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if page > 0 {
		q.Set("page", fmt.Sprint(page))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp SwapPage
	err := c.do(ctx, http.MethodGet, withQuery(fmt.Sprintf("users/%s/swaps", url.PathEscape(userID)), q), nil, &resp)
	return resp, err
}

func (c *Client) Reputation(ctx context.Context, userID string) (Reputation, error) {
	var resp Reputation
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("users/%s/reputation", url.PathEscape(userID)), nil, &resp)
	return resp, err
}

func (c *Client) FeedbackStats(ctx context.Context, userID string) (FeedbackStats, error) {
	var resp FeedbackStats
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("users/%s/feedback/stats", url.PathEscape(userID)), nil, &resp)
	return resp, err
}

// Skills lists catalog skills, optionally narrowed to a category.
func (c *Client) Skills(ctx context.Context, category string) ([]Skill, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	var resp struct {
		Items []Skill `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("skills", q), nil, &resp)
	return resp.Items, err
}

// Events returns the caller's recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
