package pactlinesdk

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

// Client is a minimal Pactline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Promise is the API promise model (partial).
type Promise struct {
	ID            string        `json:"id"`
	Type          string        `json:"type"`
	Title         string        `json:"title"`
	Description   string        `json:"description,omitempty"`
	Status        string        `json:"status"`
	Seriousness   string        `json:"seriousness"`
	Visibility    string        `json:"visibility"`
	ShareCode     string        `json:"share_code,omitempty"`
	Participants  []Participant `json:"participants"`
	Conditions    []Condition   `json:"conditions"`
	Evidences     []Evidence    `json:"evidences"`
	Timezone      string        `json:"timezone"`
	StartAt       *string       `json:"start_at,omitempty"`
	DueAt         *string       `json:"due_at,omitempty"`
	PreferredView string        `json:"preferred_view"`
	CreatedAt     string        `json:"created_at"`
	UpdatedAt     string        `json:"updated_at"`
}

type Participant struct {
	UserID     string  `json:"user_id"`
	Role       string  `json:"role"`
	Status     string  `json:"status"`
	AcceptedAt *string `json:"accepted_at,omitempty"`
}

type Condition struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Type  string  `json:"type"`
	IsMet bool    `json:"is_met"`
	MetAt *string `json:"met_at,omitempty"`
}

type Evidence struct {
	ID          string `json:"id"`
	ByUserID    string `json:"by_user_id"`
	Kind        string `json:"kind"`
	URL         string `json:"url,omitempty"`
	Text        string `json:"text,omitempty"`
	ConditionID string `json:"condition_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type Receipt struct {
	ID        int64          `json:"id"`
	PromiseID string         `json:"promise_id"`
	At        string         `json:"at"`
	ActorID   string         `json:"actor_id,omitempty"`
	Action    string         `json:"action"`
	Meta      map[string]any `json:"meta"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreatePromise creates a promise from an arbitrary request body.
func (c *Client) CreatePromise(ctx context.Context, body map[string]any) (Promise, error) {
	var resp Promise
	err := c.do(ctx, http.MethodPost, "v0/promises", body, &resp)
	return resp, err
}

// ListPromises returns the caller's promises.
func (c *Client) ListPromises(ctx context.Context) ([]Promise, error) {
	var resp []Promise
	err := c.do(ctx, http.MethodGet, "v0/promises", nil, &resp)
	return resp, err
}

// GetPromise fetches a promise by id.
func (c *Client) GetPromise(ctx context.Context, id string) (Promise, error) {
	var resp Promise
	err := c.do(ctx, http.MethodGet, c.promisePath(id, ""), nil, &resp)
	return resp, err
}

// DeletePromise soft-deletes a promise.
func (c *Client) DeletePromise(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.promisePath(id, ""), nil, nil)
}

// Send proposes a draft promise.
func (c *Client) Send(ctx context.Context, id string) (Promise, error) {
	return c.transition(ctx, id, "send", nil)
}

// Accept activates a proposed promise.
func (c *Client) Accept(ctx context.Context, id string) (Promise, error) {
	return c.transition(ctx, id, "accept", nil)
}

// Cancel cancels a promise.
func (c *Client) Cancel(ctx context.Context, id, reason string) (Promise, error) {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	return c.transition(ctx, id, "cancel", body)
}

// Fulfill marks an active promise kept.
func (c *Client) Fulfill(ctx context.Context, id string) (Promise, error) {
	return c.transition(ctx, id, "fulfill", nil)
}

// Breach declares an active promise broken.
func (c *Client) Breach(ctx context.Context, id, reason string) (Promise, error) {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	return c.transition(ctx, id, "breach", body)
}

// Publish publishes a draft declaration or oath.
func (c *Client) Publish(ctx context.Context, id string) (Promise, error) {
	return c.transition(ctx, id, "publish", nil)
}

// Settle resolves an active promise in favor of a participant.
func (c *Client) Settle(ctx context.Context, id, winnerUserID, note string) (Promise, error) {
	body := map[string]any{"winner_user_id": winnerUserID}
	if note != "" {
		body["note"] = note
	}
	return c.transition(ctx, id, "settle", body)
}

// Extend pushes the due time forward by minutes.
func (c *Client) Extend(ctx context.Context, id string, minutes int) (Promise, error) {
	return c.transition(ctx, id, "extend", map[string]any{"minutes": minutes})
}

// CoinFlip records a fair coin flip and returns "heads" or "tails".
func (c *Client) CoinFlip(ctx context.Context, id string) (string, error) {
	var resp struct {
		Result string `json:"result"`
	}
	err := c.do(ctx, http.MethodPost, c.promisePath(id, "coin-flip"), nil, &resp)
	return resp.Result, err
}

// AcceptParticipant records the caller's acceptance.
func (c *Client) AcceptParticipant(ctx context.Context, id string, signature map[string]any) (Promise, error) {
	body := map[string]any{}
	if signature != nil {
		body["signature"] = signature
	}
	var resp Promise
	err := c.do(ctx, http.MethodPost, c.promisePath(id, "participants/accept"), body, &resp)
	return resp, err
}

// MarkConditionMet marks a condition satisfied.
func (c *Client) MarkConditionMet(ctx context.Context, id, conditionID string) (Promise, error) {
	var resp Promise
	endpoint := c.promisePath(id, fmt.Sprintf("conditions/%s/met", url.PathEscape(conditionID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// AddEvidence attaches evidence to a promise.
func (c *Client) AddEvidence(ctx context.Context, id string, body map[string]any) (Evidence, error) {
	var resp Evidence
	err := c.do(ctx, http.MethodPost, c.promisePath(id, "evidences"), body, &resp)
	return resp, err
}

// RemoveEvidence detaches evidence from a promise.
func (c *Client) RemoveEvidence(ctx context.Context, id, evidenceID string) error {
	endpoint := c.promisePath(id, fmt.Sprintf("evidences/%s", url.PathEscape(evidenceID)))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// Receipts returns the promise's receipts, oldest first.
func (c *Client) Receipts(ctx context.Context, id string) ([]Receipt, error) {
	var resp []Receipt
	err := c.do(ctx, http.MethodGet, c.promisePath(id, "receipts"), nil, &resp)
	return resp, err
}

// Shared fetches a promise by its public share code.
func (c *Client) Shared(ctx context.Context, code string) (Promise, error) {
	var resp Promise
	err := c.do(ctx, http.MethodGet, "v0/share/"+url.PathEscape(code), nil, &resp)
	return resp, err
}

func (c *Client) transition(ctx context.Context, id, op string, body map[string]any) (Promise, error) {
	var resp Promise
	err := c.do(ctx, http.MethodPost, c.promisePath(id, op), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
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
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) promisePath(id, suffix string) string {
	p := fmt.Sprintf("v0/promises/%s", url.PathEscape(id))
	if suffix != "" {
		p += "/" + strings.TrimLeft(suffix, "/")
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
