package spycatssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Spy Cat Agency HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Cat represents the API cat model.
type Cat struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	ExperienceYears int     `json:"experience_years"`
	Breed           string  `json:"breed"`
	Salary          string  `json:"salary"`
	MissionID       *string `json:"mission_id"`
	CreatedAt       string  `json:"created_at"`
}

// NewCat is the payload for CreateCat.
type NewCat struct {
	Name            string `json:"name"`
	ExperienceYears int    `json:"experience_years"`
	Breed           string `json:"breed"`
	Salary          string `json:"salary"`
}

type Target struct {
	ID          string `json:"id"`
	MissionID   string `json:"mission_id"`
	Position    int    `json:"position"`
	Name        string `json:"name"`
	Country     string `json:"country"`
	Notes       string `json:"notes"`
	IsCompleted bool   `json:"is_completed"`
	UpdatedAt   string `json:"updated_at"`
}

// NewTarget describes a target submitted with a new mission.
type NewTarget struct {
	Name    string `json:"name"`
	Country string `json:"country"`
	Notes   string `json:"notes,omitempty"`
}

// TargetUpdate carries the fields to change. Nil fields are left alone.
type TargetUpdate struct {
	Name        *string `json:"name,omitempty"`
	Country     *string `json:"country,omitempty"`
	Notes       *string `json:"notes,omitempty"`
	IsCompleted *bool   `json:"is_completed,omitempty"`
}

type Mission struct {
	ID          string   `json:"id"`
	CatID       *string  `json:"cat_id"`
	IsCompleted bool     `json:"is_completed"`
	Targets     []Target `json:"targets"`
	CreatedAt   string   `json:"created_at"`
	CompletedAt *string  `json:"completed_at,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// EventQuery narrows Events. Zero values match everything.
type EventQuery struct {
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
}

// APIError wraps non-2xx responses. Code holds the rule the server reported
// when the body carried the standard error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Kind       string
	Field      string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// ListCats returns every cat.
func (c *Client) ListCats(ctx context.Context) ([]Cat, error) {
	var resp []Cat
	err := c.do(ctx, http.MethodGet, "cats", nil, &resp)
	return resp, err
}

// CreateCat hires a cat. The server checks the breed against its catalog.
func (c *Client) CreateCat(ctx context.Context, cat NewCat) (Cat, error) {
	var resp Cat
	err := c.do(ctx, http.MethodPost, "cats", cat, &resp)
	return resp, err
}

func (c *Client) GetCat(ctx context.Context, id string) (Cat, error) {
	var resp Cat
	err := c.do(ctx, http.MethodGet, "cats/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateCatSalary changes a cat's salary, the only editable cat field.
func (c *Client) UpdateCatSalary(ctx context.Context, id, salary string) (Cat, error) {
	var resp Cat
	err := c.do(ctx, http.MethodPatch, "cats/"+url.PathEscape(id), map[string]string{"salary": salary}, &resp)
	return resp, err
}

func (c *Client) DeleteCat(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "cats/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListMissions(ctx context.Context) ([]Mission, error) {
	var resp []Mission
	err := c.do(ctx, http.MethodGet, "missions", nil, &resp)
	return resp, err
}

// CreateMission creates a mission with its targets in one request.
func (c *Client) CreateMission(ctx context.Context, targets []NewTarget) (Mission, error) {
	body := map[string]any{"targets": targets}
	var resp Mission
	err := c.do(ctx, http.MethodPost, "missions", body, &resp)
	return resp, err
}

func (c *Client) GetMission(ctx context.Context, id string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodGet, "missions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) DeleteMission(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "missions/"+url.PathEscape(id), nil, nil)
}

func (c *Client) AssignCat(ctx context.Context, missionID, catID string) (Mission, error) {
	var resp Mission
	endpoint := fmt.Sprintf("missions/%s/assign/%s", url.PathEscape(missionID), url.PathEscape(catID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) UnassignCat(ctx context.Context, missionID string) (Mission, error) {
	var resp Mission
	endpoint := fmt.Sprintf("missions/%s/unassign", url.PathEscape(missionID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetTarget(ctx context.Context, id string) (Target, error) {
	var resp Target
	err := c.do(ctx, http.MethodGet, "targets/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateTarget patches a target. Completing the last open target completes
// the mission.
func (c *Client) UpdateTarget(ctx context.Context, id string, upd TargetUpdate) (Target, error) {
	var resp Target
	err := c.do(ctx, http.MethodPatch, "targets/"+url.PathEscape(id), upd, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, q EventQuery) ([]Event, error) {
	params := url.Values{}
	if q.Type != "" {
		params.Set("type", q.Type)
	}
	if q.EntityKind != "" {
		params.Set("entity_kind", q.EntityKind)
	}
	if q.EntityID != "" {
		params.Set("entity_id", q.EntityID)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	endpoint := "events"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Breeds returns the breed names the server currently accepts.
func (c *Client) Breeds(ctx context.Context) ([]string, error) {
	var resp struct {
		Breeds []string `json:"breeds"`
	}
	err := c.do(ctx, http.MethodGet, "breeds", nil, &resp)
	return resp.Breeds, err
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return apiErr
	}
	apiErr.Code = env.Error.Code
	apiErr.Message = env.Error.Message
	apiErr.Kind, _ = env.Error.Details["kind"].(string)
	apiErr.Field, _ = env.Error.Details["field"].(string)
	return apiErr
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
