// Package client talks to a handoffd server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rflorenc/state-handoff/internal/events"
	"github.com/rflorenc/state-handoff/internal/host"
	"github.com/rflorenc/state-handoff/internal/models"
)

// Client is an authenticated API client. Calls that change state are made
// as the client's account.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// New creates a Client for the server at baseURL.
func New(baseURL, username, password string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Error is a non-2xx answer from the server.
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// do sends payload as JSON and returns the response body of a 2xx answer.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{Method: method, Path: path, StatusCode: resp.StatusCode, Message: truncate(string(body), 200)}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
		}
		return nil, apiErr
	}
	return body, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, dest any) error {
	body, err := c.do(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func instancePath(addr models.Addr, suffix string) string {
	return "/api/instances/" + url.PathEscape(string(addr)) + suffix
}

// Codes returns the code hash of every service kind the server runs.
func (c *Client) Codes(ctx context.Context) (map[string]string, error) {
	var codes map[string]string
	if err := c.doJSON(ctx, http.MethodGet, "/api/codes", nil, &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// Instances lists the registered instances, oldest first.
func (c *Client) Instances(ctx context.Context) ([]models.Instance, error) {
	var list []models.Instance
	if err := c.doJSON(ctx, http.MethodGet, "/api/instances", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Instance returns one registered instance.
func (c *Client) Instance(ctx context.Context, addr models.Addr) (*models.Instance, error) {
	var inst models.Instance
	if err := c.doJSON(ctx, http.MethodGet, instancePath(addr, ""), nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// Instantiate creates an instance of kind; msg is its init message.
func (c *Client) Instantiate(ctx context.Context, kind, label string, msg any) (*models.Instance, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling init message: %w", err)
	}
	req := map[string]any{"kind": kind, "label": label, "msg": json.RawMessage(raw)}
	var inst models.Instance
	if err := c.doJSON(ctx, http.MethodPost, "/api/instances", req, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// Execute sends an execute message to addr.
func (c *Client) Execute(ctx context.Context, addr models.Addr, msg any) (*host.Response, error) {
	var resp host.Response
	if err := c.doJSON(ctx, http.MethodPost, instancePath(addr, "/execute"), msg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Query sends a query to addr and returns the raw JSON answer.
func (c *Client) Query(ctx context.Context, addr models.Addr, msg any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, instancePath(addr, "/query"), msg)
}

// Migrate asks the source at addr to hand off to target.
func (c *Client) Migrate(ctx context.Context, source, target models.Addr) (*host.Response, error) {
	var resp host.Response
	if err := c.doJSON(ctx, http.MethodPost, instancePath(source, "/migrate"), map[string]models.Addr{"target": target}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull triggers the pull step on the target at addr.
func (c *Client) Pull(ctx context.Context, target models.Addr) (*host.Response, error) {
	var resp host.Response
	if err := c.doJSON(ctx, http.MethodPost, instancePath(target, "/pull"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events returns the committed events of addr from offset on.
func (c *Client) Events(ctx context.Context, addr models.Addr, offset int) ([]events.Event, error) {
	path := instancePath(addr, "/events")
	if offset > 0 {
		path += "?offset=" + strconv.Itoa(offset)
	}
	var evs []events.Event
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &evs); err != nil {
		return nil, err
	}
	return evs, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
