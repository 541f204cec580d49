// Package cliclient is the clamban CLI's HTTP client for talking to
// clambanserverd, generalizing the reference daemon's
// internal/appclient.Client (Unix-socket dialer, request/RequestError
// pair, typed per-endpoint wrappers) onto a loopback TCP base URL.
package cliclient

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

	"github.com/clamban/clamban/internal/api"
	"github.com/clamban/clamban/internal/model"
)

type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

const defaultTimeout = 10 * time.Second

func New(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{baseURL: base, http: &http.Client{}, timeout: defaultTimeout}
}

// RequestError is the client-visible shape of a non-2xx response.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Code)
}

func (c *Client) Board(ctx context.Context) (model.Board, error) {
	var b model.Board
	err := c.getJSON(ctx, "/api/board", nil, &b)
	return b, err
}

// ListTasks bulk-fetches tasks by id, mirroring GET /api/tasks?ids=.
func (c *Client) ListTasks(ctx context.Context, ids []string) ([]model.Task, error) {
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	var tasks []model.Task
	err := c.getJSON(ctx, "/api/tasks", query, &tasks)
	return tasks, err
}

// SearchTasks mirrors GET /api/tasks/search?q=&column=&limit=.
func (c *Client) SearchTasks(ctx context.Context, q, column string, limit int) ([]model.Task, error) {
	query := url.Values{}
	if q != "" {
		query.Set("q", q)
	}
	if column != "" {
		query.Set("column", column)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	var tasks []model.Task
	err := c.getJSON(ctx, "/api/tasks/search", query, &tasks)
	return tasks, err
}

func (c *Client) CreateTask(ctx context.Context, req any) (model.Task, error) {
	var task model.Task
	err := c.doJSON(ctx, http.MethodPost, "/api/tasks", req, &task)
	return task, err
}

func (c *Client) PatchTask(ctx context.Context, id string, req any) (model.Task, error) {
	var task model.Task
	err := c.doJSON(ctx, http.MethodPatch, "/api/tasks/"+id, req, &task)
	return task, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/tasks/"+id, nil, nil)
}

func (c *Client) TeamStatus(ctx context.Context) (api.TeamStatusResponse, error) {
	var resp api.TeamStatusResponse
	err := c.getJSON(ctx, "/api/team", nil, &resp)
	return resp, err
}

func (c *Client) ConnectTeam(ctx context.Context, req api.ConnectTeamRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/api/team/connect", req, nil)
}

func (c *Client) DisconnectTeam(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/team/disconnect", nil, nil)
}

func (c *Client) StartTeam(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/team/start", nil, nil)
}

func (c *Client) StopTeam(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/team/stop", nil, nil)
}

func (c *Client) TeamLogs(ctx context.Context, lines int) (string, error) {
	query := url.Values{}
	if lines > 0 {
		query.Set("lines", fmt.Sprintf("%d", lines))
	}
	var out struct {
		Logs string `json:"logs"`
	}
	err := c.getJSON(ctx, "/api/team/logs", query, &out)
	return out.Logs, err
}

func (c *Client) TeamHistory(ctx context.Context, limit int) (api.CycleHistoryResponse, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	var resp api.CycleHistoryResponse
	err := c.getJSON(ctx, "/api/team/history", query, &resp)
	return resp, err
}

func (c *Client) AvailableTeams(ctx context.Context) ([]map[string]any, error) {
	var out struct {
		Teams []map[string]any `json:"teams"`
	}
	err := c.getJSON(ctx, "/api/teams/available", nil, &out)
	return out.Teams, err
}

func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var resp api.HealthResponse
	err := c.getJSON(ctx, "/api/healthz", nil, &resp)
	return resp, err
}

// Events opens the /api/events SSE stream and calls onFrame for every
// parsed event until ctx is cancelled or the connection drops.
func (c *Client) Events(ctx context.Context, onFrame func(api.SSEEvent)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		return c.errorFromBody(resp.StatusCode, resp.Body)
	}

	reader := bufReader{r: resp.Body}
	for {
		line, err := reader.readLine()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		var evt api.SSEEvent
		if jsonErr := json.Unmarshal([]byte(payload), &evt); jsonErr == nil {
			onFrame(evt)
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.doJSONQuery(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	return c.doJSONQuery(ctx, method, path, nil, body, out)
}

func (c *Client) doJSONQuery(ctx context.Context, method, path string, query url.Values, body, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return c.decodeError(resp.StatusCode, payload)
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) decodeError(status int, payload []byte) error {
	var er api.ErrorResponse
	if err := json.Unmarshal(payload, &er); err == nil && er.Error.Code != "" {
		return &RequestError{StatusCode: status, Code: er.Error.Code, Message: er.Error.Message}
	}
	return &RequestError{StatusCode: status, Code: fmt.Sprintf("HTTP_%d", status), Message: strings.TrimSpace(string(payload))}
}

func (c *Client) errorFromBody(status int, body io.Reader) error {
	payload, _ := io.ReadAll(body)
	return c.decodeError(status, payload)
}

// bufReader is a minimal line reader so Events avoids pulling in
// bufio.Scanner's line-length cap for a long-lived stream.
type bufReader struct {
	r   io.Reader
	buf []byte
}

func (b *bufReader) readLine() (string, error) {
	for {
		if idx := indexByte(b.buf, '\n'); idx >= 0 {
			line := string(b.buf[:idx])
			b.buf = b.buf[idx+1:]
			return strings.TrimRight(line, "\r"), nil
		}
		chunk := make([]byte, 4096)
		n, err := b.r.Read(chunk)
		if n > 0 {
			b.buf = append(b.buf, chunk[:n]...)
		}
		if err != nil {
			if len(b.buf) > 0 {
				line := string(b.buf)
				b.buf = nil
				return line, nil
			}
			return "", err
		}
	}
}

func indexByte(buf []byte, c byte) int {
	for i, b := range buf {
		if b == c {
			return i
		}
	}
	return -1
}
