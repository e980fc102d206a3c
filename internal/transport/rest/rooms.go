package rest

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

	"brainfuel-session/internal/domain"
)

const requestTimeout = 15 * time.Second

// Client talks to the Room Service REST API. The bearer token is treated as an
// opaque string supplied by the session service; token refresh is not this
// client's job.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

type joinRequest struct {
	IsSpectator bool `json:"is_spectator"`
}

// JoinRoom performs the REST join. A non-2xx response is fatal to this call
// and surfaces the server-given reason; the caller decides whether to retry.
func (c *Client) JoinRoom(ctx context.Context, code string, asSpectator bool) error {
	body, err := json.Marshal(joinRequest{IsSpectator: asSpectator})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, c.roomPath(code, "join"), body)
	if err != nil {
		return fmt.Errorf("join room %s: %w", code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.JoinError{
			RoomCode:   code,
			StatusCode: resp.StatusCode,
			Reason:     readReason(resp.Body),
		}
	}
	return nil
}

// GetRoom fetches the current room metadata (host, status, participants).
func (c *Client) GetRoom(ctx context.Context, code string) (domain.Room, error) {
	resp, err := c.do(ctx, http.MethodGet, c.roomPath(code, ""), nil)
	if err != nil {
		return domain.Room{}, fmt.Errorf("get room %s: %w", code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Room{}, fmt.Errorf("get room %s: status %d", code, resp.StatusCode)
	}

	var room domain.Room
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		return domain.Room{}, fmt.Errorf("decode room %s: %w", code, err)
	}
	if room.Code == "" {
		room.Code = code
	}
	return room, nil
}

// StartMatch triggers the server-side match start. Host-only; the server is
// the authority and will reject non-host callers.
func (c *Client) StartMatch(ctx context.Context, code string) error {
	return c.postAction(ctx, code, "start")
}

// Rematch requests a new round in the same room. Host-only.
func (c *Client) Rematch(ctx context.Context, code string) error {
	return c.postAction(ctx, code, "rematch")
}

func (c *Client) postAction(ctx context.Context, code, action string) error {
	resp, err := c.do(ctx, http.MethodPost, c.roomPath(code, action), nil)
	if err != nil {
		return fmt.Errorf("%s room %s: %w", action, code, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s room %s: %s (status %d)", action, code, readReason(resp.Body), resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

func (c *Client) roomPath(code, action string) string {
	p := "/rooms/" + url.PathEscape(code)
	if action != "" {
		p += "/" + action
	}
	return p
}

// readReason pulls a human-readable error out of common REST error bodies.
func readReason(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var fields struct {
		Detail  string `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &fields); err == nil {
		for _, s := range []string{fields.Detail, fields.Error, fields.Message} {
			if s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(data))
}
