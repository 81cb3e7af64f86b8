// Package client talks to a journal server over its HTTP API and change
// feed websocket. *Client implements journal.Backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tradejournal/pkg/journal"
)

// Options configures a Client.
type Options struct {
	// BaseURL is the server root, e.g. http://127.0.0.1:8000.
	BaseURL string
	// Token is sent as a bearer token on every request.
	Token      string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *slog.Logger
}

// Client is a journal.Backend backed by a remote server. The server derives
// the owner from the token, so every call acts as that owner.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	dialer *websocket.Dialer
	logger *slog.Logger
}

var _ journal.Backend = (*Client)(nil)

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if raw == "" {
		return nil, journal.NewError(journal.ErrCodeInvalidInput, "base URL is required")
	}
	base, err := url.Parse(raw)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, journal.NewError(journal.ErrCodeInvalidInput, fmt.Sprintf("invalid base URL %q", opts.BaseURL))
	}
	c := &Client{
		base:   base,
		token:  opts.Token,
		http:   opts.HTTPClient,
		dialer: opts.Dialer,
		logger: opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Fetch lists the caller's rows. ownerID is not sent; the adapter drops any
// row that does not match it.
func (c *Client) Fetch(ctx context.Context, ownerID string) ([]journal.Row, error) {
	var rows []journal.Row
	if err := c.do(ctx, http.MethodGet, "/api/trades", nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) Insert(ctx context.Context, row journal.Row) (journal.Row, error) {
	var out journal.Row
	if err := c.do(ctx, http.MethodPost, "/api/trades", row, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, row journal.Row) (journal.Row, error) {
	id, err := journal.RowID(row)
	if err != nil {
		return nil, err
	}
	var out journal.Row
	if err := c.do(ctx, http.MethodPut, "/api/trades/"+url.PathEscape(id), row, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	if id == "" {
		return journal.NewError(journal.ErrCodeInvalidInput, "id is required")
	}
	return c.do(ctx, http.MethodDelete, "/api/trades/"+url.PathEscape(id), nil, nil)
}

// Me returns the owner id the server resolved for the token.
func (c *Client) Me(ctx context.Context) (string, error) {
	var out struct {
		UserID string `json:"user_id"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &out); err != nil {
		return "", err
	}
	return out.UserID, nil
}

// Summary fetches the statistics the server computed over the caller's trades.
func (c *Client) Summary(ctx context.Context) (journal.Summary, error) {
	var sum journal.Summary
	err := c.do(ctx, http.MethodGet, "/api/summary", nil, &sum)
	return sum, err
}

// Subscribe opens the change feed websocket.
func (c *Client) Subscribe(ctx context.Context) (journal.Feed, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/trades/feed"

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), c.headers())
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if apiErr := decodeError(resp); apiErr != nil {
				return nil, apiErr
			}
		}
		return nil, journal.WrapError(journal.ErrCodeSubscription, "dial change feed", err)
	}
	return newWSFeed(conn, c.logger), nil
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

type errorEnvelope struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
	RequestID string `json:"request_id"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return journal.WrapError(journal.ErrCodeInvalidInput, "encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return journal.WrapError(journal.ErrCodeInternal, "build request", err)
	}
	for k, v := range c.headers() {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return journal.WrapError(journal.ErrCodeInternal, "decode response", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(env.Data))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return journal.WrapError(journal.ErrCodeInternal, "decode response data", err)
	}
	return nil
}

// decodeError turns an error envelope into a *journal.Error carrying the
// server's code.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Message == "" {
		env.Message = strings.TrimSpace(string(data))
		if env.Message == "" {
			env.Message = resp.Status
		}
	}
	code := journal.ErrorCode(env.ErrorCode)
	if code == "" {
		code = codeForStatus(resp.StatusCode)
	}
	return journal.NewError(code, env.Message)
}

func codeForStatus(status int) journal.ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return journal.ErrCodeInvalidInput
	case http.StatusUnauthorized, http.StatusForbidden:
		return journal.ErrCodeUnauthorized
	case http.StatusNotFound:
		return journal.ErrCodeNotFound
	case http.StatusConflict:
		return journal.ErrCodeDuplicate
	case http.StatusNotImplemented:
		return journal.ErrCodeUnsupported
	default:
		return journal.ErrCodeInternal
	}
}
