// Package rest implements platform.Adapter over the chat platform's HTTP API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/warden/internal/platform"
)

const (
	clientHTTPTimeout = 30 * time.Second
	retryWaitMin      = 500 * time.Millisecond
	retryWaitMax      = 5 * time.Second
	transportRetries  = 2
)

type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

var _ platform.Adapter = (*Client)(nil)

type leveledLogrus struct {
	inner *log.Entry
}

// transport retries are expected, downgrade their noise to warnings
func (l leveledLogrus) Error(msg string, kv ...any) { l.inner.Warnln(append([]any{msg}, kv...)...) }
func (l leveledLogrus) Warn(msg string, kv ...any)  { l.inner.Warnln(append([]any{msg}, kv...)...) }
func (l leveledLogrus) Info(msg string, kv ...any)  { l.inner.Debugln(append([]any{msg}, kv...)...) }
func (l leveledLogrus) Debug(msg string, kv ...any) { l.inner.Traceln(append([]any{msg}, kv...)...) }

func NewClient(baseURL, token string) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = transportRetries
	retryClient.RetryWaitMin = retryWaitMin
	retryClient.RetryWaitMax = retryWaitMax
	retryClient.Logger = retryablehttp.LeveledLogger(leveledLogrus{inner: log.WithField("context", "platform_rest")})

	httpClient := retryClient.StandardClient()
	httpClient.Timeout = clientHTTPTimeout

	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		token:   token,
	}
}

type idResponse struct {
	ID string `json:"id"`
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return platform.Permanent(op, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return platform.Permanent(op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return platform.Transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		err := &statusError{code: resp.StatusCode}
		if isTransientStatus(resp.StatusCode) {
			return platform.Transient(op, err)
		}
		return platform.Permanent(op, err)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return platform.Transient(op, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.code)
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= http.StatusInternalServerError
}

func (c *Client) SendMessage(ctx context.Context, channelID, text string) error {
	body := map[string]string{"content": text}
	return c.do(ctx, "send_message", http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/messages", body, nil)
}

func (c *Client) TimeoutMember(ctx context.Context, userID int64, duration time.Duration) error {
	body := map[string]any{"until": time.Now().Add(duration).Unix()}
	return c.do(ctx, "timeout_member", http.MethodPut, fmt.Sprintf("/members/%d/timeout", userID), body, nil)
}

func (c *Client) UntimeoutMember(ctx context.Context, userID int64) error {
	return c.do(ctx, "untimeout_member", http.MethodDelete, fmt.Sprintf("/members/%d/timeout", userID), nil, nil)
}

func (c *Client) KickMember(ctx context.Context, userID int64) error {
	return c.do(ctx, "kick_member", http.MethodDelete, fmt.Sprintf("/members/%d", userID), nil, nil)
}

func (c *Client) BanMember(ctx context.Context, userID int64, duration time.Duration) error {
	body := map[string]any{}
	if duration > 0 {
		body["until"] = time.Now().Add(duration).Unix()
	}
	return c.do(ctx, "ban_member", http.MethodPut, fmt.Sprintf("/bans/%d", userID), body, nil)
}

func (c *Client) UnbanMember(ctx context.Context, userID int64) error {
	return c.do(ctx, "unban_member", http.MethodDelete, fmt.Sprintf("/bans/%d", userID), nil, nil)
}

func (c *Client) AssignRole(ctx context.Context, userID int64, roleID string) error {
	return c.do(ctx, "assign_role", http.MethodPut, fmt.Sprintf("/members/%d/roles/%s", userID, url.PathEscape(roleID)), nil, nil)
}

func (c *Client) CreateCategory(ctx context.Context, name string) (string, error) {
	var res idResponse
	body := map[string]string{"name": name}
	if err := c.do(ctx, "create_category", http.MethodPost, "/categories", body, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

func (c *Client) DeleteCategory(ctx context.Context, id string) error {
	return c.do(ctx, "delete_category", http.MethodDelete, "/categories/"+url.PathEscape(id), nil, nil)
}

func (c *Client) CreateChannel(ctx context.Context, name, categoryID string) (string, error) {
	var res idResponse
	body := map[string]string{"name": name, "category_id": categoryID}
	if err := c.do(ctx, "create_channel", http.MethodPost, "/channels", body, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

func (c *Client) DeleteChannel(ctx context.Context, id string) error {
	return c.do(ctx, "delete_channel", http.MethodDelete, "/channels/"+url.PathEscape(id), nil, nil)
}

func (c *Client) CreateRole(ctx context.Context, name string) (string, error) {
	var res idResponse
	body := map[string]string{"name": name}
	if err := c.do(ctx, "create_role", http.MethodPost, "/roles", body, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

func (c *Client) DeleteRole(ctx context.Context, id string) error {
	return c.do(ctx, "delete_role", http.MethodDelete, "/roles/"+url.PathEscape(id), nil, nil)
}

func (c *Client) SetPermissionOverwrite(ctx context.Context, ow platform.Overwrite) (string, error) {
	var res idResponse
	if err := c.do(ctx, "set_permission_overwrite", http.MethodPost, "/overwrites", ow, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

func (c *Client) DeletePermissionOverwrite(ctx context.Context, id string) error {
	return c.do(ctx, "delete_permission_overwrite", http.MethodDelete, "/overwrites/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ResourceExists(ctx context.Context, kind platform.ResourceKind, id string) (bool, error) {
	path := fmt.Sprintf("/resources/%s/%s", kind, url.PathEscape(id))
	var res struct {
		Exists bool `json:"exists"`
	}
	if err := c.do(ctx, "resource_exists", http.MethodGet, path, nil, &res); err != nil {
		// Only an explicit 404 means the resource is gone. Anything else,
		// a 403 from a permission change included, must not be read as
		// "missing" or drift repair would recreate live resources.
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return res.Exists, nil
}
