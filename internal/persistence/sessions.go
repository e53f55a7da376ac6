package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// CreateBrowserSession registers a streaming session for an escalation.
// This backs the one call in the streaming channel whose failure propagates.
func (c *Client) CreateBrowserSession(ctx context.Context, escalationID, pageURL string, viewportW, viewportH int) (record *BrowserSessionRecord, err error) {
	defer func(start time.Time) { c.observe("create_browser_session", start, err) }(time.Now())

	body := map[string]interface{}{
		"escalationId": escalationID,
	}
	if pageURL != "" {
		body["pageUrl"] = pageURL
	}
	if viewportW > 0 && viewportH > 0 {
		body["viewportWidth"] = viewportW
		body["viewportHeight"] = viewportH
	}

	var out BrowserSessionRecord
	if err = c.do("create browser session", func() (*resty.Response, error) {
		return c.request(ctx).
			SetBody(body).
			SetResult(&out).
			Post("/browser-sessions")
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateScreenshot pushes the latest frame for viewers on the polling
// transport. The image travels as a data URL.
func (c *Client) UpdateScreenshot(ctx context.Context, sessionID, dataURL, pageURL string) (err error) {
	defer func(start time.Time) { c.observe("update_screenshot", start, err) }(time.Now())

	body := map[string]interface{}{
		"screenshot": dataURL,
	}
	if pageURL != "" {
		body["pageUrl"] = pageURL
	}

	return c.do("update screenshot", func() (*resty.Response, error) {
		return c.request(ctx).
			SetBody(body).
			Put(fmt.Sprintf("/browser-sessions/%s/screenshot", sessionID))
	})
}

// GetCommands fetches queued remote control commands for a session,
// filtered by status.
func (c *Client) GetCommands(ctx context.Context, sessionID, status string) (commands []CommandRecord, err error) {
	defer func(start time.Time) { c.observe("get_commands", start, err) }(time.Now())

	var out []CommandRecord
	if err = c.do("get commands", func() (*resty.Response, error) {
		return c.request(ctx).
			SetQueryParam("status", status).
			SetResult(&out).
			Get(fmt.Sprintf("/browser-sessions/%s/commands", sessionID))
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateCommandStatus reports one command as executed or failed.
func (c *Client) UpdateCommandStatus(ctx context.Context, sessionID, commandID, status string) (err error) {
	defer func(start time.Time) { c.observe("update_command_status", start, err) }(time.Now())

	return c.do("update command status", func() (*resty.Response, error) {
		return c.request(ctx).
			SetBody(map[string]interface{}{"status": status}).
			Put(fmt.Sprintf("/browser-sessions/%s/commands/%s", sessionID, commandID))
	})
}

// CloseSession marks a streaming session closed on the platform.
func (c *Client) CloseSession(ctx context.Context, sessionID string) (err error) {
	defer func(start time.Time) { c.observe("close_session", start, err) }(time.Now())

	return c.do("close session", func() (*resty.Response, error) {
		return c.request(ctx).
			Post(fmt.Sprintf("/browser-sessions/%s/close", sessionID))
	})
}
