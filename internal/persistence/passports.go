package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Register creates a platform account. The returned token is installed on
// the client for subsequent calls.
func (c *Client) Register(ctx context.Context, email, password, name string) (token string, err error) {
	defer func(start time.Time) { c.observe("register", start, err) }(time.Now())

	var out struct {
		Token string `json:"token"`
	}
	if err = c.do("register", func() (*resty.Response, error) {
		return c.request(ctx).
			SetBody(map[string]interface{}{"email": email, "password": password, "name": name}).
			SetResult(&out).
			Post("/auth/register")
	}); err != nil {
		return "", err
	}
	c.SetToken(out.Token)
	return out.Token, nil
}

// Login authenticates an existing account and installs the token.
func (c *Client) Login(ctx context.Context, email, password string) (token string, err error) {
	defer func(start time.Time) { c.observe("login", start, err) }(time.Now())

	var out struct {
		Token string `json:"token"`
	}
	if err = c.do("login", func() (*resty.Response, error) {
		return c.request(ctx).
			SetBody(map[string]interface{}{"email": email, "password": password}).
			SetResult(&out).
			Post("/auth/login")
	}); err != nil {
		return "", err
	}
	c.SetToken(out.Token)
	return out.Token, nil
}

// CreatePassport registers a new agent passport.
func (c *Client) CreatePassport(ctx context.Context, name, publicKey string) (passport *Passport, err error) {
	defer func(start time.Time) { c.observe("create_passport", start, err) }(time.Now())

	var out Passport
	if err = c.do("create passport", func() (*resty.Response, error) {
		return c.request(ctx).
			SetBody(map[string]interface{}{"name": name, "publicKey": publicKey}).
			SetResult(&out).
			Post("/passports")
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPassport reads full passport details (authenticated).
func (c *Client) GetPassport(ctx context.Context, passportID string) (passport *Passport, err error) {
	defer func(start time.Time) { c.observe("get_passport", start, err) }(time.Now())

	var out Passport
	if err = c.do("get passport", func() (*resty.Response, error) {
		return c.request(ctx).
			SetResult(&out).
			Get(fmt.Sprintf("/passports/%s", passportID))
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPublicPassport reads the public subset of a passport without auth.
func (c *Client) GetPublicPassport(ctx context.Context, passportID string) (passport *Passport, err error) {
	defer func(start time.Time) { c.observe("get_public_passport", start, err) }(time.Now())

	var out Passport
	if err = c.do("get public passport", func() (*resty.Response, error) {
		return c.request(ctx).
			SetResult(&out).
			Get(fmt.Sprintf("/passports/%s/public", passportID))
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify checks a challenge signature against a passport's public key.
func (c *Client) Verify(ctx context.Context, passportID, challenge, signature string) (result *VerifyResult, err error) {
	defer func(start time.Time) { c.observe("verify", start, err) }(time.Now())

	var out VerifyResult
	if err = c.do("verify", func() (*resty.Response, error) {
		return c.request(ctx).
			SetBody(map[string]interface{}{"challenge": challenge, "signature": signature}).
			SetResult(&out).
			Post(fmt.Sprintf("/passports/%s/verify", passportID))
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTrust reads the trust score for a passport.
func (c *Client) GetTrust(ctx context.Context, passportID string) (trust *TrustScore, err error) {
	defer func(start time.Time) { c.observe("get_trust", start, err) }(time.Now())

	var out TrustScore
	if err = c.do("get trust", func() (*resty.Response, error) {
		return c.request(ctx).
			SetResult(&out).
			Get(fmt.Sprintf("/passports/%s/trust", passportID))
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage sends a passport-to-passport message.
func (c *Client) SendMessage(ctx context.Context, fromID, toID, subject, body string) (message *Message, err error) {
	defer func(start time.Time) { c.observe("send_message", start, err) }(time.Now())

	var out Message
	if err = c.do("send message", func() (*resty.Response, error) {
		return c.request(ctx).
			SetBody(map[string]interface{}{"from": fromID, "to": toID, "subject": subject, "body": body}).
			SetResult(&out).
			Post("/messages")
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMessages reads the inbox for a passport.
func (c *Client) GetMessages(ctx context.Context, passportID string) (messages []Message, err error) {
	defer func(start time.Time) { c.observe("get_messages", start, err) }(time.Now())

	var out []Message
	if err = c.do("get messages", func() (*resty.Response, error) {
		return c.request(ctx).
			SetResult(&out).
			Get(fmt.Sprintf("/passports/%s/messages", passportID))
	}); err != nil {
		return nil, err
	}
	return out, nil
}
