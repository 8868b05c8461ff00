// Package email sends transactional mail through Postmark.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/dukerupert/notez/internal/model"
)

const postmarkURL = "https://api.postmarkapp.com/email"

var ErrNotConfigured = errors.New("email client not configured")

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether both the server token and sender are set.
func (c *Client) Configured() bool {
	return c.serverToken != "" && c.fromEmail != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
	Tag      string `json:"Tag,omitempty"`
}

// SendWelcome greets a newly registered user.
func (c *Client) SendWelcome(ctx context.Context, user *model.User) error {
	link := c.baseURL + "/index"
	name := user.FirstName
	if name == "" {
		name = user.Username
	}

	return c.send(ctx, postmarkEmail{
		To:      user.Email,
		Subject: "Welcome to Notez",
		Tag:     "welcome",
		TextBody: fmt.Sprintf("Hi %s,\n\nYour Notez account %q is ready. Sign in here:\n\n%s\n",
			name, user.Username, link),
		HtmlBody: fmt.Sprintf(
			`<p>Hi %s,</p><p>Your Notez account <strong>%s</strong> is ready.</p><p><a href="%s">Sign in</a></p>`,
			html.EscapeString(name), html.EscapeString(user.Username), link,
		),
	})
}

// SendReminder tells the list owner that an item's reminder time has come.
func (c *Client) SendReminder(ctx context.Context, r model.DueReminder) error {
	due := ""
	if r.Item.DueDate != nil {
		due = " It is due " + r.Item.DueDate.UTC().Format("Mon Jan 2 15:04 MST") + "."
	}

	return c.send(ctx, postmarkEmail{
		To:       r.Email,
		Subject:  "Reminder: " + r.Item.Description,
		Tag:      "reminder",
		TextBody: fmt.Sprintf("Hi %s,\n\nReminder from your list %q: %s.%s\n", r.FirstName, r.ListTitle, r.Item.Description, due),
		HtmlBody: fmt.Sprintf(
			`<p>Hi %s,</p><p>Reminder from your list <strong>%s</strong>: %s.%s</p>`,
			html.EscapeString(r.FirstName), html.EscapeString(r.ListTitle), html.EscapeString(r.Item.Description), due,
		),
	})
}

func (c *Client) send(ctx context.Context, msg postmarkEmail) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	msg.From = c.fromEmail

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", postmarkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
