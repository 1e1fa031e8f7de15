package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.telegram.org"

type Client struct {
	token string
	http  *resty.Client
}

func NewClient(token string) *Client {
	return newClient(defaultBaseURL, token)
}

func newClient(baseURL, token string) *Client {
	return &Client{
		token: token,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

type sendMessageReq struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendMessage posts plain text; Markdown is left off because message bodies
// carry user-written content.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendMessageReq{ChatID: chatID, Text: text}).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/bot%s/sendMessage", c.token))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("telegram api returned status: %s, body: %s", resp.Status(), out.Description)
	}
	return nil
}

// Notifier sends alerts to one fixed chat, typically a care-team group.
type Notifier struct {
	client *Client
	chatID int64
}

func NewNotifier(client *Client, chatID int64) *Notifier {
	return &Notifier{client: client, chatID: chatID}
}

func (n *Notifier) Notify(ctx context.Context, text string) error {
	return n.client.SendMessage(ctx, n.chatID, text)
}
