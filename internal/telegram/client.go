// Package telegram wraps the chat-platform API behind the narrow send
// contract the delivery worker depends on.
package telegram

import (
	"context"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/csisgpt/arbwatch/errs"
)

// FormatOptions controls message rendering on the chat platform.
type FormatOptions struct {
	ParseMode           string `json:"parse_mode,omitempty"`
	DisableWebPreview   bool   `json:"disable_web_preview,omitempty"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

// Sender delivers one message to one chat and returns the provider-assigned
// message id. Implementations must return an error on any failed send.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts FormatOptions) (string, error)
}

// Client is the production Sender backed by the Telegram Bot API.
type Client struct {
	bot *tgbotapi.BotAPI
}

// New authenticates against the Bot API with the supplied token.
func New(token string) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errs.New("telegram", errs.CodeUnavailable,
			errs.WithMessage("authenticate bot"),
			errs.WithCause(err))
	}
	return &Client{bot: bot}, nil
}

// SendMessage delivers text to the chat. The underlying client has no context
// plumbing, so cancellation is honoured up front only.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts FormatOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errs.New("telegram", errs.CodeDelivery,
			errs.WithMessage("send cancelled"),
			errs.WithCause(err))
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = opts.ParseMode
	msg.DisableWebPagePreview = opts.DisableWebPreview
	msg.DisableNotification = opts.DisableNotification

	sent, err := c.bot.Send(msg)
	if err != nil {
		return "", errs.New("telegram", errs.CodeDelivery,
			errs.WithMessage("send message"),
			errs.WithField("chat_id", strconv.FormatInt(chatID, 10)),
			errs.WithCause(err))
	}
	return strconv.Itoa(sent.MessageID), nil
}

var _ Sender = (*Client)(nil)
