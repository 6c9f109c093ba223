// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/momentumscan/internal/logger"
)

// CommandHandler answers operator commands received by the bot.
type CommandHandler interface {
	StatusText() string
	HistoryText(limit int) string
	SendCustom(ctx context.Context, text string) error
}

// Client handles Telegram notifications and bot commands.
type Client struct {
	bot         *tgbotapi.BotAPI
	allowedChat int64
}

// NewClient creates a new Telegram client. Commands that change state are only
// accepted from adminChat, or from chatID when adminChat is empty and chatID is
// numeric. With neither, /say is refused.
func NewClient(botToken, chatID, adminChat string) (*Client, error) {
	if botToken == "" {
		return nil, errors.New("bot token is required")
	}

	allowed, err := resolveAdminChat(chatID, adminChat)
	if err != nil {
		return nil, err
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	return &Client{bot: bot, allowedChat: allowed}, nil
}

func resolveAdminChat(chatID, adminChat string) (int64, error) {
	if adminChat != "" {
		id, err := strconv.ParseInt(adminChat, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid admin chat ID: %w", err)
		}
		return id, nil
	}
	if chatID == "" || strings.HasPrefix(chatID, "@") {
		return 0, nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat ID: %w", err)
	}
	return id, nil
}

// SendMessage sends a MarkdownV2 message. destination is a numeric chat ID or
// an @channel username. Retrying is left to the caller.
func (c *Client) SendMessage(ctx context.Context, destination, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := newMessage(destination, text)
	if err != nil {
		return err
	}
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func newMessage(destination, text string) (tgbotapi.MessageConfig, error) {
	if strings.HasPrefix(destination, "@") {
		return tgbotapi.NewMessageToChannel(destination, text), nil
	}
	chatID, err := strconv.ParseInt(destination, 10, 64)
	if err != nil {
		return tgbotapi.MessageConfig{}, fmt.Errorf("invalid chat ID %q: %w", destination, err)
	}
	return tgbotapi.NewMessage(chatID, text), nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, handler CommandHandler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, handler, update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, handler CommandHandler, msg *tgbotapi.Message) {
	var reply string
	switch msg.Command() {
	case "ping":
		reply = "Pong"
	case "status":
		reply = handler.StatusText()
	case "history":
		reply = handler.HistoryText(parseLimit(msg.CommandArguments(), 5))
	case "say":
		reply = c.handleSay(ctx, handler, msg)
	default:
		return
	}

	out := tgbotapi.NewMessage(msg.Chat.ID, reply)
	if _, err := c.bot.Send(out); err != nil {
		logger.Warn("Failed to reply to /%s: %v", msg.Command(), err)
	}
}

func (c *Client) handleSay(ctx context.Context, handler CommandHandler, msg *tgbotapi.Message) string {
	if c.allowedChat == 0 {
		return "Manual messages are disabled: no admin chat configured"
	}
	if msg.Chat == nil || msg.Chat.ID != c.allowedChat {
		return "Not allowed from this chat"
	}
	text := strings.TrimSpace(msg.CommandArguments())
	if text == "" {
		return "Usage: /say <message>"
	}
	if err := handler.SendCustom(ctx, text); err != nil {
		return "Failed: " + err.Error()
	}
	return "Sent"
}

func parseLimit(arg string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n <= 0 {
		return def
	}
	if n > 50 {
		return 50
	}
	return n
}
