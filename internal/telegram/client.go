// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/pricewatch/internal/errs"
	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/models"
	"github.com/rewired-gh/pricewatch/internal/notify"
)

// PriceLookup answers /price commands.
type PriceLookup interface {
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, prices PriceLookup) {
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
					c.handleCommand(ctx, update.Message, prices)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message, prices PriceLookup) {
	var text string
	switch msg.Command() {
	case "ping":
		text = "Pong"
	case "price":
		text = priceReply(ctx, prices, msg.CommandArguments())
	default:
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = "MarkdownV2"
	if _, err := c.bot.Send(reply); err != nil {
		logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
	}
}

func priceReply(ctx context.Context, prices PriceLookup, args string) string {
	symbol := models.NormalizeSymbol(args)
	if symbol == "" {
		return escapeMarkdownV2("Usage: /price BTCUSDT")
	}
	price, err := prices.LatestPrice(ctx, symbol)
	if errs.IsNotFound(err) {
		return escapeMarkdownV2("No data yet for " + symbol)
	}
	if err != nil {
		return escapeMarkdownV2("Price lookup failed, try again later")
	}
	return fmt.Sprintf("*%s*: %s", escapeMarkdownV2(symbol), escapeMarkdownV2(formatPrice(price)))
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up after %d attempts: %w", i+1, ctx.Err())
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// Deliver sends one triggered-alert notification. It satisfies notify.Sender.
func (c *Client) Deliver(ctx context.Context, n notify.Notification) error {
	return c.sendMarkdownV2(ctx, formatAlertMessage(n))
}

// SendOutage reports that a whole fetch cycle failed.
// Call this only on the first occurrence of a consecutive failure sequence.
func (c *Client) SendOutage(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Price feed outage*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(context.Background(), text)
}

// SendRecovery sends a recovery notification after consecutive failed cycles.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Price feed recovered* after %d failed cycle\\(s\\)", failureCount)
	return c.sendMarkdownV2(context.Background(), text)
}

// formatAlertMessage formats a notification as a Telegram MarkdownV2 message.
func formatAlertMessage(n notify.Notification) string {
	var b strings.Builder
	b.WriteString("🔔 *Price alert triggered*\n\n")
	fmt.Fprintf(&b, "*%s* reached %s\n", escapeMarkdownV2(n.Symbol), escapeMarkdownV2(formatPrice(n.Price)))
	fmt.Fprintf(&b, "Recipient: %s\n", escapeMarkdownV2(n.Recipient))
	if !n.QueuedAt.IsZero() {
		fmt.Fprintf(&b, "📅 %s\n", escapeMarkdownV2(n.QueuedAt.UTC().Format("2006-01-02 15:04:05 MST")))
	}
	return b.String()
}

// formatPrice renders a price with thousands separators and its full fraction.
func formatPrice(p decimal.Decimal) string {
	s := p.String()
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	n, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return sign + s
	}
	out := sign + humanize.Comma(n)
	if hasFrac {
		out += "." + frac
	}
	return out
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
