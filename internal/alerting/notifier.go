package alerting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"collectible-pricing/internal/models"
)

// ErrNoRecipient means the notifier has no destination for the user.
var ErrNoRecipient = errors.New("no notification recipient for user")

// NotifyResult reports how many messages were delivered.
type NotifyResult struct {
	Sent int
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string) (NotifyResult, error)
}

// TelegramOptions configures the Telegram notifier.
type TelegramOptions struct {
	BotToken string
	// DefaultChatID receives messages for users without their own mapping.
	DefaultChatID string
	// Recipients maps user ids to chat ids or @channel names.
	Recipients map[string]string
	APIBase    string
	Timeout    time.Duration
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	bot         *tgbotapi.BotAPI
	defaultChat string
	recipients  map[string]string
	logger      zerolog.Logger
}

var _ Notifier = (*TelegramNotifier)(nil)

// NewTelegramNotifier 构造 Telegram 告警器。The bot token is verified with getMe.
func NewTelegramNotifier(opts TelegramOptions, logger zerolog.Logger) (*TelegramNotifier, error) {
	if opts.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token 未配置")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	base := strings.TrimRight(opts.APIBase, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}

	client := &http.Client{Timeout: opts.Timeout}
	bot, err := tgbotapi.NewBotAPIWithClient(opts.BotToken, base+"/bot%s/%s", client)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	recipients := make(map[string]string, len(opts.Recipients))
	for user, chat := range opts.Recipients {
		recipients[user] = chat
	}

	return &TelegramNotifier{
		bot:         bot,
		defaultChat: opts.DefaultChatID,
		recipients:  recipients,
		logger:      logger.With().Str("component", "alert_telegram").Logger(),
	}, nil
}

// Notify sends one message to the chat mapped to userID.
func (n *TelegramNotifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) (NotifyResult, error) {
	if err := ctx.Err(); err != nil {
		return NotifyResult{}, err
	}

	chat := n.recipients[userID]
	if chat == "" {
		chat = n.defaultChat
	}
	if chat == "" {
		return NotifyResult{}, fmt.Errorf("%w: %s", ErrNoRecipient, userID)
	}

	text := formatText(title, body, data)
	var msg tgbotapi.MessageConfig
	if strings.HasPrefix(chat, "@") {
		msg = tgbotapi.NewMessageToChannel(chat, text)
	} else {
		chatID, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return NotifyResult{}, fmt.Errorf("invalid telegram chat id %q: %w", chat, err)
		}
		msg = tgbotapi.NewMessage(chatID, text)
	}

	if _, err := n.bot.Send(msg); err != nil {
		return NotifyResult{}, fmt.Errorf("send telegram message: %w", err)
	}

	n.logger.Info().Str("user", userID).Str("title", title).Msg("告警已发送 (Telegram)")
	return NotifyResult{Sent: 1}, nil
}

// LogNotifier only logs. It never reports a delivery, so events stay unsent.
type LogNotifier struct {
	logger zerolog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier is used when no delivery channel is configured.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the message.
func (n *LogNotifier) Notify(_ context.Context, userID, title, body string, data map[string]string) (NotifyResult, error) {
	n.logger.Info().Str("user", userID).Str("title", title).Str("body", body).Fields(toFields(data)).Msg("alert (no delivery channel)")
	return NotifyResult{}, nil
}

func toFields(data map[string]string) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func formatText(title, body string, data map[string]string) string {
	builder := strings.Builder{}
	builder.WriteString(title)
	builder.WriteString("\n")
	builder.WriteString(body)
	if len(data) > 0 {
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		builder.WriteString("\n")
		for _, k := range keys {
			builder.WriteString(fmt.Sprintf("\n%s: %s", k, data[k]))
		}
	}
	return builder.String()
}

// RenderEvent builds the notification content of an alert event.
func RenderEvent(ev models.AlertEvent) (title, body string, data map[string]string) {
	title = fmt.Sprintf("[Price Alert] %s (%s)", ev.ItemID, ev.Condition)

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Estimate: %s\n", formatCents(ev.PriceCents)))
	if ev.PreviousPriceCents != nil {
		builder.WriteString(fmt.Sprintf("Previous: %s\n", formatCents(*ev.PreviousPriceCents)))
	}
	if ev.PercentChange != nil {
		builder.WriteString(fmt.Sprintf("Change: %s%%\n", decimal.NewFromFloat(*ev.PercentChange).StringFixed(2)))
	}
	builder.WriteString(fmt.Sprintf("Triggered: %s UTC", ev.TriggeredAt.UTC().Format(time.RFC3339)))
	body = builder.String()

	data = map[string]string{
		"alert_id":    ev.AlertID,
		"event_id":    ev.ID,
		"item_id":     ev.ItemID,
		"condition":   string(ev.Condition),
		"price_cents": strconv.FormatInt(ev.PriceCents, 10),
	}
	return title, body, data
}

func formatCents(cents int64) string {
	return "$" + decimal.New(cents, -2).StringFixed(2)
}
