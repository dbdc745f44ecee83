// Package notification delivers watchdog decisions to chat channels so an
// operator hears about exits without watching logs.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"exit-watchdog/internal/events"
)

// Notification represents a notification message
type Notification struct {
	Title     string
	Message   string
	Ticker    string
	Timestamp time.Time
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager manages multiple notification providers
type Manager struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewManager creates a new notification manager
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		notifiers: make([]Notifier, 0),
		logger:    logger.With().Str("component", "Notifications").Logger(),
	}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send sends a notification to all enabled providers
func (m *Manager) Send(notification *Notification) {
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now()
	}
	for _, n := range m.notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(notification); err != nil {
			m.logger.Warn().Err(err).Str("provider", n.Name()).Msg("notification delivery failed")
		}
	}
}

// SubscribeTo wires the manager onto the event bus.
func (m *Manager) SubscribeTo(bus *events.Bus) {
	bus.Subscribe(events.EventExitSignal, func(ev events.Event) {
		m.Send(&Notification{
			Title: fmt.Sprintf("🔴 Exit signal: %v", ev.Data["ticker"]),
			Message: fmt.Sprintf("%v\nKind: %v\nTrigger: %.2f\nQuantity: %v",
				ev.Data["reason"], ev.Data["kind"], ev.Data["trigger_price"], ev.Data["quantity"]),
		})
	})
	bus.Subscribe(events.EventOrderPlaced, func(ev events.Event) {
		m.Send(&Notification{
			Title: fmt.Sprintf("✅ Sell order placed: %v", ev.Data["ticker"]),
			Message: fmt.Sprintf("Order %v\nQty %v @ ₹%.2f\n%v",
				ev.Data["order_id"], ev.Data["quantity"], ev.Data["limit_price"], ev.Data["reason"]),
		})
	})
	bus.Subscribe(events.EventOrderFailed, func(ev events.Event) {
		m.Send(&Notification{
			Title: fmt.Sprintf("⚠️ Sell order failed: %v", ev.Data["ticker"]),
			Message: fmt.Sprintf("Qty %v\nCause: %v\nWill re-evaluate next cycle",
				ev.Data["quantity"], ev.Data["cause"]),
		})
	})
	bus.Subscribe(events.EventPortfolioSummary, func(ev events.Event) {
		m.Send(&Notification{
			Title: "📊 Portfolio summary",
			Message: fmt.Sprintf("Positions: %v\nUnrealized P&L: ₹%.2f",
				ev.Data["positions"], ev.Data["unrealized_pnl"]),
		})
	})
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier sends notifications via Telegram
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
}

// NewTelegramNotifier creates a new Telegram notifier
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) IsEnabled() bool { return t.enabled }

func (t *TelegramNotifier) Send(notification *Notification) error {
	if !t.enabled {
		return nil
	}

	message := fmt.Sprintf("*%s*\n\n%s", notification.Title, notification.Message)
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends notifications via Discord webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// DiscordConfig holds Discord configuration
type DiscordConfig struct {
	WebhookURL string
	Enabled    bool
}

// NewDiscordNotifier creates a new Discord notifier
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled && config.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) IsEnabled() bool { return d.enabled }

func (d *DiscordNotifier) Send(notification *Notification) error {
	if !d.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"content": fmt.Sprintf("**%s**\n%s", notification.Title, notification.Message),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}
