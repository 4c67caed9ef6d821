package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"poolguard/internal/config"
	"poolguard/internal/domain"
	"poolguard/internal/metrics"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// ChannelSender sends one escalation to one channel.
// Params: context and alert payload.
// Returns: transport error when send fails.
type ChannelSender interface {
	Channel() string
	Send(ctx context.Context, alert domain.Alert) error
}

// Dispatcher escalates persisted alerts over configured channels.
// Params: sender list, per-channel severity floors, and retry policies.
// Returns: fan-out helper for the manager layer.
type Dispatcher struct {
	senders  map[string]ChannelSender
	channels []string
	floors   map[string]domain.Severity
	retries  map[string]config.NotifyRetry
	logger   *slog.Logger
}

// NewDispatcher builds the escalation dispatcher from enabled channels.
// Params: notify config section and logger.
// Returns: configured dispatcher; no enabled channels yields an empty dispatcher.
func NewDispatcher(cfg config.NotifyConfig, logger *slog.Logger) *Dispatcher {
	senders := make(map[string]ChannelSender)
	floors := make(map[string]domain.Severity)
	retries := make(map[string]config.NotifyRetry)

	if cfg.Telegram.Enabled {
		sender := NewTelegramSender(cfg.Telegram)
		senders[sender.Channel()] = sender
		floors[sender.Channel()] = severityFloor(cfg.Telegram.MinSeverity)
		retries[sender.Channel()] = cfg.Telegram.Retry
	}
	if cfg.Webhook.Enabled {
		sender := NewWebhookSender(cfg.Webhook)
		senders[sender.Channel()] = sender
		floors[sender.Channel()] = severityFloor(cfg.Webhook.MinSeverity)
		retries[sender.Channel()] = cfg.Webhook.Retry
	}

	channels := make([]string, 0, len(senders))
	for channel := range senders {
		channels = append(channels, channel)
	}
	sort.Strings(channels)

	return &Dispatcher{
		senders:  senders,
		channels: channels,
		floors:   floors,
		retries:  retries,
		logger:   logger,
	}
}

// Channels returns configured channel names.
// Params: none.
// Returns: deterministic sender keys.
func (d *Dispatcher) Channels() []string {
	return d.channels
}

// Escalate fans one alert out to every channel whose severity floor it meets.
// Params: context and persisted alert.
// Returns: first delivery error after per-channel retries.
func (d *Dispatcher) Escalate(ctx context.Context, alert domain.Alert) error {
	var firstErr error
	for _, channel := range d.channels {
		if !meetsFloor(alert.Severity, d.floors[channel]) {
			continue
		}
		sender := d.senders[channel]
		if err := d.sendWithRetry(ctx, sender, alert, d.retries[channel]); err != nil {
			metrics.NotifyDelivery(channel, metrics.OutcomeError)
			d.logger.Error("escalation failed", "channel", channel, "alert_id", alert.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.NotifyDelivery(channel, metrics.OutcomeOK)
	}
	return firstErr
}

// sendWithRetry delivers one alert with the channel retry policy.
// Params: sender, alert payload, and retry policy.
// Returns: final error after retries.
func (d *Dispatcher) sendWithRetry(ctx context.Context, sender ChannelSender, alert domain.Alert, retry config.NotifyRetry) error {
	if !retry.Enabled {
		return sender.Send(ctx, alert)
	}

	attempt := 0
	backoff := time.Duration(retry.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(retry.MaxMS) * time.Millisecond

	for {
		attempt++
		err := sender.Send(ctx, alert)
		if err == nil {
			if retry.LogEachAttempt && attempt > 1 {
				d.logger.Info("escalation recovered after retries", "channel", sender.Channel(), "attempt", attempt)
			}
			return nil
		}
		if retry.LogEachAttempt {
			d.logger.Warn("escalation attempt failed", "channel", sender.Channel(), "attempt", attempt, "error", err.Error())
		}

		if retry.MaxAttempts > 0 && attempt >= retry.MaxAttempts {
			return fmt.Errorf("channel %s failed after %d attempts: %w", sender.Channel(), attempt, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if strings.EqualFold(retry.Backoff, "exponential") {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// severityFloor parses a configured severity floor.
// Params: severity name from config.
// Returns: parsed floor; unknown values default to high.
func severityFloor(value string) domain.Severity {
	if strings.EqualFold(strings.TrimSpace(value), string(domain.SeverityMedium)) {
		return domain.SeverityMedium
	}
	return domain.SeverityHigh
}

// meetsFloor reports whether an alert severity clears a channel floor.
// Params: alert severity and channel floor.
// Returns: true when the alert should be delivered.
func meetsFloor(severity, floor domain.Severity) bool {
	if floor == domain.SeverityMedium {
		return true
	}
	return severity == domain.SeverityHigh
}

// TelegramSender posts alert escalations to a Telegram chat.
// Params: bot client and chat target.
// Returns: Telegram channel sender.
type TelegramSender struct {
	client  *tgbot.Bot
	chatID  any
	initErr error
}

// NewTelegramSender creates the Telegram sender.
// Params: Telegram notifier config.
// Returns: initialized sender; config errors surface on first Send.
func NewTelegramSender(cfg config.TelegramNotifier) *TelegramSender {
	sender := &TelegramSender{
		chatID: normalizeChatID(cfg.ChatID),
	}

	if strings.TrimSpace(cfg.BotToken) == "" {
		sender.initErr = errors.New("telegram bot token is required")
		return sender
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		sender.initErr = errors.New("telegram chat_id is required")
		return sender
	}

	botClient, err := tgbot.New(cfg.BotToken, tgbot.WithSkipGetMe())
	if err != nil {
		sender.initErr = fmt.Errorf("init telegram bot: %w", err)
		return sender
	}
	sender.client = botClient
	return sender
}

// Channel returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *TelegramSender) Channel() string {
	return "telegram"
}

// Send posts one alert summary to the configured chat.
// Params: context and alert payload.
// Returns: transport or API error.
func (s *TelegramSender) Send(ctx context.Context, alert domain.Alert) error {
	if s.initErr != nil {
		return s.initErr
	}
	if s.client == nil {
		return errors.New("telegram client is not initialized")
	}

	sent, err := s.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    s.chatID,
		Text:      formatAlertMessage(alert),
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return errors.New("telegram send returned empty message id")
	}
	return nil
}

// formatAlertMessage renders one alert as a Telegram HTML message.
// Params: alert payload.
// Returns: rendered message text.
func formatAlertMessage(alert domain.Alert) string {
	var b strings.Builder
	b.WriteString("<b>Pool safety alert</b>\n")
	b.WriteString("Severity: " + string(alert.Severity) + "\n")
	b.WriteString("Trigger: " + string(alert.TriggerType) + "\n")
	if alert.CameraID != "" {
		b.WriteString("Camera: " + alert.CameraID + "\n")
	}
	if alert.Description != "" {
		b.WriteString(alert.Description)
	}
	return b.String()
}

// normalizeChatID converts numeric chat IDs to int64 and keeps others as string.
// Params: configured chat ID value.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}

// WebhookSender posts the full alert JSON to a configured HTTP endpoint.
// Params: webhook config and HTTP client.
// Returns: generic HTTP sender.
type WebhookSender struct {
	cfg    config.WebhookNotifier
	client *http.Client
}

// NewWebhookSender creates the webhook sender.
// Params: webhook notifier config.
// Returns: initialized sender.
func NewWebhookSender(cfg config.WebhookNotifier) *WebhookSender {
	return &WebhookSender{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Channel returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *WebhookSender) Channel() string {
	return "webhook"
}

// Send delivers the alert JSON to the configured endpoint.
// Params: context and alert payload.
// Returns: transport or HTTP status error.
func (s *WebhookSender) Send(ctx context.Context, alert domain.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if s.cfg.AuthHeader != "" {
		request.Header.Set("Authorization", s.cfg.AuthHeader)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("webhook send: unexpected status %d", response.StatusCode)
	}
	return nil
}
