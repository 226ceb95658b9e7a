package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"mastodon-follower-network/internal/domain"
	"mastodon-follower-network/internal/infra/metrics"
)

const messageLimit = 4096

// Telegram отправляет сводку запуска в чат.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

var _ domain.Notifier = (*Telegram)(nil)

// NewTelegram подключается к Bot API. При пустом endpoint используется api.telegram.org.
func NewTelegram(token, endpoint string, chatID int64, logger zerolog.Logger) (*Telegram, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: 15 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{api: api, chatID: chatID, log: logger}, nil
}

// Notify отправляет текст, разбивая его на сообщения допустимой длины.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	for i, part := range Split(text, messageLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		_, err := t.api.Send(tgbotapi.NewMessage(t.chatID, part))
		metrics.ObserveNetworkRequest("telegram", "send_message", "bot_api", start, err)
		if err != nil {
			return fmt.Errorf("telegram: send part %d: %w", i+1, err)
		}
	}
	t.log.Info().Int64("chat_id", t.chatID).Msg("notify: сводка отправлена")
	return nil
}

// Split режет текст на части не длиннее limit рун, по возможности по границам строк.
func Split(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var parts []string
	var cur []rune
	flush := func() {
		if s := strings.Trim(string(cur), "\n"); s != "" {
			parts = append(parts, s)
		}
		cur = cur[:0]
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		r := []rune(line)
		if len(cur)+len(r) <= limit {
			cur = append(cur, r...)
			continue
		}
		flush()
		for len(r) > limit {
			parts = append(parts, string(r[:limit]))
			r = r[limit:]
		}
		cur = append(cur, r...)
	}
	flush()
	return parts
}
