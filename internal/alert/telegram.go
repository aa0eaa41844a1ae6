package alert

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// TelegramSender posts alerts to a chat, optionally into a forum thread.
type TelegramSender struct {
	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
}

// NewTelegramSender builds a send-only bot. It does not poll for updates
// and makes no request until the first Send. timeout bounds each Bot API
// request; 0 means 10s.
func NewTelegramSender(token string, chatID int64, threadID int, timeout time.Duration) (*TelegramSender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b, chat: &tele.Chat{ID: chatID}, threadID: threadID}, nil
}

// Send returns when the message is posted or ctx is done, whichever comes
// first. An abandoned request still ends at the client timeout.
func (t *TelegramSender) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	errc := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(t.chat, text, &tele.SendOptions{
			ThreadID:              t.threadID,
			DisableWebPagePreview: true,
		})
		errc <- err
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
