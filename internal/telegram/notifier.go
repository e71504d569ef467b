package telegram

import (
	"context"
	"fmt"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxMessageRunes = 4096
	maxCaptionRunes = 1024
)

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier delivers generated posts and images to the user's chat.
type Notifier struct {
	api Sender
}

func NewNotifier(api Sender) *Notifier {
	return &Notifier{api: api}
}

// SendText sends text, split into as many messages as the length limit needs.
func (n *Notifier) SendText(ctx context.Context, chatID int64, text string) error {
	for _, part := range splitRunes(text, maxMessageRunes) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := n.api.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
	}
	return nil
}

func (n *Notifier) SendPhoto(ctx context.Context, chatID int64, url, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(url))
	if parts := splitRunes(caption, maxCaptionRunes); len(parts) > 0 {
		photo.Caption = parts[0]
	}
	if _, err := n.api.Send(photo); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

func splitRunes(s string, limit int) []string {
	if s == "" {
		return nil
	}
	var parts []string
	for utf8.RuneCountInString(s) > limit {
		cut := 0
		for i := 0; i < limit; i++ {
			_, size := utf8.DecodeRuneInString(s[cut:])
			cut += size
		}
		parts = append(parts, s[:cut])
		s = s[cut:]
	}
	return append(parts, s)
}
