package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/PostMiniApp/internal/models"
	"github.com/digkill/PostMiniApp/internal/repository"
)

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Users interface {
	FindByChatID(ctx context.Context, chatID int64) (*models.User, error)
}

type Balances interface {
	Balance(ctx context.Context, userID int64) (models.Cents, error)
}

// Bot hands out Mini App launch links and answers balance queries.
type Bot struct {
	api        API
	log        *slog.Logger
	users      Users
	balances   Balances
	miniAppURL string
}

func NewBot(api API, log *slog.Logger, users Users, balances Balances, miniAppURL string) *Bot {
	return &Bot{
		api:        api,
		log:        log.With("component", "telegram"),
		users:      users,
		balances:   balances,
		miniAppURL: miniAppURL,
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	locale := localeOf(msg.From)
	if !msg.IsCommand() {
		b.sendText(msg.Chat.ID, text(locale, "hint"))
		return
	}

	switch msg.Command() {
	case "start", "app":
		b.handleStart(ctx, msg, locale)
	case "balance":
		b.handleBalance(ctx, msg, locale)
	default:
		b.sendText(msg.Chat.ID, text(locale, "unknown"))
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message, locale models.Locale) {
	user, err := b.users.FindByChatID(ctx, msg.Chat.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			b.log.Error("find user", "chat_id", msg.Chat.ID, "err", err)
			b.sendText(msg.Chat.ID, text(locale, "unavailable"))
			return
		}
		user = nil
	}
	if user == nil || user.Token == "" {
		b.sendText(msg.Chat.ID, text(locale, "register"))
		return
	}
	if user.Locale != "" {
		locale = user.Locale
	}

	link, err := LaunchURL(b.miniAppURL, user.Token)
	if err != nil {
		b.log.Error("build launch url", "err", err)
		b.sendText(msg.Chat.ID, text(locale, "unavailable"))
		return
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf(text(locale, "welcome"), user.Name))
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(text(locale, "open"), link)),
	)
	if _, err := b.api.Send(reply); err != nil {
		b.log.Error("send launch link", "chat_id", msg.Chat.ID, "err", err)
	}
}

func (b *Bot) handleBalance(ctx context.Context, msg *tgbotapi.Message, locale models.Locale) {
	user, err := b.users.FindByChatID(ctx, msg.Chat.ID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			b.sendText(msg.Chat.ID, text(locale, "register"))
			return
		}
		b.log.Error("find user balance", "chat_id", msg.Chat.ID, "err", err)
		b.sendText(msg.Chat.ID, text(locale, "unavailable"))
		return
	}
	balance, err := b.balances.Balance(ctx, user.ID)
	if err != nil {
		b.log.Error("read balance", "user_id", user.ID, "err", err)
		b.sendText(msg.Chat.ID, text(locale, "unavailable"))
		return
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf(text(locale, "balance"), balance.Dollars()))
}

func (b *Bot) sendText(chatID int64, body string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, body)); err != nil {
		b.log.Error("send message", "chat_id", chatID, "err", err)
	}
}

// LaunchURL appends the identity token to the Mini App URL.
func LaunchURL(base, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse mini app url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("mini app url must be http(s): %q", base)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func localeOf(from *tgbotapi.User) models.Locale {
	if from != nil && strings.HasPrefix(strings.ToLower(from.LanguageCode), "ru") {
		return models.LocaleRU
	}
	return models.LocaleEN
}

var texts = map[models.Locale]map[string]string{
	models.LocaleEN: {
		"welcome":     "Hi, %s! Open the app to write posts and images.",
		"open":        "Open app",
		"register":    "You are not registered yet. Sign up first, then send /start again.",
		"balance":     "Balance: $%.2f",
		"hint":        "Send /start to open the app.",
		"unknown":     "Unknown command. Use /start or /balance.",
		"unavailable": "Service is temporarily unavailable. Try again later.",
	},
	models.LocaleRU: {
		"welcome":     "Привет, %s! Откройте приложение, чтобы создавать посты и картинки.",
		"open":        "Открыть приложение",
		"register":    "Вы ещё не зарегистрированы. Зарегистрируйтесь и отправьте /start снова.",
		"balance":     "Баланс: $%.2f",
		"hint":        "Отправьте /start, чтобы открыть приложение.",
		"unknown":     "Неизвестная команда. Используйте /start или /balance.",
		"unavailable": "Сервис временно недоступен. Попробуйте позже.",
	},
}

func text(locale models.Locale, key string) string {
	if t, ok := texts[locale][key]; ok {
		return t
	}
	return texts[models.LocaleEN][key]
}
