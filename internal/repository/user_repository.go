package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/digkill/PostMiniApp/internal/models"
)

const userTable = "user_data"

var ErrUserNotFound = errors.New("user not found")

// UserRepository resolves launch tokens and chat ids to Supabase profiles.
type UserRepository struct {
	tables Tables
	cache  IdentityCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewUserRepository accepts a nil cache, in which case every lookup reads
// Supabase.
func NewUserRepository(tables Tables, cache IdentityCache, ttl time.Duration, logger *slog.Logger) *UserRepository {
	return &UserRepository{tables: tables, cache: cache, ttl: ttl, logger: logger.With("component", "user_repository")}
}

func (r *UserRepository) FindByToken(ctx context.Context, token string) (*models.User, error) {
	key := "identity:token:" + token
	if r.cache != nil {
		var cached models.User
		ok, err := r.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			r.logger.Warn("identity cache read failed", "error", err)
		} else if ok {
			return &cached, nil
		}
	}

	user, err := r.findOne(ctx, "token", token)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.SetJSON(ctx, key, user, r.ttl); err != nil {
			r.logger.Warn("identity cache write failed", "error", err)
		}
	}
	return user, nil
}

func (r *UserRepository) FindByChatID(ctx context.Context, chatID int64) (*models.User, error) {
	return r.findOne(ctx, "chat_id", strconv.FormatInt(chatID, 10))
}

func (r *UserRepository) findOne(ctx context.Context, column, value string) (*models.User, error) {
	var users []models.User
	_, err := r.tables.From(userTable).
		Select("*", "", false).
		Eq(column, value).
		Limit(1, "").
		ExecuteTo(&users)
	if err != nil {
		return nil, fmt.Errorf("select user by %s: %w", column, err)
	}
	if len(users) == 0 {
		return nil, ErrUserNotFound
	}
	return &users[0], nil
}
