package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/digkill/PostMiniApp/internal/models"
)

const postTable = "posts"

// PostRepository persists session records in the Supabase posts table.
type PostRepository struct {
	tables Tables
}

func NewPostRepository(tables Tables) *PostRepository {
	return &PostRepository{tables: tables}
}

func (r *PostRepository) Insert(ctx context.Context, s models.Session) (models.Session, error) {
	row := map[string]any{
		"user_id":   s.UserID,
		"chat_id":   s.ChatID,
		"status":    s.Status,
		"artifacts": nonNil(s.Artifacts),
	}
	var rows []models.Session
	_, err := r.tables.From(postTable).
		Insert(row, false, "", "representation", "").
		ExecuteTo(&rows)
	if err != nil {
		return models.Session{}, fmt.Errorf("insert post: %w", err)
	}
	if len(rows) == 0 {
		return models.Session{}, fmt.Errorf("insert post: empty representation")
	}
	return rows[0], nil
}

// Update writes the full mutable column set of s.
func (r *PostRepository) Update(ctx context.Context, s models.Session) (models.Session, error) {
	row := map[string]any{
		"status":         s.Status,
		"prompt":         s.Prompt,
		"generated_text": s.GeneratedText,
		"image_url":      s.ImageURL,
		"source_url":     s.SourceURL,
		"scraped_data":   s.ScrapedData,
		"artifacts":      nonNil(s.Artifacts),
	}
	var rows []models.Session
	_, err := r.tables.From(postTable).
		Update(row, "representation", "").
		Eq("id", strconv.FormatInt(s.ID, 10)).
		ExecuteTo(&rows)
	if err != nil {
		return models.Session{}, fmt.Errorf("update post %d: %w", s.ID, err)
	}
	if len(rows) == 0 {
		return models.Session{}, fmt.Errorf("update post %d: not found", s.ID)
	}
	return rows[0], nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
