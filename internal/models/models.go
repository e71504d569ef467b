package models

import "time"

type Locale string

const (
	LocaleEN Locale = "en"
	LocaleRU Locale = "ru"
)

// Cents is a monetary amount in hundredths of the ledger currency (USD).
type Cents int64

func (c Cents) Dollars() float64 {
	return float64(c) / 100
}

type User struct {
	ID      int64   `json:"user_id"`
	ChatID  int64   `json:"chat_id"`
	Name    string  `json:"name"`
	Plan    string  `json:"plan"`
	Balance float64 `json:"balance"`
	Locale  Locale  `json:"language"`
	Token   string  `json:"token,omitempty"`
}

type SessionStatus string

const (
	SessionDraft     SessionStatus = "draft"
	SessionCompleted SessionStatus = "completed"
)

// Session is the persisted "post" record of one Mini App launch.
type Session struct {
	ID            int64          `json:"id,omitempty"`
	UserID        int64          `json:"user_id"`
	ChatID        int64          `json:"chat_id"`
	Status        SessionStatus  `json:"status"`
	Prompt        *string        `json:"prompt,omitempty"`
	GeneratedText *string        `json:"generated_text,omitempty"`
	ImageURL      *string        `json:"image_url,omitempty"`
	SourceURL     *string        `json:"source_url,omitempty"`
	ScrapedData   map[string]any `json:"scraped_data,omitempty"`
	Artifacts     []string       `json:"artifacts"`
	CreatedAt     *time.Time     `json:"created_at,omitempty"`
	UpdatedAt     *time.Time     `json:"updated_at,omitempty"`
}

// SessionPatch lists the fields an update touches. Nil fields are left alone;
// Artifacts are appended in order.
type SessionPatch struct {
	Status        *SessionStatus
	Prompt        *string
	GeneratedText *string
	ImageURL      *string
	SourceURL     *string
	ScrapedData   map[string]any
	Artifacts     []string
}

func (p SessionPatch) Empty() bool {
	return p.Status == nil && p.Prompt == nil && p.GeneratedText == nil && p.ImageURL == nil &&
		p.SourceURL == nil && p.ScrapedData == nil && len(p.Artifacts) == 0
}

// Apply merges the patch into a copy of s.
func (p SessionPatch) Apply(s Session) Session {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Prompt != nil {
		s.Prompt = p.Prompt
	}
	if p.GeneratedText != nil {
		s.GeneratedText = p.GeneratedText
	}
	if p.ImageURL != nil {
		s.ImageURL = p.ImageURL
	}
	if p.SourceURL != nil {
		s.SourceURL = p.SourceURL
	}
	if p.ScrapedData != nil {
		s.ScrapedData = p.ScrapedData
	}
	if len(p.Artifacts) > 0 {
		artifacts := make([]string, 0, len(s.Artifacts)+len(p.Artifacts))
		artifacts = append(artifacts, s.Artifacts...)
		artifacts = append(artifacts, p.Artifacts...)
		s.Artifacts = artifacts
	}
	return s
}

type Debit struct {
	ID          int64
	UserID      int64
	Amount      Cents
	Reason      string
	Status      string
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

const (
	DebitPending   = "pending"
	DebitDelivered = "delivered"
	// DebitFailed is terminal: the ledger kept rejecting the debit and it
	// waits for an operator.
	DebitFailed = "failed"
)
