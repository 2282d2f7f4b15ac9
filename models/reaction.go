package models

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Reaction, oturuma gönderilen anlık emoji tepkisi. Append-only.
type Reaction struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	SenderID  *string   `json:"sender_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate: emoji kısa bir tag olmalı (tek emoji veya ":fire:" gibi bir isim).
func (r *Reaction) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("reaction id is required")
	}
	if r.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if r.Emoji == "" {
		return fmt.Errorf("emoji is required")
	}
	if utf8.RuneCountInString(r.Emoji) > 32 {
		return fmt.Errorf("emoji tag is too long")
	}
	return nil
}
