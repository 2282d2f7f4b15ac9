package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ChatMessage, oturum içi bir chat mesajı. DB'deki "chat_messages" tablosunun karşılığı.
//
// ID client tarafından üretilir (uuid): offline queue replay'i aynı id ile
// tekrar gönderir, store ve alıcılar tekrarları bu id ile düşürür.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	SenderID  *string   `json:"sender_id"` // nil = anonim
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MaxChatLength, bir chat mesajının rune cinsinden üst sınırı.
const MaxChatLength = 500

// Validate, mesajın gönderilebilir olup olmadığını kontrol eder ve content'i trim'ler.
func (m *ChatMessage) Validate() error {
	m.Content = strings.TrimSpace(m.Content)
	if m.ID == "" {
		return fmt.Errorf("message id is required")
	}
	if m.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if m.Content == "" {
		return fmt.Errorf("message content is required")
	}
	if utf8.RuneCountInString(m.Content) > MaxChatLength {
		return fmt.Errorf("message content must be at most %d characters", MaxChatLength)
	}
	return nil
}

// ChatPage, cursor-based sayfalama sonucu (en yeni önce).
type ChatPage struct {
	Messages []ChatMessage `json:"messages"`
	HasMore  bool          `json:"has_more"`
}
