package services

import (
	"context"
	"fmt"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/repository"
)

// Chat geçmişi sayfalama sınırları.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// ─── ChatHistoryService ───

// ChatHistoryService, durable store'un chat tarafı (sunucu). ChatStore
// interface'ini karşılar; client'lar buna apiclient üzerinden ulaşır.
//
// Insert'ler id ile idempotent'tir: offline queue replay'i ikinci kez
// aynı mesajı gönderirse hiçbir şey değişmez ve hata dönmez.
type ChatHistoryService interface {
	ChatStore
	GetMessage(ctx context.Context, id string) (*models.ChatMessage, error)
	ReactionCounts(ctx context.Context, sessionID string) (map[string]int, error)
}

type chatHistoryService struct {
	messages  repository.ChatMessageRepository
	reactions repository.ReactionRepository
}

// NewChatHistoryService, yeni bir ChatHistoryService oluşturur.
func NewChatHistoryService(messages repository.ChatMessageRepository, reactions repository.ReactionRepository) ChatHistoryService {
	return &chatHistoryService{messages: messages, reactions: reactions}
}

func (s *chatHistoryService) InsertMessage(ctx context.Context, msg *models.ChatMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", pkg.ErrBadRequest, err)
	}
	if _, err := s.messages.Insert(ctx, msg); err != nil {
		return fmt.Errorf("failed to store chat message: %w", err)
	}
	return nil
}

func (s *chatHistoryService) InsertReaction(ctx context.Context, r *models.Reaction) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", pkg.ErrBadRequest, err)
	}
	if _, err := s.reactions.Insert(ctx, r); err != nil {
		return fmt.Errorf("failed to store reaction: %w", err)
	}
	return nil
}

// ListMessages, beforeID'den eski en fazla limit mesajı en yeni önce döner.
// HasMore, limit+1 satır çekilerek belirlenir.
func (s *chatHistoryService) ListMessages(ctx context.Context, sessionID, beforeID string, limit int) (*models.ChatPage, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", pkg.ErrBadRequest)
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}

	rows, err := s.messages.ListBySession(ctx, sessionID, beforeID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}

	page := &models.ChatPage{Messages: rows, HasMore: len(rows) > limit}
	if page.HasMore {
		page.Messages = rows[:limit]
	}
	if page.Messages == nil {
		page.Messages = []models.ChatMessage{}
	}
	return page, nil
}

func (s *chatHistoryService) GetMessage(ctx context.Context, id string) (*models.ChatMessage, error) {
	return s.messages.GetByID(ctx, id)
}

func (s *chatHistoryService) ReactionCounts(ctx context.Context, sessionID string) (map[string]int, error) {
	return s.reactions.CountBySession(ctx, sessionID)
}
