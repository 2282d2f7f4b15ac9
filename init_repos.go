// Package main: Repository katmanı başlatma.
//
// initRepositories, tüm repository implementasyonlarını oluşturur.
package main

import (
	"github.com/akinalp/stagecast/database"
	"github.com/akinalp/stagecast/repository"
)

// Repositories, tüm repository instance'larını tutan container struct.
type Repositories struct {
	ChatMessage   repository.ChatMessageRepository
	Reaction      repository.ReactionRepository
	SessionConfig repository.SessionConfigRepository
}

// initRepositories, tüm repository'leri oluşturur.
func initRepositories(db *database.DB) *Repositories {
	return &Repositories{
		ChatMessage:   repository.NewSQLiteChatMessageRepo(db.Conn),
		Reaction:      repository.NewSQLiteReactionRepo(db.Conn),
		SessionConfig: repository.NewSQLiteSessionConfigRepo(db.Conn),
	}
}
