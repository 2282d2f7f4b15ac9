// Package main: Service katmanı başlatma.
//
// initServices, sunucu tarafı service implementasyonlarını oluşturur.
// Her service, ihtiyaç duyduğu repository interface'lerini ve diğer
// dependency'leri constructor injection ile alır.
//
// Sıralama: SessionConfig, VoiceToken ve Membership'ten ÖNCE oluşturulur
// (host lookup ve canlılık bayrağı için).
package main

import (
	"github.com/akinalp/stagecast/config"
	"github.com/akinalp/stagecast/services"
	"github.com/akinalp/stagecast/ws"
)

// Services, tüm service instance'larını tutan container struct.
type Services struct {
	ChatHistory   services.ChatHistoryService
	SessionConfig services.SessionConfigService
	VoiceToken    services.VoiceTokenService
	Membership    services.MembershipService
}

// initServices, tüm service'leri oluşturur.
func initServices(repos *Repositories, hub ws.EventPublisher, cfg *config.Config) *Services {
	sessionConfig := services.NewSessionConfigService(repos.SessionConfig)

	return &Services{
		ChatHistory:   services.NewChatHistoryService(repos.ChatMessage, repos.Reaction),
		SessionConfig: sessionConfig,
		VoiceToken:    services.NewVoiceTokenService(sessionConfig, cfg.LiveKit),
		Membership:    services.NewMembershipService(hub, sessionConfig),
	}
}
