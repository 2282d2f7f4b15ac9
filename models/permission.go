package models

import "time"

// PermissionRequest, host olmayan bir katılımcının "söz istiyorum" talebi.
// Kullanıcı başına en fazla bir bekleyen istek olur; yenisi eskisinin yerine geçer.
type PermissionRequest struct {
	UserID       string        `json:"user_id"`
	Capabilities CapabilitySet `json:"capabilities"`
	RequestedAt  time.Time     `json:"requested_at"`
}

// ParticipantMetadata, her katılımcının transport üzerindeki kendi metadata'sı.
// Söz isteği bu alan üzerinden taşınır: katılımcı Request'i set eder,
// host bunu participant-metadata-changed event'i olarak görür.
type ParticipantMetadata struct {
	Request *PermissionRequest `json:"speak_request,omitempty"`
}
