package models

// VoiceTokenRequest, oturuma bağlanmak için LiveKit token isteği.
//
//	POST /api/voice/token
//	{ "session_id": "abc", "user_id": "u1", "name": "Ayşe", "is_host": true }
type VoiceTokenRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	IsHost    bool   `json:"is_host"`
}

// VoiceTokenResponse, LiveKit token yanıtı. Client bu bilgilerle doğrudan
// LiveKit sunucusuna bağlanır.
type VoiceTokenResponse struct {
	Token     string `json:"token"`
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

// MembershipEvent, membership_updated event'inin payload'u.
// Sunucu bunu LiveKit webhook'larından üretir; oda henüz yokken bekleyen
// katılımcılar bu event ile yeniden join dener.
type MembershipEvent struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"` // room_started, room_finished, participant_joined, participant_left
	UserID    string `json:"user_id,omitempty"`
}
