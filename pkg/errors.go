// Package pkg, projede paylaşılan utility'leri barındırır.
// Bu dosya domain-level error tanımlarını içerir.
//
// Karşılaştırma her zaman errors.Is ile yapılır:
//
//	if errors.Is(err, pkg.ErrSessionNotFound) { ... }
package pkg

import "errors"

// Genel domain error'ları: handler katmanı bunları HTTP status code'larına map'ler.
var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadyExists = errors.New("already exists")
	ErrBadRequest    = errors.New("bad request")
	ErrInternal      = errors.New("internal error")
)

// Canlı oturum (session) error'ları.
//
// Taksonomi:
//   - Retryable: ErrSessionNotFound (host henüz oluşturmadı), ErrParticipantNotFound
//     (grant propagation gecikmesi), ErrNotConnected (kanal koptu)
//   - User-actionable: ErrMicrophonePermission
//   - Fatal: diğer tüm transport hataları
var (
	// ErrSessionNotFound, transport provider'ın "oda yok" cevabıdır.
	// Host dışındaki katılımcılar için recoverable bir ön koşuldur.
	ErrSessionNotFound = errors.New("session not found")

	// ErrParticipantNotFound, grant/revoke sırasında hedef katılımcının
	// provider tarafında henüz görünmemesi.
	ErrParticipantNotFound = errors.New("participant not found")

	ErrNotJoined    = errors.New("not joined")
	ErrSessionLeft  = errors.New("session left")
	ErrNotHost      = errors.New("host only operation")
	ErrNotSupported = errors.New("not supported")

	// ErrPermissionTimeout, grant retry döngüsünün hard timeout'a ulaştığını belirtir.
	ErrPermissionTimeout = errors.New("permission grant timed out")

	// ErrNotConnected, broadcast kanalı subscribed durumda değilken yapılan publish'ler için.
	ErrNotConnected = errors.New("channel not connected")

	ErrMicrophonePermission = errors.New("microphone permission denied")
)

// UserMessage, bir error'ı kullanıcıya gösterilecek kısa ve spesifik bir mesaja çevirir.
// Ham provider error kodları hiçbir zaman UI'a sızmaz.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionNotFound):
		return "Waiting for the host to start the session."
	case errors.Is(err, ErrPermissionTimeout):
		return "Speaker permission could not be applied in time. Please try again."
	case errors.Is(err, ErrParticipantNotFound):
		return "That participant is no longer in the session."
	case errors.Is(err, ErrMicrophonePermission):
		return "Microphone access is blocked. Allow it in your device settings."
	case errors.Is(err, ErrNotHost), errors.Is(err, ErrForbidden):
		return "Only the host can do that."
	case errors.Is(err, ErrNotSupported):
		return "This control is not available on this device."
	case errors.Is(err, ErrNotConnected):
		return "You are offline. Your message will be sent when the connection is back."
	case errors.Is(err, ErrSessionLeft), errors.Is(err, ErrNotJoined):
		return "You are not in this session."
	case errors.Is(err, ErrBadRequest):
		return "The request was not valid."
	default:
		return "Something went wrong. Please try again."
	}
}
