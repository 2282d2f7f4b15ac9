package models

import "time"

// Broadcast kanalı event isimleri. Topic her oturum için "session:<id>".
const (
	EventPlaybackState     = "playback_state"
	EventSongChanged       = "song_changed"
	EventChatMessage       = "chat_message"
	EventReaction          = "reaction"
	EventMembershipUpdated = "membership_updated"
)

// SessionTopic, oturumun broadcast topic adını döner.
func SessionTopic(sessionID string) string { return "session:" + sessionID }

// PlaybackState, host'un yayınladığı tam (self-sufficient) playback durumu.
// Her event mutlak pozisyon taşır, delta değil; sırası karışan ya da düşen
// event'ler follower state'ini bozamaz.
type PlaybackState struct {
	PositionSeconds   float64 `json:"position_seconds"`
	IsPlaying         bool    `json:"is_playing"`
	CurrentLyricIndex *int    `json:"current_lyric_index,omitempty"`
	MusicVolume       float64 `json:"music_volume"`
	MicVolume         float64 `json:"mic_volume"`
	EndOfTrack        bool    `json:"end_of_track,omitempty"`
}

// PlaybackEvent, playback_state event'inin payload'u.
// SongGen, host'un her şarkı değişiminde artırdığı sayaç.
type PlaybackEvent struct {
	SongGen int64         `json:"song_gen"`
	SongURL string        `json:"song_url"`
	State   PlaybackState `json:"state"`
	SentAt  time.Time     `json:"sent_at"`
}

// SongChangedEvent, song_changed event'inin payload'u.
type SongChangedEvent struct {
	SongGen   int64  `json:"song_gen"`
	SongURL   string `json:"song_url"`
	LyricsURL string `json:"lyrics_url,omitempty"`
}

// Song, kuyruktaki bir parça.
type Song struct {
	URL       string `json:"url"`
	LyricsURL string `json:"lyrics_url,omitempty"`
	Title     string `json:"title,omitempty"`
}

// ClampVolume, volume değerini [0,1] aralığına kırpar.
func ClampVolume(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
