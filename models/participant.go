package models

import (
	"encoding/json"
	"strings"
)

// Capability, transport seviyesinde bir yayın yetkisi.
type Capability string

const (
	CapSendAudio Capability = "send_audio"
	CapSendVideo Capability = "send_video"
)

// CapabilitySet, Capability'lerin bit kümesi.
type CapabilitySet uint8

const (
	capAudioBit CapabilitySet = 1 << iota
	capVideoBit
)

// Hazır kümeler.
const (
	NoCapabilities  CapabilitySet = 0
	AudioOnly                     = capAudioBit
	AllCapabilities               = capAudioBit | capVideoBit
)

// NewCapabilitySet, verilen capability'lerden küme oluşturur.
// Bilinmeyen değerler yoksayılır.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		switch c {
		case CapSendAudio:
			s |= capAudioBit
		case CapSendVideo:
			s |= capVideoBit
		}
	}
	return s
}

func (s CapabilitySet) CanSendAudio() bool { return s&capAudioBit != 0 }
func (s CapabilitySet) CanSendVideo() bool { return s&capVideoBit != 0 }
func (s CapabilitySet) IsEmpty() bool      { return s == 0 }

// Union ve Without küme işlemleri.
func (s CapabilitySet) Union(o CapabilitySet) CapabilitySet   { return s | o }
func (s CapabilitySet) Without(o CapabilitySet) CapabilitySet { return s &^ o }

// List, kümeyi sabit sırada Capability listesine çevirir.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, 2)
	if s.CanSendAudio() {
		out = append(out, CapSendAudio)
	}
	if s.CanSendVideo() {
		out = append(out, CapSendVideo)
	}
	return out
}

func (s CapabilitySet) String() string {
	parts := make([]string, 0, 2)
	for _, c := range s.List() {
		parts = append(parts, string(c))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// MarshalJSON: ["send_audio","send_video"]
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	var caps []Capability
	if err := json.Unmarshal(data, &caps); err != nil {
		return err
	}
	*s = NewCapabilitySet(caps...)
	return nil
}

// ConnectionState, katılımcının transport bağlantı durumu.
type ConnectionState string

const (
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnReconnecting ConnectionState = "reconnecting"
	ConnDisconnected ConnectionState = "disconnected"
)

// Participant, oturumdaki bir katılımcının anlık görüntüsü.
// EPHEMERAL: DB'ye yazılmaz, sadece membership süresince in-memory tutulur.
type Participant struct {
	UserID              string          `json:"user_id"`
	Name                string          `json:"name,omitempty"`
	Capabilities        CapabilitySet   `json:"capabilities"`
	PublishedTrackCount int             `json:"published_track_count"` // 0 = yayın yapmıyor
	AudioLevel          float64         `json:"audio_level"`           // 0..1
	IsSpeaking          bool            `json:"is_speaking"`
	ConnectionState     ConnectionState `json:"connection_state"`
}

// IsPublishing, katılımcının en az bir track yayınlayıp yayınlamadığı.
func (p Participant) IsPublishing() bool { return p.PublishedTrackCount > 0 }
