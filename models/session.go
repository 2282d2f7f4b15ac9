// Package models: canlı oturum (session) domain modelleri.
//
// SessionMetadata, transport provider'ın tüm katılımcılara replike ettiği
// küçük, mutable JSON blob'u. Tek yazıcı host'tur; diğerleri read-only mirror tutar.
// Blob'da bu paketin bilmediği alanlar da olabilir (başka client sürümleri yazmış
// olabilir): Unmarshal/Marshal bunları kaybetmeden taşır.
package models

import (
	"bytes"
	"encoding/json"
	"slices"
	"sort"
)

// Bilinen metadata anahtarları.
const (
	metaKeyIsStreaming       = "isStreaming"
	metaKeyAllowedSpeakers   = "allowedSpeakers"
	metaKeyHostWalletAddress = "hostWalletAddress"
)

// SessionMetadata, oturumun paylaşılan metadata blob'u.
type SessionMetadata struct {
	IsStreaming       bool
	AllowedSpeakers   []string // sıralı, tekrarsız
	HostWalletAddress *string

	// extra: bilinmeyen alanlar, olduğu gibi geri yazılır.
	extra map[string]json.RawMessage
}

// ParseSessionMetadata, transport'tan gelen ham string'i parse eder.
// Boş string boş metadata demektir (oda yeni oluşturulmuş).
func ParseSessionMetadata(raw string) (SessionMetadata, error) {
	var m SessionMetadata
	if len(bytes.TrimSpace([]byte(raw))) == 0 {
		return m, nil
	}
	err := json.Unmarshal([]byte(raw), &m)
	return m, err
}

// String, metadata'yı transport'a yazılacak JSON string'e çevirir.
func (m SessionMetadata) String() string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// IsAllowedSpeaker, userID mirror'da var mı.
func (m SessionMetadata) IsAllowedSpeaker(userID string) bool {
	_, found := slices.BinarySearch(m.AllowedSpeakers, userID)
	return found
}

// WithSpeaker, userID eklenmiş bir kopya döner.
func (m SessionMetadata) WithSpeaker(userID string) SessionMetadata {
	if m.IsAllowedSpeaker(userID) {
		return m
	}
	out := m.clone()
	out.AllowedSpeakers = append(out.AllowedSpeakers, userID)
	sort.Strings(out.AllowedSpeakers)
	return out
}

// WithoutSpeaker, userID çıkarılmış bir kopya döner.
func (m SessionMetadata) WithoutSpeaker(userID string) SessionMetadata {
	out := m.clone()
	out.AllowedSpeakers = slices.DeleteFunc(out.AllowedSpeakers, func(s string) bool { return s == userID })
	return out
}

func (m SessionMetadata) clone() SessionMetadata {
	out := m
	out.AllowedSpeakers = slices.Clone(m.AllowedSpeakers)
	if m.extra != nil {
		out.extra = make(map[string]json.RawMessage, len(m.extra))
		for k, v := range m.extra {
			out.extra[k] = v
		}
	}
	return out
}

// MarshalJSON, bilinen alanları ve extra'yı tek objede birleştirir.
func (m SessionMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.extra)+3)
	for k, v := range m.extra {
		out[k] = v
	}

	speakers := m.AllowedSpeakers
	if speakers == nil {
		speakers = []string{}
	}
	out[metaKeyIsStreaming] = m.IsStreaming
	out[metaKeyAllowedSpeakers] = speakers
	if m.HostWalletAddress != nil {
		out[metaKeyHostWalletAddress] = *m.HostWalletAddress
	}

	return json.Marshal(out)
}

// UnmarshalJSON, bilinen alanları çıkarır, kalanları extra'da saklar.
func (m *SessionMetadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = SessionMetadata{}

	if v, ok := raw[metaKeyIsStreaming]; ok {
		if err := json.Unmarshal(v, &m.IsStreaming); err != nil {
			return err
		}
		delete(raw, metaKeyIsStreaming)
	}
	if v, ok := raw[metaKeyAllowedSpeakers]; ok {
		var speakers []string
		if err := json.Unmarshal(v, &speakers); err != nil {
			return err
		}
		sort.Strings(speakers)
		m.AllowedSpeakers = slices.Compact(speakers)
		delete(raw, metaKeyAllowedSpeakers)
	}
	if v, ok := raw[metaKeyHostWalletAddress]; ok {
		var wallet *string
		if err := json.Unmarshal(v, &wallet); err != nil {
			return err
		}
		m.HostWalletAddress = wallet
		delete(raw, metaKeyHostWalletAddress)
	}

	if len(raw) > 0 {
		m.extra = raw
	}
	return nil
}

// SessionState, CallSessionManager'ın per-session durum makinesi.
type SessionState string

const (
	SessionIdle           SessionState = "idle"
	SessionJoining        SessionState = "joining"
	SessionWaitingForHost SessionState = "waiting_for_host"
	SessionJoined         SessionState = "joined"
	SessionLeft           SessionState = "left" // terminal
)
