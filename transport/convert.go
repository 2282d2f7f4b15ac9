package transport

import (
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/akinalp/stagecast/models"
)

// fromLiveKitParticipant, RTC tarafındaki katılımcıyı snapshot'a çevirir.
func fromLiveKitParticipant(p lksdk.Participant) models.Participant {
	return models.Participant{
		UserID:              p.Identity(),
		Name:                p.Name(),
		PublishedTrackCount: len(p.TrackPublications()),
		AudioLevel:          clampLevel(float64(p.AudioLevel())),
		IsSpeaking:          p.IsSpeaking(),
		ConnectionState:     models.ConnConnected,
	}
}

// fromParticipantInfo, server API'den gelen katılımcıyı snapshot'a çevirir.
func fromParticipantInfo(info *livekit.ParticipantInfo) models.Participant {
	published := 0
	for _, t := range info.GetTracks() {
		if !t.GetMuted() {
			published++
		}
	}
	return models.Participant{
		UserID:              info.GetIdentity(),
		Name:                info.GetName(),
		Capabilities:        capabilitiesFromPermission(info.GetPermission()),
		PublishedTrackCount: published,
		ConnectionState:     connectionState(info.GetState()),
	}
}

func connectionState(s livekit.ParticipantInfo_State) models.ConnectionState {
	switch s {
	case livekit.ParticipantInfo_JOINING:
		return models.ConnConnecting
	case livekit.ParticipantInfo_JOINED, livekit.ParticipantInfo_ACTIVE:
		return models.ConnConnected
	default:
		return models.ConnDisconnected
	}
}

// capabilitiesFromPermission: CanPublish kapalıysa hiçbir şey; açık ama
// kaynak listesi boşsa LiveKit "tüm kaynaklar" kabul eder.
func capabilitiesFromPermission(perm *livekit.ParticipantPermission) models.CapabilitySet {
	if perm == nil || !perm.GetCanPublish() {
		return models.NoCapabilities
	}
	sources := perm.GetCanPublishSources()
	if len(sources) == 0 {
		return models.AllCapabilities
	}

	var caps []models.Capability
	for _, src := range sources {
		switch src {
		case livekit.TrackSource_MICROPHONE:
			caps = append(caps, models.CapSendAudio)
		case livekit.TrackSource_CAMERA:
			caps = append(caps, models.CapSendVideo)
		}
	}
	return models.NewCapabilitySet(caps...)
}

// permissionFor, capability kümesinin LiveKit permission karşılığı.
// Subscribe ve data her zaman açık: dinleyiciler chat'e ve playback'e katılır.
func permissionFor(caps models.CapabilitySet) *livekit.ParticipantPermission {
	perm := &livekit.ParticipantPermission{
		CanSubscribe:   true,
		CanPublishData: true,
		CanPublish:     !caps.IsEmpty(),
	}
	if caps.CanSendAudio() {
		perm.CanPublishSources = append(perm.CanPublishSources, livekit.TrackSource_MICROPHONE)
	}
	if caps.CanSendVideo() {
		perm.CanPublishSources = append(perm.CanPublishSources, livekit.TrackSource_CAMERA)
	}
	return perm
}

func clampLevel(v float64) float64 {
	return models.ClampVolume(v)
}
