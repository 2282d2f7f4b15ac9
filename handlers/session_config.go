package handlers

import (
	"net/http"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
	"github.com/akinalp/stagecast/services"
)

// SessionConfigHandler, oturum konfigürasyon satırı endpoint'lerini yönetir.
type SessionConfigHandler struct {
	configs services.SessionConfigService
}

// NewSessionConfigHandler, constructor.
func NewSessionConfigHandler(configs services.SessionConfigService) *SessionConfigHandler {
	return &SessionConfigHandler{configs: configs}
}

// Get godoc
// GET /api/sessions/{id}/config
// Satır yoksa 404 döner; geç katılan follower bunu "henüz playback yok" sayar.
func (h *SessionConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.GetSessionConfig(r.Context(), r.PathValue("id"))
	if err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, cfg)
}

// Put godoc
// PUT /api/sessions/{id}/config
// Host'un tam satırı. Kayıtlı host dışındaki host_id 403 alır; eski song_gen
// taşıyan yazım sessizce yoksayılır ve yine 200 döner.
func (h *SessionConfigHandler) Put(w http.ResponseWriter, r *http.Request) {
	var cfg models.SessionConfig
	if !decodeSessionBody(w, r, &cfg, &cfg.SessionID) {
		return
	}

	if err := h.configs.UpsertSessionConfig(r.Context(), &cfg); err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, cfg)
}

// ListLive godoc
// GET /api/sessions
// Şu an canlı olan oturumların satırları.
func (h *SessionConfigHandler) ListLive(w http.ResponseWriter, r *http.Request) {
	live, err := h.configs.ListLive(r.Context())
	if err != nil {
		pkg.Error(w, err)
		return
	}
	if live == nil {
		live = []models.SessionConfig{}
	}
	pkg.JSON(w, http.StatusOK, live)
}
