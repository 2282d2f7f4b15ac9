package handlers

import (
	"net/http"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
)

// CreateReaction godoc
// POST /api/sessions/{id}/reactions
// Body: { "id": "uuid", "sender_id": "u1", "emoji": "🔥", "created_at": "..." }
func (h *ChatHandler) CreateReaction(w http.ResponseWriter, r *http.Request) {
	var reaction models.Reaction
	if !decodeSessionBody(w, r, &reaction, &reaction.SessionID) {
		return
	}

	if err := h.chat.InsertReaction(r.Context(), &reaction); err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, reaction)
}

// ReactionCounts godoc
// GET /api/sessions/{id}/reactions
// Response: { "success": true, "data": { "🔥": 3, "👏": 1 } }
func (h *ChatHandler) ReactionCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.chat.ReactionCounts(r.Context(), r.PathValue("id"))
	if err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, counts)
}
