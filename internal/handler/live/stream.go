package live

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yuchenzhao/emolens/backend/pkg/utils"
)

// handleStream 通过SSE推送快照，作为不便建立WebSocket的客户端的降级通道
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates, cancel, err := h.sessions.Subscribe(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	defer cancel()

	utils.SetupSSEHeaders(w)

	ctx := r.Context()
	log.Printf("[sse] opening snapshot stream for session=%s", sessionID)

	if snapshot, err := h.sessions.Snapshot(ctx, sessionID); err == nil {
		utils.SendSSEEvent(w, flusher, "snapshot", snapshot)
	}

	ticker := time.NewTicker(8 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing snapshot stream for session=%s", sessionID)
			return
		case snapshot, ok := <-updates:
			if !ok {
				return
			}
			utils.SendSSEEvent(w, flusher, "snapshot", snapshot)
		case t := <-ticker.C:
			utils.SendSSEEvent(w, flusher, "heartbeat", map[string]any{
				"time": t.UTC().Format(time.RFC3339),
			})
		}
	}
}
