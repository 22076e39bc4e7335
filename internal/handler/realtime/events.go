package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/tavern-room/backend/internal/service/room"
	"github.com/zhouzirui/tavern-room/backend/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// handleRoomEvents 以 SSE 推送房间内的实时消息，只读，不会加入会话
func (h *Handler) handleRoomEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	mailbox := room.NewMailbox(h.queueSize)
	roomID := h.chatSvc.Watch(chi.URLParam(r, "roomID"), mailbox)
	defer func() {
		h.chatSvc.Unwatch(roomID, mailbox)
		mailbox.Close()
	}()

	utils.SetupSSEHeaders(w)

	ctx := r.Context()
	log.Printf("[sse] opening room stream room=%s", roomID)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	utils.SendSSEEvent(w, flusher, "status", map[string]any{
		"message": "stream established",
		"room":    roomID,
	})

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing room stream room=%s dropped=%d", roomID, mailbox.Dropped())
			return
		case payload, ok := <-mailbox.Messages():
			if !ok {
				return
			}
			var envelope struct {
				Type string          `json:"type"`
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(payload, &envelope); err != nil {
				log.Printf("[sse] skip undecodable event room=%s: %v", roomID, err)
				continue
			}
			if err := utils.SendSSEEvent(w, flusher, envelope.Type, envelope.Data); err != nil {
				log.Printf("[sse] write failed room=%s: %v", roomID, err)
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
