package meeting

import (
	"log"
	"net/http"
	"time"

	"github.com/zhouzirui/collab-copilot/backend/internal/model/meeting"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/notify"
	"github.com/zhouzirui/collab-copilot/backend/pkg/utils"
)

const streamBuffer = 32

type streamItem struct {
	event string
	data  any
}

// handleEvents 以 SSE 推送会议状态快照和通知
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx := r.Context()
	items := make(chan streamItem, streamBuffer)
	push := func(item streamItem) {
		select {
		case items <- item:
		default:
			log.Printf("[sse] dropping %s event for slow client", item.event)
		}
	}

	unsubscribeState := h.store.Subscribe(func(state meeting.State) {
		push(streamItem{event: "state", data: h.view(state)})
	})
	defer unsubscribeState()

	if h.notices != nil {
		unsubscribeNotices := h.notices.Subscribe(func(n notify.Notice) {
			push(streamItem{event: "notice", data: n})
		})
		defer unsubscribeNotices()
	}

	log.Println("[sse] opening meeting event stream")
	if err := sse.Event("state", h.view(h.store.Snapshot())); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[sse] closing meeting event stream")
			return
		case item := <-items:
			if err := sse.Event(item.event, item.data); err != nil {
				log.Printf("[sse] write failed: %v", err)
				return
			}
		case t := <-ticker.C:
			if err := sse.Heartbeat(t); err != nil {
				return
			}
		}
	}
}
