package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	meetingHandler "github.com/zhouzirui/collab-copilot/backend/internal/handler/meeting"
	middlewarePkg "github.com/zhouzirui/collab-copilot/backend/internal/middleware"
	aiService "github.com/zhouzirui/collab-copilot/backend/internal/service/ai"
	meetingService "github.com/zhouzirui/collab-copilot/backend/internal/service/meeting"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/notify"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/realtime"
	"github.com/zhouzirui/collab-copilot/backend/pkg/utils"
)

// NewRouter 将 HTTP 路由绑定到核心服务。未配置 AI 时 summarizer 为 nil。
func NewRouter(store *meetingService.Store, manager *realtime.Manager, notices *notify.Hub, summarizer *aiService.Summarizer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"transport": manager.TransportName(),
			"connected": manager.IsConnected(),
			"time":      time.Now().UTC().Format(time.RFC3339),
		})
	})

	// 避免带类型的 nil 指针变成非 nil 接口
	var summaries meetingHandler.Summarizer
	if summarizer != nil {
		summaries = summarizer
	}

	r.Route("/api", func(api chi.Router) {
		meetingHandler.New(store, manager, notices, summaries).RegisterRoutes(api)
	})

	return r
}
