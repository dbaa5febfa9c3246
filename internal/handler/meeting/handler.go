package meeting

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zhouzirui/collab-copilot/backend/internal/model/meeting"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/ai"
	meetingService "github.com/zhouzirui/collab-copilot/backend/internal/service/meeting"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/notify"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/realtime"
	"github.com/zhouzirui/collab-copilot/backend/pkg/utils"
)

const (
	summaryTimeout      = 60 * time.Second
	defaultHeartbeat    = 15 * time.Second
	assistantSenderName = "Copilot"
	assistantSenderID   = "ai-assistant"
)

// Summarizer 根据会议记录生成 markdown 摘要
type Summarizer interface {
	Summarize(ctx context.Context, meetingName string, messages []meeting.Message) (string, error)
}

// Handler 会议相关的HTTP处理器
type Handler struct {
	store      *meetingService.Store
	conn       *realtime.Manager
	notices    *notify.Hub
	summarizer Summarizer
	heartbeat  time.Duration
}

// New 创建会议处理器。summarizer 为 nil 时摘要接口返回 503。
func New(store *meetingService.Store, conn *realtime.Manager, notices *notify.Hub, summarizer Summarizer) *Handler {
	return &Handler{
		store:      store,
		conn:       conn,
		notices:    notices,
		summarizer: summarizer,
		heartbeat:  defaultHeartbeat,
	}
}

// RegisterRoutes 注册会议相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/meeting", func(m chi.Router) {
		m.Get("/", h.handleGetState)
		m.Post("/start", h.handleStart)
		m.Post("/pause", h.handlePause)
		m.Post("/end", h.handleEnd)
		m.Post("/messages", h.handleAddMessage)
		m.Post("/participants", h.handleAddParticipant)
		m.Post("/recording", h.handleRecording)
		m.Post("/reconnect", h.handleReconnect)
		m.Put("/local-mode", h.handleLocalMode)
		m.Post("/summary", h.handleSummary)
		m.Get("/events", h.handleEvents)
	})
}

// stateView 返回给前端的会议状态 JSON 结构
type stateView struct {
	IsActive     bool                  `json:"isActive"`
	MeetingName  string                `json:"meetingName"`
	MeetingID    string                `json:"meetingId"`
	Messages     []meeting.Message     `json:"messages"`
	Participants []meeting.Participant `json:"participants"`
	StartTime    *time.Time            `json:"startTime"`
	IsRecording  bool                  `json:"isRecording"`
	IsConnected  bool                  `json:"isConnected"`
	Transport    string                `json:"transport"`
	LocalMode    bool                  `json:"localMode"`
}

func (h *Handler) view(state meeting.State) stateView {
	return stateView{
		IsActive:     state.IsActive,
		MeetingName:  state.MeetingName,
		MeetingID:    state.MeetingID,
		Messages:     state.Messages,
		Participants: state.Participants,
		StartTime:    state.StartTime,
		IsRecording:  state.IsRecording,
		IsConnected:  state.IsConnected,
		Transport:    h.conn.TransportName(),
		LocalMode:    h.conn.LocalMode(),
	}
}

func (h *Handler) respondState(w http.ResponseWriter, status int) {
	utils.RespondJSON(w, status, h.view(h.store.Snapshot()))
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	h.respondState(w, http.StatusOK)
}

// handleStart 开始或继续会议
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.store.SetMeetingActive(r.Context(), true, strings.TrimSpace(payload.Name))
	h.respondState(w, http.StatusOK)
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	h.store.SetMeetingActive(r.Context(), false, "")
	h.respondState(w, http.StatusOK)
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	h.store.ResetMeeting(r.Context())
	h.respondState(w, http.StatusOK)
}

// handleAddMessage 以当前用户身份发送消息
func (h *Handler) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID         string `json:"id"`
		Content    string `json:"content"`
		SenderName string `json:"senderName"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Content) == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}
	if !h.store.Snapshot().IsActive {
		utils.RespondError(w, http.StatusConflict, "meeting is not active")
		return
	}

	user := h.store.User()
	senderName := payload.SenderName
	if senderName == "" {
		senderName = user.Name
	}
	msg := meeting.Message{
		ID:         payload.ID,
		Content:    payload.Content,
		Sender:     user.ID,
		SenderName: senderName,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	if !h.store.AddMessage(msg) {
		// 重复 id，或会议在此期间被暂停
		utils.RespondJSON(w, http.StatusOK, map[string]any{"id": msg.ID, "appended": false})
		return
	}
	utils.RespondJSON(w, http.StatusCreated, map[string]any{"id": msg.ID, "appended": true})
}

func (h *Handler) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := strings.TrimSpace(payload.Email)
	if email == "" {
		utils.RespondError(w, http.StatusBadRequest, "email is required")
		return
	}
	if !h.store.Snapshot().IsActive {
		utils.RespondError(w, http.StatusConflict, "meeting is not active")
		return
	}

	name := strings.TrimSpace(payload.Name)
	if name == "" {
		name = email
	}
	added := h.store.AddParticipant(meeting.Participant{Email: email, Name: name})
	status := http.StatusCreated
	if !added {
		status = http.StatusOK
	}
	utils.RespondJSON(w, status, map[string]any{"email": email, "added": added})
}

func (h *Handler) handleRecording(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Recording bool `json:"recording"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.store.SetRecording(payload.Recording)
	h.respondState(w, http.StatusOK)
}

// handleReconnect 以本地模式重新连接
func (h *Handler) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if !h.conn.Reconnect(r.Context()) {
		utils.RespondError(w, http.StatusConflict, "no previous connection to restore")
		return
	}
	h.respondState(w, http.StatusOK)
}

func (h *Handler) handleLocalMode(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Enabled *bool `json:"enabled"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Enabled == nil {
		utils.RespondError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	h.conn.SetLocalMode(*payload.Enabled)
	h.respondState(w, http.StatusOK)
}

// handleSummary 生成会议摘要并作为 AI 消息追加到会议记录
func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	if h.summarizer == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai summary unavailable")
		return
	}

	state := h.store.Snapshot()
	if !state.IsActive {
		utils.RespondError(w, http.StatusConflict, "meeting is not active")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), summaryTimeout)
	defer cancel()

	summary, err := h.summarizer.Summarize(ctx, state.MeetingName, state.Messages)
	if errors.Is(err, ai.ErrEmptyTranscript) {
		utils.RespondError(w, http.StatusUnprocessableEntity, "nothing to summarize yet")
		return
	}
	if err != nil {
		log.Printf("[meeting] summary failed for meeting=%s: %v", state.MeetingID, err)
		if h.notices != nil {
			h.notices.Notify(notify.Error("Summary failed", "The AI summary could not be generated."))
		}
		utils.RespondError(w, http.StatusBadGateway, "summary generation failed")
		return
	}

	msg := meeting.Message{
		ID:         uuid.NewString(),
		Content:    summary,
		Sender:     assistantSenderID,
		SenderName: assistantSenderName,
		IsAI:       true,
	}
	h.store.AddMessage(msg)
	utils.RespondJSON(w, http.StatusCreated, map[string]any{"id": msg.ID, "summary": summary})
}
