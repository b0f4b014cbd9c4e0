package session

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yuchenzhao/emolens/backend/internal/model/emotion"
	"github.com/yuchenzhao/emolens/backend/internal/service/classify"
	sessionservice "github.com/yuchenzhao/emolens/backend/internal/service/session"
	"github.com/yuchenzhao/emolens/backend/pkg/utils"
)

// Handler 会话聚合引擎的HTTP处理器
type Handler struct {
	sessions   *sessionservice.Service
	classifier *classify.Service
}

// New 创建会话处理器。classifier 可以为 nil。
func New(sessions *sessionservice.Service, classifier *classify.Service) *Handler {
	return &Handler{
		sessions:   sessions,
		classifier: classifier,
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleStart)
	r.Get("/reports", h.handleReports)

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Post("/events", h.handleIngest)
		r.Post("/frames", h.handleFrame)
		r.Post("/stop", h.handleStop)
		r.Get("/stats", h.handleStats)
		r.Get("/report", h.handleReport)
	})
}

// handleStart 开始跟踪一个会话
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID   string `json:"sessionId"`
		SessionName string `json:"sessionName"`
	}
	// 允许空请求体（此时生成会话ID），但格式错误的请求体要报错。
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	info, err := h.sessions.Start(r.Context(), payload.SessionID, payload.SessionName)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, info)
}

// handleIngest 接收一条情绪观测并返回更新后的快照
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var raw emotion.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snapshot, err := h.sessions.Ingest(r.Context(), sessionID, raw)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, snapshot)
}

// handleFrame 对上报的视频帧做情绪分类后摄入。依赖可选的多模态分类器。
func (h *Handler) handleFrame(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if !h.classifier.Enabled() {
		utils.RespondError(w, http.StatusServiceUnavailable, "frame classifier not configured")
		return
	}

	var payload struct {
		ParticipantID string `json:"participantId"`
		Image         string `json:"image"`
		Timestamp     int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Image == "" {
		utils.RespondError(w, http.StatusBadRequest, "image is required")
		return
	}

	result, err := h.classifier.ClassifyFrame(r.Context(), payload.Image)
	if err != nil {
		log.Printf("[session] frame classification failed session=%s: %v", sessionID, err)
		utils.RespondError(w, http.StatusBadRequest, "frame classification failed")
		return
	}

	snapshot, err := h.sessions.Ingest(r.Context(), sessionID, emotion.RawEvent{
		ParticipantID: payload.ParticipantID,
		Emotion:       string(result.Emotion),
		Confidence:    result.Confidence,
		Timestamp:     payload.Timestamp,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"emotion":    result.Emotion,
		"confidence": result.Confidence,
		"snapshot":   snapshot,
	})
}

// handleStats 返回会话当前的统计快照
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	snapshot, err := h.sessions.Snapshot(r.Context(), sessionID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, snapshot)
}

// handleReport 返回会话的完整报表
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	report, err := h.sessions.Report(r.Context(), sessionID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, report)
}

// handleStop 结束会话并返回最终报表
func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	report, err := h.sessions.Stop(r.Context(), sessionID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"message": "session stopped",
		"report":  report,
	})
}

// handleReports 列出全部会话摘要
func (h *Handler) handleReports(w http.ResponseWriter, r *http.Request) {
	infos, err := h.sessions.Reports(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"reports": infos})
}

// respondServiceError 把服务层错误映射到HTTP状态码
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var validationErr *emotion.ValidationError
	switch {
	case errors.As(err, &validationErr):
		utils.RespondJSON(w, http.StatusBadRequest, map[string]string{
			"error": validationErr.Error(),
			"field": validationErr.Field,
		})
	case errors.Is(err, sessionservice.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sessionservice.ErrSessionExists),
		errors.Is(err, sessionservice.ErrSessionStopped):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("[session] unexpected error: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
