package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/session"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/store"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Handler serves the ops endpoints over the live session.
type Handler struct {
	store store.RemoteStore
	sess  *session.Session
}

// NewHandler creates an ops handler.
func NewHandler(st store.RemoteStore, sess *session.Session) *Handler {
	return &Handler{store: st, sess: sess}
}

// Health reports store connectivity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	start := time.Now()
	if err := h.store.Ping(ctx); err != nil {
		checks["store"] = Check{Status: "fail", Message: "connection failed"}
		allHealthy = false
	} else {
		checks["store"] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:    status,
		Version:   version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Channels returns the reconciled channel list.
func (h *Handler) Channels(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, h.sess.Cache().Channels())
}

// Messages returns one channel's reconciled messages including derived
// reaction groups and reply counts.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	msgs := h.sess.Cache().Messages(channelID)

	type view struct {
		models.Message
		Reactions  []models.ReactionGroup `json:"reactions,omitempty"`
		ReplyCount int                    `json:"reply_count,omitempty"`
	}
	out := make([]view, len(msgs))
	for i, m := range msgs {
		out[i] = view{Message: m, Reactions: m.Reactions, ReplyCount: m.ReplyCount}
	}
	h.JSON(w, http.StatusOK, out)
}

// Presence returns the last-synced presence snapshots.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]any{
		"online":          h.sess.Presence().OnlineUsers(),
		"channel_members": h.sess.Presence().ChannelMembers(),
		"active_channel":  h.sess.Cache().ActiveChannel(),
	})
}

// JSON writes a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
