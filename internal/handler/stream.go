package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chatwire/messenger-sync/internal/middleware"
	"github.com/chatwire/messenger-sync/internal/model"
	"github.com/chatwire/messenger-sync/internal/service"
	"github.com/chatwire/messenger-sync/pkg/logger"
	"github.com/chatwire/messenger-sync/pkg/metrics"
)

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	conversations *service.ConversationService
	messages      *service.MessageService
	newJoiner     func() *service.ProfileJoiner
	logger        *logger.Logger
}

// NewStreamHandler creates a new stream handler. Every conversation-list
// stream gets its own joiner from newJoiner, so profile subscriptions live
// and die with the connection and one client never sees another's joined
// profiles.
func NewStreamHandler(
	convSvc *service.ConversationService,
	msgSvc *service.MessageService,
	newJoiner func() *service.ProfileJoiner,
	log *logger.Logger,
) *StreamHandler {
	return &StreamHandler{
		conversations: convSvc,
		messages:      msgSvc,
		newJoiner:     newJoiner,
		logger:        log,
	}
}

// Conversations handles GET /api/v1/conversations/stream
// Streams the caller's conversation list as it changes, interleaved with
// profile updates for the participants seen so far. Every emission carries
// the full current list, never a delta.
func (h *StreamHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := middleware.GetPrincipalID(ctx)

	flusher, ok := setupSSE(w)
	if !ok {
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sub, err := h.conversations.Subscribe(ctx, principalID)
	if err != nil {
		sendSSEEvent(w, flusher, "error", map[string]string{"error": "subscribe failed"})
		return
	}
	defer sub.Close()

	joiner := h.newJoiner()
	defer joiner.Close()

	profileCh, cancelWatch := joiner.Watch()
	defer cancelWatch()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"principal_id": principalID,
	})

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case convs, open := <-sub.C:
			if !open {
				if serr := sub.Err(); serr != nil {
					h.logger.Error("conversation stream failed", zap.Error(serr),
						zap.String("principal_id", principalID))
					sendSSEEvent(w, flusher, "error", map[string]string{"error": "stream failed"})
				}
				return
			}
			profiles := joiner.Resolve(ctx, service.ParticipantSet(convs), 0)
			sendSSEEvent(w, flusher, "conversations", model.ConversationListResponse{
				Conversations: convs,
				Profiles:      profiles,
			})

		case profiles := <-profileCh:
			sendSSEEvent(w, flusher, "profiles", profiles)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]any{
				"timestamp": time.Now(),
			})

		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected",
				zap.String("principal_id", principalID))
			return
		}
	}
}

// Messages handles GET /api/v1/conversations/{id}/messages/stream
// Streams the conversation's full message history on connect and again on
// every new message, ordered by send time. Only participants may attach.
func (h *StreamHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := middleware.GetPrincipalID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !requireParticipant(ctx, h.conversations, w, conversationID, principalID) {
		return
	}

	flusher, ok := setupSSE(w)
	if !ok {
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sub, err := h.messages.Subscribe(ctx, conversationID)
	if err != nil {
		sendSSEEvent(w, flusher, "error", map[string]string{"error": "subscribe failed"})
		return
	}
	defer sub.Close()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case msgs, open := <-sub.C:
			if !open {
				if serr := sub.Err(); serr != nil {
					h.logger.Error("message stream failed", zap.Error(serr),
						zap.String("conversation_id", conversationID))
					sendSSEEvent(w, flusher, "error", map[string]string{"error": "stream failed"})
				}
				return
			}
			sendSSEEvent(w, flusher, "messages", model.MessageListResponse{
				Messages: msgs,
			})

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]any{
				"timestamp": time.Now(),
			})

		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected",
				zap.String("conversation_id", conversationID))
			return
		}
	}
}

// setupSSE writes the event-stream headers and returns the flusher.
func setupSSE(w http.ResponseWriter) (http.Flusher, bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}
	return flusher, true
}

// sendSSEEvent sends a single SSE event.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
