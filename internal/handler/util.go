package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/chatwire/messenger-sync/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError emits the {"error": ...} shape every endpoint uses for failures.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requireParticipant confirms the caller belongs to the conversation before
// an endpoint touches its messages or membership. A missing conversation and
// a foreign one get the same not-found answer, so conversation ids cannot be
// enumerated. Returns false after writing the response when access is denied.
func requireParticipant(ctx context.Context, convSvc *service.ConversationService, w http.ResponseWriter, conversationID, principalID string) bool {
	conv, err := convSvc.Get(ctx, conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read conversation")
		return false
	}
	if conv == nil || !conv.HasParticipant(principalID) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return false
	}
	return true
}
