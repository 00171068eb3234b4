// Package model defines the record shapes synced from the remote store.
package model

import (
	"time"
)

// Profile is a snapshot of a user's remote profile document.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Tagline     string `json:"tagline"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// Conversation is a conversation thread between two or more principals.
//
// IsGroup is promoted to true when a third participant is added and is never
// demoted afterwards; a two-participant conversation that was once a group
// keeps the flag.
type Conversation struct {
	ID                 string    `json:"id"`
	ParticipantIDs     []string  `json:"participant_ids"`
	LastMessagePreview string    `json:"last_message_preview"`
	LastActivityAt     time.Time `json:"last_activity_at"`
	IsGroup            bool      `json:"is_group"`
}

// HasParticipant reports whether the given principal is part of the conversation.
func (c Conversation) HasParticipant(principalID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == principalID {
			return true
		}
	}
	return false
}

// Message is a single message within a conversation. Messages are append-only:
// they are never mutated or deleted once written.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

// RegisterRequest is the request to register a new principal.
type RegisterRequest struct {
	Handle  string `json:"handle"`
	Secret  string `json:"secret"`
	Tagline string `json:"tagline,omitempty"`
}

// LoginRequest is the request to authenticate an existing principal.
type LoginRequest struct {
	Handle string `json:"handle"`
	Secret string `json:"secret"`
}

// AuthResponse is returned after a successful register or login.
type AuthResponse struct {
	PrincipalID string `json:"principal_id"`
	Token       string `json:"token"`
}

// CreateConversationRequest asks for a 1:1 conversation with another principal.
type CreateConversationRequest struct {
	OtherID string `json:"other_id"`
}

// AddParticipantRequest adds a user to an existing conversation.
type AddParticipantRequest struct {
	UserID string `json:"user_id"`
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	Body string `json:"body"`
}

// UpdateProfileRequest is the request to update the principal's own profile.
type UpdateProfileRequest struct {
	DisplayName string  `json:"display_name"`
	Tagline     string  `json:"tagline"`
	AvatarRef   *string `json:"avatar_ref,omitempty"`
}

// ConversationListResponse pairs a conversation list with the profiles joined
// so far. Profiles may still be missing for ids whose subscription has not
// settled yet.
type ConversationListResponse struct {
	Conversations []Conversation     `json:"conversations"`
	Profiles      map[string]Profile `json:"profiles"`
}

// MessageListResponse is the response for listing messages.
type MessageListResponse struct {
	Messages []Message `json:"messages"`
}
