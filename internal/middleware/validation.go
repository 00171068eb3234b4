package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidateMessageBody validates message content.
func ValidateMessageBody(body string) error {
	if len(body) == 0 {
		return errors.New("message body cannot be empty")
	}
	if len(body) > 100000 { // ~100KB limit
		return errors.New("message body exceeds maximum length")
	}
	if !utf8.ValidString(body) {
		return errors.New("message body must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateHandle validates a registration handle.
func ValidateHandle(handle string) error {
	if len(handle) < 2 {
		return errors.New("handle must be at least 2 characters")
	}
	if len(handle) > 64 {
		return errors.New("handle exceeds maximum length")
	}
	if !utf8.ValidString(handle) {
		return errors.New("handle must be valid UTF-8")
	}
	return nil
}

// ValidateSecret validates a registration secret.
func ValidateSecret(secret string) error {
	if len(secret) < 6 {
		return errors.New("secret must be at least 6 characters")
	}
	if len(secret) > 128 {
		return errors.New("secret exceeds maximum length")
	}
	return nil
}

// ValidateDisplayName validates a profile display name.
func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return errors.New("display name cannot be empty")
	}
	if len(name) > 256 {
		return errors.New("display name exceeds maximum length")
	}
	if !utf8.ValidString(name) {
		return errors.New("display name must be valid UTF-8")
	}
	return nil
}
