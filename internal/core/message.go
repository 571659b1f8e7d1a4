package core

import (
	"time"

	"github.com/google/uuid"

	"flockvet/internal/knowledge"
	"flockvet/pkg"
)

// NewMessage wraps text in a Message with a fresh identifier and timestamp.
func NewMessage(sessionID, text string, fromFarmer bool) pkg.Message {
	role := pkg.RoleAssistant
	if fromFarmer {
		role = pkg.RoleFarmer
	}
	return pkg.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}

// WelcomeMessage is the first assistant message of every session.
func WelcomeMessage(kb *knowledge.Base, sessionID string) pkg.Message {
	return NewMessage(sessionID, kb.Welcome, false)
}
