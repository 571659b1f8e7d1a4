package pkg

import "time"

// Session represents one farmer conversation with the assistant.  It is keyed
// by a UUID and optionally carries the farmer and farm names given on start.
type Session struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	MessageCap int        `json:"message_cap"`
	FarmerName *string    `json:"farmer_name,omitempty"`
	FarmName   *string    `json:"farm_name,omitempty"`
}

// MessageRole describes who authored a message.
type MessageRole string

const (
	RoleFarmer    MessageRole = "farmer"
	RoleAssistant MessageRole = "assistant"
)

// Message represents a chat message in a session.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"created_at"`
}

// IsUser reports whether the farmer wrote the message.
func (m Message) IsUser() bool { return m.Role == RoleFarmer }

// Summary holds the veterinarian-facing digest of a session.  Structured
// carries the detected categories, suspected diseases and the emergency flag.
type Summary struct {
	SessionID  string                 `json:"session_id"`
	KeyPoints  []string               `json:"key_points"`
	Structured map[string]interface{} `json:"structured"`
	FreeText   string                 `json:"free_text"`
	Emergency  bool                   `json:"emergency"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// CreateSessionRequest is the optional body of a new session request.
type CreateSessionRequest struct {
	FarmerName string `json:"farmer_name"`
	FarmName   string `json:"farm_name"`
}

// CreateSessionResponse returns the new session and its greeting.
type CreateSessionResponse struct {
	SessionID string  `json:"session_id"`
	Welcome   Message `json:"welcome"`
}

// ChatRequest represents a message sent by the farmer.
type ChatRequest struct {
	Content string `json:"content" binding:"required"`
}

// ChatResponse contains the assistant's reply and whether the session is
// capped due to exceeding the message limit.
type ChatResponse struct {
	Reply  Message `json:"reply"`
	Capped bool    `json:"capped"`
}

// DiagnoseRequest is the body of a stateless diagnosis call.
type DiagnoseRequest struct {
	Question string `json:"question"`
}

// DiagnoseResponse reports what the matcher selected and the rendered reply.
type DiagnoseResponse struct {
	Kind     string `json:"kind"`
	Category string `json:"category,omitempty"`
	Disease  string `json:"disease,omitempty"`
	Score    int    `json:"score,omitempty"`
	Reply    string `json:"reply"`
}

// VetSessionPreview is returned in the list of active sessions for the
// veterinary dashboard.
type VetSessionPreview struct {
	SessionID   string    `json:"session_id"`
	FarmName    *string   `json:"farm_name,omitempty"`
	KeyPoints   []string  `json:"key_points"`
	Emergency   bool      `json:"emergency"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastMessage time.Time `json:"last_message"`
}
