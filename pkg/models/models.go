// Package models contains the shared data types of the Synapse gateway.
package models

import "time"

// User is the identity attached to a websocket connection after a
// successful token verification. Immutable for the connection's lifetime.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Thread is a persisted conversation identity. It is the unit of
// ownership, cancellation scope and ingestion-job association.
type Thread struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Title        string    `json:"title,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// TokenUsage is the usage metadata reported at the end of a turn.
// All fields are optional; providers that report nothing leave it zero.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}
