// Package domain defines the entities and wire events shared by the
// LobbyChat stores, services, hub and HTTP gateway.
package domain

import "time"

// Scope classifies a message as room-wide or directed.
type Scope string

const (
	ScopePublic Scope = "public"
	// ScopeDirected is reserved; nothing produces directed messages yet.
	ScopeDirected Scope = "directed"
)

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Message is a persisted chat message. ID and CreatedAt are assigned by the
// message store on create.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Scope     Scope     `json:"scope"`
}

// PresenceEntry describes one live connection that has joined the room.
type PresenceEntry struct {
	ConnectionID string `json:"connection_id"`
	DisplayName  string `json:"display_name"`
}

// Token is a signed bearer session token handed to a client after login.
type Token struct {
	Value     string    `json:"token"`
	Subject   string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}
