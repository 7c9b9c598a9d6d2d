// Package types provides shared domain types used across juris packages.
// This package exists to break import cycles between store, services and api.
// Types in this package should be plain data structures with no complex dependencies.
package types

import (
	"time"
)

// =============================================================================
// USERS
// =============================================================================

// Role is the authorization role of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// UserStatus controls whether a user may log in.
type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserDisabled UserStatus = "disabled"
)

// User is an account of the consultation service.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	DisplayName  string     `json:"display_name"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// =============================================================================
// CONVERSATIONS & MESSAGES
// =============================================================================

// Conversation groups the messages of one consultation thread.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Persona   string    `json:"persona"`
	Pinned    bool      `json:"pinned"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageRole is the author of a message.
type MessageRole string

const (
	RoleUserMessage      MessageRole = "user"
	RoleAssistantMessage MessageRole = "assistant"
	RoleSystemMessage    MessageRole = "system"
)

// MessageStatus records how a message came to an end.
type MessageStatus string

const (
	MessageComplete MessageStatus = "complete"
	MessageStopped  MessageStatus = "stopped"
	MessageFailed   MessageStatus = "failed"
)

// Message is one turn of a conversation. Seq is monotonically increasing
// within a conversation.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Seq            int64         `json:"seq"`
	Role           MessageRole   `json:"role"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`
	FileIDs        []string      `json:"file_ids,omitempty"`
	TokensIn       int           `json:"tokens_in,omitempty"`
	TokensOut      int           `json:"tokens_out,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// ConversationFilter narrows ListConversations.
type ConversationFilter struct {
	Keyword string
	Limit   int
	Offset  int
}

// =============================================================================
// FILES
// =============================================================================

// FileObject is the record of an uploaded file held in object storage.
type FileObject struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	OriginalName string    `json:"original_name"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	SHA256       string    `json:"sha256"`
	StorageKey   string    `json:"-"`
	Backend      string    `json:"backend"`
	CreatedAt    time.Time `json:"created_at"`
}

// =============================================================================
// KNOWLEDGE BASES
// =============================================================================

// KnowledgeBase is a named collection of reference documents owned by a user.
type KnowledgeBase struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	DocumentCount int       `json:"document_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DocumentStatus is the indexing state of a knowledge document.
type DocumentStatus string

const (
	DocumentPending DocumentStatus = "pending"
	DocumentIndexed DocumentStatus = "indexed"
	DocumentFailed  DocumentStatus = "failed"
)

// KnowledgeDocument links an uploaded file into a knowledge base.
type KnowledgeDocument struct {
	ID         string         `json:"id"`
	KBID       string         `json:"kb_id"`
	FileID     string         `json:"file_id"`
	Title      string         `json:"title"`
	Status     DocumentStatus `json:"status"`
	ChunkCount int            `json:"chunk_count"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// KnowledgeChunk is an indexed slice of a document's text.
type KnowledgeChunk struct {
	ID        int64     `json:"id"`
	DocID     string    `json:"doc_id"`
	KBID      string    `json:"kb_id"`
	Ordinal   int       `json:"ordinal"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
}

// =============================================================================
// SHARES & SESSIONS
// =============================================================================

// ShareLink exposes a read-only view of a conversation.
// A nil ExpiresAt never expires.
type ShareLink struct {
	Token          string     `json:"token"`
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Revoked        bool       `json:"revoked"`
	ViewCount      int64      `json:"view_count"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Usable reports whether the link can still be resolved at now.
func (s *ShareLink) Usable(now time.Time) bool {
	if s.Revoked {
		return false
	}
	return s.ExpiresAt == nil || now.Before(*s.ExpiresAt)
}

// Session is a server-side record of an issued token, keyed by its jti.
type Session struct {
	JTI       string    `json:"jti"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}
