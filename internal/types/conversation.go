package types

import "time"

type Conversation struct {
	ID     int64  `gorm:"primaryKey" json:"id"`
	UserID int64  `gorm:"index;not null" json:"user_id"`
	Title  string `gorm:"not null" json:"title"`

	// "cloud" or "local"; fixed when the conversation is created.
	LLMMode string `gorm:"not null;default:'cloud'" json:"llm_mode"`

	// Embedding identity is pinned at creation; mixing profiles inside one
	// collection namespace would corrupt retrieval.
	EmbeddingProfile string `gorm:"not null;default:''" json:"embedding_profile"`
	EmbeddingDim     int    `gorm:"not null;default:0" json:"embedding_dim"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Documents []Document      `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
	Chunks    []DocumentChunk `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
	Messages  []ChatMessage   `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Conversation) TableName() string { return "conversations" }
