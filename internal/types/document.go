package types

import (
	"time"

	"gorm.io/datatypes"
)

type Document struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	ConversationID int64     `gorm:"index;not null" json:"conversation_id"`
	Filename       string    `gorm:"not null" json:"filename"`
	Kind           string    `gorm:"not null;default:'file'" json:"kind"`
	Content        string    `gorm:"type:text" json:"-"`
	Active         bool      `gorm:"not null;default:true" json:"active"`
	UploadedAt     time.Time `gorm:"autoCreateTime" json:"uploaded_at"`

	Chunks []DocumentChunk `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Document) TableName() string { return "documents" }

type DocumentChunk struct {
	ID             int64          `gorm:"primaryKey" json:"id"`
	ConversationID int64          `gorm:"index;not null" json:"conversation_id"`
	DocumentID     *int64         `gorm:"index" json:"document_id,omitempty"`
	ChunkIndex     int            `gorm:"not null" json:"chunk_index"`
	Content        string         `gorm:"type:text;not null" json:"content"`
	Metadata       datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (DocumentChunk) TableName() string { return "document_chunks" }
