package types

import (
	"time"

	"gorm.io/datatypes"
)

type Flashcard struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	ConversationID int64     `gorm:"index;not null" json:"conversation_id"`
	Front          string    `gorm:"type:text;not null" json:"front"`
	Back           string    `gorm:"type:text;not null" json:"back"`
	OrderIndex     int       `gorm:"not null;default:0" json:"order_index"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Flashcard) TableName() string { return "flashcards" }

type Mindmap struct {
	ID             int64          `gorm:"primaryKey" json:"id"`
	ConversationID int64          `gorm:"uniqueIndex;not null" json:"conversation_id"`
	Title          string         `gorm:"not null" json:"title"`
	Nodes          datatypes.JSON `gorm:"not null" json:"nodes"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Mindmap) TableName() string { return "mindmaps" }

// MindmapNode uses hierarchical dotted ids ("1", "1.2", "1.2.3") so the
// client can rebuild the tree without a parent pointer column.
type MindmapNode struct {
	ID       string        `json:"id"`
	Label    string        `json:"label"`
	Children []MindmapNode `json:"children,omitempty"`
}
