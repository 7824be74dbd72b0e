package types

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	ID             int64  `gorm:"primaryKey" json:"id"`
	ConversationID int64  `gorm:"index;not null" json:"conversation_id"`
	Role           string `gorm:"not null" json:"role"`
	Content        string `gorm:"type:text;not null" json:"content"`

	// "||"-joined list of source filenames for assistant replies.
	Sources      string         `gorm:"type:text" json:"-"`
	SourceChunks datatypes.JSON `json:"source_chunks,omitempty"`

	// Retrieval fingerprint frozen into the assistant record.
	PromptSnapshot string `gorm:"type:text" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	IsEdited int `gorm:"not null;default:0" json:"is_edited"`

	// Reply graph. A user message replies to the assistant message it
	// follows; an assistant message replies to the user message that
	// prompted it. Nil marks a branch root.
	ReplyToMessageID *int64 `gorm:"index" json:"reply_to_message_id,omitempty"`

	// All versions of the same logical turn share an edit group. The first
	// version's group id equals its own id.
	EditGroupID  *int64 `gorm:"index" json:"edit_group_id,omitempty"`
	VersionIndex int    `gorm:"not null;default:1" json:"version_index"`
	IsArchived   bool   `gorm:"not null;default:false" json:"is_archived"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

// SourceChunkRef is one retrieved chunk recorded alongside an assistant
// reply, matching the numbering used in citations.
type SourceChunkRef struct {
	Index  int    `json:"index"`
	Source string `json:"source"`
	Chunk  string `json:"chunk"`
}
