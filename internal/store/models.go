// Package store persists the domain types of internal/types through gorm,
// following the teacher's repository pattern (internal/application/repository
// in the source tree this was adapted from): one gorm-tagged row model per
// table, and a thin repository that translates to/from the domain type.
package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// jsonColumn is a generic JSON-encoded column, for the handful of
// semi-structured fields (meta_data, tags, dimension_scores, failed_phases)
// the domain model leaves as free-form maps/slices. No third-party JSON
// column type appears anywhere in the retrieval pack, so this implements
// gorm's Scanner/Valuer directly over encoding/json rather than pulling in
// an unexercised dependency for four fields.
type jsonColumn []byte

func (j jsonColumn) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

func (j *jsonColumn) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = append(jsonColumn(nil), v...)
		return nil
	case string:
		*j = jsonColumn(v)
		return nil
	default:
		return errors.New("store: unsupported JSON column source type")
	}
}

func marshalJSONColumn(v interface{}) jsonColumn {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return jsonColumn(b)
}

func (j jsonColumn) unmarshalMap() map[string]interface{} {
	if len(j) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(j, &m); err != nil {
		return nil
	}
	return m
}

func (j jsonColumn) unmarshalStrings() []string {
	if len(j) == 0 {
		return nil
	}
	var s []string
	if err := json.Unmarshal(j, &s); err != nil {
		return nil
	}
	return s
}

func (j jsonColumn) unmarshalIntMap() map[string]int {
	if len(j) == 0 {
		return nil
	}
	var m map[string]int
	if err := json.Unmarshal(j, &m); err != nil {
		return nil
	}
	return m
}

// lifeRecordRow is the life_records table. RecordTime, ImagePath,
// ThumbnailPath and ImageType are nullable because most phases of ingestion
// can fail independently and still leave a persisted row (spec.md §5.1).
type lifeRecordRow struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SubmittedAt time.Time  `gorm:"index" json:"submitted_at"`
	RecordTime  *time.Time `json:"record_time"`

	InputType     string  `gorm:"type:varchar(16)" json:"input_type"`
	RawContent    string  `gorm:"type:text" json:"raw_content"`
	ImagePath     *string `json:"image_path"`
	ThumbnailPath *string `json:"thumbnail_path"`
	ImageSaved    bool    `json:"image_saved"`

	Category  string  `gorm:"type:varchar(16);index" json:"category"`
	ImageType *string `gorm:"type:varchar(32)" json:"image_type"`

	MetaData        jsonColumn `gorm:"type:jsonb" json:"meta_data"`
	AIInsight       string     `gorm:"type:text" json:"ai_insight"`
	Tags            jsonColumn `gorm:"type:jsonb" json:"tags"`
	DimensionScores jsonColumn `gorm:"type:jsonb" json:"dimension_scores"`

	IsDeleted    bool `gorm:"index" json:"is_deleted"`
	IsPublic     bool `json:"is_public"`
	IsBookmarked bool `json:"is_bookmarked"`

	FailedPhases jsonColumn `gorm:"type:jsonb" json:"failed_phases"`
}

func (lifeRecordRow) TableName() string { return "life_records" }

// tokenUsageRow is the token_usage table (C3's append-only ledger).
type tokenUsageRow struct {
	ID               string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Model            string  `gorm:"type:varchar(64);index" json:"model"`
	Bucket           string  `gorm:"type:varchar(32);index" json:"bucket"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	TaskTag          string  `gorm:"type:varchar(64);index" json:"task_tag"`
	RecordID         *string `gorm:"type:varchar(36);index" json:"record_id"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

func (tokenUsageRow) TableName() string { return "token_usage" }

// chatConversationRow is the chat_conversations table.
type chatConversationRow struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title     string    `gorm:"type:varchar(255)" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IsDeleted bool      `gorm:"index" json:"is_deleted"`
}

func (chatConversationRow) TableName() string { return "chat_conversations" }

// chatMessageRow is the chat_messages table.
type chatMessageRow struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ConversationID string    `gorm:"type:varchar(36);index" json:"conversation_id"`
	Role           string    `gorm:"type:varchar(16)" json:"role"`
	Content        string    `gorm:"type:text" json:"content"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

func (chatMessageRow) TableName() string { return "chat_messages" }

// appSettingRow is a generic key-value table for small pieces of process
// state that need to survive a restart (e.g. the nickname used in dimension
// extraction prompts, spec.md §4.5).
type appSettingRow struct {
	Key       string    `gorm:"primaryKey;type:varchar(64)" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (appSettingRow) TableName() string { return "app_settings" }
