package vectorstore

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// lifeRecordVectorRow is the VectorCollection entry of spec.md §3: one row
// per non-deleted LifeRecord, carrying the embedding, the rendered document
// text, and flat metadata used by the keyword/category filters of the chat
// context assembler (C11).
type lifeRecordVectorRow struct {
	RecordID      string `gorm:"primaryKey;column:record_id"`
	Document      string
	Embedding     pgvector.Vector `gorm:"type:vector(1536)"`
	Category      string
	SubCategories string
	Date          string
	Hour          int
	Tags          string
	UpdatedAt     time.Time
}

func (lifeRecordVectorRow) TableName() string { return "life_record_vectors" }
