package store

import (
	"context"
	"errors"
	"time"

	"github.com/color2333/vibingu/internal/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrConversationNotFound is returned when a conversation lookup misses.
var ErrConversationNotFound = errors.New("chat conversation not found")

// ChatRepository persists ChatConversation and ChatMessage rows (spec.md §3,
// C11/C12).
type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) CreateConversation(ctx context.Context, title string) (*types.ChatConversation, error) {
	now := time.Now()
	row := &chatConversationRow{ID: uuid.NewString(), Title: title, CreatedAt: now, UpdatedAt: now}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return fromChatConversationRow(row), nil
}

func (r *ChatRepository) GetConversation(ctx context.Context, id string) (*types.ChatConversation, error) {
	var row chatConversationRow
	if err := r.db.WithContext(ctx).Where("id = ? AND is_deleted = ?", id, false).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return fromChatConversationRow(&row), nil
}

func (r *ChatRepository) ListConversations(ctx context.Context, limit, offset int) ([]*types.ChatConversation, error) {
	var rows []chatConversationRow
	if err := r.db.WithContext(ctx).
		Where("is_deleted = ?", false).
		Order("updated_at DESC").
		Limit(limit).Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.ChatConversation, 0, len(rows))
	for i := range rows {
		out = append(out, fromChatConversationRow(&rows[i]))
	}
	return out, nil
}

func (r *ChatRepository) TouchConversation(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&chatConversationRow{}).
		Where("id = ?", id).Update("updated_at", time.Now()).Error
}

// UpdateTitle renames a conversation, backing PATCH /chat/conversations/{id}.
func (r *ChatRepository) UpdateTitle(ctx context.Context, id, title string) error {
	res := r.db.WithContext(ctx).Model(&chatConversationRow{}).
		Where("id = ? AND is_deleted = ?", id, false).Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (r *ChatRepository) DeleteConversation(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&chatConversationRow{}).Where("id = ?", id).Update("is_deleted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// AppendMessage persists one turn and touches the parent conversation's
// updated_at, matching the teacher's pattern of bumping a parent timestamp
// alongside a child insert within the same call.
func (r *ChatRepository) AppendMessage(ctx context.Context, conversationID string, role types.ChatRole, content string) (*types.ChatMessage, error) {
	row := &chatMessageRow{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           string(role),
		Content:        content,
		CreatedAt:      time.Now(),
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		return tx.Model(&chatConversationRow{}).Where("id = ?", conversationID).Update("updated_at", row.CreatedAt).Error
	})
	if err != nil {
		return nil, err
	}
	return fromChatMessageRow(row), nil
}

// RecentMessages returns up to limit most recent messages for a
// conversation, oldest-first, for history assembly (spec.md §4.11 — trimmed
// to the last 3 pairs by the caller).
func (r *ChatRepository) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*types.ChatMessage, error) {
	var rows []chatMessageRow
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.ChatMessage, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, fromChatMessageRow(&rows[i]))
	}
	return out, nil
}

func fromChatConversationRow(row *chatConversationRow) *types.ChatConversation {
	return &types.ChatConversation{
		ID:        row.ID,
		Title:     row.Title,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		IsDeleted: row.IsDeleted,
	}
}

func fromChatMessageRow(row *chatMessageRow) *types.ChatMessage {
	return &types.ChatMessage{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		Role:           types.ChatRole(row.Role),
		Content:        row.Content,
		CreatedAt:      row.CreatedAt,
	}
}
