package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/color2333/vibingu/internal/chat"
	apperrors "github.com/color2333/vibingu/internal/errors"
	"github.com/color2333/vibingu/internal/store"
	"github.com/color2333/vibingu/internal/types"
	"github.com/gin-gonic/gin"
)

// ChatHandler implements the `/chat/*` routes of spec.md §6.
type ChatHandler struct {
	Streamer      Streamer
	Conversations ConversationStore
	Now           Clock
}

// Streamer is the narrow slice of the chat core the handler depends on.
type Streamer interface {
	Stream(ctx context.Context, now time.Time, message, conversationID string, emit func(chat.Event))
	Message(ctx context.Context, now time.Time, message string, history []*types.ChatMessage) string
}

var _ Streamer = (*chat.Streamer)(nil)

// ConversationStore is the narrow slice of chat-conversation persistence the
// handler's CRUD endpoints depend on.
type ConversationStore interface {
	ListConversations(ctx context.Context, limit, offset int) ([]*types.ChatConversation, error)
	CreateConversation(ctx context.Context, title string) (*types.ChatConversation, error)
	GetConversation(ctx context.Context, id string) (*types.ChatConversation, error)
	UpdateTitle(ctx context.Context, id, title string) error
	DeleteConversation(ctx context.Context, id string) error
}

var _ ConversationStore = (*store.ChatRepository)(nil)

type streamRequest struct {
	Message        string `json:"message" binding:"required"`
	ConversationID string `json:"conversation_id"`
}

// Stream implements POST /chat/stream: SSE framing around chat.Streamer.Stream.
func (h *ChatHandler) Stream(c *gin.Context) {
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(apperrors.KindBadInput, "message is required", err))
		return
	}

	w := newSSEWriter(c)
	h.Streamer.Stream(c.Request.Context(), h.Now(), req.Message, req.ConversationID, func(ev chat.Event) {
		w.writeJSON(ev)
	})
}

type messageRequest struct {
	Message string        `json:"message" binding:"required"`
	History []historyTurn `json:"history"`
}

type historyTurn struct {
	Role    types.ChatRole `json:"role"`
	Content string         `json:"content"`
}

// Message implements POST /chat/message: the non-streaming variant, with
// caller-supplied history and no server-side conversation persistence.
func (h *ChatHandler) Message(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(apperrors.KindBadInput, "message is required", err))
		return
	}

	history := make([]*types.ChatMessage, 0, len(req.History))
	for _, turn := range req.History {
		history = append(history, &types.ChatMessage{Role: turn.Role, Content: turn.Content})
	}

	content := h.Streamer.Message(c.Request.Context(), h.Now(), req.Message, history)
	c.JSON(http.StatusOK, gin.H{"content": content})
}

// ListConversations implements GET /chat/conversations.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)
	conversations, err := h.Conversations.ListConversations(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

// CreateConversation implements POST /chat/conversations.
func (h *ChatHandler) CreateConversation(c *gin.Context) {
	var body struct {
		Title string `json:"title"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Title == "" {
		body.Title = "New conversation"
	}
	conv, err := h.Conversations.CreateConversation(c.Request.Context(), body.Title)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// GetConversation implements GET /chat/conversations/{id}.
func (h *ChatHandler) GetConversation(c *gin.Context) {
	conv, err := h.Conversations.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, mapStoreError(err))
		return
	}
	c.JSON(http.StatusOK, conv)
}

// RenameConversation implements PATCH /chat/conversations/{id}.
func (h *ChatHandler) RenameConversation(c *gin.Context) {
	var body struct {
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apperrors.Wrap(apperrors.KindBadInput, "title is required", err))
		return
	}
	if err := h.Conversations.UpdateTitle(c.Request.Context(), c.Param("id"), body.Title); err != nil {
		writeError(c, mapStoreError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DeleteConversation implements DELETE /chat/conversations/{id}.
func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	if err := h.Conversations.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, mapStoreError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
