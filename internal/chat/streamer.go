package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/color2333/vibingu/internal/gateway"
	"github.com/color2333/vibingu/internal/logger"
	"github.com/color2333/vibingu/internal/types"
)

// History trimming and title limits of spec.md §4.11.
const (
	maxHistoryPairs     = 3
	maxHistoryCharsEach = 300
	titleMaxChars       = 30
)

// Caller is the gateway slice the chat core depends on.
type Caller interface {
	ChatComplete(ctx context.Context, messages []gateway.Message, modelKey gateway.ModelKey, jsonMode bool, taskTag, recordID string) (gateway.Result, error)
	ChatCompleteStream(ctx context.Context, messages []gateway.Message, modelKey gateway.ModelKey, taskTag, recordID string, onToken func(string) error) (gateway.Result, error)
	HasUpstreamCredentials() bool
}

var _ Caller = (*gateway.Gateway)(nil)

// ConversationStore is the chat-persistence slice the streamer depends on.
type ConversationStore interface {
	CreateConversation(ctx context.Context, title string) (*types.ChatConversation, error)
	GetConversation(ctx context.Context, id string) (*types.ChatConversation, error)
	AppendMessage(ctx context.Context, conversationID string, role types.ChatRole, content string) (*types.ChatMessage, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*types.ChatMessage, error)
}

// Event is one SSE-bound frame; the HTTP layer formats it as
// `data: {...}\n\n`. The pre-stream event carries ConversationID/IsNew/Title
// only; every following event carries Content/Done.
type Event struct {
	ConversationID string `json:"conversation_id,omitempty"`
	IsNew          bool   `json:"is_new,omitempty"`
	Title          string `json:"title,omitempty"`
	Content        string `json:"content"`
	Done           bool   `json:"done"`
}

// Streamer implements C12: it assembles context via Context, prepends
// trimmed history, streams the LLM reply token by token, and persists the
// user/assistant turns around the call per spec.md §4.11's ordering rules.
type Streamer struct {
	Gateway       Caller
	Conversations ConversationStore
	Context       *Assembler
	Model         gateway.ModelKey // defaults to gateway.ModelSmart
}

// Stream runs the streaming chat entry point (spec.md §4.11). now is the
// server's wall clock at request time, passed through rather than read
// internally (spec.md §9). emit is called once with the pre-stream event,
// then once per token delta, then exactly once with a terminal {done:true}
// event. The assistant turn is persisted under a context detached from
// ctx's cancellation, so a client disconnect mid-stream does not lose
// whatever was generated so far.
func (s *Streamer) Stream(ctx context.Context, now time.Time, message, conversationID string, emit func(Event)) {
	conv, isNew, err := s.resolveConversation(ctx, message, conversationID)
	if err != nil {
		emit(Event{Content: fmt.Sprintf("conversation error: %s", err.Error()), Done: true})
		return
	}
	emit(Event{ConversationID: conv.ID, IsNew: isNew, Title: conv.Title})

	var history []*types.ChatMessage
	if !isNew {
		history, err = s.trimmedHistory(ctx, conv.ID)
		if err != nil {
			logger.Warn(ctx, "chat: history load failed", "conversation_id", conv.ID, "err", err.Error())
		}
	}

	// The user turn is committed before the LLM call regardless of whether
	// the call later fails (spec.md §4.11, §5 ordering rule).
	if _, err := s.Conversations.AppendMessage(ctx, conv.ID, types.RoleUser, message); err != nil {
		logger.Warn(ctx, "chat: failed to persist user message", "conversation_id", conv.ID, "err", err.Error())
		emit(Event{Content: fmt.Sprintf("failed to save message: %s", err.Error()), Done: true})
		return
	}

	if !s.Gateway.HasUpstreamCredentials() {
		emit(Event{Content: "AI service not configured", Done: true})
		return
	}

	messages := s.buildMessages(ctx, now, message, history)

	var accumulated strings.Builder
	_, streamErr := s.Gateway.ChatCompleteStream(ctx, messages, s.modelKey(), "chat", "", func(tok string) error {
		accumulated.WriteString(tok)
		emit(Event{Content: tok})
		return nil
	})

	s.persistAccumulated(ctx, conv.ID, accumulated.String())

	if streamErr != nil {
		logger.Warn(ctx, "chat: stream failed", "conversation_id", conv.ID, "err", streamErr.Error())
		emit(Event{Content: fmt.Sprintf("generation failed: %s", streamErr.Error()), Done: true})
		return
	}
	emit(Event{Content: "", Done: true})
}

// Message runs the non-streaming entry point for legacy clients: a single
// ChatComplete call against caller-supplied history, with no conversation
// persistence (spec.md §6's `POST /chat/message` carries no conversation_id).
func (s *Streamer) Message(ctx context.Context, now time.Time, message string, history []*types.ChatMessage) string {
	if !s.Gateway.HasUpstreamCredentials() {
		return s.fallbackContent(ctx, message, now)
	}
	messages := s.buildMessages(ctx, now, message, trimHistory(history))
	res, err := s.Gateway.ChatComplete(ctx, messages, s.modelKey(), false, "chat", "")
	if err != nil || strings.TrimSpace(res.Content) == "" {
		if err != nil {
			logger.Warn(ctx, "chat: message completion failed", "err", err.Error())
		}
		return s.fallbackContent(ctx, message, now)
	}
	return res.Content
}

func (s *Streamer) fallbackContent(ctx context.Context, message string, now time.Time) string {
	assembled := s.Context.Assemble(ctx, message, now, false)
	return fmt.Sprintf("AI 分析暂时不可用，为你查询到以下数据：\n\n```\n%s\n```\n\n请稍后重试。", assembled.DBContext)
}

func (s *Streamer) persistAccumulated(ctx context.Context, conversationID, content string) {
	if content == "" {
		return
	}
	freshCtx := logger.CloneContext(ctx)
	if _, err := s.Conversations.AppendMessage(freshCtx, conversationID, types.RoleAssistant, content); err != nil {
		logger.Warn(freshCtx, "chat: failed to persist assistant message", "conversation_id", conversationID, "err", err.Error())
	}
}

func (s *Streamer) resolveConversation(ctx context.Context, message, conversationID string) (*types.ChatConversation, bool, error) {
	if conversationID != "" {
		conv, err := s.Conversations.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, false, err
		}
		return conv, false, nil
	}
	conv, err := s.Conversations.CreateConversation(ctx, ellipsize(message, titleMaxChars))
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

func (s *Streamer) trimmedHistory(ctx context.Context, conversationID string) ([]*types.ChatMessage, error) {
	msgs, err := s.Conversations.RecentMessages(ctx, conversationID, maxHistoryPairs*2)
	if err != nil {
		return nil, err
	}
	return trimHistory(msgs), nil
}

func (s *Streamer) buildMessages(ctx context.Context, now time.Time, message string, history []*types.ChatMessage) []gateway.Message {
	assembled := s.Context.Assemble(ctx, message, now, len(history) > 0)

	out := []gateway.Message{{Role: "system", Content: buildSystemPrompt(now)}}
	for _, m := range history {
		out = append(out, gateway.Message{Role: string(m.Role), Content: m.Content})
	}
	out = append(out, gateway.Message{Role: "user", Content: buildUserPrompt(message, assembled)})
	return out
}

func (s *Streamer) modelKey() gateway.ModelKey {
	if s.Model != "" {
		return s.Model
	}
	return gateway.ModelSmart
}

func buildSystemPrompt(now time.Time) string {
	return fmt.Sprintf(
		"你是 Vibing u 的 AI 生活助手。当前: %s\n\n规则: 基于数据回答，Markdown格式，含emoji，简洁有洞察，中文回答，不编造数据。",
		now.Format("2006-01-02 15:04 Monday"),
	)
}

// buildUserPrompt places the data context in the user turn rather than the
// system prompt, preserving the provider's ability to honour system
// instructions under long-context pressure (spec.md §4.10).
func buildUserPrompt(message string, assembled Assembled) string {
	parts := []string{fmt.Sprintf("我的问题: %s", message), "", "== 数据 ==", assembled.DBContext}
	if assembled.RAGContext != "" {
		parts = append(parts, "", "== 相关记录 ==", assembled.RAGContext)
	}
	parts = append(parts, "\n请回答。")
	return strings.Join(parts, "\n")
}

// trimHistory keeps at most the last maxHistoryPairs pairs, truncating each
// message to maxHistoryCharsEach runes (spec.md §4.11).
func trimHistory(history []*types.ChatMessage) []*types.ChatMessage {
	if len(history) == 0 {
		return nil
	}
	start := 0
	if len(history) > maxHistoryPairs*2 {
		start = len(history) - maxHistoryPairs*2
	}
	trimmed := make([]*types.ChatMessage, 0, len(history)-start)
	for _, m := range history[start:] {
		cp := *m
		if r := []rune(cp.Content); len(r) > maxHistoryCharsEach {
			cp.Content = string(r[:maxHistoryCharsEach]) + "..."
		}
		trimmed = append(trimmed, &cp)
	}
	return trimmed
}

func ellipsize(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
