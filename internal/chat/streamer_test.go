package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/color2333/vibingu/internal/gateway"
	"github.com/color2333/vibingu/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	hasCreds  bool
	streamFn  func(messages []gateway.Message, onToken func(string) error) (gateway.Result, error)
	messageFn func(messages []gateway.Message) (gateway.Result, error)
}

func (f *fakeCaller) HasUpstreamCredentials() bool { return f.hasCreds }

func (f *fakeCaller) ChatComplete(ctx context.Context, messages []gateway.Message, modelKey gateway.ModelKey, jsonMode bool, taskTag, recordID string) (gateway.Result, error) {
	return f.messageFn(messages)
}

func (f *fakeCaller) ChatCompleteStream(ctx context.Context, messages []gateway.Message, modelKey gateway.ModelKey, taskTag, recordID string, onToken func(string) error) (gateway.Result, error) {
	return f.streamFn(messages, onToken)
}

type fakeConversations struct {
	conversations map[string]*types.ChatConversation
	messages      map[string][]*types.ChatMessage
	createErr     error
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{
		conversations: map[string]*types.ChatConversation{},
		messages:      map[string][]*types.ChatMessage{},
	}
}

func (f *fakeConversations) CreateConversation(ctx context.Context, title string) (*types.ChatConversation, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	conv := &types.ChatConversation{ID: uuid.NewString(), Title: title, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.conversations[conv.ID] = conv
	return conv, nil
}

func (f *fakeConversations) GetConversation(ctx context.Context, id string) (*types.ChatConversation, error) {
	conv, ok := f.conversations[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return conv, nil
}

func (f *fakeConversations) AppendMessage(ctx context.Context, conversationID string, role types.ChatRole, content string) (*types.ChatMessage, error) {
	msg := &types.ChatMessage{ID: uuid.NewString(), ConversationID: conversationID, Role: role, Content: content, CreatedAt: time.Now()}
	f.messages[conversationID] = append(f.messages[conversationID], msg)
	return msg, nil
}

func (f *fakeConversations) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*types.ChatMessage, error) {
	msgs := f.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func newTestStreamer(caller *fakeCaller, convs *fakeConversations) *Streamer {
	return &Streamer{
		Gateway:       caller,
		Conversations: convs,
		Context:       &Assembler{Store: &fakeStore{}},
	}
}

func TestStreamer_Stream_NewConversationCreatedWithEllipsizedTitle(t *testing.T) {
	convs := newFakeConversations()
	caller := &fakeCaller{hasCreds: true, streamFn: func(messages []gateway.Message, onToken func(string) error) (gateway.Result, error) {
		for _, tok := range []string{"hi", " there"} {
			if err := onToken(tok); err != nil {
				return gateway.Result{}, err
			}
		}
		return gateway.Result{}, nil
	}}
	s := newTestStreamer(caller, convs)

	longMessage := "this message is definitely longer than thirty characters for sure"
	var events []Event
	s.Stream(context.Background(), fixedNow, longMessage, "", func(e Event) { events = append(events, e) })

	require.NotEmpty(t, events)
	first := events[0]
	assert.True(t, first.IsNew)
	assert.NotEmpty(t, first.ConversationID)
	assert.LessOrEqual(t, len([]rune(first.Title))-3, titleMaxChars) // minus the ellipsis

	last := events[len(events)-1]
	assert.True(t, last.Done)
	assert.Equal(t, "", last.Content)

	msgs := convs.messages[first.ConversationID]
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, longMessage, msgs[0].Content)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hi there", msgs[1].Content)
}

func TestStreamer_Stream_ExistingConversationReplaysHistory(t *testing.T) {
	convs := newFakeConversations()
	conv, err := convs.CreateConversation(context.Background(), "prior chat")
	require.NoError(t, err)
	_, _ = convs.AppendMessage(context.Background(), conv.ID, types.RoleUser, "hello")
	_, _ = convs.AppendMessage(context.Background(), conv.ID, types.RoleAssistant, "hi back")

	var seenMessages []gateway.Message
	caller := &fakeCaller{hasCreds: true, streamFn: func(messages []gateway.Message, onToken func(string) error) (gateway.Result, error) {
		seenMessages = messages
		return gateway.Result{}, nil
	}}
	s := newTestStreamer(caller, convs)

	var events []Event
	s.Stream(context.Background(), fixedNow, "how about now", conv.ID, func(e Event) { events = append(events, e) })

	assert.False(t, events[0].IsNew)
	// system + 2 history turns + current user turn
	require.Len(t, seenMessages, 4)
	assert.Equal(t, "user", seenMessages[1].Role)
	assert.Equal(t, "hello", seenMessages[1].Content)
	assert.Equal(t, "assistant", seenMessages[2].Role)
}

func TestStreamer_Stream_PersistsPartialAccumulationOnError(t *testing.T) {
	convs := newFakeConversations()
	boom := errors.New("upstream disconnected")
	caller := &fakeCaller{hasCreds: true, streamFn: func(messages []gateway.Message, onToken func(string) error) (gateway.Result, error) {
		_ = onToken("partial")
		return gateway.Result{}, boom
	}}
	s := newTestStreamer(caller, convs)

	var events []Event
	s.Stream(context.Background(), fixedNow, "hi", "", func(e Event) { events = append(events, e) })

	last := events[len(events)-1]
	assert.True(t, last.Done)
	assert.Contains(t, last.Content, "generation failed")

	var convID string
	for id := range convs.conversations {
		convID = id
	}
	msgs := convs.messages[convID]
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial", msgs[1].Content)
}

func TestStreamer_Stream_ZeroLengthAccumulationNotPersisted(t *testing.T) {
	convs := newFakeConversations()
	boom := errors.New("upstream failed immediately")
	caller := &fakeCaller{hasCreds: true, streamFn: func(messages []gateway.Message, onToken func(string) error) (gateway.Result, error) {
		return gateway.Result{}, boom
	}}
	s := newTestStreamer(caller, convs)

	var events []Event
	s.Stream(context.Background(), fixedNow, "hi", "", func(e Event) { events = append(events, e) })

	var convID string
	for id := range convs.conversations {
		convID = id
	}
	msgs := convs.messages[convID]
	require.Len(t, msgs, 1) // user message only, no empty assistant message
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Contains(t, events[len(events)-1].Content, "generation failed")
}

func TestStreamer_Stream_NoCredentialsShortCircuits(t *testing.T) {
	convs := newFakeConversations()
	caller := &fakeCaller{hasCreds: false}
	s := newTestStreamer(caller, convs)

	var events []Event
	s.Stream(context.Background(), fixedNow, "hi", "", func(e Event) { events = append(events, e) })
	last := events[len(events)-1]
	assert.True(t, last.Done)
	assert.Contains(t, last.Content, "not configured")
}

func TestStreamer_Message_FallsBackWithoutCredentials(t *testing.T) {
	convs := newFakeConversations()
	caller := &fakeCaller{hasCreds: false}
	s := newTestStreamer(caller, convs)

	content := s.Message(context.Background(), fixedNow, "how am I doing", nil)
	assert.Contains(t, content, "AI 分析暂时不可用")
}

func TestStreamer_Message_ShortCircuitsToSingleCall(t *testing.T) {
	convs := newFakeConversations()
	calls := 0
	caller := &fakeCaller{hasCreds: true, messageFn: func(messages []gateway.Message) (gateway.Result, error) {
		calls++
		return gateway.Result{Content: "you're doing great"}, nil
	}}
	s := newTestStreamer(caller, convs)

	content := s.Message(context.Background(), fixedNow, "how am I doing", nil)
	assert.Equal(t, "you're doing great", content)
	assert.Equal(t, 1, calls)
}

func TestTrimHistory_KeepsLastThreePairsAndTruncatesLongMessages(t *testing.T) {
	var history []*types.ChatMessage
	for i := 0; i < 10; i++ {
		history = append(history, &types.ChatMessage{Role: types.RoleUser, Content: "msg"})
	}
	longMsg := &types.ChatMessage{Role: types.RoleUser, Content: stringsRepeat("a", 400)}
	history = append(history, longMsg)

	trimmed := trimHistory(history)
	assert.Len(t, trimmed, maxHistoryPairs*2)
	last := trimmed[len(trimmed)-1]
	assert.True(t, len([]rune(last.Content)) <= maxHistoryCharsEach+3)
}

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s[0])
	}
	return string(out)
}
