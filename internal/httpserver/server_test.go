package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/color2333/vibingu/internal/auth"
	"github.com/stretchr/testify/assert"
)

func newTestServer() *Server {
	feed, _, _, _, _ := newTestFeedHandler()
	chatH, _, _ := newTestChatHandler()
	authH := &AuthHandler{Manager: auth.NewManager("secret-pw", "signing-secret", time.Hour)}
	return &Server{
		Feed:        feed,
		Chat:        chatH,
		Auth:        authH,
		Now:         func() time.Time { return time.Now() },
		CORSOrigins: []string{"*"},
	}
}

func TestRouter_FeedDeleteRequiresAuth(t *testing.T) {
	s := newTestServer()
	r := s.Router()

	req := httptest.NewRequest(http.MethodDelete, "/api/feed/rec-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_FeedDeleteSucceedsWithToken(t *testing.T) {
	s := newTestServer()
	token, err := s.Auth.Manager.Login("secret-pw")
	assert.NoError(t, err)
	r := s.Router()

	req := httptest.NewRequest(http.MethodDelete, "/api/feed/rec-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_ChatStreamDoesNotRequireAuth(t *testing.T) {
	s := newTestServer()
	r := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.NotEqual(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_FeedHistoryIsReachableWithoutAuth(t *testing.T) {
	s := newTestServer()
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/feed/history", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
