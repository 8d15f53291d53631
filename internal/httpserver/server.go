// Package httpserver wires the HTTP surface of spec.md §6: feed ingestion,
// chat, and auth, on top of gin, matching the teacher's one-handler-struct-
// per-resource style.
package httpserver

import (
	"net/http"
	"time"

	apperrors "github.com/color2333/vibingu/internal/errors"
	"github.com/color2333/vibingu/internal/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Clock abstracts "now" so handlers never call time.Now() directly,
// matching spec.md §9's note on centralizing clock handling.
type Clock func() time.Time

// Server bundles the resource handlers and builds the gin.Engine.
type Server struct {
	Feed *FeedHandler
	Chat *ChatHandler
	Auth *AuthHandler
	Now  Clock

	CORSOrigins []string
}

// Router builds the full route tree of spec.md §6 under the /api prefix.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	api := r.Group("/api")

	api.POST("/feed", s.Feed.Create)
	api.POST("/feed/stream", s.Feed.CreateStream)
	api.POST("/feed/:id/regenerate", s.Auth.Require(), s.Feed.Regenerate)
	api.GET("/feed/history", s.Feed.History)
	api.GET("/feed/:id", s.Feed.Get)
	api.DELETE("/feed/:id", s.Auth.Require(), s.Feed.Delete)
	api.PATCH("/feed/:id/visibility", s.Auth.Require(), s.Feed.SetVisibility)
	api.GET("/feed/image/*path", s.Feed.Image)

	api.POST("/chat/stream", s.Chat.Stream)
	api.POST("/chat/message", s.Chat.Message)
	api.GET("/chat/conversations", s.Chat.ListConversations)
	api.POST("/chat/conversations", s.Chat.CreateConversation)
	api.GET("/chat/conversations/:id", s.Chat.GetConversation)
	api.PATCH("/chat/conversations/:id", s.Chat.RenameConversation)
	api.DELETE("/chat/conversations/:id", s.Chat.DeleteConversation)

	api.POST("/auth/login", s.Auth.Login)
	api.POST("/auth/verify", s.Auth.Verify)
	api.POST("/auth/logout", s.Auth.Logout)

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := logger.WithField(c.Request.Context(), "path", c.Request.URL.Path)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// writeError translates an AppError (or any other error) into the JSON
// error body spec.md §7 expects callers to see: {"error": message} at the
// status code the error's Kind maps to.
func writeError(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		logger.Warn(c.Request.Context(), "httpserver: request failed", "kind", appErr.Kind, "err", appErr.Error())
		c.JSON(appErr.HTTPStatus(), gin.H{"error": appErr.Message})
		return
	}
	logger.Error(c.Request.Context(), "httpserver: request failed", "err", err.Error())
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
