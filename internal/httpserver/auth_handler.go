package httpserver

import (
	"net/http"
	"strings"

	"github.com/color2333/vibingu/internal/auth"
	"github.com/gin-gonic/gin"
)

// AuthHandler implements spec.md §6's auth endpoints and the bearer-token
// gate used by mutating feed/chat routes.
type AuthHandler struct {
	Manager *auth.Manager
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

// Login implements POST /auth/login -> {success, token}.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "password is required"})
		return
	}
	token, err := h.Manager.Login(req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}

// Verify implements POST /auth/verify -> {valid}.
func (h *AuthHandler) Verify(c *gin.Context) {
	token := bearerToken(c)
	if token == "" || h.Manager.Verify(token) != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// Logout implements POST /auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	if token := bearerToken(c); token != "" {
		_ = h.Manager.Logout(token)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Require gates a route behind a valid bearer token, used by the mutating
// feed/chat endpoints spec.md §6 marks "Auth required".
func (h *AuthHandler) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" || h.Manager.Verify(token) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
