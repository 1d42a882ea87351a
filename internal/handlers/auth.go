package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/callrelay/internal/auth"
)

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// Login issues a token for any username/password pair. There is no user
// database behind it.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	userID := strings.TrimSpace(req.Username)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username must not be blank"})
		return
	}

	token, err := auth.IssueToken(h.cfg.JWTSecret, userID, time.Now())
	if err != nil {
		h.logger.Error("failed to issue token", "user_id", userID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{Token: token, UserID: userID})
}
