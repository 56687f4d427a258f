package rest

import (
	"net/http"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/auth"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/types"
	"github.com/gin-gonic/gin"
)

// permit is RequirePermission when authentication is configured and a
// pass-through otherwise.
func (s *Server) permit(perm auth.Permission) gin.HandlerFunc {
	if s.auth == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return auth.RequirePermission(perm)
}

// POST /api/v1/auth/login
func (s *Server) login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(
			types.ErrorCode("AUTH", http.StatusBadRequest), "Invalid request body", err.Error()))
		return
	}

	token, expires, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse(
			types.ErrorCode("AUTH", http.StatusUnauthorized), "Invalid username or password", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   expires.UTC(),
	})
}
