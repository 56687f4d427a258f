package auth

import (
	"net/http"
	"strings"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const principalKey = "principal"

// AuthMiddleware requires a "Bearer <token>" header holding an operator JWT
// or a machine token.
func (s *Service) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if !ok || scheme != "Bearer" || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.NewErrorResponse(
				types.ErrorCode("AUTH", http.StatusUnauthorized), "Missing or malformed authorization header", nil))
			return
		}

		principal, err := s.Authenticate(token)
		if err != nil {
			s.logger.Warn("Rejected bearer token",
				zap.String("client_ip", c.ClientIP()),
				zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.NewErrorResponse(
				types.ErrorCode("AUTH", http.StatusUnauthorized), "Invalid or expired token", nil))
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := PrincipalFrom(c)
		if !ok || !principal.Has(required) {
			c.AbortWithStatusJSON(http.StatusForbidden, types.NewErrorResponse(
				types.ErrorCode("AUTH", http.StatusForbidden), "Insufficient permissions", string(required)))
			return
		}
		c.Next()
	}
}

func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}
