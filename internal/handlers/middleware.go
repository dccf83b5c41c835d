package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"wa_business/internal/logger"
	"wa_business/internal/models"
	"wa_business/internal/services"
	"wa_business/pkg/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const currentUserKey = "currentUser"

type Middleware struct {
	tokens      *auth.TokenManager
	users       services.UserService
	permissions services.PermissionService
	log         *zap.Logger
}

func NewMiddleware(tokens *auth.TokenManager, users services.UserService, permissions services.PermissionService, log *zap.Logger) *Middleware {
	return &Middleware{tokens: tokens, users: users, permissions: permissions, log: logger.OrNop(log)}
}

// RequireAuth accepts a Bearer token, or a token query parameter for EventSource clients.
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if header := c.GetHeader("Authorization"); header != "" {
			if !strings.HasPrefix(header, "Bearer ") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
				return
			}
			token = strings.TrimPrefix(header, "Bearer ")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		claims, err := m.tokens.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		user, err := m.users.GetUser(c.Request.Context(), claims.UserID)
		if err != nil || !user.IsActive {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Session is no longer valid"})
			return
		}

		c.Set(currentUserKey, user)
		c.Next()
	}
}

// RequireAPIKey authenticates /api/v1 callers by the X-API-Key header.
func (m *Middleware) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key required"})
			return
		}
		user, err := m.users.AuthenticateAPIKey(c.Request.Context(), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		c.Set(currentUserKey, user)
		c.Next()
	}
}

// RequirePermission must run after RequireAuth or RequireAPIKey. Evaluation errors deny.
func (m *Middleware) RequirePermission(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		ok, err := m.permissions.HasPermission(c.Request.Context(), user.ID, name)
		if err != nil {
			m.log.Warn("permission check failed", zap.Uint("user_id", user.ID), zap.String("permission", name), zap.Error(err))
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions", "permission": name})
			return
		}
		c.Next()
	}
}

// RequireWebhookSecret checks X-Webhook-Secret; an empty secret disables the check.
func RequireWebhookSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook secret"})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *models.User {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}
