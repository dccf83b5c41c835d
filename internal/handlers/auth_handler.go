package handlers

import (
	"net/http"
	"wa_business/internal/services"
	"wa_business/pkg/auth"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	users       services.UserService
	permissions services.PermissionService
	tokens      *auth.TokenManager
}

func NewAuthHandler(users services.UserService, permissions services.PermissionService, tokens *auth.TokenManager) *AuthHandler {
	return &AuthHandler{users: users, permissions: permissions, tokens: tokens}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req services.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format")
		return
	}

	user, err := h.users.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	h.issueToken(c, http.StatusCreated, user.ID, user.Role.Name, user)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Email and password are required")
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	h.issueToken(c, http.StatusOK, user.ID, user.Role.Name, user)
}

func (h *AuthHandler) issueToken(c *gin.Context, status int, userID uint, role string, user interface{}) {
	token, err := h.tokens.GenerateToken(userID, role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, gin.H{"token": token, "user": user})
}

// Me returns the session user with the compiled permission set.
func (h *AuthHandler) Me(c *gin.Context) {
	user := currentUser(c)
	set, err := h.permissions.EffectivePermissions(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":        user,
		"permissions": set.Names(),
		"owner":       set.Has("*"),
	})
}

func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format")
		return
	}
	user, err := h.users.UpdateProfile(c.Request.Context(), currentUser(c).ID, req.Name, req.Phone)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) GenerateAPIKey(c *gin.Context) {
	key, err := h.users.GenerateAPIKey(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"api_key": key})
}
