package handlers

import (
	"net/http"
	"strconv"
	"time"
	"wa_business/internal/services"

	"github.com/gin-gonic/gin"
)

type PermissionHandler struct {
	permissions services.PermissionService
}

func NewPermissionHandler(permissions services.PermissionService) *PermissionHandler {
	return &PermissionHandler{permissions: permissions}
}

func (h *PermissionHandler) List(c *gin.Context) {
	perms, err := h.permissions.ListPermissions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": perms})
}

func (h *PermissionHandler) Create(c *gin.Context) {
	var req services.PermissionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format")
		return
	}
	perm, err := h.permissions.CreatePermission(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, perm)
}

func (h *PermissionHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req services.PermissionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format")
		return
	}
	perm, err := h.permissions.UpdatePermission(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, perm)
}

func (h *PermissionHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.permissions.DeletePermission(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Check evaluates a permission for the caller.
func (h *PermissionHandler) Check(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		badRequest(c, "name is required")
		return
	}
	allowed, err := h.permissions.HasPermission(c.Request.Context(), currentUser(c).ID, name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permission": name, "granted": allowed})
}

func (h *PermissionHandler) ListRolePermissions(c *gin.Context) {
	grants, err := h.permissions.ListRolePermissions(c.Request.Context(), c.Param("role"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": c.Param("role"), "permissions": grants})
}

func (h *PermissionHandler) SetRolePermission(c *gin.Context) {
	var req struct {
		Permission string `json:"permission" binding:"required"`
		Granted    bool   `json:"granted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "permission is required")
		return
	}
	if err := h.permissions.SetRolePermission(c.Request.Context(), c.Param("role"), req.Permission, req.Granted); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *PermissionHandler) ListUserPermissions(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Query("user_id"), 10, 64)
	if err != nil || userID == 0 {
		badRequest(c, "user_id is required")
		return
	}
	ups, err := h.permissions.ListUserPermissions(c.Request.Context(), uint(userID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_permissions": ups})
}

func (h *PermissionHandler) GrantUserPermission(c *gin.Context) {
	var req services.UserPermissionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format")
		return
	}
	req.GrantedBy = currentUser(c).ID
	up, err := h.permissions.GrantUserPermission(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, up)
}

func (h *PermissionHandler) RevokeUserPermission(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.permissions.RevokeUserPermission(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

func (h *PermissionHandler) ListTemplates(c *gin.Context) {
	templates, err := h.permissions.ListTemplates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

func (h *PermissionHandler) CreateTemplate(c *gin.Context) {
	var req struct {
		Name        string   `json:"name" binding:"required"`
		Description string   `json:"description"`
		Permissions []string `json:"permissions" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name and permissions are required")
		return
	}
	template, err := h.permissions.CreateTemplate(c.Request.Context(), req.Name, req.Description, req.Permissions, currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, template)
}

func (h *PermissionHandler) DeleteTemplate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.permissions.DeleteTemplate(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *PermissionHandler) ApplyTemplate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		UserID    uint       `json:"user_id" binding:"required"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "user_id is required")
		return
	}
	n, err := h.permissions.ApplyTemplate(c.Request.Context(), id, req.UserID, req.ExpiresAt, currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": n})
}
