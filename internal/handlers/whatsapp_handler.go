package handlers

import (
	"net/http"
	"wa_business/internal/services"

	"github.com/gin-gonic/gin"
)

type WhatsAppHandler struct {
	whatsappService services.WhatsAppService
}

func NewWhatsAppHandler(whatsappService services.WhatsAppService) *WhatsAppHandler {
	return &WhatsAppHandler{whatsappService: whatsappService}
}

type SendMessageRequest struct {
	DeviceID uint   `json:"device_id" binding:"required"`
	To       string `json:"to" binding:"required"`
	Message  string `json:"message" binding:"required"`
}

func (h *WhatsAppHandler) ListDevices(c *gin.Context) {
	devices, err := h.whatsappService.ListDevices(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (h *WhatsAppHandler) ConnectDevice(c *gin.Context) {
	var req struct {
		Label string `json:"label"`
	}
	// Body is optional.
	_ = c.ShouldBindJSON(&req)

	status, err := h.whatsappService.ConnectDevice(c.Request.Context(), currentUser(c).ID, req.Label)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, status)
}

func (h *WhatsAppHandler) DeviceStatus(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	status, err := h.whatsappService.DeviceStatus(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *WhatsAppHandler) DeviceQR(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	qr, err := h.whatsappService.DeviceQR(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, qr)
}

func (h *WhatsAppHandler) DisconnectDevice(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	loggedOut, err := h.whatsappService.DisconnectDevice(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "remote_logout": loggedOut})
}

func (h *WhatsAppHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "device_id, to and message are required")
		return
	}

	msg, err := h.whatsappService.SendMessage(c.Request.Context(), currentUser(c).ID, req.DeviceID, req.To, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *WhatsAppHandler) ListMessages(c *gin.Context) {
	msgs, err := h.whatsappService.ListMessages(c.Request.Context(), currentUser(c).ID, queryInt(c, "limit", 100))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *WhatsAppHandler) ServerHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"servers": h.whatsappService.ServerHealth(c.Request.Context())})
}

// HandleStatusWebhook receives delivery receipts and connection updates from the gateway.
func (h *WhatsAppHandler) HandleStatusWebhook(c *gin.Context) {
	var req services.StatusUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format")
		return
	}
	if err := h.whatsappService.ApplyStatusWebhook(c.Request.Context(), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
