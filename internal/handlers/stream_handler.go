package handlers

import (
	"io"
	"time"
	"wa_business/internal/events"

	"github.com/gin-gonic/gin"
)

type StreamHandler struct {
	hub       *events.Hub
	keepAlive time.Duration
}

func NewStreamHandler(hub *events.Hub, keepAlive time.Duration) *StreamHandler {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	return &StreamHandler{hub: hub, keepAlive: keepAlive}
}

// AdminNotifications streams every admin event.
func (h *StreamHandler) AdminNotifications(c *gin.Context) {
	h.stream(c, events.Subscription{Topic: events.TopicAdmin, AllUsers: true})
}

// WhatsAppEvents streams device and message events of the caller.
func (h *StreamHandler) WhatsAppEvents(c *gin.Context) {
	h.stream(c, events.Subscription{Topic: events.TopicWhatsApp, UserID: currentUser(c).ID})
}

func (h *StreamHandler) stream(c *gin.Context, sub events.Subscription) {
	client := h.hub.Register(sub, 32)
	defer h.hub.Unregister(client)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.SSEvent("connected", gin.H{"id": client.ID})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case event, ok := <-client.Send:
			if !ok {
				return false
			}
			c.SSEvent(event.Type, event)
			return true
		case <-ticker.C:
			_, err := io.WriteString(w, ": keep-alive\n\n")
			return err == nil
		}
	})
}
