package models

import (
	"time"
)

const (
	DeviceConnecting   = "connecting"
	DeviceQR           = "qr"
	DeviceConnected    = "connected"
	DeviceDisconnected = "disconnected"
)

// WhatsAppInstance is a device pinned to one gateway server. Name is the account id on the gateway.
type WhatsAppInstance struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	UserID      uint       `json:"user_id" gorm:"not null;index"`
	Name        string     `json:"name" gorm:"uniqueIndex;not null"`
	Label       string     `json:"label"`
	ServerID    string     `json:"server_id" gorm:"index"`
	Status      string     `json:"status" gorm:"default:'connecting'"`
	PhoneNumber string     `json:"phone_number"`
	LastSeenAt  *time.Time `json:"last_seen_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (WhatsAppInstance) TableName() string {
	return "whatsapp_instances"
}

const (
	MessagePending   = "pending"
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageRead      = "read"
	MessageFailed    = "failed"
)

type SentMessage struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	UserID           uint      `json:"user_id" gorm:"not null;index"`
	InstanceID       uint      `json:"instance_id" gorm:"not null;index"`
	Recipient        string    `json:"recipient" gorm:"not null"`
	Body             string    `json:"body" gorm:"type:text"`
	GatewayMessageID string    `json:"gateway_message_id" gorm:"index"`
	Status           string    `json:"status" gorm:"default:'pending';index"`
	Error            string    `json:"error"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
