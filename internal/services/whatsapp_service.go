package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"wa_business/internal/events"
	"wa_business/internal/logger"
	"wa_business/internal/models"
	"wa_business/internal/repository"
	"wa_business/pkg/whatsapp"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// messageRank orders delivery receipts; a status update never moves a message backwards.
var messageRank = map[string]int{
	models.MessagePending:   0,
	models.MessageSent:      1,
	models.MessageDelivered: 2,
	models.MessageRead:      3,
}

type StatusUpdate struct {
	Type        string `json:"type"` // "message" (default) or "connection"
	MessageID   string `json:"messageId"`
	AccountID   string `json:"accountId"`
	Status      string `json:"status"`
	PhoneNumber string `json:"phoneNumber"`
	Error       string `json:"error"`
}

type ServerHealth struct {
	Server  whatsapp.Server  `json:"server"`
	Healthy bool             `json:"healthy"`
	Health  *whatsapp.Health `json:"health,omitempty"`
	Stats   *whatsapp.Stats  `json:"stats,omitempty"`
	Devices int              `json:"devices"`
	Error   string           `json:"error,omitempty"`
}

type DeviceStatus struct {
	Device *models.WhatsAppInstance `json:"device"`
	Remote *whatsapp.AccountStatus  `json:"remote,omitempty"`
}

type WhatsAppService interface {
	ConnectDevice(ctx context.Context, userID uint, label string) (*DeviceStatus, error)
	ListDevices(ctx context.Context, userID uint) ([]models.WhatsAppInstance, error)
	DeviceStatus(ctx context.Context, userID, deviceID uint) (*DeviceStatus, error)
	DeviceQR(ctx context.Context, userID, deviceID uint) (*whatsapp.QRCode, error)
	SendMessage(ctx context.Context, userID, deviceID uint, to, text string) (*models.SentMessage, error)
	ListMessages(ctx context.Context, userID uint, limit int) ([]models.SentMessage, error)
	// DisconnectDevice reports whether the remote logout succeeded; local rows are removed either way.
	DisconnectDevice(ctx context.Context, userID, deviceID uint) (bool, error)
	ServerHealth(ctx context.Context) []ServerHealth
	ApplyStatusWebhook(ctx context.Context, update StatusUpdate) error
}

type whatsappService struct {
	registry      *whatsapp.Registry
	deviceRepo    repository.DeviceRepository
	subscriptions SubscriptionService
	events        EventPublisher
	log           *zap.Logger
}

func NewWhatsAppService(
	registry *whatsapp.Registry,
	deviceRepo repository.DeviceRepository,
	subscriptions SubscriptionService,
	publisher EventPublisher,
	log *zap.Logger,
) WhatsAppService {
	return &whatsappService{
		registry:      registry,
		deviceRepo:    deviceRepo,
		subscriptions: subscriptions,
		events:        orNopPublisher(publisher),
		log:           logger.OrNop(log),
	}
}

func gatewayError(err error) error {
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}

func normalizeDeviceStatus(status string) string {
	switch strings.ToLower(status) {
	case "connected", "open", "ready":
		return models.DeviceConnected
	case "qr", "qr_ready", "waiting_qr":
		return models.DeviceQR
	case "disconnected", "close", "closed", "logged_out":
		return models.DeviceDisconnected
	}
	return models.DeviceConnecting
}

func (s *whatsappService) ownedDevice(ctx context.Context, userID, deviceID uint) (*models.WhatsAppInstance, error) {
	device, err := s.deviceRepo.GetByID(ctx, deviceID)
	if err != nil {
		return nil, notFound(err, "device")
	}
	if device.UserID != userID {
		return nil, fmt.Errorf("device %w", ErrNotFound)
	}
	return device, nil
}

// ConnectDevice pins a new device to the least loaded gateway server and starts pairing.
func (s *whatsappService) ConnectDevice(ctx context.Context, userID uint, label string) (*DeviceStatus, error) {
	sub, err := s.subscriptions.Active(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit := sub.Package.DeviceLimit; limit > 0 {
		devices, err := s.deviceRepo.GetByUserID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if len(devices) >= limit {
			return nil, ErrDeviceLimit
		}
	}

	load, err := s.deviceRepo.CountByServer(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count devices per server: %w", err)
	}
	server := s.registry.Pick(load)
	accountID := fmt.Sprintf("u%d-%s", userID, strings.ReplaceAll(uuid.NewString(), "-", "")[:10])

	remote, err := s.registry.Client(server.ID).Connect(ctx, accountID)
	if err != nil {
		s.log.Error("gateway connect failed", zap.String("server", server.ID), zap.String("account", accountID), zap.Error(err))
		return nil, gatewayError(err)
	}

	device := &models.WhatsAppInstance{
		UserID:      userID,
		Name:        accountID,
		Label:       label,
		ServerID:    server.ID,
		Status:      normalizeDeviceStatus(remote.Status),
		PhoneNumber: remote.PhoneNumber,
	}
	if err := s.deviceRepo.Create(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to save device: %w", err)
	}

	s.log.Info("Device connected", zap.Uint("user_id", userID), zap.String("account", accountID), zap.String("server", server.ID))
	s.events.Publish(events.TopicWhatsApp, "device.created", userID, device)
	return &DeviceStatus{Device: device, Remote: remote}, nil
}

func (s *whatsappService) ListDevices(ctx context.Context, userID uint) ([]models.WhatsAppInstance, error) {
	return s.deviceRepo.GetByUserID(ctx, userID)
}

func (s *whatsappService) DeviceStatus(ctx context.Context, userID, deviceID uint) (*DeviceStatus, error) {
	device, err := s.ownedDevice(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}

	remote, err := s.registry.Client(device.ServerID).Status(ctx, device.Name)
	if err != nil {
		return nil, gatewayError(err)
	}

	if err := s.refresh(ctx, device, normalizeDeviceStatus(remote.Status), remote.PhoneNumber); err != nil {
		return nil, err
	}
	return &DeviceStatus{Device: device, Remote: remote}, nil
}

// refresh persists a changed device status and announces it.
func (s *whatsappService) refresh(ctx context.Context, device *models.WhatsAppInstance, status, phone string) error {
	now := time.Now().UTC()
	fields := map[string]interface{}{"last_seen_at": now}
	changed := status != device.Status
	if changed {
		fields["status"] = status
	}
	if phone != "" && phone != device.PhoneNumber {
		fields["phone_number"] = phone
		device.PhoneNumber = phone
	}
	if err := s.deviceRepo.UpdateStatus(ctx, device.ID, fields); err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}
	device.Status = status
	device.LastSeenAt = &now
	if changed {
		s.events.Publish(events.TopicWhatsApp, "device.status", device.UserID, device)
	}
	return nil
}

func (s *whatsappService) DeviceQR(ctx context.Context, userID, deviceID uint) (*whatsapp.QRCode, error) {
	device, err := s.ownedDevice(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	qr, err := s.registry.Client(device.ServerID).QR(ctx, device.Name)
	if err != nil {
		return nil, gatewayError(err)
	}
	return qr, nil
}

// SendMessage charges the subscription before calling the gateway; a failed send is kept
// as a failed row and the charge is not refunded.
func (s *whatsappService) SendMessage(ctx context.Context, userID, deviceID uint, to, text string) (*models.SentMessage, error) {
	to = strings.TrimSpace(to)
	if to == "" || strings.TrimSpace(text) == "" {
		return nil, validationError("recipient and message are required")
	}
	device, err := s.ownedDevice(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	if device.Status != models.DeviceConnected {
		return nil, validationError("device %s is not connected (status %s)", device.Name, device.Status)
	}

	if _, err := s.subscriptions.ConsumeMessage(ctx, userID); err != nil {
		return nil, err
	}

	msg := &models.SentMessage{
		UserID:     userID,
		InstanceID: device.ID,
		Recipient:  whatsapp.NormalizePhone(to),
		Body:       text,
		Status:     models.MessagePending,
	}
	if err := s.deviceRepo.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}

	resp, err := s.registry.Client(device.ServerID).SendMessage(ctx, device.Name, to, text)
	if err != nil {
		msg.Status = models.MessageFailed
		msg.Error = err.Error()
		if uerr := s.deviceRepo.UpdateMessage(ctx, msg.ID, map[string]interface{}{"status": msg.Status, "error": msg.Error}); uerr != nil {
			s.log.Error("failed to mark message failed", zap.Uint("message_id", msg.ID), zap.Error(uerr))
		}
		return msg, gatewayError(err)
	}

	msg.Status = models.MessageSent
	msg.GatewayMessageID = resp.MessageID
	if err := s.deviceRepo.UpdateMessage(ctx, msg.ID, map[string]interface{}{
		"status":             msg.Status,
		"gateway_message_id": msg.GatewayMessageID,
	}); err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	return msg, nil
}

func (s *whatsappService) ListMessages(ctx context.Context, userID uint, limit int) ([]models.SentMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.deviceRepo.ListMessages(ctx, userID, limit)
}

func (s *whatsappService) DisconnectDevice(ctx context.Context, userID, deviceID uint) (bool, error) {
	device, err := s.ownedDevice(ctx, userID, deviceID)
	if err != nil {
		return false, err
	}

	loggedOut := true
	if err := s.registry.Client(device.ServerID).Logout(ctx, device.Name); err != nil {
		loggedOut = false
		s.log.Warn("remote logout failed, removing device locally",
			zap.String("account", device.Name),
			zap.String("server", device.ServerID),
			zap.Error(err))
	}

	if err := s.deviceRepo.DeleteWithMessages(ctx, device.ID); err != nil {
		return loggedOut, fmt.Errorf("failed to delete device: %w", err)
	}
	s.events.Publish(events.TopicWhatsApp, "device.deleted", userID, map[string]uint{"device_id": device.ID})
	return loggedOut, nil
}

// ServerHealth queries every configured server concurrently.
func (s *whatsappService) ServerHealth(ctx context.Context) []ServerHealth {
	servers := s.registry.Servers()
	load, err := s.deviceRepo.CountByServer(ctx)
	if err != nil {
		s.log.Warn("failed to count devices per server", zap.Error(err))
	}

	results := make([]ServerHealth, len(servers))
	var wg sync.WaitGroup
	for i, server := range servers {
		wg.Add(1)
		go func(i int, server whatsapp.Server) {
			defer wg.Done()
			result := ServerHealth{Server: server, Devices: load[server.ID]}
			client := s.registry.Client(server.ID)

			health, err := client.Health(ctx)
			if err != nil {
				result.Error = err.Error()
				results[i] = result
				return
			}
			result.Healthy = true
			result.Health = health
			if stats, err := client.Stats(ctx); err == nil {
				result.Stats = stats
			}
			results[i] = result
		}(i, server)
	}
	wg.Wait()
	return results
}

func (s *whatsappService) ApplyStatusWebhook(ctx context.Context, update StatusUpdate) error {
	if update.Type == "connection" {
		return s.applyConnectionUpdate(ctx, update)
	}

	if update.MessageID == "" || update.Status == "" {
		return validationError("messageId and status are required")
	}
	status := strings.ToLower(update.Status)
	newRank, known := messageRank[status]
	if !known && status != models.MessageFailed {
		return validationError("unknown message status %q", update.Status)
	}

	msg, err := s.deviceRepo.GetMessageByGatewayID(ctx, update.MessageID)
	if err != nil {
		return notFound(err, "message")
	}

	if status == models.MessageFailed {
		if msg.Status != models.MessagePending && msg.Status != models.MessageSent {
			return nil
		}
	} else if oldRank, ok := messageRank[msg.Status]; !ok || newRank <= oldRank {
		return nil
	}

	fields := map[string]interface{}{"status": status}
	if update.Error != "" {
		fields["error"] = update.Error
	}
	if err := s.deviceRepo.UpdateMessage(ctx, msg.ID, fields); err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	msg.Status = status
	s.events.Publish(events.TopicWhatsApp, "message.status", msg.UserID, msg)
	return nil
}

func (s *whatsappService) applyConnectionUpdate(ctx context.Context, update StatusUpdate) error {
	if update.AccountID == "" {
		return validationError("accountId is required")
	}
	device, err := s.deviceRepo.GetByName(ctx, update.AccountID)
	if err != nil {
		return notFound(err, "device")
	}
	return s.refresh(ctx, device, normalizeDeviceStatus(update.Status), update.PhoneNumber)
}
