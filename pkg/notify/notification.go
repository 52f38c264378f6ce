// Package notify tells meeting owners that their report is ready: by email,
// through the in-app notification feed, and as a rendered HTML document.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/meetcap/pkg/logging"
)

// ChannelNotifications is the Redis channel the notification service reads.
const ChannelNotifications = "events.notification.created"

// Notification types.
const (
	TypeInfo    = "info"
	TypeWarning = "warning"
	TypeError   = "error"
	TypeSuccess = "success"
)

// Notification is an in-app message for one user.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Type        string    `json:"type"`
	Link        string    `json:"link,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewNotification creates a notification with a fresh id.
func NewNotification(recipientID, title, content, kind, link string) *Notification {
	return &Notification{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Title:       title,
		Content:     content,
		Type:        kind,
		Link:        link,
		Timestamp:   time.Now().UTC(),
	}
}

// ReportReadyNotification builds the success notification for a finished report.
func ReportReadyNotification(recipientID, meetingName, link string) *Notification {
	return NewNotification(
		recipientID,
		"Compte rendu disponible",
		fmt.Sprintf("Le relevé de décisions de votre réunion %s est prêt.", meetingName),
		TypeSuccess,
		link,
	)
}

// Publisher publishes notifications to Redis.
type Publisher struct {
	client redis.Cmdable
	logger logging.Logger
}

// NewPublisher creates a notification publisher.
func NewPublisher(client redis.Cmdable, logger logging.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger.With(logging.F("component", "notification_publisher")),
	}
}

// Publish sends a notification.
func (p *Publisher) Publish(ctx context.Context, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := p.client.Publish(ctx, ChannelNotifications, data).Err(); err != nil {
		p.logger.Error("Failed to publish notification",
			logging.Err(err),
			logging.F("recipient_id", n.RecipientID))
		return fmt.Errorf("failed to publish to %s: %w", ChannelNotifications, err)
	}

	p.logger.Debug("Notification published",
		logging.F("recipient_id", n.RecipientID),
		logging.F("payload_size", len(data)))
	return nil
}
