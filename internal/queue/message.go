package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DeliveryMessage is the broker payload for one delivery request. It carries
// the full request because the coordinator fingerprints it on the consuming
// side.
type DeliveryMessage struct {
	CorrelationID    string         `json:"correlationId,omitempty"`
	Recipient        string         `json:"recipient"`
	NotificationType string         `json:"notificationType"`
	Subject          string         `json:"subject,omitempty"`
	Body             string         `json:"body,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
	RequestedAt      time.Time      `json:"requestedAt"`
}

func (m DeliveryMessage) Validate() error {
	if strings.TrimSpace(m.Recipient) == "" {
		return fmt.Errorf("recipient is required")
	}
	if strings.TrimSpace(m.NotificationType) == "" {
		return fmt.Errorf("notificationType is required")
	}
	return nil
}

func decodeDeliveryMessage(body []byte) (DeliveryMessage, error) {
	var msg DeliveryMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return DeliveryMessage{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return DeliveryMessage{}, err
	}
	return msg, nil
}
