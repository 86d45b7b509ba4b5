// Package provider holds the outbound mail transport port and its HTTP
// relay implementation.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// Message is one rendered notification handed to the transport.
type Message struct {
	To               string
	Subject          string
	Body             string
	NotificationType string
	// IdempotencyKey is forwarded so a relay that supports it can drop
	// transport-level replays as well.
	IdempotencyKey string
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("recipient is required")
	}
	return nil
}

// Provider is the outbound delivery port.
type Provider interface {
	Send(ctx context.Context, msg Message) (*Response, error)
}

// Response stores transport call metadata.
type Response struct {
	StatusCode int
	Body       string
	MessageID  string
}
