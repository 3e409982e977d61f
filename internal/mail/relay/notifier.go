// Package relay hands alert mail to a message topic for an external mailer.
package relay

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Message is the payload published for each alert.
type Message struct {
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	Recipients []string `json:"recipients"`
}

// Notifier publishes mail requests to a topic.
type Notifier struct {
	publisher tracker.Publisher
	topic     string
	logger    *zap.Logger
}

// New builds a Notifier.
func New(publisher tracker.Publisher, topic string, logger *zap.Logger) (*Notifier, error) {
	if publisher == nil || topic == "" {
		return nil, errors.New("relay: publisher and topic are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{publisher: publisher, topic: topic, logger: logger.Named("mail_relay")}, nil
}

// Notify publishes the message. Delivery is up to the subscriber.
func (n *Notifier) Notify(ctx context.Context, subject, body string, recipients []string) error {
	if len(recipients) == 0 {
		return errors.New("relay mail: no recipients")
	}
	id, err := n.publisher.Publish(ctx, n.topic, Message{Subject: subject, Body: body, Recipients: recipients})
	if err != nil {
		return fmt.Errorf("relay mail: %w", err)
	}
	n.logger.Info("mail relayed", zap.String("topic", n.topic), zap.String("message_id", id))
	return nil
}
