// Package push hands notifications to the delivery workers over the bus.
// Device transport (FCM, APNs) happens downstream.
package push

import (
	"context"
	"errors"
	"fmt"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
)

var ErrNoToken = errors.New("recipient has no push token")

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Notifier publishes one message per notification on routingKey.
type Notifier struct {
	publisher  Publisher
	routingKey string
}

func NewNotifier(publisher Publisher, routingKey string) *Notifier {
	return &Notifier{publisher: publisher, routingKey: routingKey}
}

func (n *Notifier) Notify(ctx context.Context, notification models.PushNotification) error {
	if notification.Token == "" {
		return ErrNoToken
	}
	if err := n.publisher.Publish(ctx, n.routingKey, notification); err != nil {
		observability.IncAMQPPublishError()
		return fmt.Errorf("publish push notification: %w", err)
	}
	return nil
}
