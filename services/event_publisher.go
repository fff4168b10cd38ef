package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yashrajoria/storefront-checkout/models"
	aws_pkg "github.com/yashrajoria/storefront-checkout/pkg/aws"
)

// EventPublisher publishes checkout outcome events.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.CheckoutEvent) error
}

// SNSEventPublisher publishes checkout events to an SNS topic.
type SNSEventPublisher struct {
	sns      aws_pkg.SNSPublisher
	topicArn string
}

func NewSNSEventPublisher(sns aws_pkg.SNSPublisher, topicArn string) *SNSEventPublisher {
	return &SNSEventPublisher{sns: sns, topicArn: topicArn}
}

func (p *SNSEventPublisher) Publish(ctx context.Context, event *models.CheckoutEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal checkout event: %w", err)
	}
	return p.sns.Publish(ctx, p.topicArn, event.EventType, body)
}

// FanoutPublisher publishes to every configured publisher and joins their errors.
type FanoutPublisher []EventPublisher

func (f FanoutPublisher) Publish(ctx context.Context, event *models.CheckoutEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
