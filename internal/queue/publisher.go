// Package queue publishes built reports and request notifications to
// RabbitMQ. A mail worker outside this service consumes the queues and
// renders the messages.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"posmdesk/internal/domain/notification"
	"posmdesk/internal/domain/schedule"
)

const (
	DefaultReportQueue       = "reports.scheduled"
	DefaultNotificationQueue = "notifications.request"
)

// Publisher delivers report payloads to a durable queue. It dials per
// delivery; reports fire a few times a week at most.
type Publisher struct {
	url   string
	queue string
}

func NewPublisher(url, queue string) *Publisher {
	if queue == "" {
		queue = DefaultReportQueue
	}
	return &Publisher{url: url, queue: queue}
}

func (p *Publisher) Deliver(ctx context.Context, payload *schedule.Payload) error {
	msg, err := message(payload)
	if err != nil {
		return err
	}
	if err := p.publish(ctx, msg); err != nil {
		log.Printf("rabbitmq_publish_failed queue=%s report_id=%d error=%q", p.queue, payload.ReportID, err)
		return err
	}

	log.Printf("report_delivered transport=rabbitmq queue=%s report_id=%d recipients=%d lines=%d test=%t",
		p.queue, payload.ReportID, len(payload.Recipients), payload.Total, payload.Test)
	return nil
}

// PublishNotification hands one stored notification to the worker that
// mails or pushes it.
func (p *Publisher) PublishNotification(ctx context.Context, n *notification.Notification) error {
	msg, err := notificationMessage(n)
	if err != nil {
		return err
	}
	if err := p.publish(ctx, msg); err != nil {
		log.Printf("rabbitmq_publish_failed queue=%s notification_id=%d error=%q", p.queue, n.ID, err)
		return err
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, msg amqp.Publishing) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		log.Printf("rabbitmq_dial_failed queue=%s error=%q", p.queue, err)
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare %s: %w", p.queue, err)
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	return nil
}

func message(payload *schedule.Payload) (amqp.Publishing, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("rabbitmq: marshal report %d: %w", payload.ReportID, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    fmt.Sprintf("report-%d-%d", payload.ReportID, payload.GeneratedAt.Unix()),
		Type:         string(payload.Kind),
		Headers: amqp.Table{
			"report_id": strconv.FormatInt(payload.ReportID, 10),
			"test":      payload.Test,
		},
		Body: body,
	}, nil
}

func notificationMessage(n *notification.Notification) (amqp.Publishing, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("rabbitmq: marshal notification %d: %w", n.ID, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    fmt.Sprintf("notification-%d", n.ID),
		Type:         string(n.Type),
		Headers: amqp.Table{
			"user_id": strconv.FormatInt(n.UserID, 10),
		},
		Body: body,
	}, nil
}
