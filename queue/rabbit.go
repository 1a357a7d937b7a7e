// Package queue provides the action lifecycle event publisher of §2.3/§4.8:
// whenever a queued action changes status, a notification is published to
// RabbitMQ so external consumers (dashboards, alerting) can react without
// polling the Actions table.
package queue

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/streadway/amqp"

	"github.com/graphprotocol/indexer-sub006/core"
)

// ActionEvent is the message body published for every action status
// transition.
type ActionEvent struct {
	ActionID        int64            `json:"actionId"`
	DeploymentID    string           `json:"deploymentId"`
	ProtocolNetwork string           `json:"protocolNetwork"`
	Status          core.ActionStatus `json:"status"`
	Reason          string           `json:"reason,omitempty"`
	OccurredAt      time.Time        `json:"occurredAt"`
}

// EventPublisherConfig configures the RabbitMQ connection used to publish
// action lifecycle events.
type EventPublisherConfig struct {
	URL       string
	QueueName string
}

// EventPublisher publishes ActionEvent messages to a durable RabbitMQ
// queue. It manages a connection and channel to a RabbitMQ server,
// injected through AMQPDialer so tests can substitute a fake broker.
type EventPublisher struct {
	connection AMQPConnection
	channel    AMQPChannel
	config     EventPublisherConfig
}

// NewEventPublisher connects to RabbitMQ using the real AMQP dialer.
func NewEventPublisher(config EventPublisherConfig) (*EventPublisher, error) {
	return NewEventPublisherWithDialer(config, &RealAMQPDialer{})
}

// NewEventPublisherWithDialer connects to RabbitMQ using dialer, allowing
// dependency injection for tests.
func NewEventPublisherWithDialer(config EventPublisherConfig, dialer AMQPDialer) (*EventPublisher, error) {
	conn, err := dialer.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		config.QueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &EventPublisher{connection: conn, channel: ch, config: config}, nil
}

// Publish serializes event to JSON and publishes it to the configured
// durable queue on the default exchange.
func (p *EventPublisher) Publish(event ActionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal action event: %w", err)
	}

	err = p.channel.Publish(
		"",
		p.config.QueueName,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish action event: %w", err)
	}

	log.Printf("published action event for action %d: %s", event.ActionID, event.Status)
	return nil
}

// Close releases the channel and connection.
func (p *EventPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.connection != nil {
		p.connection.Close()
	}
	return nil
}
