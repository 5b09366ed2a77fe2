package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"adscan-pipeline/config"
	"adscan-pipeline/models"

	"github.com/apex/log"
	"github.com/streadway/amqp"
)

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// ScanEvent is the message published for every completed scan.
type ScanEvent struct {
	SourceURL string                    `json:"source_url"`
	ScannedAt time.Time                 `json:"scanned_at"`
	AdCount   int                       `json:"ad_count"`
	Ads       []models.ClassifiedAdSlot `json:"ads"`
}

// Publisher represents a RabbitMQ publisher instance
type Publisher struct {
	conn       *amqp.Connection
	mu         sync.Mutex
	channel    channel
	exchange   string
	routingKey string
}

// NewPublisher creates a new RabbitMQ publisher instance
func NewPublisher(amqpURL, exchangeName, routingKey string) (*Publisher, error) {
	// Connect to RabbitMQ
	conn, err := amqp.DialConfig(amqpURL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	// Create channel
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare exchange with specified parameters
	err = ch.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	log.WithFields(log.Fields{
		"exchange":    exchangeName,
		"routing_key": routingKey,
	}).Info("RabbitMQ publisher ready")

	return &Publisher{
		conn:       conn,
		channel:    ch,
		exchange:   exchangeName,
		routingKey: routingKey,
	}, nil
}

// NewPublisherFromConfig connects using the service configuration.
func NewPublisherFromConfig(cfg config.RabbitMQConfig) (*Publisher, error) {
	return NewPublisher(cfg.GetAMQPURL(), cfg.Exchange, cfg.ScanRoutingKey)
}

// Name identifies the sink in logs and metrics.
func (p *Publisher) Name() string {
	return config.SinkRabbitMQ
}

// ReportScan publishes the scan as a ScanEvent.
func (p *Publisher) ReportScan(ctx context.Context, report *models.ScanReport) error {
	return p.Publish(ctx, ScanEvent{
		SourceURL: report.SourceURL,
		ScannedAt: report.ScannedAt,
		AdCount:   len(report.Ads),
		Ads:       report.Ads,
	})
}

// Publish sends a JSON message to the exchange with the configured routing key
func (p *Publisher) Publish(ctx context.Context, message interface{}) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context done before publishing message: %w", err)
	}

	// Marshal message to JSON
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message to JSON: %w", err)
	}

	// Create publishing message
	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent, // Make message persistent
		Timestamp:    time.Now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Publish message
	err = p.channel.Publish(
		p.exchange,   // exchange
		p.routingKey, // routing key
		false,        // mandatory
		false,        // immediate
		publishing,   // message
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}

// Close closes the publisher connection and channel
func (p *Publisher) Close() error {
	var err error

	if p.channel != nil {
		if channelErr := p.channel.Close(); channelErr != nil {
			log.Warnf("Failed to close channel: %v", channelErr)
			err = channelErr
		}
	}

	if p.conn != nil {
		if connErr := p.conn.Close(); connErr != nil {
			log.Warnf("Failed to close connection: %v", connErr)
			if err == nil {
				err = connErr
			}
		}
	}

	return err
}
