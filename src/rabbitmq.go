package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig holds RabbitMQ connection configuration
type RabbitMQConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Queue    string
}

// Validate rejects configurations that can never connect.
func (c RabbitMQConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("empty host")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Queue == "" {
		return fmt.Errorf("empty queue name")
	}
	return nil
}

// URL builds the AMQP connection URL
func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", c.Username, c.Password, c.Host, c.Port)
}

// RabbitMQ is a consumer on one durable queue of raw tweet JSON.
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
	config  RabbitMQConfig
}

// NewRabbitMQ creates a new RabbitMQ connection
func NewRabbitMQ(config RabbitMQConfig) (*RabbitMQ, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid RabbitMQ config: %w", err)
	}

	conn, err := amqp.Dial(config.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		config.Queue, // name
		true,         // durable
		false,        // delete when unused
		false,        // exclusive
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	// Unacked messages are redelivered, so keep a bounded window in flight
	err = ch.Qos(
		100,   // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &RabbitMQ{
		conn:    conn,
		channel: ch,
		queue:   q,
		config:  config,
	}, nil
}

// Consume starts a manual-ack consumer on the queue.
func (r *RabbitMQ) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	msgs, err := r.channel.ConsumeWithContext(
		ctx,
		r.queue.Name, // queue
		"",           // consumer
		false,        // auto-ack
		false,        // exclusive
		false,        // no-local
		false,        // no-wait
		nil,          // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register a consumer: %w", err)
	}
	return msgs, nil
}

// Close closes the RabbitMQ connection
func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// GetQueueInfo returns information about the queue
func (r *RabbitMQ) GetQueueInfo() (map[string]interface{}, error) {
	queue, err := r.channel.QueueInspect(r.config.Queue)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return map[string]interface{}{
		"name":      queue.Name,
		"messages":  queue.Messages,
		"consumers": queue.Consumers,
	}, nil
}

// runIngest drains the configured queue into daily archives in tweet_dir.
func runIngest(ctx context.Context, cfg *Config) (stageStats, error) {
	var st stageStats
	mq, err := NewRabbitMQ(cfg.RabbitMQ())
	if err != nil {
		return st, err
	}
	defer mq.Close()

	if info, err := mq.GetQueueInfo(); err == nil {
		slog.Info("Connected to RabbitMQ", "queue", info["name"], "messages", info["messages"], "consumers", info["consumers"])
	}

	msgs, err := mq.Consume(ctx)
	if err != nil {
		return st, err
	}

	sp := NewSpooler(cfg.TweetDir)
	defer sp.Close()

	ss, err := spoolDeliveries(ctx, msgs, sp, time.Duration(cfg.MQIdleSeconds)*time.Second)
	st.Records = ss.Written
	st.Skipped = ss.Rejected
	st.Rows = ss.Days
	if err != nil {
		st.Errors++
	}
	return st, err
}
