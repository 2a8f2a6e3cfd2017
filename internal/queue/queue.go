// Package queue carries job hand-offs from the API service to the workers
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cuongbtq/recipe-runner/shared/rabbitmq"
)

const contentType = "application/json"

// ErrInvalidMessage is returned for deliveries that can never be processed
var ErrInvalidMessage = errors.New("invalid job message")

// Message is the only thing shared between submission and the pipeline
type Message struct {
	JobID string `json:"job_id"`
}

// Encode renders the wire form of a message
func Encode(jobID string) ([]byte, error) {
	return json.Marshal(Message{JobID: jobID})
}

// Decode parses a delivery body and checks the job id
func Decode(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if _, err := uuid.Parse(msg.JobID); err != nil {
		return Message{}, fmt.Errorf("%w: job_id %q is not a UUID", ErrInvalidMessage, msg.JobID)
	}
	return msg, nil
}

type publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Publisher enqueues jobs on the broker
type Publisher struct {
	client publisher
}

// NewPublisher wraps a RabbitMQ client (or anything publishing like one)
func NewPublisher(client publisher) *Publisher {
	return &Publisher{client: client}
}

// Enqueue publishes the hand-off message of a job
func (p *Publisher) Enqueue(ctx context.Context, jobID string) error {
	body, err := Encode(jobID)
	if err != nil {
		return fmt.Errorf("failed to encode job message: %w", err)
	}
	if err := p.client.PublishWithRetry(ctx, body, contentType); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	return nil
}

// Stats is what GET /queue/tasks reports
type Stats = rabbitmq.QueueStats

type inspector interface {
	Inspect() (*rabbitmq.QueueStats, error)
	IsConnected() bool
}

// Inspector reads queue depth and broker health
type Inspector struct {
	client inspector
}

// NewInspector wraps a RabbitMQ client
func NewInspector(client inspector) *Inspector {
	return &Inspector{client: client}
}

// Stats returns pending messages and attached consumers
func (i *Inspector) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return i.client.Inspect()
}

// Ping reports whether the broker connection is alive
func (i *Inspector) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !i.client.IsConnected() {
		return errors.New("not connected to RabbitMQ")
	}
	return nil
}
