/*
Package events publishes marketplace change events to an external feed.

PURPOSE:
  The in-process Hub serves live dashboards, but external consumers
  (analytics, partner integrations) need a durable feed. Services write
  ChangeEvents to the store outbox inside the mutating commit; the Relay
  drains unsent rows and publishes them to Kafka. Because the outbox row
  and the mutation share a commit, the feed never sees a half-applied
  approval, and a crash between commit and publish only delays delivery.

  Delivery is at-least-once: a crash after publish but before MarkChangeSent
  re-publishes the event. Consumers deduplicate on event id.
*/
package events

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/venod/supplyvault/marketplace"
)

// =============================================================================
// KAFKA CLIENT
// =============================================================================

// Client holds broker addresses parsed from a comma-separated list.
// An empty list disables external publication entirely.
type Client struct {
	Brokers []string
}

// NewClient parses a comma-separated broker list.
func NewClient(brokersCSV string) *Client {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return &Client{Brokers: brokers}
}

// Enabled reports whether any broker is configured.
func (c *Client) Enabled() bool {
	return len(c.Brokers) > 0
}

// NewWriter creates a writer for one topic, keyed by document id so all
// events about a document land in one partition, in order.
func (c *Client) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// =============================================================================
// OUTBOX RELAY
// =============================================================================

const (
	relayBatchSize = 100
	relayInterval  = 2 * time.Second
)

// MessageWriter is the writer surface the relay needs; *kafka.Writer
// satisfies it.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Relay drains the store outbox to a Kafka writer.
type Relay struct {
	Store  marketplace.OutboxStore
	Writer MessageWriter
}

// NewRelay creates a relay from store to writer.
func NewRelay(store marketplace.OutboxStore, writer MessageWriter) *Relay {
	return &Relay{Store: store, Writer: writer}
}

// Run drains the outbox until ctx is cancelled. Publish failures are
// logged and retried on the next tick; events stay in the outbox until
// marked sent.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(relayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.drain(ctx); err != nil && ctx.Err() == nil {
				log.Printf("events: relay drain failed: %v", err)
			}
		}
	}
}

func (r *Relay) drain(ctx context.Context) error {
	pending, err := r.Store.PendingChanges(ctx, relayBatchSize)
	if err != nil {
		return err
	}
	for _, ev := range pending {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		msg := kafka.Message{
			Key:   []byte(ev.Key),
			Value: payload,
			Time:  ev.At,
		}
		if err := r.Writer.WriteMessages(ctx, msg); err != nil {
			return err
		}
		if err := r.Store.MarkChangeSent(ctx, ev.ID); err != nil {
			return err
		}
	}
	return nil
}
