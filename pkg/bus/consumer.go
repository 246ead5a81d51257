package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/switchboard-io/switchboard/pkg/metrics"
)

// ErrOverloaded is returned by the process func when the target
// conversation mailbox is full; the consumer retries after backoff.
var ErrOverloaded = errors.New("conversation mailbox overloaded")

// defaultDedupeWindow bounds how many recently seen message ids the
// consumer remembers for at-least-once dedup.
const defaultDedupeWindow = 4096

// ProcessFunc handles one deduplicated message.new envelope.
type ProcessFunc func(ctx context.Context, envelope MessageEnvelope) error

// ControlFunc handles one control envelope. Best-effort, no retry.
type ControlFunc func(ctx context.Context, envelope ControlEnvelope)

// Consumer is the inbound side of the mesh for one assistant server: it
// subscribes to the entity's channel, resolves truncated payloads,
// drops duplicate message ids, and hands events to the coordinator.
type Consumer struct {
	listener  *Listener
	publisher *Publisher
	process   ProcessFunc
	control   ControlFunc
	seen      *lru.Cache[string, struct{}]
	metrics   *metrics.Set
	baseCtx   context.Context
}

// ConsumerConfig wires one consumer.
type ConsumerConfig struct {
	ConnString string
	Publisher  *Publisher
	Process    ProcessFunc
	Control    ControlFunc
	// DedupeWindow caps remembered message ids; zero means the default.
	DedupeWindow int
	Metrics      *metrics.Set
}

// NewConsumer builds a consumer; Start begins delivery.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	window := cfg.DedupeWindow
	if window <= 0 {
		window = defaultDedupeWindow
	}
	seen, err := lru.New[string, struct{}](window)
	if err != nil {
		return nil, err
	}
	c := &Consumer{
		publisher: cfg.Publisher,
		process:   cfg.Process,
		control:   cfg.Control,
		seen:      seen,
		metrics:   cfg.Metrics,
	}
	c.listener = NewListener(cfg.ConnString, c.handle)
	return c, nil
}

// Start opens the LISTEN connection and subscribes to each entity's
// channel.
func (c *Consumer) Start(ctx context.Context, entityIDs ...string) error {
	c.baseCtx = ctx
	if err := c.listener.Start(ctx); err != nil {
		return err
	}
	for _, entityID := range entityIDs {
		if err := c.listener.Subscribe(ctx, EntityChannel(entityID)); err != nil {
			return err
		}
	}
	return nil
}

// Stop shuts down the listener.
func (c *Consumer) Stop(ctx context.Context) {
	c.listener.Stop(ctx)
}

func (c *Consumer) handle(channel string, payload []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		slog.Warn("Undecodable mesh payload", "channel", channel, "error", err)
		return
	}

	switch probe.Type {
	case EventControl:
		var envelope ControlEnvelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			slog.Warn("Undecodable control envelope", "channel", channel, "error", err)
			return
		}
		if c.control != nil {
			c.control(c.baseCtx, envelope)
		}
	case EventMessageNew:
		var envelope MessageEnvelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			slog.Warn("Undecodable message envelope", "channel", channel, "error", err)
			return
		}
		c.handleMessage(envelope)
	default:
		slog.Debug("Ignoring mesh event", "type", probe.Type, "channel", channel)
	}
}

func (c *Consumer) handleMessage(envelope MessageEnvelope) {
	if envelope.Truncated {
		full, err := c.publisher.FetchEvent(c.baseCtx, envelope.DBEventID)
		if err != nil {
			slog.Error("Failed to resolve truncated event", "db_event_id", envelope.DBEventID, "error", err)
			return
		}
		envelope = full
	}

	if envelope.Message.ID == "" {
		slog.Warn("Dropping message event without message id", "conversation_id", envelope.ConversationID)
		return
	}
	// at-least-once delivery: duplicates are no-ops
	if _, dup := c.seen.Get(envelope.Message.ID); dup {
		c.metrics.IncEventDuplicate()
		slog.Debug("Dropping duplicate message event", "message_id", envelope.Message.ID)
		return
	}

	if err := c.dispatch(envelope); err != nil {
		slog.Error("Failed to dispatch message event",
			"message_id", envelope.Message.ID,
			"conversation_id", envelope.ConversationID,
			"error", err)
		return
	}
	c.seen.Add(envelope.Message.ID, struct{}{})
}

// dispatch hands the envelope to the coordinator, retrying only mailbox
// overload.
func (c *Consumer) dispatch(envelope MessageEnvelope) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second

	return backoff.Retry(func() error {
		err := c.process(c.baseCtx, envelope)
		if errors.Is(err, ErrOverloaded) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, c.baseCtx))
}

// DeliverLocal feeds an envelope that arrived outside the mesh, such as
// the webhook ingress fallback, through the same dedupe and dispatch as
// NOTIFY delivery. Duplicates are accepted silently; ErrOverloaded is
// returned without retry so the HTTP caller can back off itself.
func (c *Consumer) DeliverLocal(ctx context.Context, envelope MessageEnvelope) error {
	if envelope.Message.ID == "" {
		return errors.New("message event has no message id")
	}
	if _, dup := c.seen.Get(envelope.Message.ID); dup {
		c.metrics.IncEventDuplicate()
		return nil
	}
	if err := c.process(ctx, envelope); err != nil {
		return err
	}
	c.seen.Add(envelope.Message.ID, struct{}{})
	return nil
}
