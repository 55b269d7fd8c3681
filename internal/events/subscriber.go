package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelve/internal/organizer"
	"github.com/fyrsmithlabs/shelve/internal/placement"
	"github.com/fyrsmithlabs/shelve/internal/tree"
)

// QueueGroup load-balances events across shelve instances.
const QueueGroup = "shelve"

// Handler receives decoded events. *organizer.Organizer implements it.
type Handler interface {
	OnItemCreated(ctx context.Context, item tree.Item, mode organizer.Mode) (*placement.Decision, error)
	OnItemChanged(ctx context.Context, id string, change tree.Change) error
	OnItemMoved(ctx context.Context, id string) error
	OnItemRemoved(ctx context.Context, id string, descendantIDs []string) error
}

// Subscriber consumes item events from NATS.
type Subscriber struct {
	nc      *nats.Conn
	handler Handler
	prefix  string
	logger  *zap.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
	base context.Context
}

// NewSubscriber returns a subscriber for events under prefix.
func NewSubscriber(nc *nats.Conn, handler Handler, prefix string, logger *zap.Logger) (*Subscriber, error) {
	if nc == nil || handler == nil {
		return nil, errors.New("nats connection and handler are required")
	}
	if prefix == "" {
		return nil, errors.New("subject prefix is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{nc: nc, handler: handler, prefix: strings.TrimSuffix(prefix, "."), logger: logger}, nil
}

// Subject returns the full subject for an event suffix.
func (s *Subscriber) Subject(suffix string) string {
	return s.prefix + "." + suffix
}

// Start subscribes to every event subject. Handlers run with a context
// derived from ctx; cancelling ctx does not unsubscribe, Stop does.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) > 0 {
		return errors.New("subscriber already started")
	}
	s.base = ctx

	for _, suffix := range []string{Created, Changed, Moved, Removed} {
		subject := s.Subject(suffix)
		sub, err := s.nc.QueueSubscribe(subject, QueueGroup, s.dispatch(suffix))
		if err != nil {
			s.unsubscribeLocked()
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	// Make sure the server has registered interest before returning.
	if err := s.nc.Flush(); err != nil {
		s.unsubscribeLocked()
		return fmt.Errorf("flushing subscriptions: %w", err)
	}
	s.logger.Info("subscribed to item events", zap.String("prefix", s.prefix))
	return nil
}

// Stop drains the subscriptions, letting in-flight events finish.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			s.logger.Warn("draining subscription", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	s.subs = nil
}

func (s *Subscriber) unsubscribeLocked() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Subscriber) dispatch(suffix string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(s.base, (*headerCarrier)(msg))
		dec, err := s.handle(ctx, suffix, msg.Data)
		if err != nil {
			s.logger.Warn("item event failed",
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
		}
		if dec != nil && dec.Outcome == placement.OutcomeMoved {
			if perr := Publish(ctx, s.nc, s.Subject(Placed), dec); perr != nil {
				s.logger.Warn("publishing placement", zap.String("leaf.id", dec.LeafID), zap.Error(perr))
			}
		}
		if msg.Reply == "" {
			return
		}
		ack := Ack{OK: err == nil, Decision: dec}
		if err != nil {
			ack.Error = err.Error()
		}
		data, _ := json.Marshal(ack)
		if rerr := msg.Respond(data); rerr != nil {
			s.logger.Warn("replying to item event", zap.String("subject", msg.Subject), zap.Error(rerr))
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, suffix string, data []byte) (*placement.Decision, error) {
	switch suffix {
	case Created:
		var ev CreatedEvent
		if err := decode(data, &ev); err != nil {
			return nil, err
		}
		if ev.Item.ID == "" {
			return nil, errors.New("created event without item id")
		}
		mode, err := organizer.ParseMode(ev.Mode)
		if err != nil {
			return nil, err
		}
		return s.handler.OnItemCreated(ctx, ev.Item, mode)
	case Changed:
		var ev ChangedEvent
		if err := decodeID(data, &ev, func() string { return ev.ID }); err != nil {
			return nil, err
		}
		return nil, s.handler.OnItemChanged(ctx, ev.ID, ev.Change)
	case Moved:
		var ev MovedEvent
		if err := decodeID(data, &ev, func() string { return ev.ID }); err != nil {
			return nil, err
		}
		return nil, s.handler.OnItemMoved(ctx, ev.ID)
	case Removed:
		var ev RemovedEvent
		if err := decodeID(data, &ev, func() string { return ev.ID }); err != nil {
			return nil, err
		}
		return nil, s.handler.OnItemRemoved(ctx, ev.ID, ev.DescendantIDs)
	default:
		return nil, fmt.Errorf("unknown event %q", suffix)
	}
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}
	return nil
}

func decodeID(data []byte, v any, id func() string) error {
	if err := decode(data, v); err != nil {
		return err
	}
	if id() == "" {
		return errors.New("event without id")
	}
	return nil
}
