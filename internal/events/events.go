// Package events feeds item tree events from NATS into the organizer.
//
// A host publishes JSON events on <prefix>.created, <prefix>.changed,
// <prefix>.moved and <prefix>.removed. When a new leaf is relocated the
// decision is published on <prefix>.placed. Requests that carry a reply
// subject receive an Ack.
package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/fyrsmithlabs/shelve/internal/placement"
	"github.com/fyrsmithlabs/shelve/internal/tree"
)

// Subject suffixes.
const (
	Created = "created"
	Changed = "changed"
	Moved   = "moved"
	Removed = "removed"
	Placed  = "placed"
)

// CreatedEvent announces a new item. Mode is "interactive" (default) or
// "seeding".
type CreatedEvent struct {
	Item tree.Item `json:"item"`
	Mode string    `json:"mode,omitempty"`
}

// ChangedEvent announces modified fields of an item.
type ChangedEvent struct {
	ID     string      `json:"id"`
	Change tree.Change `json:"change"`
}

// MovedEvent announces a reparented item.
type MovedEvent struct {
	ID string `json:"id"`
}

// RemovedEvent announces a deleted item. Nil DescendantIDs means unknown.
type RemovedEvent struct {
	ID            string   `json:"id"`
	DescendantIDs []string `json:"descendant_ids,omitempty"`
}

// Ack is the reply to an event request.
type Ack struct {
	OK       bool                `json:"ok"`
	Error    string              `json:"error,omitempty"`
	Decision *placement.Decision `json:"decision,omitempty"`
}

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish serializes v as JSON and publishes it on subject, carrying the
// trace context of ctx in the message headers.
func Publish(ctx context.Context, nc *nats.Conn, subject string, v any) error {
	msg, err := newMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Request publishes v on subject and waits for the Ack.
func Request(ctx context.Context, nc *nats.Conn, subject string, v any) (Ack, error) {
	msg, err := newMsg(ctx, subject, v)
	if err != nil {
		return Ack{}, err
	}
	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return Ack{}, err
	}
	var ack Ack
	if err := json.Unmarshal(resp.Data, &ack); err != nil {
		return Ack{}, err
	}
	return ack, nil
}

func newMsg(ctx context.Context, subject string, v any) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}
