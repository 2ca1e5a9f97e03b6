package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject root for published audit events.
const DefaultSubjectPrefix = "agentrun.audit"

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Event is the message published for every create and seal.
type Event struct {
	Record    *Record   `json:"record"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher wraps a Store and publishes every create and seal to
// <prefix>.<kind>.<status>. Publish failures never fail the store call.
type Publisher struct {
	Store
	conn   Conn
	prefix string
	onErr  func(error)
}

// NewPublisher decorates store. onErr, if set, receives publish failures.
func NewPublisher(store Store, conn Conn, prefix string, onErr func(error)) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{Store: store, conn: conn, prefix: prefix, onErr: onErr}
}

// ConnectNATS dials url and wraps store in a Publisher. The returned close
// function drains the connection.
func ConnectNATS(store Store, url, prefix string, onErr func(error)) (*Publisher, func(), error) {
	nc, err := nats.Connect(url, nats.Name("agentrun-audit"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return NewPublisher(store, nc, prefix, onErr), func() { _ = nc.Drain() }, nil
}

// Subject returns the subject a record is published on.
func (p *Publisher) Subject(rec *Record) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, rec.Kind, rec.Status)
}

func (p *Publisher) Create(ctx context.Context, rec Record) (string, error) {
	id, err := p.Store.Create(ctx, rec)
	if err != nil {
		return "", err
	}
	p.publish(ctx, id)
	return id, nil
}

func (p *Publisher) Seal(ctx context.Context, id string, seal Seal) error {
	if err := p.Store.Seal(ctx, id, seal); err != nil {
		return err
	}
	p.publish(ctx, id)
	return nil
}

func (p *Publisher) publish(ctx context.Context, id string) {
	rec, err := p.Store.Get(ctx, id)
	if err != nil {
		p.fail(err)
		return
	}
	data, err := json.Marshal(Event{Record: rec, Timestamp: time.Now()})
	if err != nil {
		p.fail(err)
		return
	}
	if err := p.conn.Publish(p.Subject(rec), data); err != nil {
		p.fail(fmt.Errorf("publish %s: %w", p.Subject(rec), err))
	}
}

func (p *Publisher) fail(err error) {
	if p.onErr != nil {
		p.onErr(err)
	}
}
