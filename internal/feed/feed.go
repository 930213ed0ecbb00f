// Package feed fans document change events out to live subscribers.
package feed

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"attendancesvc/internal/docstore"
)

// Event announces a write to one document.
type Event struct {
	Op string
	ID string
}

// Broker is the abstraction over different pub/sub backends.
type Broker interface {
	Publish(ctx context.Context, topic string, evt Event) error
	// Subscribe delivers events published to topic until ctx ends; the
	// returned channel is closed afterwards.
	Subscribe(ctx context.Context, topic string) (<-chan Event, error)
}

// InMemory is a channel-backed broker for a single process.
type InMemory struct {
	buffer int

	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

// NewInMemory creates a broker whose subscribers buffer up to size events.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 64
	}
	return &InMemory{buffer: size, subs: make(map[string]map[chan Event]struct{})}
}

// Publish hands evt to every subscriber of topic without blocking. A full
// subscriber loses its oldest pending event.
func (b *InMemory) Publish(ctx context.Context, topic string, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- evt:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber on topic.
func (b *InMemory) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[chan Event]struct{})
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[topic], ch)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// Subscribers reports how many subscribers topic currently has.
func (b *InMemory) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// Redis implements Broker over Redis PUBLISH/SUBSCRIBE.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis builds a broker whose channels are named prefix+topic.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "attendance:feed:"
	}
	return &Redis{client: client, prefix: prefix}
}

// Publish sends evt to the topic channel.
func (r *Redis) Publish(ctx context.Context, topic string, evt Event) error {
	return r.client.Publish(ctx, r.prefix+topic, encode(evt)).Err()
}

// Subscribe waits for the subscription to be confirmed, then streams events.
func (r *Redis) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	ps := r.client.Subscribe(ctx, r.prefix+topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				evt, err := decode(msg.Payload)
				if err != nil {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var errMalformed = errors.New("malformed feed event")

// encode stores events as op|id.
func encode(evt Event) string {
	return evt.Op + "|" + evt.ID
}

func decode(s string) (Event, error) {
	op, id, ok := strings.Cut(s, "|")
	if !ok || op == "" {
		return Event{}, errMalformed
	}
	return Event{Op: op, ID: id}, nil
}

// Changes subscribes to topic and converts its events into document changes.
func Changes(ctx context.Context, b Broker, topic string) (<-chan docstore.Change, error) {
	events, err := b.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make(chan docstore.Change, 1)
	go func() {
		defer close(out)
		for evt := range events {
			select {
			case out <- docstore.Change{Op: docstore.ChangeOp(evt.Op), ID: evt.ID}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Announce publishes a document change on topic.
func Announce(ctx context.Context, b Broker, topic string, ch docstore.Change) error {
	return b.Publish(ctx, topic, Event{Op: string(ch.Op), ID: ch.ID})
}
