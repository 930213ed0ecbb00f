package docstore

import (
	"context"
	"errors"
)

// ErrFeedClosed ends a subscription whose change source stopped on its own.
var ErrFeedClosed = errors.New("change feed closed")

// Snapshot is one emission of a live query: the full result set, or the error
// that prevented computing it.
type Snapshot struct {
	Docs []Document
	Err  error
}

// Fetch computes the current result of a live query.
type Fetch func(ctx context.Context) ([]Document, error)

// Subscription re-runs a fetch each time its collection changes.
type Subscription struct {
	updates chan Snapshot
	cancel  context.CancelFunc
	done    chan struct{}
}

// Watch subscribes to coll's changes, emits fetch's result once, then again
// after every change accepted by keep (nil keeps all). A consumer that falls
// behind only sees the newest snapshot. The subscription ends on Cancel, when
// ctx ends, or after reporting a broken change source.
func Watch(ctx context.Context, coll Collection, fetch Fetch, keep func(Change) bool) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		updates: make(chan Snapshot, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(ctx, coll, fetch, keep)
	return s
}

// Updates delivers snapshots until the subscription ends, then is closed.
func (s *Subscription) Updates() <-chan Snapshot { return s.updates }

// Done is closed once the subscription has stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel stops the subscription and waits for it to wind down.
func (s *Subscription) Cancel() {
	s.cancel()
	<-s.done
}

func (s *Subscription) run(ctx context.Context, coll Collection, fetch Fetch, keep func(Change) bool) {
	defer close(s.done)
	defer close(s.updates)

	// subscribe before the first fetch so no write falls between the two
	changes, err := coll.Changes(ctx)
	if err != nil {
		s.publish(ctx, Snapshot{Err: err})
		return
	}
	s.emit(ctx, fetch)

	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				if ctx.Err() == nil {
					s.publish(ctx, Snapshot{Err: ErrFeedClosed})
				}
				return
			}
			if keep != nil && !keep(ch) {
				continue
			}
			s.emit(ctx, fetch)
		}
	}
}

func (s *Subscription) emit(ctx context.Context, fetch Fetch) {
	docs, err := fetch(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.publish(ctx, Snapshot{Err: err})
		return
	}
	s.publish(ctx, Snapshot{Docs: docs})
}

// publish replaces any snapshot the consumer has not picked up yet.
func (s *Subscription) publish(ctx context.Context, snap Snapshot) {
	for ctx.Err() == nil {
		select {
		case s.updates <- snap:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}
