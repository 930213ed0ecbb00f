package attendance

import (
	"context"
	"sync"

	"attendancesvc/internal/docstore"
)

// Update is one emission of a live query.
type Update[T any] struct {
	Value T
	Err   error
}

// Stream is a live query over the attendance collection. It keeps emitting
// until Cancel is called or the context it was opened with ends.
type Stream[T any] struct {
	updates chan Update[T]
	sub     *docstore.Subscription
	stop    chan struct{}
	once    sync.Once
	done    chan struct{}
}

func newStream[T any](ctx context.Context, sub *docstore.Subscription, convert func([]docstore.Document) (T, error)) *Stream[T] {
	s := &Stream[T]{
		updates: make(chan Update[T]),
		sub:     sub,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.updates)
		for snap := range sub.Updates() {
			var u Update[T]
			if snap.Err != nil {
				u.Err = snap.Err
			} else {
				u.Value, u.Err = convert(snap.Docs)
			}
			select {
			case s.updates <- u:
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return s
}

// Updates is closed once the stream ends.
func (s *Stream[T]) Updates() <-chan Update[T] { return s.updates }

// Done is closed once the stream has stopped.
func (s *Stream[T]) Done() <-chan struct{} { return s.done }

// Cancel stops the stream and releases its change subscription. It is safe
// to call more than once.
func (s *Stream[T]) Cancel() {
	s.once.Do(func() { close(s.stop) })
	s.sub.Cancel()
	<-s.done
}
