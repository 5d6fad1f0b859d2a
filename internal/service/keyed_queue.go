package service

import (
	"context"
	"sync"
)

// KeyedQueue runs functions one at a time per key, in arrival order. Different
// keys run concurrently. The engine keys it by chat ID so a session's state is
// only ever touched by one handler at a time.
type KeyedQueue struct {
	mu     sync.Mutex
	chains map[int64]chan struct{}
}

func NewKeyedQueue() *KeyedQueue {
	return &KeyedQueue{chains: map[int64]chan struct{}{}}
}

func (q *KeyedQueue) Run(ctx context.Context, key int64, fn func(context.Context) error) error {
	q.mu.Lock()
	previous := q.chains[key]
	next := make(chan struct{})
	q.chains[key] = next
	q.mu.Unlock()

	if previous != nil {
		select {
		case <-previous:
		case <-ctx.Done():
			// Hand our slot on only once the predecessor is done, so callers
			// queued behind us still run strictly after it.
			go func() {
				<-previous
				q.release(key, next)
			}()
			return ctx.Err()
		}
	}

	defer q.release(key, next)
	return fn(ctx)
}

func (q *KeyedQueue) release(key int64, slot chan struct{}) {
	close(slot)
	q.mu.Lock()
	if q.chains[key] == slot {
		delete(q.chains, key)
	}
	q.mu.Unlock()
}

// Active reports how many keys have a running or queued function.
func (q *KeyedQueue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chains)
}
