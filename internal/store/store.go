// Package store exposes the task collection as an observable snapshot
// stream. Readers subscribe per owner and receive the full snapshot on
// every change; mutations go through the engine and only become
// visible when the next authoritative snapshot arrives. There is no
// speculative local patching.
package store

import (
	"context"
	"sync"

	"workboard/internal/domain"
	"workboard/internal/repo"
)

const subscriberBuffer = 16

type Store struct {
	Repo repo.Repo

	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

type subscriber struct {
	ownerID string
	ch      chan []domain.Task
}

func New(r repo.Repo) *Store {
	return &Store{Repo: r, subs: make(map[int]*subscriber)}
}

// Subscribe registers an observer for one owner's tasks. The current
// snapshot is delivered immediately, then a fresh one after every
// publish, in publish order. The snapshot read, the registration and
// the initial send all happen under the hub mutex so a concurrent
// publish can never slip a newer snapshot in front of a staler initial
// one. The returned cancel tears the channel down; snapshots published
// after cancel are never delivered.
func (s *Store) Subscribe(ctx context.Context, ownerID string) (<-chan []domain.Task, func(), error) {
	s.mu.Lock()
	snapshot, err := s.Repo.ListTasks(ctx, ownerID)
	if err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}
	sub := &subscriber{ownerID: ownerID, ch: make(chan []domain.Task, subscriberBuffer)}
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	// The channel is freshly made and buffered; this never blocks.
	sub.ch <- snapshot
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel, nil
}

// Publish reads the authoritative snapshot for ownerID and fans it out
// to every matching subscriber. The read happens under the same mutex
// as the sends, so concurrent publishes (and subscriptions) observe a
// total order of snapshots. A subscriber that cannot keep up loses its
// oldest undelivered snapshot; every snapshot is full state, so the
// latest one always wins.
func (s *Store) Publish(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.Repo.ListTasks(ctx, ownerID)
	if err != nil {
		return err
	}
	for _, sub := range s.subs {
		if sub.ownerID != ownerID {
			continue
		}
		for {
			select {
			case sub.ch <- snapshot:
			default:
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
	return nil
}
