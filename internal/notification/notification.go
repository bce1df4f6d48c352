// File: internal/notification/notification.go
package notification

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/droneops-sync/internal/models"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

// StatusListener receives every published connectivity state
type StatusListener func(state models.ConnectivityState)

type subscriber struct {
	id       uint64
	listener StatusListener
}

// Broadcaster fans connectivity changes out to subscribers. Subscribers are
// called synchronously, in registration order, with the new value only.
type Broadcaster struct {
	mu          sync.RWMutex
	nextID      uint64
	subscribers []subscriber
	logger      *logrus.Entry
}

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		logger: utils.GetLogger().WithField("component", "broadcaster"),
	}
}

// Subscribe registers a listener and returns its unsubscribe function.
// Unsubscribing more than once is a no-op.
func (b *Broadcaster) Subscribe(listener StatusListener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers = append(b.subscribers, subscriber{id: id, listener: listener})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subscribers {
		if s.id == id {
			b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish calls every current subscriber with state. A panicking subscriber
// is logged and does not stop delivery to the rest.
func (b *Broadcaster) Publish(state models.ConnectivityState) {
	b.mu.RLock()
	snapshot := make([]subscriber, len(b.subscribers))
	copy(snapshot, b.subscribers)
	b.mu.RUnlock()

	for _, s := range snapshot {
		b.deliver(s, state)
	}
}

func (b *Broadcaster) deliver(s subscriber, state models.ConnectivityState) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"subscriber": s.id,
				"state":      state,
				"panic":      fmt.Sprint(r),
			}).Error("Status subscriber panicked")
		}
	}()
	s.listener(state)
}

// SubscriberCount returns the number of registered subscribers
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
