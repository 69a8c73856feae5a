package payee

import (
	"micropay/internal/model"
	"micropay/internal/utils/log"
	"sync"

	"go.uber.org/zap"
)

// Notifier fans session events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan model.Event
	next   int
	buffer int
}

func NewNotifier(buffer int) *Notifier {
	return &Notifier{
		subs:   make(map[int]chan model.Event),
		buffer: buffer,
	}
}

// Subscribe returns the event stream and a function that ends the
// subscription and closes the stream.
func (n *Notifier) Subscribe() (<-chan model.Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	ch := make(chan model.Event, n.buffer)
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs, id)
			close(ch)
		})
	}
}

func (n *Notifier) Publish(ev model.Event) {
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			log.Warn("event dropped", zap.Int("subscriber", id), zap.String("type", string(ev.Type)))
		}
	}
}
