package engine

import (
	"sync"

	"github.com/seantiz/gridrelay/internal/model"
)

// subscriberBufferSize is the channel buffer for each result subscriber.
// A task publishes at most a RUNNING and a terminal result, so a full buffer
// only happens for a subscriber that stopped reading.
const subscriberBufferSize = 4

// ResultBroker fans task results out to subscribers. It is safe for
// concurrent use.
//
// Closed topics are retained as markers so that late subscribers receive a
// closed channel instead of blocking forever.
type ResultBroker struct {
	mu     sync.Mutex
	topics map[string]*resultTopic
}

type resultTopic struct {
	subs   map[int]chan model.TaskResult
	nextID int
	closed bool
}

// NewResultBroker creates a new result broker.
func NewResultBroker() *ResultBroker {
	return &ResultBroker{
		topics: make(map[string]*resultTopic),
	}
}

// Subscribe returns a channel receiving results for taskID and an
// unsubscribe function. If the task already finished, the channel is closed.
func (b *ResultBroker) Subscribe(taskID string) (<-chan model.TaskResult, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok {
		t = &resultTopic{subs: make(map[int]chan model.TaskResult)}
		b.topics[taskID] = t
	}

	ch := make(chan model.TaskResult, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish delivers res to all subscribers of its task. Results are dropped
// for subscribers whose buffers are full.
func (b *ResultBroker) Publish(res model.TaskResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[res.TaskID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- res:
		default:
		}
	}
}

// Close signals that no more results will be published for taskID.
func (b *ResultBroker) Close(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok {
		b.topics[taskID] = &resultTopic{subs: make(map[int]chan model.TaskResult), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
