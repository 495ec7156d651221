// Package bus implements the in-process progress subscription bus: one
// topic per job, many subscribers per topic, bounded non-blocking delivery.
package bus

import (
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/SOWA-EQR/ai-document-processor/internal/models"
)

// DefaultSendBuffer is the per-subscriber channel capacity used when the
// configured value is not positive.
const DefaultSendBuffer = 16

// topic is the fan-out state for one job. Once closed it stays in the
// registry so late joiners observe a closed stream instead of a fresh one.
type topic struct {
	subscribers map[string]chan models.ProgressEvent
	closed      bool
}

// Bus routes progress events from the orchestrator to subscribers.
// Publishing never blocks: when a subscriber's buffer is full the oldest
// buffered event is dropped in favor of the newest.
type Bus struct {
	mu         sync.RWMutex
	topics     map[string]*topic
	sendBuffer int
	logger     arbor.ILogger
}

// NewBus creates a progress bus with the given per-subscriber buffer size.
func NewBus(sendBuffer int, logger arbor.ILogger) *Bus {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Bus{
		topics:     make(map[string]*topic),
		sendBuffer: sendBuffer,
		logger:     logger,
	}
}

// Join subscribes to a job's event stream and returns the delivery channel.
// Joining twice with the same subscriber id returns the existing channel.
// Joining a topic that already closed returns a closed channel; callers
// should consult the result store for the terminal outcome.
func (b *Bus) Join(jobID, subscriberID string) <-chan models.ProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &topic{subscribers: make(map[string]chan models.ProgressEvent)}
		b.topics[jobID] = t
	}

	if t.closed {
		ch := make(chan models.ProgressEvent)
		close(ch)
		return ch
	}

	if ch, exists := t.subscribers[subscriberID]; exists {
		return ch
	}

	ch := make(chan models.ProgressEvent, b.sendBuffer)
	t.subscribers[subscriberID] = ch

	b.logger.Debug().
		Str("job_id", jobID).
		Str("subscriber_id", subscriberID).
		Int("subscribers", len(t.subscribers)).
		Msg("Subscriber joined job topic")

	return ch
}

// Leave removes a subscriber from a job's topic and closes its channel.
// Leaving an unknown topic or subscriber is a no-op.
func (b *Bus) Leave(jobID, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok || t.closed {
		return
	}

	ch, exists := t.subscribers[subscriberID]
	if !exists {
		return
	}

	delete(t.subscribers, subscriberID)
	close(ch)

	b.logger.Debug().
		Str("job_id", jobID).
		Str("subscriber_id", subscriberID).
		Msg("Subscriber left job topic")
}

// Publish delivers an event to every subscriber of the event's job topic.
// Full subscriber buffers drop their oldest event to make room; a slow
// consumer can never stall the orchestrator.
func (b *Bus) Publish(event models.ProgressEvent) {
	// Sends are non-blocking, so the whole fan-out runs under the read
	// lock. That excludes Leave/CloseTopic and rules out a send on a
	// channel they just closed.
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.topics[event.JobID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subscribers {
		select {
		case ch <- event:
		default:
			// Drop the oldest buffered event, then deliver the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// CloseTopic closes every subscriber channel for a job and marks the topic
// closed. Called by the orchestrator after the terminal event; safe to call
// more than once.
func (b *Bus) CloseTopic(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &topic{subscribers: make(map[string]chan models.ProgressEvent)}
		b.topics[jobID] = t
	}
	if t.closed {
		return
	}

	for id, ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, id)
	}
	t.closed = true

	b.logger.Debug().Str("job_id", jobID).Msg("Job topic closed")
}

// SubscriberCount returns the number of active subscribers on a job topic.
func (b *Bus) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.topics[jobID]
	if !ok {
		return 0
	}
	return len(t.subscribers)
}
