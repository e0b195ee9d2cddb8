package service

import (
	"sync"

	"github.com/noah-isme/gema-intervention-api/internal/dto"
	"github.com/noah-isme/gema-intervention-api/internal/observability"
)

const statusBufferSize = 8

// StatusBroadcaster fans student status changes out to live subscribers.
type StatusBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.StatusResponse]struct{}
}

// NewStatusBroadcaster constructs an empty broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{subscribers: make(map[string]map[chan dto.StatusResponse]struct{})}
}

// Subscribe registers a channel for a student's status changes. The returned
// cleanup closes the channel.
func (b *StatusBroadcaster) Subscribe(studentID string) (<-chan dto.StatusResponse, func()) {
	ch := make(chan dto.StatusResponse, statusBufferSize)

	b.mu.Lock()
	if _, exists := b.subscribers[studentID]; !exists {
		b.subscribers[studentID] = make(map[chan dto.StatusResponse]struct{})
	}
	b.subscribers[studentID][ch] = struct{}{}
	b.mu.Unlock()
	observability.StatusStreamClients().Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subscribers, ok := b.subscribers[studentID]; ok {
				delete(subscribers, ch)
				if len(subscribers) == 0 {
					delete(b.subscribers, studentID)
				}
			}
			close(ch)
			b.mu.Unlock()
			observability.StatusStreamClients().Dec()
		})
	}
}

// Broadcast delivers a status to the student's subscribers, dropping it for slow readers.
func (b *StatusBroadcaster) Broadcast(status dto.StatusResponse) {
	if b == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[status.StudentID] {
		select {
		case ch <- status:
		default:
		}
	}
}
