package sampler

import (
	"sync"

	"github.com/skobkin/rigscope/internal/metrics"
)

type subscriber struct {
	ch     chan []metrics.Sample
	mu     sync.Mutex
	closed bool
}

func newSubscriber(buffer int) *subscriber {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &subscriber{
		ch: make(chan []metrics.Sample, buffer),
	}
}

func (s *subscriber) channel() <-chan []metrics.Sample {
	return s.ch
}

// send delivers a batch and reports whether an older batch had to be
// discarded to make room.
func (s *subscriber) send(batch []metrics.Sample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- batch:
		return false
	default:
		// Drop oldest to make room for new batch.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- batch:
		default:
		}
		return true
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
