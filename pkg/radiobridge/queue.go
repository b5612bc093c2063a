package radiobridge

import (
	"context"
	"sync"
	"time"
)

// FrameQueue is an unbounded FIFO of frames shared by one producer and one consumer loop.
type FrameQueue struct {
	mu     sync.Mutex
	frames [][]byte
	ready  chan struct{}
}

func NewFrameQueue() *FrameQueue {
	return &FrameQueue{ready: make(chan struct{}, 1)}
}

// PushBack appends a frame.
func (q *FrameQueue) PushBack(frame []byte) {
	q.mu.Lock()
	q.frames = append(q.frames, frame)
	q.mu.Unlock()
	q.signal()
}

// PushFront returns a frame that was popped but could not be delivered to the head of the queue.
func (q *FrameQueue) PushFront(frame []byte) {
	q.mu.Lock()
	q.frames = append([][]byte{frame}, q.frames...)
	q.mu.Unlock()
	q.signal()
}

// PopFront removes and returns the oldest frame.
func (q *FrameQueue) PopFront() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return nil, false
	}
	frame := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return frame, true
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Wait blocks until the queue is non-empty, maxWait passes or ctx is done.
// It reports whether frames are queued.
func (q *FrameQueue) Wait(ctx context.Context, maxWait time.Duration) bool {
	if q.Len() > 0 {
		return true
	}
	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-q.ready:
	}
	return q.Len() > 0
}

func (q *FrameQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
