package transport

import (
	"time"

	"github.com/oklog/ulid/v2"

	"guru-chat/models"
)

// Entry is a queued frame and the id it was filed under.
type Entry struct {
	ID         ulid.ULID
	Frame      models.Frame
	EnqueuedAt time.Time
}

// Queue holds frames submitted while the socket is down, oldest first.
// It is not safe for concurrent use; Connection guards it with its own mutex.
type Queue struct {
	items []Entry
}

// Push appends f and returns its queue entry id.
func (q *Queue) Push(f models.Frame) ulid.ULID {
	id := ulid.Make()
	q.items = append(q.items, Entry{ID: id, Frame: f, EnqueuedAt: time.Now()})
	return id
}

func (q *Queue) Len() int {
	return len(q.items)
}

// Clear empties the queue and returns how many frames were discarded.
func (q *Queue) Clear() int {
	n := len(q.items)
	q.items = nil
	return n
}

// Head returns the oldest entry.
func (q *Queue) Head() (Entry, bool) {
	if len(q.items) == 0 {
		return Entry{}, false
	}
	return q.items[0], true
}

// Remove takes out every entry match accepts and returns them in queue order.
func (q *Queue) Remove(match func(models.Frame) bool) []Entry {
	var removed []Entry
	kept := q.items[:0]
	for _, it := range q.items {
		if match(it.Frame) {
			removed = append(removed, it)
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = Entry{}
	}
	q.items = kept
	return removed
}

// Drain hands frames to send in FIFO order. It stops at the first error and keeps the
// failed frame at the head so the next drain retries it before anything newer.
func (q *Queue) Drain(send func(models.Frame) error) (int, error) {
	sent := 0
	for len(q.items) > 0 {
		if err := send(q.items[0].Frame); err != nil {
			return sent, err
		}
		q.items[0] = Entry{}
		q.items = q.items[1:]
		sent++
	}
	q.items = nil
	return sent, nil
}

// OldestAge reports how long the head of the queue has been waiting.
func (q *Queue) OldestAge() time.Duration {
	if len(q.items) == 0 {
		return 0
	}
	return time.Since(q.items[0].EnqueuedAt)
}
