package host

import (
	"sync"
)

// Buffer is an in-memory EntrySurface. Subscribers are notified synchronously
// after every change, outside the buffer lock.
type Buffer struct {
	mu     sync.Mutex
	text   string
	nextID int
	subs   map[int]func()
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{subs: make(map[int]func())}
}

// Text returns the current content.
func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// Set replaces the content and notifies subscribers.
func (b *Buffer) Set(text string) {
	b.mu.Lock()
	b.text = text
	b.mu.Unlock()
	b.notify()
}

// Clear empties the content and notifies subscribers.
func (b *Buffer) Clear() {
	b.Set("")
}

// Subscribe implements EntrySurface.
func (b *Buffer) Subscribe(fn func()) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[id] = fn
	return &bufferSub{buf: b, id: id}
}

// Subscribers returns the number of live subscriptions.
func (b *Buffer) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Buffer) notify() {
	b.mu.Lock()
	fns := make([]func(), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type bufferSub struct {
	buf  *Buffer
	id   int
	once sync.Once
}

func (s *bufferSub) Unsubscribe() {
	s.once.Do(func() {
		s.buf.mu.Lock()
		delete(s.buf.subs, s.id)
		s.buf.mu.Unlock()
	})
}
