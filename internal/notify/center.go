// Package notify keeps the transient, dismissable notices shown to users.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level classifies a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a one-shot message about a file or the session.
type Notice struct {
	ID        string    `json:"id" msgpack:"id"`
	Level     Level     `json:"level" msgpack:"level"`
	Title     string    `json:"title" msgpack:"title"`
	Message   string    `json:"message" msgpack:"message"`
	FileID    string    `json:"fileId,omitempty" msgpack:"fileId,omitempty"`
	Global    bool      `json:"global,omitempty" msgpack:"global,omitempty"`
	CreatedAt time.Time `json:"createdAt" msgpack:"createdAt"`
}

const (
	DefaultCapacity = 100
	DefaultTTL      = 5 * time.Minute
)

// Center stores recent notices and fans them out to subscribers.
type Center struct {
	mu       sync.Mutex
	notices  []Notice
	capacity int
	ttl      time.Duration
	subs     map[int]chan Notice
	nextSub  int
	now      func() time.Time
}

// NewCenter creates a notice center. Zero values select the defaults.
func NewCenter(capacity int, ttl time.Duration) *Center {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Center{
		capacity: capacity,
		ttl:      ttl,
		subs:     make(map[int]chan Notice),
		now:      time.Now,
	}
}

// Publish records a notice and delivers it to subscribers.
// Subscribers that are not keeping up miss the notice.
func (c *Center) Publish(n Notice) Notice {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = c.now()
	}
	if n.Level == "" {
		n.Level = LevelInfo
	}

	c.notices = append(c.notices, n)
	if len(c.notices) > c.capacity {
		c.notices = append([]Notice(nil), c.notices[len(c.notices)-c.capacity:]...)
	}

	for _, ch := range c.subs {
		select {
		case ch <- n:
		default:
		}
	}
	return n
}

// Info publishes an informational notice.
func (c *Center) Info(title, message, fileID string) Notice {
	return c.Publish(Notice{Level: LevelInfo, Title: title, Message: message, FileID: fileID})
}

// Success publishes a success notice.
func (c *Center) Success(title, message, fileID string) Notice {
	return c.Publish(Notice{Level: LevelSuccess, Title: title, Message: message, FileID: fileID})
}

// Warn publishes a warning notice.
func (c *Center) Warn(title, message, fileID string) Notice {
	return c.Publish(Notice{Level: LevelWarning, Title: title, Message: message, FileID: fileID})
}

// Error publishes an error notice.
func (c *Center) Error(title, message, fileID string) Notice {
	return c.Publish(Notice{Level: LevelError, Title: title, Message: message, FileID: fileID})
}

// Active returns the notices that have not expired or been dismissed, oldest first.
func (c *Center) Active() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked()
	out := make([]Notice, len(c.notices))
	copy(out, c.notices)
	return out
}

// Dismiss removes a notice. It reports whether the notice existed.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, n := range c.notices {
		if n.ID == id {
			c.notices = append(c.notices[:i], c.notices[i+1:]...)
			return true
		}
	}
	return false
}

// Subscribe returns a channel of new notices and a function that ends the subscription.
func (c *Center) Subscribe() (<-chan Notice, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Notice, 32)
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

func (c *Center) expireLocked() {
	cutoff := c.now().Add(-c.ttl)
	kept := c.notices[:0]
	for _, n := range c.notices {
		if n.CreatedAt.After(cutoff) {
			kept = append(kept, n)
		}
	}
	c.notices = kept
}
