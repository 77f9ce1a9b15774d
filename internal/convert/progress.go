package convert

import (
	"errors"
	"math"
	"sync"
	"time"
)

var (
	// ErrAlreadySubscribed is returned when a progress channel already has a listener.
	ErrAlreadySubscribed = errors.New("progress channel already has a subscriber")
	// ErrChannelClosed is returned when subscribing after the job settled.
	ErrChannelClosed = errors.New("progress channel closed")
)

// ProgressEvent is one progress update.
type ProgressEvent struct {
	Percent int       `json:"percent"`
	Time    time.Time `json:"time"`
}

// ProgressChannel delivers a job's progress to at most one listener. Only
// the latest value is retained; percent never decreases; nothing is
// delivered after close.
type ProgressChannel struct {
	deliverMu sync.Mutex

	mu       sync.Mutex
	listener func(ProgressEvent)
	subID    uint64
	latest   ProgressEvent
	has      bool
	closed   bool
}

func newProgressChannel() *ProgressChannel {
	return &ProgressChannel{}
}

// Subscribe registers listener and immediately replays the latest value.
// The listener runs synchronously on the publishing goroutine.
func (c *ProgressChannel) Subscribe(listener func(ProgressEvent)) (unsubscribe func(), err error) {
	if listener == nil {
		return nil, errors.New("nil progress listener")
	}
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	if c.listener != nil {
		c.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	c.subID++
	id := c.subID
	c.listener = listener
	latest, has := c.latest, c.has
	c.mu.Unlock()

	if has {
		listener(latest)
	}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.subID == id {
			c.listener = nil
		}
	}, nil
}

// Latest returns the most recent event, if any.
func (c *ProgressChannel) Latest() (ProgressEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest, c.has
}

// Closed reports whether the job has settled.
func (c *ProgressChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// publish clamps percent to [0,100], holds it at the previous value if it
// would decrease, and delivers it. It returns the delivered percent and
// whether anything changed.
func (c *ProgressChannel) publish(percent int, now time.Time) (int, bool) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, false
	}
	percent = clampPercent(percent)
	if c.has && percent <= c.latest.Percent {
		p := c.latest.Percent
		c.mu.Unlock()
		return p, false
	}
	ev := ProgressEvent{Percent: percent, Time: now}
	c.latest, c.has = ev, true
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		listener(ev)
	}
	return percent, true
}

func (c *ProgressChannel) close() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.listener = nil
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// ratioToPercent converts an engine ratio to integer percent. NaN and
// negative ratios read as 0.
func ratioToPercent(ratio float64) int {
	if math.IsNaN(ratio) || ratio <= 0 {
		return 0
	}
	if ratio >= 1 {
		return 100
	}
	return int(math.Floor(ratio * 100))
}
