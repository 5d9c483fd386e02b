package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/csisgpt/arbwatch/internal/observability"
	"github.com/csisgpt/arbwatch/internal/queue"
	"github.com/csisgpt/arbwatch/internal/telegram"
)

// Digest buffers notifications for recipients who opted into batching.
// Recipients with configured digest times get their buffer flushed when a
// scheduled minute-of-day passes; everyone else flushes on the global
// interval tick.
type Digest struct {
	queue    *queue.Queue
	interval time.Duration

	mu        sync.Mutex
	buffers   map[int64][]string
	schedules map[int64][]int
	lastTick  time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

const defaultDigestInterval = time.Minute

// NewDigest constructs a digest buffer that enqueues through q.
func NewDigest(q *queue.Queue, interval time.Duration) *Digest {
	if interval <= 0 {
		interval = defaultDigestInterval
	}
	return &Digest{
		queue:     q,
		interval:  interval,
		mu:        sync.Mutex{},
		buffers:   make(map[int64][]string),
		schedules: make(map[int64][]int),
		lastTick:  time.Time{},
		cancel:    nil,
		done:      nil,
	}
}

// Add buffers one rendered notification for the recipient. times carries the
// recipient's scheduled flush minutes-of-day (UTC); empty means "flush on the
// global interval".
func (d *Digest) Add(chatID int64, text string, times []int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffers[chatID] = append(d.buffers[chatID], text)
	d.schedules[chatID] = append([]int(nil), times...)
	observability.Telemetry().IncCounter(observability.MetricNotifyBuffered, 1, nil)
}

// Flush drains every buffer unconditionally, scheduled or not. Used on
// shutdown and by callers that need the buffers emptied now.
func (d *Digest) Flush(ctx context.Context) {
	d.mu.Lock()
	drained := d.buffers
	d.buffers = make(map[int64][]string)
	d.mu.Unlock()
	d.enqueue(ctx, drained)
}

// flushDue drains the buffers whose recipients are due at now: those without
// scheduled times, and those for whom a scheduled minute-of-day has passed
// since the previous tick.
func (d *Digest) flushDue(ctx context.Context, now time.Time) {
	d.mu.Lock()
	prev := d.lastTick
	d.lastTick = now
	due := make(map[int64][]string)
	for chatID, entries := range d.buffers {
		times := d.schedules[chatID]
		if len(times) == 0 || scheduleDue(times, prev, now) {
			due[chatID] = entries
			delete(d.buffers, chatID)
		}
	}
	d.mu.Unlock()
	d.enqueue(ctx, due)
}

// scheduleDue reports whether any scheduled minute-of-day falls in the
// half-open window (prev, now]. The window may wrap midnight when a tick
// straddles it.
func scheduleDue(times []int, prev, now time.Time) bool {
	if !now.After(prev) {
		return false
	}
	if now.Sub(prev) >= 24*time.Hour {
		return true
	}
	prevMinute := prev.UTC().Hour()*60 + prev.UTC().Minute()
	nowMinute := now.UTC().Hour()*60 + now.UTC().Minute()
	for _, t := range times {
		if t < 0 || t >= 24*60 {
			continue
		}
		if prevMinute <= nowMinute {
			if t > prevMinute && t <= nowMinute {
				return true
			}
		} else if t > prevMinute || t <= nowMinute {
			return true
		}
	}
	return false
}

func (d *Digest) enqueue(ctx context.Context, drained map[int64][]string) {
	for chatID, entries := range drained {
		if len(entries) == 0 {
			continue
		}
		job := SendJob{
			DeliveryID: "",
			ChatID:     chatID,
			Text:       "Digest\n\n" + strings.Join(entries, "\n\n"),
			Format:     telegram.FormatOptions{},
		}
		if _, err := d.queue.Enqueue(ctx, JobSendMessage, job); err != nil {
			observability.Log().Error("digest enqueue failed",
				observability.F("chat_id", chatID),
				observability.F("entries", len(entries)),
				observability.F("error", err.Error()))
		}
	}
}

// Start launches the periodic flush loop.
func (d *Digest) Start() {
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mu.Lock()
	d.lastTick = time.Now()
	d.mu.Unlock()
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				d.flushDue(ctx, now)
			}
		}
	}()
}

// Stop halts the flush loop and performs a final synchronous flush.
func (d *Digest) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.cancel = nil
	d.Flush(context.Background())
}
