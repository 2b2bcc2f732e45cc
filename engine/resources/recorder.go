// Package resources adapts a bounded LRU cache plus a buffered
// background writer into the staging area backing a distribution
// session's stream recording feature: recent events are kept in memory
// for cheap "replay since" queries, while every event is durably
// appended to a JSON-lines file in the background.
package resources

import (
	"bufio"
	"container/list"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// Event is one recorded line: `{event, timestamp, source, payload}` per
// the JSON-lines recording format.
type Event struct {
	Event     string `json:"event"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
	Payload   any    `json:"payload"`
}

// Config controls a Recorder's in-memory cache size and background
// flush behavior.
type Config struct {
	CacheCapacity   int
	FlushInterval   time.Duration
	BufferThreshold int
}

// Recorder appends events to a JSON-lines file in the background while
// keeping the most recent CacheCapacity events in memory for replay.
type Recorder struct {
	cfg Config

	mu    sync.Mutex
	lru   *list.List
	cache map[int]*list.Element // index into recent events, by monotonic seq

	seq int

	file *os.File

	eventCh chan Event
	wg      sync.WaitGroup
	closed  bool
}

type cacheEntry struct {
	seq int
	ev  Event
}

// NewRecorder opens (creating if needed) path for append and starts the
// background flush loop. Closing path is the caller's responsibility via
// Stop.
func NewRecorder(path string, cfg Config) (*Recorder, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open recording file: %w", err)
	}
	r := &Recorder{
		cfg:     cfg,
		lru:     list.New(),
		cache:   make(map[int]*list.Element),
		file:    file,
		eventCh: make(chan Event, 1024),
	}
	r.wg.Add(1)
	go r.flushLoop()
	return r, nil
}

// Record enqueues ev for background persistence and keeps a copy in the
// in-memory replay cache. Non-blocking: if the background writer has
// fallen behind, the event is dropped from durable recording (mirroring
// how a degraded distributor sheds load rather than blocking the
// producer) but is still retained in the in-memory cache.
func (r *Recorder) Record(ev Event) {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	element := r.lru.PushFront(&cacheEntry{seq: seq, ev: ev})
	r.cache[seq] = element
	if r.cfg.CacheCapacity > 0 {
		for len(r.cache) > r.cfg.CacheCapacity {
			back := r.lru.Back()
			if back == nil {
				break
			}
			entry := back.Value.(*cacheEntry)
			delete(r.cache, entry.seq)
			r.lru.Remove(back)
		}
	}
	r.mu.Unlock()

	select {
	case r.eventCh <- ev:
	default:
	}
}

// Since returns every cached event with Timestamp > sinceMicros, oldest
// timestamp first, capped at the newest limit events (0 means unlimited).
func (r *Recorder) Since(sinceMicros int64, limit int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, r.lru.Len())
	for e := r.lru.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*cacheEntry)
		if entry.ev.Timestamp > sinceMicros {
			out = append(out, entry.ev)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Stop drains and flushes the background writer, then closes the file.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.eventCh)
	r.wg.Wait()
	return r.file.Close()
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()
	interval := r.cfg.FlushInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	threshold := r.cfg.BufferThreshold
	if threshold <= 0 {
		threshold = 64
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	writer := bufio.NewWriter(r.file)
	buffered := 0
	flush := func() {
		if buffered == 0 {
			return
		}
		_ = writer.Flush()
		buffered = 0
	}
	write := func(ev Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		data = append(data, '\n')
		if _, err := writer.Write(data); err != nil {
			return
		}
		buffered++
		if buffered >= threshold {
			flush()
		}
	}

	for {
		select {
		case ev, ok := <-r.eventCh:
			if !ok {
				flush()
				return
			}
			write(ev)
		case <-ticker.C:
			flush()
		}
	}
}
