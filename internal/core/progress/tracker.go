// Package progress tracks per-upload state and fans events out to streaming
// subscribers. Jobs live in memory only; a terminal job is kept for a TTL so
// late clients can read the outcome, then evicted.
package progress

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/markdave123-py/ragline/internal/models"
)

// Status values an upload moves through. Transitions follow the fixed order
// received -> extracting -> chunking -> enriching -> indexing -> completed,
// with failed reachable from any non-terminal state.
type Status string

const (
	StatusReceived   Status = "received"
	StatusExtracting Status = "extracting"
	StatusChunking   Status = "chunking"
	StatusEnriching  Status = "enriching"
	StatusIndexing   Status = "indexing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Event is one progress frame delivered to subscribers.
type Event struct {
	UploadID        string               `json:"upload_id"`
	Status          Status               `json:"status"`
	ProgressPercent int                  `json:"progress_percent"`
	CurrentChunk    int                  `json:"current_chunk"`
	TotalChunks     int                  `json:"total_chunks"`
	Message         string               `json:"message"`
	Timestamp       time.Time            `json:"timestamp"`
	Result          *models.IngestResult `json:"result,omitempty"`
	Error           string               `json:"error,omitempty"`
}

// Update carries the fields a pipeline stage may change. Nil pointers leave
// the current value in place; ProgressPercent is recomputed from the chunk
// counters unless set explicitly.
type Update struct {
	Status          Status
	CurrentChunk    *int
	TotalChunks     *int
	ProgressPercent *int
	Message         string
}

// ErrKind classifies tracker failures.
type ErrKind string

const (
	KindUnknown ErrKind = "unknown"
	KindEvicted ErrKind = "evicted"
	KindSlow    ErrKind = "slow"
	KindExists  ErrKind = "exists"
	KindDone    ErrKind = "done"
)

type TrackerError struct {
	Kind ErrKind
	Err  error
}

func (e *TrackerError) Error() string { return fmt.Sprintf("progress: %s: %v", e.Kind, e.Err) }
func (e *TrackerError) Unwrap() error { return e.Err }

// subscriberBuffer bounds each subscriber's queue; overflow drops the
// subscriber rather than blocking the pipeline.
const subscriberBuffer = 16

type subscriber struct {
	ch     chan Event
	closed bool
}

type job struct {
	mu      sync.Mutex
	state   Event
	done    bool
	evicted bool
	subs    map[int]*subscriber
	nextSub int
}

// Tracker is the in-memory upload_id -> job map. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	jobs   map[string]*job
	ttl    time.Duration
	logger *slog.Logger

	// afterFunc is swappable so tests can trigger eviction deterministically.
	afterFunc func(time.Duration, func()) *time.Timer
}

func NewTracker(ttl time.Duration, logger *slog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		jobs:      make(map[string]*job),
		ttl:       ttl,
		logger:    logger,
		afterFunc: time.AfterFunc,
	}
}

// Create registers a new upload in state received.
func (t *Tracker) Create(uploadID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[uploadID]; ok {
		return &TrackerError{Kind: KindExists, Err: fmt.Errorf("upload %s already tracked", uploadID)}
	}
	t.jobs[uploadID] = &job{
		state: Event{
			UploadID:  uploadID,
			Status:    StatusReceived,
			Message:   "upload received",
			Timestamp: time.Now(),
		},
		subs: make(map[int]*subscriber),
	}
	return nil
}

func (t *Tracker) lookup(uploadID string) (*job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[uploadID]
	if !ok {
		return nil, &TrackerError{Kind: KindUnknown, Err: fmt.Errorf("upload %s not tracked", uploadID)}
	}
	return j, nil
}

// Update mutates job state and delivers the event to every subscriber.
// Delivery never blocks: a subscriber whose queue is full is dropped.
func (t *Tracker) Update(uploadID string, upd Update) error {
	j, err := t.lookup(uploadID)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done {
		return &TrackerError{Kind: KindDone, Err: fmt.Errorf("upload %s already finished", uploadID)}
	}

	if upd.Status != "" {
		j.state.Status = upd.Status
	}
	if upd.CurrentChunk != nil {
		j.state.CurrentChunk = *upd.CurrentChunk
	}
	if upd.TotalChunks != nil {
		j.state.TotalChunks = *upd.TotalChunks
	}
	if upd.ProgressPercent != nil {
		j.state.ProgressPercent = *upd.ProgressPercent
	} else if j.state.TotalChunks > 0 {
		j.state.ProgressPercent = j.state.CurrentChunk * 100 / j.state.TotalChunks
	}
	if upd.Message != "" {
		j.state.Message = upd.Message
	} else if j.state.TotalChunks > 0 {
		j.state.Message = fmt.Sprintf("processing chunk %d/%d", j.state.CurrentChunk, j.state.TotalChunks)
	}
	j.state.Timestamp = time.Now()

	t.deliverLocked(uploadID, j)
	return nil
}

// Finish atomically transitions to a terminal state, delivers the final
// event, closes subscriber streams and schedules eviction.
func (t *Tracker) Finish(uploadID string, status Status, result *models.IngestResult, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish with non-terminal status %s", status)
	}
	j, err := t.lookup(uploadID)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done {
		return &TrackerError{Kind: KindDone, Err: fmt.Errorf("upload %s already finished", uploadID)}
	}

	j.state.Status = status
	j.state.Timestamp = time.Now()
	if status == StatusCompleted {
		j.state.ProgressPercent = 100
		j.state.CurrentChunk = j.state.TotalChunks
		j.state.Result = result
		if j.state.Message == "" || result != nil {
			j.state.Message = "processing completed successfully"
		}
	} else {
		j.state.Error = errMsg
		j.state.Message = fmt.Sprintf("processing failed: %s", errMsg)
	}
	j.done = true

	t.deliverLocked(uploadID, j)
	for id, sub := range j.subs {
		if !sub.closed {
			close(sub.ch)
			sub.closed = true
		}
		delete(j.subs, id)
	}

	t.afterFunc(t.ttl, func() { t.evict(uploadID) })
	return nil
}

func (t *Tracker) evict(uploadID string) {
	t.mu.Lock()
	j, ok := t.jobs[uploadID]
	if ok {
		delete(t.jobs, uploadID)
	}
	t.mu.Unlock()
	if ok {
		j.mu.Lock()
		j.evicted = true
		j.mu.Unlock()
		t.logger.Debug("upload evicted", "upload_id", uploadID)
	}
}

// deliverLocked pushes the current state to every subscriber. Caller holds
// j.mu.
func (t *Tracker) deliverLocked(uploadID string, j *job) {
	event := j.state
	for id, sub := range j.subs {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Slow consumer: close it and keep the job moving.
			close(sub.ch)
			sub.closed = true
			delete(j.subs, id)
			t.logger.Warn("dropping slow progress subscriber", "upload_id", uploadID, "subscriber", id)
		}
	}
}

// Subscribe returns a stream of events for the upload. The latest known state
// is replayed first so late subscribers see current progress. The returned
// cancel function detaches the subscriber; the stream channel is closed on
// terminal events, slow-consumer drops and cancellation.
func (t *Tracker) Subscribe(uploadID string) (<-chan Event, func(), error) {
	j, err := t.lookup(uploadID)
	if err != nil {
		return nil, nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.evicted {
		return nil, nil, &TrackerError{Kind: KindEvicted, Err: fmt.Errorf("upload %s evicted", uploadID)}
	}

	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	sub.ch <- j.state

	if j.done {
		// Snapshot carries the terminal event; nothing further will come.
		close(sub.ch)
		sub.closed = true
		return sub.ch, func() {}, nil
	}

	id := j.nextSub
	j.nextSub++
	j.subs[id] = sub

	cancel := func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if s, ok := j.subs[id]; ok && !s.closed {
			close(s.ch)
			s.closed = true
		}
		delete(j.subs, id)
	}
	return sub.ch, cancel, nil
}

// Get returns the latest state for polling clients.
func (t *Tracker) Get(uploadID string) (Event, error) {
	j, err := t.lookup(uploadID)
	if err != nil {
		return Event{}, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state, nil
}
