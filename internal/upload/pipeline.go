package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/photo-gallery/backend/internal/preview"
	"github.com/samber/lo"
)

// Pipeline manages a batch of upload items from selection to a terminal state.
//
// Items are uploaded one at a time, in the order they were added. All
// methods are safe to call from other goroutines while UploadAll runs, so a
// server can report status or remove pending items mid-batch.
type Pipeline struct {
	mu         sync.Mutex
	transferer Transferer
	opts       Options
	items      []*entry
	issued     map[string]struct{}
	listeners  []listener
	nextSub    int
	running    bool
	closed     bool
}

type entry struct {
	Item
	payload []byte
	preview preview.Handle
	err     error
}

type listener struct {
	id int
	fn func(Event)
}

// NewPipeline creates an empty pipeline that uploads through t.
func NewPipeline(t Transferer, opts ...Option) *Pipeline {
	o := Options{IDFunc: NewItemID}
	for _, opt := range opts {
		opt(&o)
	}
	if o.IDFunc == nil {
		o.IDFunc = NewItemID
	}
	return &Pipeline{
		transferer: t,
		opts:       o,
		issued:     make(map[string]struct{}),
	}
}

// AddFiles appends a Pending item for every acceptable blob. Rejected blobs
// are reported through the returned error, which joins one *RejectedError
// per file; accepted items are returned either way.
func (p *Pipeline) AddFiles(blobs []Blob) ([]Item, error) {
	var errs []error
	prepared := make([]*entry, 0, len(blobs))

	for _, b := range blobs {
		e, err := p.prepare(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		prepared = append(prepared, e)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		for _, e := range prepared {
			e.release()
		}
		return nil, ErrClosed
	}

	accepted := make([]Item, 0, len(prepared))
	events := make([]Event, 0, len(prepared))
	for _, e := range prepared {
		e.ID = p.issueID(e.Name, e.ModTime)
		p.items = append(p.items, e)
		item := e.Item
		accepted = append(accepted, item)
		events = append(events, Event{Type: EventAdded, Item: &item})
	}
	subs := p.subscribers()
	p.mu.Unlock()

	emit(subs, events...)
	return accepted, errors.Join(errs...)
}

// prepare validates a blob and builds its entry outside the lock.
func (p *Pipeline) prepare(b Blob) (*entry, error) {
	size := int64(len(b.Data))
	if p.opts.MaxBytes > 0 && size > p.opts.MaxBytes {
		return nil, &RejectedError{Name: b.Name, Size: size, Limit: p.opts.MaxBytes, Err: ErrPayloadTooLarge}
	}

	mt := mimetype.Detect(b.Data)
	if len(p.opts.AllowedTypes) > 0 && !lo.SomeBy(p.opts.AllowedTypes, mt.Is) {
		return nil, &RejectedError{Name: b.Name, Size: size, ContentType: mt.String(), Err: ErrUnsupportedType}
	}

	e := &entry{
		Item: Item{
			Name:        b.Name,
			Size:        size,
			ContentType: mt.String(),
			ModTime:     b.ModTime,
			Status:      StatusPending,
		},
		payload: b.Data,
	}

	if p.opts.Previews != nil {
		h, err := p.opts.Previews.Create(b.Name, b.Data)
		if err != nil {
			return nil, &RejectedError{Name: b.Name, Size: size, Err: fmt.Errorf("creating preview: %w", err)}
		}
		e.preview = h
		e.PreviewID = h.ID()
	}
	return e, nil
}

// issueID returns an ID never handed out before by this pipeline.
func (p *Pipeline) issueID(name string, modTime time.Time) string {
	base := p.opts.IDFunc(name, modTime)
	id := base
	for n := 1; ; n++ {
		if _, taken := p.issued[id]; !taken {
			break
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
	p.issued[id] = struct{}{}
	return id
}

// RemoveItem drops an item and releases its preview. Items being uploaded
// cannot be removed.
func (p *Pipeline) RemoveItem(id string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}

	idx := p.indexOf(id)
	if idx < 0 {
		p.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}
	e := p.items[idx]
	if e.Status == StatusUploading {
		p.mu.Unlock()
		return fmt.Errorf("remove %s: item is %s: %w", id, e.Status, ErrInvalidState)
	}

	p.items = append(p.items[:idx], p.items[idx+1:]...)
	item := e.Item
	subs := p.subscribers()
	p.mu.Unlock()

	e.release()
	emit(subs, Event{Type: EventRemoved, Item: &item})
	return nil
}

// UploadAll uploads every Pending item in sequence. A failed transfer marks
// its item Error and the run continues with the next item. The returned
// error is non-nil only when the run could not start or ctx was cancelled;
// transfer failures are reported per item.
func (p *Pipeline) UploadAll(ctx context.Context) (Summary, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Summary{}, ErrClosed
	}
	if p.running {
		p.mu.Unlock()
		return Summary{}, fmt.Errorf("upload already running: %w", ErrInvalidState)
	}
	p.running = true
	if p.opts.RetryPolicy == RetryFailed {
		for _, e := range p.items {
			if e.Status == StatusError {
				e.Status = StatusPending
				e.Progress = 0
				e.Error = ""
				e.err = nil
			}
		}
	}
	p.mu.Unlock()

	var sum Summary
	for ctx.Err() == nil {
		e, started := p.startNext(sum.Attempted)
		if e == nil {
			break
		}
		sum.Attempted++
		index, total := started.Index, started.Total

		url, err := p.transferer.Transfer(ctx, Transfer{
			ItemID:      e.ID,
			Name:        e.Name,
			ContentType: e.ContentType,
			Size:        e.Size,
			Body:        bytes.NewReader(e.payload),
		}, func(sent, size int64) {
			p.applyProgress(e, sent, size, index, total)
		})

		if p.finish(e, url, err, index, total) {
			sum.Completed++
		} else {
			sum.Failed++
		}
	}

	// Cleared before finished is emitted so listeners may start the next run.
	p.mu.Lock()
	p.running = false
	subs := p.subscribers()
	p.mu.Unlock()
	final := sum
	emit(subs, Event{Type: EventFinished, Summary: &final, Total: sum.Attempted})

	return sum, ctx.Err()
}

// startNext moves the first Pending item to Uploading.
func (p *Pipeline) startNext(done int) (*entry, Event) {
	p.mu.Lock()
	e, ok := lo.Find(p.items, func(e *entry) bool { return e.Status == StatusPending })
	if !ok {
		p.mu.Unlock()
		return nil, Event{}
	}
	pending := lo.CountBy(p.items, func(e *entry) bool { return e.Status == StatusPending })

	e.Status = StatusUploading
	e.Progress = 0
	e.Attempts++
	item := e.Item
	ev := Event{Type: EventStarted, Item: &item, Index: done + 1, Total: done + pending}
	subs := p.subscribers()
	p.mu.Unlock()

	emit(subs, ev)
	return e, ev
}

// applyProgress records a progress notification. Updates that would not
// increase the percentage are dropped.
func (p *Pipeline) applyProgress(e *entry, sent, size int64, index, total int) {
	if size <= 0 {
		return
	}
	pct := float64(sent) * 100 / float64(size)
	pct = max(0, min(pct, 100))

	p.mu.Lock()
	if e.Status != StatusUploading || pct <= e.Progress {
		p.mu.Unlock()
		return
	}
	e.Progress = pct
	item := e.Item
	subs := p.subscribers()
	p.mu.Unlock()

	emit(subs, Event{Type: EventProgress, Item: &item, Index: index, Total: total})
}

// finish moves an item to its terminal state and reports whether it completed.
func (p *Pipeline) finish(e *entry, url string, err error, index, total int) bool {
	p.mu.Lock()
	var ev Event
	if err != nil {
		e.Status = StatusError
		e.Progress = 0
		e.err = fmt.Errorf("%w: %w", ErrTransferFailed, err)
		e.Error = e.err.Error()
		item := e.Item
		ev = Event{Type: EventFailed, Item: &item, Index: index, Total: total, Err: e.err}
	} else {
		e.Status = StatusCompleted
		e.Progress = 100
		e.URL = url
		e.payload = nil
		item := e.Item
		ev = Event{Type: EventCompleted, Item: &item, Index: index, Total: total}
	}
	subs := p.subscribers()
	p.mu.Unlock()

	emit(subs, ev)
	return err == nil
}

// AllCompleted reports whether every item is Completed. An empty batch counts as completed.
func (p *Pipeline) AllCompleted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo.EveryBy(p.items, func(e *entry) bool { return e.Status == StatusCompleted })
}

// Items returns snapshots of all items in insertion order.
func (p *Pipeline) Items() []Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo.Map(p.items, func(e *entry, _ int) Item { return e.Item })
}

// Item returns a snapshot of one item.
func (p *Pipeline) Item(id string) (Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.indexOf(id)
	if idx < 0 {
		return Item{}, false
	}
	return p.items[idx].Item, true
}

// Err returns the transfer error recorded for an item in Error.
func (p *Pipeline) Err(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return p.items[idx].err
}

// Preview returns the thumbnail of an item's preview handle.
func (p *Pipeline) Preview(id string) ([]byte, error) {
	p.mu.Lock()
	idx := p.indexOf(id)
	if idx < 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("preview %s: %w", id, ErrNotFound)
	}
	h := p.items[idx].preview
	p.mu.Unlock()

	if h == nil {
		return nil, nil
	}
	return h.Thumbnail()
}

// Len returns the number of items in the batch.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Running reports whether UploadAll is in progress.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Subscribe registers fn for pipeline events. The returned function
// unregisters it and may be called any number of times.
func (p *Pipeline) Subscribe(fn func(Event)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.listeners = append(p.listeners, listener{id: id, fn: fn})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.listeners = lo.Reject(p.listeners, func(l listener, _ int) bool { return l.id == id })
			p.mu.Unlock()
		})
	}
}

// Close releases every preview handle and payload. A closed pipeline
// rejects further calls with ErrClosed. Close fails while an upload runs.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("close: upload running: %w", ErrInvalidState)
	}
	p.closed = true
	items := p.items
	p.items = nil
	p.listeners = nil
	p.mu.Unlock()

	for _, e := range items {
		e.release()
	}
	return nil
}

func (p *Pipeline) indexOf(id string) int {
	_, idx, ok := lo.FindIndexOf(p.items, func(e *entry) bool { return e.ID == id })
	if !ok {
		return -1
	}
	return idx
}

func (p *Pipeline) subscribers() []func(Event) {
	return lo.Map(p.listeners, func(l listener, _ int) func(Event) { return l.fn })
}

func (e *entry) release() {
	if e.preview != nil {
		e.preview.Release()
		e.preview = nil
	}
	e.payload = nil
}

func emit(subs []func(Event), events ...Event) {
	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}
