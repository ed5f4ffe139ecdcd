package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/photo-gallery/backend/internal/preview"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// BatchStatus represents the processing status of a server-side batch.
type BatchStatus string

const (
	BatchStatusIdle      BatchStatus = "idle"
	BatchStatusUploading BatchStatus = "uploading"
	BatchStatusDone      BatchStatus = "done"
)

// ErrBatchNotFound is returned for unknown batch IDs.
var ErrBatchNotFound = errors.New("batch not found")

// Batch is a snapshot of a server-side upload batch.
type Batch struct {
	ID           string      `json:"id"`
	Owner        string      `json:"owner"`
	Status       BatchStatus `json:"status"`
	Items        []Item      `json:"items"`
	AllCompleted bool        `json:"allCompleted"`
	Summary      *Summary    `json:"summary,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty"`
}

type batch struct {
	id          string
	owner       string
	status      BatchStatus
	run         int
	pipeline    *Pipeline
	summary     *Summary
	createdAt   time.Time
	completedAt *time.Time
}

// TransfererFactory returns the storage collaborator used for an owner's uploads.
type TransfererFactory func(owner string) Transferer

// Manager runs upload pipelines on behalf of remote clients.
type Manager struct {
	batches    map[string]*batch
	mu         sync.RWMutex
	transferer TransfererFactory
	previews   *preview.Registry
	opts       []Option
	onFinished func(Batch)
	logger     *zap.Logger
}

// NewManager creates a new batch manager. Every batch pipeline is built
// with opts and shares the manager's preview registry.
func NewManager(factory TransfererFactory, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		batches:    make(map[string]*batch),
		transferer: factory,
		previews:   preview.NewRegistry(preview.DefaultSize),
		opts:       opts,
		logger:     logger.Named("batch"),
	}
}

// CreateBatch starts a new batch for owner with the given files. Rejected
// files are reported through the error, as with Pipeline.AddFiles.
func (m *Manager) CreateBatch(owner string, blobs []Blob) (*Batch, error) {
	opts := append([]Option{WithPreviews(m.previews)}, m.opts...)
	b := &batch{
		id:        uuid.New().String(),
		owner:     owner,
		status:    BatchStatusIdle,
		pipeline:  NewPipeline(m.transferer(owner), opts...),
		createdAt: time.Now(),
	}
	// Registered first so the batch is done before any other subscriber
	// sees the finished event.
	b.pipeline.Subscribe(func(e Event) {
		if e.Type == EventFinished && e.Summary != nil {
			m.mu.Lock()
			m.finish(b, *e.Summary)
			m.mu.Unlock()
		}
	})

	_, err := b.pipeline.AddFiles(blobs)

	m.mu.Lock()
	m.batches[b.id] = b
	view := m.snapshot(b)
	m.mu.Unlock()

	m.logger.Info("batch created",
		zap.String("batch", b.id[:8]),
		zap.String("owner", owner),
		zap.Int("accepted", len(view.Items)),
		zap.Int("rejected", len(Rejections(err))),
	)
	return view, err
}

// OnFinished registers fn to receive every batch whose upload run ended.
// Must be called before the first StartUpload.
func (m *Manager) OnFinished(fn func(Batch)) {
	m.onFinished = fn
}

// GetBatch retrieves a batch snapshot by ID.
func (m *Manager) GetBatch(id string) (*Batch, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, false
	}
	return m.snapshot(b), true
}

// AddFiles appends files to an existing batch.
func (m *Manager) AddFiles(id string, blobs []Blob) ([]Item, error) {
	b, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return b.pipeline.AddFiles(blobs)
}

// RemoveItem removes an item from a batch.
func (m *Manager) RemoveItem(id, itemID string) error {
	b, err := m.lookup(id)
	if err != nil {
		return err
	}
	return b.pipeline.RemoveItem(itemID)
}

// Preview returns the thumbnail of a batch item.
func (m *Manager) Preview(id, itemID string) ([]byte, error) {
	b, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return b.pipeline.Preview(itemID)
}

// Subscribe registers fn for events of one batch.
func (m *Manager) Subscribe(id string, fn func(Event)) (func(), error) {
	b, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return b.pipeline.Subscribe(fn), nil
}

// StartUpload begins async processing of a batch.
func (m *Manager) StartUpload(id string) (*Batch, error) {
	m.mu.Lock()
	b, ok := m.batches[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", id, ErrBatchNotFound)
	}
	if b.status == BatchStatusUploading {
		m.mu.Unlock()
		return nil, fmt.Errorf("batch %s already uploading: %w", id, ErrInvalidState)
	}
	b.status = BatchStatusUploading
	b.run++
	b.completedAt = nil
	run := b.run
	view := m.snapshot(b)
	m.mu.Unlock()

	go m.processBatch(b, run)

	return view, nil
}

// processBatch runs the pipeline to completion.
func (m *Manager) processBatch(b *batch, run int) {
	log := m.logger.With(zap.String("batch", b.id[:8]), zap.String("owner", b.owner))
	log.Info("starting upload", zap.Int("items", b.pipeline.Len()))

	sum, err := b.pipeline.UploadAll(context.Background())
	if err != nil {
		log.Error("upload run aborted", zap.Error(err))
	}

	// Normally a no-op: the finished event already committed this run.
	m.mu.Lock()
	if b.run == run {
		m.finish(b, sum)
	}
	view := m.snapshot(b)
	m.mu.Unlock()

	log.Info("upload complete",
		zap.Int("completed", sum.Completed),
		zap.Int("failed", sum.Failed),
	)
	if m.onFinished != nil {
		m.onFinished(*view)
	}
}

// finish marks an uploading batch done. Must be called with m.mu held.
func (m *Manager) finish(b *batch, sum Summary) {
	if b.status != BatchStatusUploading {
		return
	}
	now := time.Now()
	b.status = BatchStatusDone
	b.summary = &sum
	b.completedAt = &now
}

// Discard drops a batch and releases its previews.
func (m *Manager) Discard(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrBatchNotFound)
	}
	if b.status == BatchStatusUploading {
		return fmt.Errorf("batch %s is uploading: %w", id, ErrInvalidState)
	}
	if err := b.pipeline.Close(); err != nil {
		return err
	}
	delete(m.batches, id)
	return nil
}

// DiscardOwner drops every batch of owner that is not uploading and
// returns how many were removed.
func (m *Manager) DiscardOwner(owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, b := range m.batches {
		if b.owner != owner || b.status == BatchStatusUploading {
			continue
		}
		if err := b.pipeline.Close(); err != nil {
			continue
		}
		delete(m.batches, id)
		n++
	}
	return n
}

// CleanupOldBatches removes finished batches completed before maxAge ago and
// idle batches created before maxAge ago.
func (m *Manager) CleanupOldBatches(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	n := 0
	for id, b := range m.batches {
		var stale bool
		switch b.status {
		case BatchStatusDone:
			stale = b.completedAt != nil && b.completedAt.Before(cutoff)
		case BatchStatusIdle:
			stale = b.createdAt.Before(cutoff)
		}
		if !stale || b.pipeline.Close() != nil {
			continue
		}
		delete(m.batches, id)
		n++
	}
	if n > 0 {
		m.logger.Debug("cleaned up batches", zap.Int("count", n))
	}
	return n
}

// Close releases all batches that are not uploading and the preview registry.
func (m *Manager) Close() {
	m.mu.Lock()
	for id, b := range m.batches {
		if b.status != BatchStatusUploading && b.pipeline.Close() == nil {
			delete(m.batches, id)
		}
	}
	m.mu.Unlock()
	m.previews.Close()
}

func (m *Manager) lookup(id string) (*batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrBatchNotFound)
	}
	return b, nil
}

// snapshot must be called with m.mu held.
func (m *Manager) snapshot(b *batch) *Batch {
	items := b.pipeline.Items()
	return &Batch{
		ID:           b.id,
		Owner:        b.owner,
		Status:       b.status,
		Items:        items,
		AllCompleted: len(items) > 0 && lo.EveryBy(items, func(it Item) bool { return it.Status == StatusCompleted }),
		Summary:      b.summary,
		CreatedAt:    b.createdAt,
		CompletedAt:  b.completedAt,
	}
}
