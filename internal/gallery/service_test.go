package gallery

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/photo-gallery/backend/internal/cache"
	"github.com/photo-gallery/backend/internal/events"
	"github.com/photo-gallery/backend/internal/models"
	"github.com/photo-gallery/backend/internal/records"
	"github.com/photo-gallery/backend/internal/storage"
	"github.com/photo-gallery/backend/internal/testutil"
	"github.com/photo-gallery/backend/internal/upload"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fixture struct {
	svc     *Service
	objects *testutil.MockObjectStore
	recs    *records.MemoryStore
	cache   *cache.Memory
	events  *testutil.RecordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		objects: testutil.NewMockObjectStore(),
		recs:    records.NewMemoryStore(),
		cache:   cache.NewMemory(),
		events:  &testutil.RecordingPublisher{},
	}
	f.svc = NewService(f.objects, f.recs,
		WithListingCache(f.cache, time.Minute),
		WithEvents(f.events),
		WithURLTTL(10*time.Minute),
		WithLogger(zaptest.NewLogger(t)),
	)
	return f
}

func (f *fixture) upload(t *testing.T, owner, name string, data []byte) {
	t.Helper()
	_, err := f.svc.Upload(context.Background(), owner, name, bytes.NewReader(data), int64(len(data)), "", nil)
	require.NoError(t, err)
}

func TestUploadThenList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var last [2]int64
	img, err := f.svc.Upload(ctx, "u1", "cat.png", bytes.NewReader(pngHeader), int64(len(pngHeader)), "",
		func(sent, total int64) { last = [2]int64{sent, total} })
	require.NoError(t, err)

	assert.NotEmpty(t, img.ID)
	assert.Equal(t, "u1/cat.png", img.Key)
	assert.Equal(t, "image/png", img.ContentType)
	assert.True(t, strings.HasPrefix(img.URL, "https://objects.test/u1/cat.png"))
	assert.Equal(t, [2]int64{int64(len(pngHeader)), int64(len(pngHeader))}, last)

	stored, ok := f.objects.Data("u1/cat.png")
	require.True(t, ok)
	assert.Equal(t, pngHeader, stored)

	list, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "cat.png", list[0].Name)
	assert.Contains(t, list[0].URL, "ttl=10m0s")

	other, err := f.svc.List(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)

	assert.Equal(t, []events.Type{events.ImageUploaded}, f.events.Types())
	assert.Equal(t, "mock", f.svc.StorageName())
}

func TestUploadReplacesExistingName(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "u1", "a.png", pngHeader)
	f.upload(t, "u1", "a.png", append(append([]byte{}, pngHeader...), 0, 0, 0))

	list, err := f.svc.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(len(pngHeader)+3), list[0].Size)
	assert.Equal(t, 1, f.objects.Len())
}

func TestListUsesCacheUntilInvalidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upload(t, "u1", "a.png", pngHeader)

	first, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	second, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first[0].URL, second[0].URL, "second listing should come from the cache")

	f.upload(t, "u1", "b.png", pngHeader)
	third, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, third, 2)
	assert.NotEqual(t, first[0].URL, third[len(third)-1].URL)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upload(t, "u1", "a.png", pngHeader)
	_, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, "u1", "a.png"))
	assert.Zero(t, f.objects.Len())

	list, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	err = f.svc.Delete(ctx, "u1", "a.png")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []events.Type{events.ImageUploaded, events.ImageDeleted}, f.events.Types())
}

func TestDeleteOrphanedObject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.objects.Put(ctx, "u1/orphan.png", bytes.NewReader(pngHeader), int64(len(pngHeader)), "", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, "u1", "orphan.png"))
	assert.Zero(t, f.objects.Len())
}

func TestListIncludesUnrecordedObjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upload(t, "u1", "a.png", pngHeader)
	_, err := f.objects.Put(ctx, "u1/synced.png", bytes.NewReader(pngHeader), int64(len(pngHeader)), "", nil)
	require.NoError(t, err)
	_, err = f.objects.Put(ctx, "u10/other.png", bytes.NewReader(pngHeader), int64(len(pngHeader)), "", nil)
	require.NoError(t, err)

	list, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	byName := lo.KeyBy(list, func(img models.Image) string { return img.Name })
	require.Contains(t, byName, "synced.png")
	synced := byName["synced.png"]
	assert.Empty(t, synced.ID)
	assert.Equal(t, "u1", synced.Owner)
	assert.Equal(t, "u1/synced.png", synced.Key)
	assert.Equal(t, int64(len(pngHeader)), synced.Size)
	assert.Equal(t, "image/png", synced.ContentType)
	assert.Contains(t, synced.URL, "u1/synced.png?ttl=10m0s")
	assert.NotEmpty(t, byName["a.png"].ID)
}

func TestListSkipsRecordsWithoutObjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upload(t, "u1", "a.png", pngHeader)
	_, err := f.recs.Insert(ctx, &models.Image{Owner: "u1", Name: "gone.png", Key: "u1/gone.png", Size: 3})
	require.NoError(t, err)

	list, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a.png", list[0].Name)
}

// flakyRecords fails the operations whose error is set.
type flakyRecords struct {
	*records.MemoryStore
	insertErr error
	deleteErr error
}

func (r *flakyRecords) Insert(ctx context.Context, img *models.Image) (string, error) {
	if r.insertErr != nil {
		return "", r.insertErr
	}
	return r.MemoryStore.Insert(ctx, img)
}

func (r *flakyRecords) Delete(ctx context.Context, id string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	return r.MemoryStore.Delete(ctx, id)
}

func TestUploadRemovesObjectWhenRecordFails(t *testing.T) {
	objects := testutil.NewMockObjectStore()
	recs := &flakyRecords{MemoryStore: records.NewMemoryStore(), insertErr: errors.New("database is locked")}
	pub := &testutil.RecordingPublisher{}
	svc := NewService(objects, recs, WithEvents(pub), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()

	_, err := svc.Upload(ctx, "u1", "a.png", bytes.NewReader(pngHeader), int64(len(pngHeader)), "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Zero(t, objects.Len(), "object must not outlive a failed record")
	assert.Empty(t, pub.Events())

	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeleteRecordFailureStillHidesImage(t *testing.T) {
	objects := testutil.NewMockObjectStore()
	recs := &flakyRecords{MemoryStore: records.NewMemoryStore()}
	svc := NewService(objects, recs, WithListingCache(cache.NewMemory(), time.Minute))
	ctx := context.Background()

	_, err := svc.Upload(ctx, "u1", "a.png", bytes.NewReader(pngHeader), int64(len(pngHeader)), "", nil)
	require.NoError(t, err)
	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	recs.deleteErr = errors.New("connection reset")
	err = svc.Delete(ctx, "u1", "a.png")
	require.Error(t, err)
	assert.Zero(t, objects.Len())

	list, err = svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list, "cached listing must be invalidated")

	recs.deleteErr = nil
	require.NoError(t, svc.Delete(ctx, "u1", "a.png"), "a second delete clears the stale record")
	left, err := recs.List(ctx, records.Filter{Owner: "u1"})
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestDeleteByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img, err := f.svc.Upload(ctx, "u1", "a.png", bytes.NewReader(pngHeader), int64(len(pngHeader)), "", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteByID(ctx, "u2", img.ID), ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteByID(ctx, "u1", "missing"), ErrNotFound)

	require.NoError(t, f.svc.DeleteByID(ctx, "u1", img.ID))
	_, err = f.recs.Get(ctx, img.ID)
	assert.ErrorIs(t, err, records.ErrNotFound)
}

func TestInvalidNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, tc := range []struct{ owner, name string }{
		{"", "a.png"},
		{"u1", ""},
		{"u1", "../a.png"},
		{"u1/x", "a.png"},
		{"u1", ".."},
		{"u1", `a\b.png`},
	} {
		_, err := f.svc.Upload(ctx, tc.owner, tc.name, bytes.NewReader(pngHeader), 1, "", nil)
		assert.ErrorIs(t, err, ErrInvalidName, "%q/%q", tc.owner, tc.name)
		assert.ErrorIs(t, f.svc.Delete(ctx, tc.owner, tc.name), ErrInvalidName)
	}
	_, err := f.svc.List(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Zero(t, f.objects.Len())
}

func TestTransferer(t *testing.T) {
	f := newFixture(t)
	f.objects.PutErr = testutil.FailKeys("u1/bad.png")
	tr := f.svc.Transferer("u1")
	ctx := context.Background()

	url, err := tr.Transfer(ctx, upload.Transfer{
		Name: "good.png", Size: int64(len(pngHeader)), Body: bytes.NewReader(pngHeader),
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, url, "u1/good.png")

	_, err = tr.Transfer(ctx, upload.Transfer{
		Name: "bad.png", Size: int64(len(pngHeader)), Body: bytes.NewReader(pngHeader),
	}, nil)
	require.Error(t, err)

	evs := f.events.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, events.ImageUploaded, evs[0].Type)
	assert.Equal(t, events.UploadFailed, evs[1].Type)
	assert.Equal(t, "bad.png", evs[1].Name)
	assert.Contains(t, evs[1].Error, "storage unavailable")
}

func TestTransfererDrivesPipeline(t *testing.T) {
	f := newFixture(t)
	p := upload.NewPipeline(f.svc.Transferer("u1"))
	defer p.Close()

	_, err := p.AddFiles([]upload.Blob{
		{Name: "a.png", ModTime: time.Now(), Data: pngHeader},
		{Name: "b.png", ModTime: time.Now(), Data: pngHeader},
	})
	require.NoError(t, err)

	sum, err := p.UploadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, upload.Summary{Attempted: 2, Completed: 2}, sum)
	assert.True(t, p.AllCompleted())

	list, err := f.svc.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestBatchFinished(t *testing.T) {
	f := newFixture(t)
	f.svc.BatchFinished(context.Background(), "u1", "b1", upload.Summary{Attempted: 3, Completed: 2, Failed: 1})

	evs := f.events.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.BatchFinished, evs[0].Type)
	assert.Equal(t, "b1", evs[0].BatchID)
	assert.Equal(t, 2, evs[0].Completed)
	assert.Equal(t, 1, evs[0].Failed)
	assert.False(t, evs[0].Time.IsZero())
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.Event) error { return errors.New("broker down") }
func (failingPublisher) Close() error                                { return nil }

func TestPublishFailureDoesNotFailUpload(t *testing.T) {
	objects := testutil.NewMockObjectStore()
	svc := NewService(objects, records.NewMemoryStore(), WithEvents(failingPublisher{}))

	_, err := svc.Upload(context.Background(), "u1", "a.png", bytes.NewReader(pngHeader), int64(len(pngHeader)), "", nil)
	require.NoError(t, err)
}

func TestUploadWithLocalStore(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir(), "http://localhost:5000")
	require.NoError(t, err)
	svc := NewService(store, records.NewMemoryStore())

	img, err := svc.Upload(context.Background(), "u1", "a b.png", bytes.NewReader(pngHeader), int64(len(pngHeader)), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000/media/u1/a%20b.png", img.URL)
}
