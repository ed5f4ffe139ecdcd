package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/photo-gallery/backend/internal/preview"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransferer reads each payload in steps, reporting progress, and fails
// for the names listed in fail.
type fakeTransferer struct {
	mu    sync.Mutex
	fail  map[string]bool
	steps int
	seen  []string
	// during runs inside Transfer, after the first progress report.
	during func(t Transfer)
}

func (f *fakeTransferer) Transfer(ctx context.Context, t Transfer, progress ProgressFunc) (string, error) {
	f.mu.Lock()
	f.seen = append(f.seen, t.Name)
	fail := f.fail[t.Name]
	steps := f.steps
	during := f.during
	f.mu.Unlock()

	data, err := io.ReadAll(t.Body)
	if err != nil {
		return "", err
	}
	if steps <= 0 {
		steps = 4
	}
	total := int64(len(data))
	for i := 1; i <= steps; i++ {
		progress(total*int64(i)/int64(steps), total)
		if i == 1 && during != nil {
			during(t)
		}
	}
	if fail {
		return "", errors.New("connection reset")
	}
	return "https://cdn.example.com/" + t.Name, nil
}

func blob(name string, size int) Blob {
	return Blob{Name: name, ModTime: time.Unix(1700000000, 0), Data: bytes.Repeat([]byte("x"), size)}
}

func statuses(items []Item) []Status {
	out := make([]Status, len(items))
	for i, it := range items {
		out[i] = it.Status
	}
	return out
}

func TestPipeline_AddFiles(t *testing.T) {
	t.Run("rejects oversize file", func(t *testing.T) {
		const mb = 1 << 20
		p := NewPipeline(&fakeTransferer{}, WithMaxBytes(10*mb))

		items, err := p.AddFiles([]Blob{blob("a.jpg", mb), blob("big.jpg", 12*mb), blob("c.jpg", 2*mb)})

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPayloadTooLarge)
		assert.Len(t, items, 2)
		assert.Equal(t, 2, p.Len())

		rej := Rejections(err)
		require.Len(t, rej, 1)
		assert.Equal(t, "big.jpg", rej[0].Name)
		assert.Equal(t, int64(12*mb), rej[0].Size)
		assert.Equal(t, int64(10*mb), rej[0].Limit)
	})

	t.Run("ids are unique across calls", func(t *testing.T) {
		p := NewPipeline(&fakeTransferer{}, WithIDFunc(func(string, time.Time) string { return "same" }))
		seen := map[string]bool{}
		for i := 0; i < 5; i++ {
			items, err := p.AddFiles([]Blob{blob("a.jpg", 1), blob("a.jpg", 1)})
			require.NoError(t, err)
			for _, it := range items {
				assert.False(t, seen[it.ID], "duplicate id %s", it.ID)
				seen[it.ID] = true
			}
		}
		assert.Equal(t, 10, p.Len())
	})

	t.Run("ids stay unique after removal", func(t *testing.T) {
		p := NewPipeline(&fakeTransferer{}, WithIDFunc(func(string, time.Time) string { return "same" }))
		first, err := p.AddFiles([]Blob{blob("a.jpg", 1)})
		require.NoError(t, err)
		require.NoError(t, p.RemoveItem(first[0].ID))

		second, err := p.AddFiles([]Blob{blob("a.jpg", 1)})
		require.NoError(t, err)
		assert.NotEqual(t, first[0].ID, second[0].ID)
	})

	t.Run("new items are pending with zero progress", func(t *testing.T) {
		p := NewPipeline(&fakeTransferer{})
		items, err := p.AddFiles([]Blob{blob("Holiday Photo.JPG", 3)})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, StatusPending, items[0].Status)
		assert.Zero(t, items[0].Progress)
		assert.Equal(t, int64(3), items[0].Size)
		assert.Regexp(t, `^holiday-photo-jpg-[0-9a-z]+-[0-9a-f]{8}$`, items[0].ID)
	})

	t.Run("rejects disallowed content type", func(t *testing.T) {
		p := NewPipeline(&fakeTransferer{}, WithAllowedTypes("image/png", "image/jpeg"))

		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))

		items, err := p.AddFiles([]Blob{
			{Name: "ok.png", Data: buf.Bytes()},
			{Name: "notes.txt", Data: []byte("plain text")},
		})
		assert.ErrorIs(t, err, ErrUnsupportedType)
		require.Len(t, items, 1)
		assert.Equal(t, "image/png", items[0].ContentType)
	})
}

func TestPipeline_RemoveItem(t *testing.T) {
	t.Run("removes pending item and releases preview", func(t *testing.T) {
		reg := preview.NewRegistry(16)
		p := NewPipeline(&fakeTransferer{}, WithPreviews(reg))
		items, err := p.AddFiles([]Blob{blob("a.jpg", 1), blob("b.jpg", 1), blob("c.jpg", 1)})
		require.NoError(t, err)
		require.Equal(t, 3, reg.Len())

		require.NoError(t, p.RemoveItem(items[1].ID))

		assert.Equal(t, 2, p.Len())
		assert.Equal(t, 2, reg.Len())
		_, ok := reg.Get(items[1].PreviewID)
		assert.False(t, ok)

		left := p.Items()
		assert.Equal(t, items[0].ID, left[0].ID)
		assert.Equal(t, items[2].ID, left[1].ID)
	})

	t.Run("unknown id", func(t *testing.T) {
		p := NewPipeline(&fakeTransferer{})
		assert.ErrorIs(t, p.RemoveItem("missing"), ErrNotFound)
	})

	t.Run("uploading item cannot be removed", func(t *testing.T) {
		ft := &fakeTransferer{}
		p := NewPipeline(ft)
		items, err := p.AddFiles([]Blob{blob("a.jpg", 8), blob("b.jpg", 8)})
		require.NoError(t, err)

		var removeErr error
		var during []Item
		ft.during = func(tr Transfer) {
			if tr.ItemID == items[0].ID {
				removeErr = p.RemoveItem(tr.ItemID)
				during = p.Items()
			}
		}

		_, err = p.UploadAll(context.Background())
		require.NoError(t, err)

		assert.ErrorIs(t, removeErr, ErrInvalidState)
		require.Len(t, during, 2)
		assert.Equal(t, StatusUploading, during[0].Status)
		assert.Equal(t, 2, p.Len())
	})

	t.Run("pending item removed mid-batch is skipped", func(t *testing.T) {
		ft := &fakeTransferer{}
		p := NewPipeline(ft)
		items, err := p.AddFiles([]Blob{blob("a.jpg", 8), blob("b.jpg", 8), blob("c.jpg", 8)})
		require.NoError(t, err)

		ft.during = func(tr Transfer) {
			if tr.ItemID == items[0].ID {
				require.NoError(t, p.RemoveItem(items[1].ID))
			}
		}

		sum, err := p.UploadAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Summary{Attempted: 2, Completed: 2}, sum)
		assert.Equal(t, []string{"a.jpg", "c.jpg"}, ft.seen)
	})
}

func TestPipeline_UploadAll(t *testing.T) {
	t.Run("second transfer fails", func(t *testing.T) {
		p := NewPipeline(&fakeTransferer{fail: map[string]bool{"b.jpg": true}})
		_, err := p.AddFiles([]Blob{blob("a.jpg", 10), blob("b.jpg", 10)})
		require.NoError(t, err)

		sum, err := p.UploadAll(context.Background())
		require.NoError(t, err)

		items := p.Items()
		assert.Equal(t, []Status{StatusCompleted, StatusError}, statuses(items))
		assert.Equal(t, 100.0, items[0].Progress)
		assert.Equal(t, "https://cdn.example.com/a.jpg", items[0].URL)
		assert.Zero(t, items[1].Progress)
		assert.Contains(t, items[1].Error, "connection reset")
		assert.ErrorIs(t, p.Err(items[1].ID), ErrTransferFailed)
		assert.False(t, p.AllCompleted())
		assert.Equal(t, Summary{Attempted: 2, Completed: 1, Failed: 1}, sum)
	})

	t.Run("failure does not abort the batch", func(t *testing.T) {
		ft := &fakeTransferer{fail: map[string]bool{"a.jpg": true}}
		p := NewPipeline(ft)
		_, err := p.AddFiles([]Blob{blob("a.jpg", 1), blob("b.jpg", 1), blob("c.jpg", 1)})
		require.NoError(t, err)

		_, err = p.UploadAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, ft.seen)
		assert.Equal(t, []Status{StatusError, StatusCompleted, StatusCompleted}, statuses(p.Items()))
	})

	t.Run("every item terminal afterwards", func(t *testing.T) {
		p := NewPipeline(&fakeTransferer{fail: map[string]bool{"b.jpg": true, "d.jpg": true}})
		_, err := p.AddFiles([]Blob{blob("a.jpg", 3), blob("b.jpg", 3), blob("c.jpg", 3), blob("d.jpg", 3)})
		require.NoError(t, err)

		_, err = p.UploadAll(context.Background())
		require.NoError(t, err)
		for _, it := range p.Items() {
			assert.True(t, it.Status.Terminal(), "item %s is %s", it.Name, it.Status)
			if it.Status == StatusCompleted {
				assert.Equal(t, 100.0, it.Progress)
			}
		}
	})

	t.Run("all completed", func(t *testing.T) {
		p := NewPipeline(&fakeTransferer{})
		_, err := p.AddFiles([]Blob{blob("a.jpg", 3), blob("b.jpg", 3)})
		require.NoError(t, err)

		_, err = p.UploadAll(context.Background())
		require.NoError(t, err)
		assert.True(t, p.AllCompleted())
	})

	t.Run("error items are terminal by default", func(t *testing.T) {
		ft := &fakeTransferer{fail: map[string]bool{"a.jpg": true}}
		p := NewPipeline(ft)
		_, err := p.AddFiles([]Blob{blob("a.jpg", 3)})
		require.NoError(t, err)

		_, err = p.UploadAll(context.Background())
		require.NoError(t, err)
		ft.fail = nil

		sum, err := p.UploadAll(context.Background())
		require.NoError(t, err)
		assert.Zero(t, sum.Attempted)
		assert.Equal(t, []Status{StatusError}, statuses(p.Items()))
	})

	t.Run("retry failed policy re-attempts error items", func(t *testing.T) {
		ft := &fakeTransferer{fail: map[string]bool{"a.jpg": true}}
		p := NewPipeline(ft, WithRetryPolicy(RetryFailed))
		_, err := p.AddFiles([]Blob{blob("a.jpg", 3), blob("b.jpg", 3)})
		require.NoError(t, err)

		_, err = p.UploadAll(context.Background())
		require.NoError(t, err)
		ft.mu.Lock()
		ft.fail = nil
		ft.mu.Unlock()

		sum, err := p.UploadAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Summary{Attempted: 1, Completed: 1}, sum)
		assert.True(t, p.AllCompleted())

		items := p.Items()
		assert.Equal(t, 2, items[0].Attempts)
		assert.Equal(t, 1, items[1].Attempts)
	})

	t.Run("cancelled context stops before next item", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		ft := &fakeTransferer{}
		ft.during = func(Transfer) { cancel() }
		p := NewPipeline(ft)
		_, err := p.AddFiles([]Blob{blob("a.jpg", 3), blob("b.jpg", 3)})
		require.NoError(t, err)

		sum, err := p.UploadAll(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, sum.Attempted)
		assert.Equal(t, []Status{StatusCompleted, StatusPending}, statuses(p.Items()))
	})

	t.Run("concurrent run is rejected", func(t *testing.T) {
		ft := &fakeTransferer{}
		p := NewPipeline(ft)
		_, err := p.AddFiles([]Blob{blob("a.jpg", 3)})
		require.NoError(t, err)

		var nested error
		ft.during = func(Transfer) { _, nested = p.UploadAll(context.Background()) }
		_, err = p.UploadAll(context.Background())
		require.NoError(t, err)
		assert.ErrorIs(t, nested, ErrInvalidState)
	})
}

func TestPipeline_ProgressMonotonic(t *testing.T) {
	p := NewPipeline(TransferFunc(func(_ context.Context, tr Transfer, progress ProgressFunc) (string, error) {
		for _, sent := range []int64{10, 40, 20, 40, 90, 50, 100} {
			progress(sent, 100)
		}
		return "url", nil
	}))
	_, err := p.AddFiles([]Blob{blob("a.jpg", 100)})
	require.NoError(t, err)

	var seen []float64
	unsubscribe := p.Subscribe(func(ev Event) {
		if ev.Type == EventProgress {
			seen = append(seen, ev.Item.Progress)
		}
	})
	defer unsubscribe()

	_, err = p.UploadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []float64{10, 40, 90, 100}, seen)
	assert.Equal(t, 100.0, p.Items()[0].Progress)
}

func TestPipeline_Subscribe(t *testing.T) {
	p := NewPipeline(&fakeTransferer{steps: 2, fail: map[string]bool{"b.jpg": true}})

	var events []string
	unsubscribe := p.Subscribe(func(ev Event) {
		name := ""
		if ev.Item != nil {
			name = ev.Item.Name
		}
		events = append(events, fmt.Sprintf("%s:%s:%d/%d", ev.Type, name, ev.Index, ev.Total))
	})

	_, err := p.AddFiles([]Blob{blob("a.jpg", 4), blob("b.jpg", 4)})
	require.NoError(t, err)
	_, err = p.UploadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"added:a.jpg:0/0",
		"added:b.jpg:0/0",
		"started:a.jpg:1/2",
		"progress:a.jpg:1/2",
		"progress:a.jpg:1/2",
		"completed:a.jpg:1/2",
		"started:b.jpg:2/2",
		"progress:b.jpg:2/2",
		"progress:b.jpg:2/2",
		"failed:b.jpg:2/2",
		"finished::0/2",
	}, events)

	unsubscribe()
	unsubscribe()
	_, err = p.AddFiles([]Blob{blob("c.jpg", 1)})
	require.NoError(t, err)
	assert.Len(t, events, 11)
}

func TestPipeline_FinishedListenerSeesIdlePipeline(t *testing.T) {
	p := NewPipeline(&fakeTransferer{})
	_, err := p.AddFiles([]Blob{blob("a.jpg", 4)})
	require.NoError(t, err)

	var running []bool
	p.Subscribe(func(ev Event) {
		if ev.Type == EventFinished {
			running = append(running, p.Running())
		}
	})

	_, err = p.UploadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, running)
	assert.False(t, p.Running())
}

func TestPipeline_Close(t *testing.T) {
	reg := preview.NewRegistry(16)
	p := NewPipeline(&fakeTransferer{}, WithPreviews(reg))
	_, err := p.AddFiles([]Blob{blob("a.jpg", 1), blob("b.jpg", 1)})
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.Equal(t, 0, reg.Len())
	_, err = p.AddFiles([]Blob{blob("c.jpg", 1)})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = p.UploadAll(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.RemoveItem("x"), ErrClosed)
}

func TestParseRetryPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    RetryPolicy
		wantErr bool
	}{
		{"", RetryNever, false},
		{"never", RetryNever, false},
		{"FAILED", RetryFailed, false},
		{"sometimes", RetryNever, true},
	}
	for _, tt := range tests {
		got, err := ParseRetryPolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
