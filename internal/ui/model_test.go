package ui

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/photo-gallery/backend/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func newPipeline(t *testing.T, fail string) *upload.Pipeline {
	t.Helper()
	p := upload.NewPipeline(upload.TransferFunc(func(ctx context.Context, tr upload.Transfer, progress upload.ProgressFunc) (string, error) {
		progress(tr.Size/2, tr.Size)
		if tr.Name == fail {
			return "", errors.New("bucket unavailable")
		}
		progress(tr.Size, tr.Size)
		return "https://cdn.test/" + tr.Name, nil
	}))
	t.Cleanup(func() { p.Close() })

	data := pngBytes(t)
	_, err := p.AddFiles([]upload.Blob{
		{Name: "beach.png", ModTime: time.Unix(1, 0), Data: data},
		{Name: "forest.png", ModTime: time.Unix(2, 0), Data: data},
	})
	require.NoError(t, err)
	return p
}

func TestModelRunsPipeline(t *testing.T) {
	m := NewModel(context.Background(), newPipeline(t, ""))

	view := m.View()
	assert.Contains(t, view, "beach.png")
	assert.Contains(t, view, "0/2")

	_, cmd := m.Update(m.run())
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	assert.True(t, m.Done())
	sum, err := m.Summary()
	require.NoError(t, err)
	assert.Equal(t, upload.Summary{Attempted: 2, Completed: 2}, sum)

	view = m.View()
	assert.Contains(t, view, "2/2")
	assert.Contains(t, view, "2 uploaded")
}

func TestModelShowsFailures(t *testing.T) {
	m := NewModel(context.Background(), newPipeline(t, "forest.png"))

	m.Update(m.run())

	sum, err := m.Summary()
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	view := m.View()
	assert.Contains(t, view, "bucket unavailable")
	assert.Contains(t, view, "1 uploaded, 1 failed")
}

func TestModelEvents(t *testing.T) {
	m := NewModel(context.Background(), newPipeline(t, ""))
	id := m.items[0].ID

	item := m.items[0]
	item.Status = upload.StatusUploading
	item.Progress = 40
	_, cmd := m.Update(eventMsg{Type: upload.EventProgress, Item: &item})
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), " 40%")

	_, _ = m.Update(eventMsg{Type: upload.EventRemoved, Item: &upload.Item{ID: id}})
	assert.Len(t, m.items, 1)

	_, _ = m.Update(eventMsg{Type: upload.EventAdded, Item: &upload.Item{ID: "new", Name: "sky.png", Status: upload.StatusPending}})
	assert.Len(t, m.items, 2)
	assert.Contains(t, m.View(), "sky.png")
}

func TestModelQuit(t *testing.T) {
	m := NewModel(context.Background(), newPipeline(t, ""))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.ErrorIs(t, m.ctx.Err(), context.Canceled)

	_, err := m.pipeline.UploadAll(m.ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
