package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/photo-gallery/backend/internal/ui"
	"github.com/photo-gallery/backend/internal/upload"
	"github.com/urfave/cli/v3"
)

func uploadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload image files to the gallery",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "max-bytes", Usage: "Per-file size limit in bytes"},
			&cli.BoolFlag{Name: "retry-failed", Usage: "Attempt failed uploads a second time"},
			&cli.BoolFlag{Name: "tui", Usage: "Show an interactive progress view"},
		},
		Action: r.Upload,
	}
}

// Upload validates the given files, uploads the accepted ones in order and
// prints the per-file outcome.
func (r *Runner) Upload(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("at least one FILE is required")
	}

	cfg, err := r.load(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("max-bytes") {
		cfg.Upload.MaxBytes = cmd.Int("max-bytes")
	}
	if cmd.Bool("retry-failed") {
		cfg.Upload.RetryFailed = true
	}

	blobs, err := readBlobs(paths)
	if err != nil {
		return err
	}

	p := upload.NewPipeline(r.client(cfg), cfg.PipelineOptions()...)
	defer p.Close()

	items, err := p.AddFiles(blobs)
	for _, rej := range upload.Rejections(err) {
		r.logger.Warn("skipping file", "name", rej.Name, "reason", rej.Err)
	}
	if len(items) == 0 {
		return errNothingToUpload
	}
	r.logger.Debug("starting upload", "files", len(items), "server", cfg.ServerURL, "owner", cfg.Owner)

	run := r.runPlain
	if cmd.Bool("tui") {
		run = r.runTUI
	}

	sum, err := run(ctx, p)
	if err != nil {
		return err
	}
	if sum.Failed > 0 && cfg.RetryPolicy() == upload.RetryFailed {
		r.logger.Info("retrying failed uploads", "count", sum.Failed)
		if sum, err = run(ctx, p); err != nil {
			return err
		}
	}

	r.writeResults(p.Items())
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", sum.Failed, sum.Attempted)
	}
	return nil
}

func (r *Runner) runPlain(ctx context.Context, p *upload.Pipeline) (upload.Summary, error) {
	defer p.Subscribe(func(e upload.Event) {
		switch e.Type {
		case upload.EventStarted:
			r.logger.Info("uploading", "file", e.Item.Name, "item", fmt.Sprintf("%d/%d", e.Index, e.Total))
		case upload.EventProgress:
			r.logger.Debug("progress", "file", e.Item.Name, "percent", int(e.Item.Progress))
		case upload.EventCompleted:
			r.logger.Info("uploaded", "file", e.Item.Name, "url", e.Item.URL)
		case upload.EventFailed:
			r.logger.Error("upload failed", "file", e.Item.Name, "err", e.Err)
		}
	})()
	return p.UploadAll(ctx)
}

func (r *Runner) runTUI(ctx context.Context, p *upload.Pipeline) (upload.Summary, error) {
	model := ui.NewModel(ctx, p)
	if _, err := tea.NewProgram(model, tea.WithContext(ctx), tea.WithOutput(r.output)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return upload.Summary{}, fmt.Errorf("error running TUI: %w", err)
	}
	if !model.Done() {
		return upload.Summary{}, context.Canceled
	}
	return model.Summary()
}

func (r *Runner) writeResults(items []upload.Item) {
	for _, it := range items {
		switch it.Status {
		case upload.StatusCompleted:
			r.writePlainln("✓ %s  %s", it.Name, it.URL)
		case upload.StatusError:
			r.writePlainln("✗ %s  %s", it.Name, it.Error)
		default:
			r.writePlainln("· %s  %s", it.Name, it.Status)
		}
	}
}

func readBlobs(paths []string) ([]upload.Blob, error) {
	blobs := make([]upload.Blob, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, upload.Blob{Name: filepath.Base(path), ModTime: info.ModTime(), Data: data})
	}
	return blobs, nil
}
