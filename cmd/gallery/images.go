package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/photo-gallery/backend/internal/client"
	"github.com/urfave/cli/v3"
)

func listCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the owner's images",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the listing as JSON"},
		},
		Action: r.List,
	}
}

func deleteCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete images by file name",
		ArgsUsage: "NAME...",
		Action:    r.Delete,
	}
}

// List prints the owner's images, oldest first.
func (r *Runner) List(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.load(cmd)
	if err != nil {
		return err
	}
	images, err := r.client(cfg).List(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(images)
	}
	if len(images) == 0 {
		return r.writePlainln("No images for %s", cfg.Owner)
	}
	for _, img := range images {
		r.writePlainln("%-32s %10s  %s  %s", img.Name, formatSize(img.Size), img.UploadedAt.Local().Format(time.DateTime), img.URL)
	}
	return r.writePlainln("%d images", len(images))
}

// Delete removes each named image. Missing names are reported and skipped.
func (r *Runner) Delete(ctx context.Context, cmd *cli.Command) error {
	names := cmd.Args().Slice()
	if len(names) == 0 {
		return fmt.Errorf("at least one NAME is required")
	}
	cfg, err := r.load(cmd)
	if err != nil {
		return err
	}

	c := r.client(cfg)
	var errs []error
	for _, name := range names {
		err := c.Delete(ctx, name)
		switch {
		case errors.Is(err, client.ErrNotFound):
			r.logger.Warn("image not found", "name", name)
		case err != nil:
			errs = append(errs, err)
		default:
			r.writePlainln("deleted %s", name)
		}
	}
	return errors.Join(errs...)
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
