package upload

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/photo-gallery/backend/internal/preview"
)

// RetryPolicy decides what UploadAll does with items left in Error.
type RetryPolicy int

const (
	// RetryNever keeps Error terminal; only Pending items are uploaded.
	RetryNever RetryPolicy = iota
	// RetryFailed resets Error items to Pending at the start of UploadAll.
	RetryFailed
)

func (r RetryPolicy) String() string {
	switch r {
	case RetryFailed:
		return "failed"
	default:
		return "never"
	}
}

// ParseRetryPolicy parses "never" or "failed". An empty string means RetryNever.
func ParseRetryPolicy(s string) (RetryPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "never", "none":
		return RetryNever, nil
	case "failed", "errors":
		return RetryFailed, nil
	}
	return RetryNever, fmt.Errorf("unknown retry policy %q", s)
}

// Options configures a Pipeline.
type Options struct {
	// MaxBytes rejects larger payloads with ErrPayloadTooLarge. Zero disables the check.
	MaxBytes int64
	// AllowedTypes restricts sniffed content types. Empty allows everything.
	AllowedTypes []string
	RetryPolicy  RetryPolicy
	// Previews creates preview handles for added items. Nil skips previews.
	Previews *preview.Registry
	// IDFunc derives an item ID from the file name and modification time.
	IDFunc func(name string, modTime time.Time) string
}

// Option mutates Options.
type Option func(*Options)

// WithMaxBytes sets the per-file size limit.
func WithMaxBytes(n int64) Option {
	return func(o *Options) { o.MaxBytes = n }
}

// WithAllowedTypes restricts the accepted content types.
func WithAllowedTypes(types ...string) Option {
	return func(o *Options) { o.AllowedTypes = types }
}

// WithRetryPolicy sets the retry policy for Error items.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Options) { o.RetryPolicy = p }
}

// WithPreviews attaches a preview registry.
func WithPreviews(r *preview.Registry) Option {
	return func(o *Options) { o.Previews = r }
}

// WithIDFunc overrides item ID generation.
func WithIDFunc(fn func(name string, modTime time.Time) string) Option {
	return func(o *Options) { o.IDFunc = fn }
}

// NewItemID builds "<slug>-<modtime base36>-<random>".
func NewItemID(name string, modTime time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return slug(name) + "-" + strconv.FormatInt(modTime.UnixMilli(), 36) + "-" + suffix
}

func slug(name string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, name)
	s = strings.Trim(s, "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	if len(s) > 32 {
		s = strings.TrimRight(s[:32], "-")
	}
	if s == "" {
		return "file"
	}
	return s
}
